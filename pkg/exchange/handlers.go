package exchange

import (
	"net"
	"strconv"

	"github.com/mxhub/mx/pkg/wire"
	"go.uber.org/zap"
)

// The handlers below implement the control protocol. They run on the
// event loop, installed by begin() according to role: the master
// services QuitRequest, HelloRequest, RegisterRequest and the
// subscription updates; clients service HelloReport, HelloUpdate,
// RegisterReport and the subscription updates.

// handleQuitRequest shuts the master down on request.
func (e *Exchange) handleQuitRequest(cid int, msgType, version uint32, payload []byte) {
	e.log.Info("quit requested", zap.Int("cid", cid))
	e.Shutdown()
}

// handleHelloRequest services a new client introducing itself to the
// master: it assigns the client an id and a name, replies, and brings
// the client up to date with the existing components, registered types
// and the master's own subscriptions.
func (e *Exchange) handleHelloRequest(cid int, msgType, version uint32, payload []byte) {
	var req wire.HelloRequestPayload
	if err := req.Decode(payload); err != nil {
		e.errors.add(sevNotice, "%v", err)
		return
	}

	comp := e.dir.component(cid)
	if comp == nil || comp.name != "" {
		return
	}

	// Names are made unique at assignment time by suffixing the count
	// of earlier components with the same prefix.
	comp.name = req.Name + "/" + strconv.Itoa(e.dir.count(req.Name)+1)
	comp.id = uint16(e.dir.count(""))
	comp.host = remoteHost(comp.conn)
	comp.port = req.Port

	reply := wire.HelloReplyPayload{
		MasterName:   e.me.name,
		AssignedID:   comp.id,
		AssignedName: comp.name,
	}
	comp.send(wire.HelloReply, 0, reply.Encode())

	e.dir.each(func(existing *component) {
		if existing == comp || existing.name == "" {
			return
		}
		report := wire.HelloReportPayload{
			Name: existing.name,
			ID:   existing.id,
			Host: existing.host,
			Port: existing.port,
		}
		comp.send(wire.HelloReport, 0, report.Encode())
	})

	for typ := wire.NumReserved; typ < e.dir.nextType; typ++ {
		msg := e.dir.byType[typ]
		if msg == nil {
			continue
		}
		report := wire.RegisterReportPayload{Name: msg.name, Type: msg.msgType}
		comp.send(wire.RegisterReport, 0, report.Encode())
	}

	e.sendOwnSubscriptions(comp)

	e.log.Info("component joined",
		zap.String("name", comp.name),
		zap.Uint16("id", comp.id),
		zap.String("host", comp.host),
		zap.Uint16("port", comp.port))

	if e.onNewComp != nil {
		e.onNewComp(e, comp.cid, comp.name)
	}
}

// handleHelloReport makes a client connect out to an already-known
// component reported by the master, introduce itself with a
// HelloUpdate and announce its subscriptions.
func (e *Exchange) handleHelloReport(cid int, msgType, version uint32, payload []byte) {
	var report wire.HelloReportPayload
	if err := report.Decode(payload); err != nil {
		e.errors.add(sevNotice, "%v", err)
		return
	}

	addr := net.JoinHostPort(report.Host, strconv.Itoa(int(report.Port)))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		e.errors.add(sevError, "could not connect to component %s at %s: %v", report.Name, addr, err)
		e.log.Error("peer connect failed", zap.String("name", report.Name), zap.Error(err))
		e.Shutdown()
		return
	}

	comp := newComponent(e)
	comp.name = report.Name
	comp.host = report.Host
	comp.port = report.Port
	comp.id = report.ID
	comp.conn = conn
	e.dir.add(comp)
	comp.startWorkers()
	connectedPeers.Inc()

	update := wire.HelloUpdatePayload{Name: e.me.name, ID: e.me.id, Port: e.me.port}
	comp.send(wire.HelloUpdate, 0, update.Encode())

	e.sendOwnSubscriptions(comp)

	if e.onNewComp != nil {
		e.onNewComp(e, comp.cid, comp.name)
	}
}

// handleHelloUpdate fills in the identity of a peer that connected to
// us directly and answers with our own subscriptions.
func (e *Exchange) handleHelloUpdate(cid int, msgType, version uint32, payload []byte) {
	var update wire.HelloUpdatePayload
	if err := update.Decode(payload); err != nil {
		e.errors.add(sevNotice, "%v", err)
		return
	}

	comp := e.dir.component(cid)
	if comp == nil || comp.name != "" {
		return
	}
	comp.name = update.Name
	comp.id = update.ID
	comp.port = update.Port
	comp.host = remoteHost(comp.conn)

	e.sendOwnSubscriptions(comp)

	if e.onNewComp != nil {
		e.onNewComp(e, comp.cid, comp.name)
	}
}

// handleRegisterRequest allocates or looks up a type id for a client.
// A fresh allocation is reported to everyone else before the requester
// gets its reply.
func (e *Exchange) handleRegisterRequest(cid int, msgType, version uint32, payload []byte) {
	var req wire.RegisterRequestPayload
	if err := req.Decode(payload); err != nil {
		e.errors.add(sevNotice, "%v", err)
		return
	}

	comp := e.dir.component(cid)
	if comp == nil {
		return
	}

	var msg *message
	if req.Name != "" {
		msg = e.dir.byName[req.Name]
	}
	if msg == nil {
		msg = e.createMessage(e.dir.nextType, req.Name)
		e.broadcastRegisterReport(msg, comp)
	}

	reply := wire.RegisterReplyPayload{Type: msg.msgType}
	comp.send(wire.RegisterReply, version, reply.Encode())
}

// handleRegisterReport records a type the master announced. A name
// arriving for a type already known nameless is filled in.
func (e *Exchange) handleRegisterReport(cid int, msgType, version uint32, payload []byte) {
	var report wire.RegisterReportPayload
	if err := report.Decode(payload); err != nil {
		e.errors.add(sevNotice, "%v", err)
		return
	}
	e.createMessage(report.Type, report.Name)
}

// handleSubscribeUpdate records a peer's interest in a type. An
// unknown type gets a nameless record; the name follows with a later
// RegisterReport.
func (e *Exchange) handleSubscribeUpdate(cid int, msgType, version uint32, payload []byte) {
	var update wire.SubscriptionPayload
	if err := update.Decode(payload); err != nil {
		e.errors.add(sevNotice, "%v", err)
		return
	}

	comp := e.dir.component(cid)
	if comp == nil {
		return
	}
	msg := e.createMessage(update.Type, "")
	if findSubscription(msg, comp) != nil {
		return
	}
	addSubscription(msg, comp, nil)

	if msg.onNewSub != nil {
		msg.onNewSub(e, cid, update.Type)
	}
}

// handleCancelUpdate removes a peer's subscription.
func (e *Exchange) handleCancelUpdate(cid int, msgType, version uint32, payload []byte) {
	var update wire.SubscriptionPayload
	if err := update.Decode(payload); err != nil {
		e.errors.add(sevNotice, "%v", err)
		return
	}

	comp := e.dir.component(cid)
	if comp == nil {
		return
	}
	msg := e.dir.byType[update.Type]
	if msg == nil {
		return
	}
	sub := findSubscription(msg, comp)
	if sub == nil {
		return
	}
	removeSubscription(sub)

	if msg.onEndSub != nil {
		msg.onEndSub(e, cid, update.Type)
	}
}

// sendOwnSubscriptions announces every self-subscription to comp.
func (e *Exchange) sendOwnSubscriptions(comp *component) {
	for _, sub := range e.me.subscriptions {
		update := wire.SubscriptionPayload{Type: sub.msg.msgType}
		comp.send(wire.SubscribeUpdate, 0, update.Encode())
	}
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
