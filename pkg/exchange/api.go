package exchange

import (
	"sort"

	"github.com/mxhub/mx/pkg/wire"
	"go.uber.org/zap"
)

// Register binds a message name to a type id and returns the id. It is
// idempotent on the name. The master allocates locally and broadcasts
// the new type; a client round-trips to the master and blocks for up
// to five seconds. On timeout the exchange is shut down and 0 is
// returned. An empty name always allocates a fresh anonymous id.
func (e *Exchange) Register(name string) uint32 {
	if name != "" {
		if msg := e.dir.byName[name]; msg != nil {
			return msg.msgType
		}
	}

	if e.me == e.master {
		msg := e.createMessage(e.dir.nextType, name)
		e.broadcastRegisterReport(msg, nil)
		return msg.msgType
	}

	req := wire.RegisterRequestPayload{Name: name}
	res, err := e.master.sendAndWait(replyTimeout, wire.RegisterReply,
		wire.RegisterRequest, 0, req.Encode())
	if err != nil {
		e.errors.add(sevError, "%v while waiting for RegisterReply", err)
		e.log.Error("register failed", zap.String("name", name), zap.Error(err))
		e.Shutdown()
		return 0
	}

	var reply wire.RegisterReplyPayload
	if err := reply.Decode(res.payload); err != nil {
		e.errors.add(sevError, "bad RegisterReply: %v", err)
		return 0
	}
	e.createMessage(reply.Type, name)
	return reply.Type
}

// Subscribe installs handler for incoming messages of the given type
// and announces the subscription to every currently known peer. Future
// peers learn it during their handshake. Subscribing to a not yet
// known type creates a nameless record for it.
//
// The return value is 0 on success, positive when there is a notice
// (unknown type created, or an existing handler was replaced) and
// negative on error; built-in types are rejected.
func (e *Exchange) Subscribe(msgType uint32, handler Handler) int {
	if msgType < wire.NumReserved {
		e.errors.add(sevError, "illegal message type %d in Subscribe", msgType)
		return StatusError
	}
	return e.subscribe(msgType, handler)
}

func (e *Exchange) subscribe(msgType uint32, handler Handler) int {
	r := StatusOK

	msg := e.dir.byType[msgType]
	if msg == nil {
		e.errors.add(sevNotice, "subscribing to unknown message type %d, adding message type", msgType)
		msg = e.createMessage(msgType, "")
		r = StatusNotice
	}

	if sub := findSubscription(msg, e.me); sub != nil {
		e.errors.add(sevNotice, "already subscribed to message type %d, replacing handler", msgType)
		sub.handler = handler
		return 2
	}

	addSubscription(msg, e.me, handler)

	update := wire.SubscriptionPayload{Type: msgType}
	payload := update.Encode()
	e.dir.each(func(comp *component) {
		comp.send(wire.SubscribeUpdate, 0, payload)
	})

	return r
}

// Cancel removes the local subscription to the given type and
// announces the cancellation. Built-in types are rejected.
func (e *Exchange) Cancel(msgType uint32) int {
	if msgType < wire.NumReserved {
		e.errors.add(sevError, "illegal message type %d in Cancel", msgType)
		return StatusError
	}

	msg := e.dir.byType[msgType]
	if msg == nil {
		e.errors.add(sevNotice, "cancel for unknown message type %d, ignored", msgType)
		return StatusNotice
	}
	sub := findSubscription(msg, e.me)
	if sub == nil {
		e.errors.add(sevNotice, "cancel for message type %d without subscription, ignored", msgType)
		return StatusNotice
	}

	removeSubscription(sub)

	update := wire.SubscriptionPayload{Type: msgType}
	payload := update.Encode()
	e.dir.each(func(comp *component) {
		comp.send(wire.CancelUpdate, 0, payload)
	})

	return StatusOK
}

// Send enqueues one message to the peer on cid. It never blocks; the
// peer's writer worker picks it up.
func (e *Exchange) Send(cid int, msgType, version uint32, payload []byte) {
	comp := e.dir.component(cid)
	if comp == nil {
		e.errors.add(sevError, "send on unknown connection %d", cid)
		return
	}
	comp.send(msgType, version, payload)
}

// PackAndSend packs fields into a payload and sends the result.
func (e *Exchange) PackAndSend(cid int, msgType, version uint32, fields ...wire.Field) {
	e.Send(cid, msgType, version, wire.Pack(fields...))
}

// Broadcast enqueues one message to every peer subscribed to the given
// type. The local component never receives its own broadcasts, even
// when subscribed.
func (e *Exchange) Broadcast(msgType, version uint32, payload []byte) {
	msg := e.dir.byType[msgType]
	if msg == nil {
		e.errors.add(sevNotice, "broadcast of unknown message type %d, ignored", msgType)
		return
	}
	broadcasts.Inc()
	for _, sub := range msg.subscriptions {
		if sub.comp == e.me {
			continue
		}
		sub.comp.send(msgType, version, payload)
	}
}

// PackAndBroadcast packs fields into a payload and broadcasts the
// result.
func (e *Exchange) PackAndBroadcast(msgType, version uint32, fields ...wire.Field) {
	e.Broadcast(msgType, version, wire.Pack(fields...))
}

// Await blocks the calling goroutine until a message of the given type
// arrives from the peer on cid, or until timeout seconds have passed.
// The matched frame is consumed by the rendezvous and never reaches
// the event loop. Concurrent awaits for the same type on the same peer
// are served in the order they were installed.
func (e *Exchange) Await(cid int, timeout float64, msgType uint32) (version uint32, payload []byte, err error) {
	comp := e.dir.component(cid)
	if comp == nil {
		e.errors.add(sevError, "await on unknown connection %d", cid)
		return 0, nil, ErrUnknownPeer
	}
	res, err := comp.awaitOnly(timeout, msgType)
	if err != nil {
		return 0, nil, err
	}
	return res.version, res.payload, nil
}

// SendAndWait sends a request to the peer on cid and blocks until a
// message of replyType arrives from it or the timeout elapses. The
// await is installed before the request is sent, so a fast reply
// cannot be missed.
func (e *Exchange) SendAndWait(cid int, timeout float64, replyType uint32,
	reqType, reqVersion uint32, reqPayload []byte) (version uint32, payload []byte, err error) {
	comp := e.dir.component(cid)
	if comp == nil {
		e.errors.add(sevError, "send on unknown connection %d", cid)
		return 0, nil, ErrUnknownPeer
	}
	res, err := comp.sendAndWait(timeout, replyType, reqType, reqVersion, reqPayload)
	if err != nil {
		return 0, nil, err
	}
	return res.version, res.payload, nil
}

// ComponentInfo is a point-in-time description of a connected
// component, as returned by Components.
type ComponentInfo struct {
	CID           int
	ID            uint16
	Name          string
	Host          string
	Port          uint16
	Subscriptions []uint32
}

// Components describes every connected component in slot order. Call
// it from the event loop (or a handler running on it).
func (e *Exchange) Components() []ComponentInfo {
	var infos []ComponentInfo
	e.dir.each(func(comp *component) {
		info := ComponentInfo{
			CID:  comp.cid,
			ID:   comp.id,
			Name: comp.name,
			Host: comp.host,
			Port: comp.port,
		}
		for _, sub := range comp.subscriptions {
			info.Subscriptions = append(info.Subscriptions, sub.msg.msgType)
		}
		sort.Slice(info.Subscriptions, func(i, j int) bool {
			return info.Subscriptions[i] < info.Subscriptions[j]
		})
		infos = append(infos, info)
	})
	return infos
}

// PackAndWait packs fields into a request payload and calls
// SendAndWait.
func (e *Exchange) PackAndWait(cid int, timeout float64, replyType uint32,
	reqType, reqVersion uint32, fields ...wire.Field) (uint32, []byte, error) {
	return e.SendAndWait(cid, timeout, replyType, reqType, reqVersion, wire.Pack(fields...))
}
