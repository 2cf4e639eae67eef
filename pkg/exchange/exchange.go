/*
Package exchange implements the runtime linked into every component of
a message exchange: membership negotiation with the master, the
directory of peers, message types and subscriptions, per-peer reader
and writer workers, blocking request-reply rendezvous, and the timer
subsystem. One process runs as the master (the directory) per exchange;
everyone else runs as a client. Both roles use the same Exchange type
and differ only in the handlers they install.
*/
package exchange

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/mxhub/mx/pkg/config"
	"github.com/mxhub/mx/pkg/wire"
	"go.uber.org/zap"
)

// replyTimeout is the deadline, in seconds, for the HelloReply and
// RegisterReply round-trips to the master.
const replyTimeout = 5.0

// CompHandler is called on the event loop when a component arrives or
// leaves.
type CompHandler func(e *Exchange, cid int, name string)

// MessageHandler is called on the event loop when a message type
// becomes known.
type MessageHandler func(e *Exchange, msgType uint32, name string)

// SubscriberHandler is called on the event loop when a peer subscribes
// to or cancels a watched message type.
type SubscriberHandler func(e *Exchange, cid int, msgType uint32)

// Config carries the parameters of Master and Client. Zero values fall
// back to the environment as described on config.EffectiveName and
// config.EffectiveHost.
type Config struct {
	// MXName is the name of the exchange to join or create.
	MXName string
	// MXHost is the host the master runs on (clients only).
	MXHost string
	// MyName is the name this component introduces itself with.
	// Required for clients; masters default to "master".
	MyName string
	// Logger receives runtime diagnostics. nil disables logging.
	Logger *zap.Logger
}

// Exchange is one process's membership of a message exchange.
type Exchange struct {
	log    *zap.Logger
	mxName string

	listener net.Listener

	events     *queue[*event]
	timerQueue *queue[*command]

	dir        *directory
	me, master *component

	errors errorBuffer

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	die          chan struct{}

	wg sync.WaitGroup // listener and timer workers

	onNewComp CompHandler
	onEndComp CompHandler
	onNewMsg  MessageHandler
}

// Master creates an Exchange acting as the master for the exchange
// named in cfg, listening on the port derived from that name. There is
// exactly one master per exchange; if the port is taken the call fails.
func Master(cfg Config) (*Exchange, error) {
	mxName, err := config.EffectiveName(cfg.MXName)
	if err != nil {
		return nil, err
	}
	myName := cfg.MyName
	if myName == "" {
		myName = "master"
	}
	port := config.EffectivePort(mxName)

	e := newExchange(mxName, cfg.Logger)

	e.listener, err = net.Listen("tcp", ":"+strconv.Itoa(int(port)))
	if err != nil {
		e.errors.add(sevError, "couldn't open listen socket on port %d: %v", port, err)
		return nil, fmt.Errorf("couldn't open listen socket on port %d: %w", port, err)
	}

	e.me = newComponent(e)
	e.master = e.me
	e.me.name = myName
	e.me.host = "localhost"
	e.me.port = port
	e.me.id = 0

	_ = e.begin() // cannot fail for the master role
	return e, nil
}

// Client creates an Exchange that joins the exchange named in cfg as a
// client: it opens its own listen socket on a free port, connects to
// the master and completes the hello handshake. It fails if the master
// cannot be reached or does not reply within five seconds.
func Client(cfg Config) (*Exchange, error) {
	if cfg.MyName == "" {
		return nil, fmt.Errorf("client needs a component name")
	}
	mxName, err := config.EffectiveName(cfg.MXName)
	if err != nil {
		return nil, err
	}
	mxHost := config.EffectiveHost(cfg.MXHost)
	mxPort := config.EffectivePort(mxName)

	e := newExchange(mxName, cfg.Logger)

	e.listener, err = net.Listen("tcp", ":0")
	if err != nil {
		e.errors.add(sevError, "couldn't open a listen socket: %v", err)
		return nil, fmt.Errorf("couldn't open a listen socket: %w", err)
	}

	e.master = newComponent(e)
	e.master.host = mxHost
	e.master.port = mxPort

	e.me = newComponent(e)
	e.me.name = cfg.MyName
	e.me.port = uint16(e.listener.Addr().(*net.TCPAddr).Port)

	if err := e.begin(); err != nil {
		e.Shutdown()
		return nil, err
	}
	return e, nil
}

func newExchange(mxName string, log *zap.Logger) *Exchange {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exchange{
		log:        log,
		mxName:     mxName,
		events:     newQueue[*event](),
		timerQueue: newQueue[*command](),
		dir:        newDirectory(),
		die:        make(chan struct{}),
	}
}

// connectToMaster dials the master, starts its workers and performs
// the HelloRequest round-trip.
func (e *Exchange) connectToMaster() error {
	addr := net.JoinHostPort(e.master.host, strconv.Itoa(int(e.master.port)))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		e.errors.add(sevError, "couldn't connect to master for %q at %s: %v", e.mxName, addr, err)
		return fmt.Errorf("couldn't connect to master for %q at %s: %w", e.mxName, addr, err)
	}
	e.master.conn = conn
	e.dir.add(e.master)
	e.master.startWorkers()
	connectedPeers.Inc()

	req := wire.HelloRequestPayload{Name: e.me.name, Port: e.me.port}
	res, err := e.master.sendAndWait(replyTimeout, wire.HelloReply, wire.HelloRequest, 0, req.Encode())
	if err != nil {
		e.errors.add(sevError, "%v while waiting for HelloReply", err)
		return fmt.Errorf("waiting for HelloReply: %w", err)
	}

	var reply wire.HelloReplyPayload
	if err := reply.Decode(res.payload); err != nil {
		e.errors.add(sevError, "bad HelloReply: %v", err)
		return err
	}
	e.master.name = reply.MasterName
	e.me.id = reply.AssignedID
	e.me.name = reply.AssignedName

	e.log.Info("joined exchange",
		zap.String("mx", e.mxName),
		zap.String("name", e.me.name),
		zap.Uint16("id", e.me.id))
	return nil
}

// begin registers the built-in message types, starts the timer and
// listener workers, and installs the role-specific control handlers.
// For a client it also performs the master handshake, which is the
// only part that can fail.
func (e *Exchange) begin() error {
	for typ := uint32(0); typ < wire.NumReserved; typ++ {
		e.createMessage(typ, wire.BuiltinName(typ))
	}

	e.wg.Add(2)
	go e.timerLoop()
	go e.listenLoop()

	if e.me == e.master {
		e.subscribe(wire.QuitRequest, (*Exchange).handleQuitRequest)
		e.subscribe(wire.HelloRequest, (*Exchange).handleHelloRequest)
		e.subscribe(wire.RegisterRequest, (*Exchange).handleRegisterRequest)
		e.subscribe(wire.SubscribeUpdate, (*Exchange).handleSubscribeUpdate)
		e.subscribe(wire.CancelUpdate, (*Exchange).handleCancelUpdate)
		return nil
	}

	if err := e.connectToMaster(); err != nil {
		return err
	}
	e.subscribe(wire.HelloReport, (*Exchange).handleHelloReport)
	e.subscribe(wire.HelloUpdate, (*Exchange).handleHelloUpdate)
	e.subscribe(wire.RegisterReport, (*Exchange).handleRegisterReport)
	e.subscribe(wire.SubscribeUpdate, (*Exchange).handleSubscribeUpdate)
	e.subscribe(wire.CancelUpdate, (*Exchange).handleCancelUpdate)
	return nil
}

// listenLoop accepts inbound connections and turns each one into a
// connect event. It exits when the listen socket closes.
func (e *Exchange) listenLoop() {
	defer e.wg.Done()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			return
		}
		e.postEvent(&event{kind: evConnect, conn: conn})
	}
}

func (e *Exchange) postEvent(ev *event) {
	e.events.push(ev)
}

// EventsReady returns a channel that receives a signal whenever events
// are pending, so an Exchange can take part in a caller's own select
// loop. After a signal, call ProcessEvents until it reports an empty
// queue.
func (e *Exchange) EventsReady() <-chan struct{} {
	return e.events.notify
}

// ProcessEvents handles all pending events and returns without
// blocking further: 1 after draining the queue normally, 0 when the
// exchange is shut down and no more events are forthcoming.
// User handlers run on the calling goroutine.
func (e *Exchange) ProcessEvents() int {
	for {
		if e.shuttingDown.Load() {
			return 0
		}
		ev, ok := e.events.tryPop()
		if !ok {
			return 1
		}
		e.dispatch(ev)
	}
}

// Run processes events until Shutdown is called. It returns nil on a
// clean shutdown, including the case of a client losing its master.
func (e *Exchange) Run() error {
	for {
		switch e.ProcessEvents() {
		case 0:
			return nil
		default:
			select {
			case <-e.events.notify:
			case <-e.die:
			}
		}
	}
}

func (e *Exchange) dispatch(ev *event) {
	switch ev.kind {
	case evConnect:
		e.handleConnect(ev.conn)
	case evDisconnect:
		e.handleDisconnect(ev.cid, ev.whence)
	case evMessage:
		e.handleMessage(ev)
	case evTimerFired:
		ev.handler(e, ev.timerID, ev.when)
	case evError:
		e.errors.add(sevNotice, "error event: %v in %s", ev.err, ev.whence)
		e.log.Warn("error event", zap.String("whence", ev.whence), zap.Error(ev.err))
	}
}

// handleConnect sets up a component record and workers for a fresh
// inbound connection. The peer's name is unknown until its
// HelloRequest or HelloUpdate arrives.
func (e *Exchange) handleConnect(conn net.Conn) {
	comp := newComponent(e)
	comp.conn = conn
	e.dir.add(comp)
	comp.startWorkers()
	connectedPeers.Inc()

	e.log.Debug("new connection",
		zap.Int("cid", comp.cid),
		zap.String("remote", conn.RemoteAddr().String()))
}

// handleDisconnect tears down the component on cid. A client that
// loses its master shuts the whole exchange down.
func (e *Exchange) handleDisconnect(cid int, whence string) {
	comp := e.dir.component(cid)
	if comp == nil {
		return
	}
	if comp == e.master && e.me != e.master {
		e.errors.add(sevNotice, "lost connection with master, shutting down")
		e.log.Info("lost connection with master, shutting down")
		e.Shutdown()
		return
	}
	e.dir.drop(cid)
	e.destroyComponent(comp)
}

func (e *Exchange) destroyComponent(comp *component) {
	connectedPeers.Dec()
	comp.stop()

	if comp != e.me && comp.name != "" && e.onEndComp != nil {
		e.onEndComp(e, comp.cid, comp.name)
	}

	for len(comp.subscriptions) > 0 {
		removeSubscription(comp.subscriptions[0])
	}

	e.log.Debug("component gone", zap.Int("cid", comp.cid), zap.String("name", comp.name))
}

// handleMessage delivers an incoming frame to the local handler for
// its type, if one is installed. Other peers' subscriptions are their
// own business.
func (e *Exchange) handleMessage(ev *event) {
	msg := e.dir.byType[ev.msgType]
	if msg == nil {
		return
	}
	if sub := findSubscription(msg, e.me); sub != nil && sub.handler != nil {
		sub.handler(e, ev.cid, ev.msgType, ev.version, ev.payload)
	}
}

// createMessage records a message type and fires the new-message hook
// when the type was not known before.
func (e *Exchange) createMessage(msgType uint32, name string) *message {
	msg, created := e.dir.ensureMessage(msgType, name)
	if created && e.onNewMsg != nil {
		e.onNewMsg(e, msgType, name)
	}
	return msg
}

// broadcastRegisterReport tells every connected peer except the one in
// except about a newly allocated type.
func (e *Exchange) broadcastRegisterReport(msg *message, except *component) {
	report := wire.RegisterReportPayload{Name: msg.name, Type: msg.msgType}
	payload := report.Encode()
	e.dir.each(func(comp *component) {
		if comp != except {
			comp.send(wire.RegisterReport, 0, payload)
		}
	})
}

// Shutdown stops all workers, closes every connection and the listen
// socket and makes Run return. It may be called from inside a user
// handler; repeated calls are no-ops.
func (e *Exchange) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.timerQueue.push(&command{kind: cmdExit})
		if e.listener != nil {
			e.listener.Close()
		}
		e.wg.Wait()

		e.dir.each(func(comp *component) {
			e.dir.drop(comp.cid)
			e.destroyComponent(comp)
		})

		e.shuttingDown.Store(true)
		close(e.die)
		// Nudge a Run that is parked on an empty queue.
		select {
		case e.events.notify <- struct{}{}:
		default:
		}
	})
}

// Close shuts the exchange down. It only returns after every worker
// goroutine has exited.
func (e *Exchange) Close() error {
	e.Shutdown()
	return nil
}

// Errors returns the accumulated error text and clears the buffer.
func (e *Exchange) Errors() string {
	return e.errors.take()
}

// MyName returns the name of the local component. For clients this is
// the master-assigned name, available once Client returns.
func (e *Exchange) MyName() string { return e.me.name }

// MyID returns the id the master assigned to the local component.
func (e *Exchange) MyID() uint16 { return e.me.id }

// Name returns the exchange name.
func (e *Exchange) Name() string { return e.mxName }

// Host returns the host the master runs on.
func (e *Exchange) Host() string { return e.master.host }

// Port returns the port the master listens on.
func (e *Exchange) Port() uint16 { return e.master.port }

// MessageName returns the name of a message type, "" when the type or
// its name is unknown.
func (e *Exchange) MessageName(msgType uint32) string {
	if msg := e.dir.byType[msgType]; msg != nil {
		return msg.name
	}
	return ""
}

// ComponentName returns the name of the component on cid, "" when
// there is none or its name has not arrived yet.
func (e *Exchange) ComponentName(cid int) string {
	if comp := e.dir.component(cid); comp != nil {
		return comp.name
	}
	return ""
}

// OnNewComponent installs a hook that runs whenever a component
// reports in. Components already known are replayed immediately.
func (e *Exchange) OnNewComponent(h CompHandler) {
	e.onNewComp = h
	e.dir.each(func(comp *component) {
		if comp.name != "" {
			h(e, comp.cid, comp.name)
		}
	})
}

// OnEndComponent installs a hook that runs when the connection with a
// component is lost.
func (e *Exchange) OnEndComponent(h CompHandler) {
	e.onEndComp = h
}

// OnNewMessage installs a hook that runs when a message type becomes
// known. Already-registered non-reserved types are replayed.
func (e *Exchange) OnNewMessage(h MessageHandler) {
	e.onNewMsg = h
	for typ := wire.NumReserved; typ < e.dir.nextType; typ++ {
		if msg := e.dir.byType[typ]; msg != nil {
			h(e, msg.msgType, msg.name)
		}
	}
}

// OnNewSubscriber installs a hook that runs when any peer subscribes
// to the given message type.
func (e *Exchange) OnNewSubscriber(msgType uint32, h SubscriberHandler) {
	msg := e.createMessage(msgType, "")
	msg.onNewSub = h
}

// OnEndSubscriber installs a hook that runs when a peer cancels its
// subscription to the given message type.
func (e *Exchange) OnEndSubscriber(msgType uint32, h SubscriberHandler) {
	msg := e.createMessage(msgType, "")
	msg.onEndSub = h
}
