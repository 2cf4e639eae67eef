package exchange_test

import (
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mxhub/mx/internal/testutil"
	"github.com/mxhub/mx/pkg/config"
	"github.com/mxhub/mx/pkg/exchange"
	"github.com/mxhub/mx/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// startMaster brings up a master on a free exchange name and runs its
// event loop in the background. The cleanup asks it to quit the way
// "mx quit" does and waits for Run to return.
func startMaster(t *testing.T) (name string) {
	t.Helper()
	name = testutil.FreeExchangeName(t)

	m, err := exchange.Master(exchange.Config{
		MXName: name,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	t.Cleanup(func() {
		quitMaster(name)
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("master did not stop")
		}
	})
	return name
}

// quitMaster sends a bare QuitRequest frame to the master of the named
// exchange, ignoring a master that is already gone.
func quitMaster(name string) {
	addr := net.JoinHostPort("localhost", strconv.Itoa(int(config.EffectivePort(name))))
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.Write(wire.EncodeFrame(nil, wire.QuitRequest, 0, nil)) //nolint:errcheck // best effort
	conn.SetReadDeadline(time.Now().Add(waitFor))
	buf := make([]byte, 16)
	conn.Read(buf) //nolint:errcheck // waiting for EOF
}

func startClient(t *testing.T, name, myName string) *exchange.Exchange {
	t.Helper()
	c, err := exchange.Client(exchange.Config{
		MXName: name,
		MyName: myName,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

// eventually pumps the given exchanges until cond holds.
func eventually(t *testing.T, cond func() bool, pumped ...*exchange.Exchange) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, e := range pumped {
			e.ProcessEvents()
		}
		return cond()
	}, waitFor, tick)
}

func cidOf(e *exchange.Exchange, name string) (int, bool) {
	for _, comp := range e.Components() {
		if comp.Name == name {
			return comp.CID, true
		}
	}
	return 0, false
}

func TestBootAndHello(t *testing.T) {
	name := startMaster(t)

	a := startClient(t, name, "A")
	assert.EqualValues(t, 1, a.MyID())
	assert.Equal(t, "A/1", a.MyName())
	assert.Equal(t, name, a.Name())
	assert.Equal(t, config.EffectivePort(name), a.Port())

	b := startClient(t, name, "B")
	assert.EqualValues(t, 2, b.MyID())
	assert.Equal(t, "B/1", b.MyName())

	// After the handshake both clients hold two peers: the master and
	// each other.
	eventually(t, func() bool {
		_, aSeesB := cidOf(a, "B/1")
		_, bSeesA := cidOf(b, "A/1")
		return aSeesB && bSeesA && len(a.Components()) == 2 && len(b.Components()) == 2
	}, a, b)

	_, foundMaster := cidOf(a, "master")
	assert.True(t, foundMaster)
}

func TestSamePrefixNaming(t *testing.T) {
	name := startMaster(t)

	first := startClient(t, name, "worker")
	second := startClient(t, name, "worker")

	assert.Equal(t, "worker/1", first.MyName())
	assert.Equal(t, "worker/2", second.MyName())
}

func TestRegister(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	// First non-reserved id.
	typ := a.Register("Ping")
	assert.Equal(t, wire.NumReserved, typ)

	// The report reaches B, after which B resolves the name locally.
	eventually(t, func() bool { return b.MessageName(typ) == "Ping" }, a, b)
	assert.Equal(t, typ, b.Register("Ping"))

	// Registering is idempotent on the name but an empty name always
	// allocates fresh ids.
	assert.Equal(t, typ, a.Register("Ping"))
	anon1 := a.Register("")
	anon2 := a.Register("")
	assert.Equal(t, typ+1, anon1)
	assert.Equal(t, typ+2, anon2)
}

func TestBroadcast(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	typ := a.Register("Ping")
	eventually(t, func() bool { return b.MessageName(typ) == "Ping" }, a, b)

	var aFired, bFired atomic.Int32
	var fromName string
	require.Zero(t, b.Subscribe(typ, func(e *exchange.Exchange, cid int, _, _ uint32, payload []byte) {
		bFired.Add(1)
		fromName = e.ComponentName(cid)
		assert.Equal(t, []byte("hi"), payload)
	}))
	// The sender subscribing too must not get its own broadcast.
	a.Subscribe(typ, func(*exchange.Exchange, int, uint32, uint32, []byte) {
		aFired.Add(1)
	})

	// Wait until A has seen B's subscription announcement.
	eventually(t, func() bool {
		for _, comp := range a.Components() {
			if comp.Name == "B/1" {
				for _, s := range comp.Subscriptions {
					if s == typ {
						return true
					}
				}
			}
		}
		return false
	}, a, b)

	a.Broadcast(typ, 0, []byte("hi"))

	eventually(t, func() bool { return bFired.Load() == 1 }, a, b)
	assert.Equal(t, "A/1", fromName)
	assert.Zero(t, aFired.Load())
}

func TestSubscribeReplacesHandler(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	typ := a.Register("Ping")
	eventually(t, func() bool { return b.MessageName(typ) == "Ping" }, a, b)

	var h1, h2 atomic.Int32
	require.Zero(t, b.Subscribe(typ, func(*exchange.Exchange, int, uint32, uint32, []byte) { h1.Add(1) }))
	// Re-subscribing replaces the handler and reports a notice.
	assert.Positive(t, b.Subscribe(typ, func(*exchange.Exchange, int, uint32, uint32, []byte) { h2.Add(1) }))

	eventually(t, func() bool {
		for _, comp := range a.Components() {
			if comp.Name == "B/1" {
				for _, s := range comp.Subscriptions {
					if s == typ {
						return true
					}
				}
			}
		}
		return false
	}, a, b)

	a.Broadcast(typ, 0, nil)
	eventually(t, func() bool { return h2.Load() == 1 }, a, b)
	assert.Zero(t, h1.Load())
}

func TestSubscribeReservedRejected(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")

	assert.Negative(t, a.Subscribe(wire.HelloReply, nil))
	assert.Negative(t, a.Cancel(wire.QuitRequest))
	assert.NotEmpty(t, a.Errors())
	// Retrieval cleared the buffer.
	assert.Empty(t, a.Errors())
}

func TestCancel(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	typ := a.Register("Ping")
	eventually(t, func() bool { return b.MessageName(typ) == "Ping" }, a, b)

	require.Zero(t, b.Subscribe(typ, func(*exchange.Exchange, int, uint32, uint32, []byte) {}))
	hasSub := func() bool {
		for _, comp := range a.Components() {
			if comp.Name != "B/1" {
				continue
			}
			for _, s := range comp.Subscriptions {
				if s == typ {
					return true
				}
			}
		}
		return false
	}
	eventually(t, hasSub, a, b)

	require.Zero(t, b.Cancel(typ))
	eventually(t, func() bool { return !hasSub() }, a, b)

	// Cancelling again is a notice, not an error.
	assert.Positive(t, b.Cancel(typ))
}

func TestAwait(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	typ := a.Register("Ping")
	eventually(t, func() bool {
		_, ok := cidOf(a, "B/1")
		return ok && b.MessageName(typ) == "Ping"
	}, a, b)
	cidB, _ := cidOf(a, "B/1")
	cidA, ok := cidOf(b, "A/1")
	require.True(t, ok)

	// Nothing comes: the await times out after its 0.5 s.
	start := time.Now()
	_, _, err := a.Await(cidB, 0.5, typ)
	require.ErrorIs(t, err, exchange.ErrReplyTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 450*time.Millisecond)

	// B speaks up while A is parked: the frame is routed to the await
	// and never reaches A's event loop.
	go func() {
		time.Sleep(50 * time.Millisecond)
		b.Send(cidA, typ, 0, []byte("ok"))
	}()
	version, payload, err := a.Await(cidB, 0.5, typ)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.Equal(t, []byte("ok"), payload)
}

func TestSendAndWait(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	reqType := a.Register("Request")
	repType := a.Register("Reply")
	eventually(t, func() bool {
		_, aSeesB := cidOf(a, "B/1")
		_, bSeesA := cidOf(b, "A/1")
		return aSeesB && bSeesA && b.MessageName(repType) == "Reply"
	}, a, b)

	// B echoes every request back as a reply.
	b.Subscribe(reqType, func(e *exchange.Exchange, cid int, _, _ uint32, payload []byte) {
		e.Send(cid, repType, 1, payload)
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				b.ProcessEvents()
				time.Sleep(tick)
			}
		}
	}()

	cidB, ok := cidOf(a, "B/1")
	require.True(t, ok)
	version, payload, err := a.SendAndWait(cidB, 2, repType, reqType, 0, []byte("marco"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, []byte("marco"), payload)
}

func TestPeerDisconnectCleanup(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	typ := a.Register("Ping")
	eventually(t, func() bool { return b.MessageName(typ) == "Ping" }, a, b)
	require.Zero(t, b.Subscribe(typ, func(*exchange.Exchange, int, uint32, uint32, []byte) {}))

	var gone []string
	a.OnEndComponent(func(_ *exchange.Exchange, _ int, name string) {
		gone = append(gone, name)
	})

	eventually(t, func() bool {
		_, ok := cidOf(a, "B/1")
		return ok
	}, a, b)

	b.Shutdown()

	// A drops the peer and all of its subscriptions.
	eventually(t, func() bool {
		_, stillThere := cidOf(a, "B/1")
		return !stillThere
	}, a)
	assert.Contains(t, gone, "B/1")
	for _, comp := range a.Components() {
		assert.NotContains(t, comp.Subscriptions, typ)
	}
}

func TestMasterLossShutsClientsDown(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	eventually(t, func() bool {
		_, ok := cidOf(a, "B/1")
		return ok
	}, a, b)

	// Any component may ask the master to exit.
	cidMaster, ok := cidOf(a, "master")
	require.True(t, ok)
	a.Send(cidMaster, wire.QuitRequest, 0, nil)

	// With the master gone both clients wind down; ProcessEvents
	// reports that no more events are forthcoming.
	require.Eventually(t, func() bool { return a.ProcessEvents() == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return b.ProcessEvents() == 0 }, waitFor, tick)
}

func TestHooks(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	var newComps []string
	var newTypes []string
	a.OnNewComponent(func(_ *exchange.Exchange, _ int, name string) {
		newComps = append(newComps, name)
	})
	a.OnNewMessage(func(_ *exchange.Exchange, _ uint32, name string) {
		newTypes = append(newTypes, name)
	})

	typ := b.Register("Ping")

	eventually(t, func() bool { return a.MessageName(typ) == "Ping" }, a, b)
	eventually(t, func() bool {
		for _, n := range newComps {
			if n == "B/1" {
				return true
			}
		}
		return false
	}, a, b)
	assert.Contains(t, newTypes, "Ping")
}

func TestNewSubscriberHooks(t *testing.T) {
	name := startMaster(t)
	a := startClient(t, name, "A")
	b := startClient(t, name, "B")

	typ := a.Register("Ping")
	eventually(t, func() bool { return b.MessageName(typ) == "Ping" }, a, b)

	var subs, cancels atomic.Int32
	a.OnNewSubscriber(typ, func(_ *exchange.Exchange, _ int, _ uint32) { subs.Add(1) })
	a.OnEndSubscriber(typ, func(_ *exchange.Exchange, _ int, _ uint32) { cancels.Add(1) })

	b.Subscribe(typ, func(*exchange.Exchange, int, uint32, uint32, []byte) {})
	eventually(t, func() bool { return subs.Load() == 1 }, a, b)

	b.Cancel(typ)
	eventually(t, func() bool { return cancels.Load() == 1 }, a, b)
}

func TestClientWithoutMaster(t *testing.T) {
	name := testutil.FreeExchangeName(t)
	_, err := exchange.Client(exchange.Config{MXName: name, MyName: "orphan"})
	require.Error(t, err)
}

func TestClientNeedsName(t *testing.T) {
	_, err := exchange.Client(exchange.Config{MXName: "whatever"})
	require.Error(t, err)
}

func TestMasterPortBusy(t *testing.T) {
	name := testutil.FreeExchangeName(t)
	port := config.EffectivePort(name)
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer l.Close()

	_, err = exchange.Master(exchange.Config{MXName: name})
	require.Error(t, err)
}

func TestShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	name := testutil.FreeExchangeName(t)
	m, err := exchange.Master(exchange.Config{MXName: name, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	c, err := exchange.Client(exchange.Config{MXName: name, MyName: "A", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	c.Shutdown()
	quitMaster(name)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("master did not stop")
	}
}
