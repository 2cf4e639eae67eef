package exchange

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mxhub/mx/pkg/wire"
	"go.uber.org/zap"
)

const readChunkSize = 9000

// component is a participant of the exchange as seen from this process:
// a remote peer we hold a TCP stream to, or the local self entry.
type component struct {
	e *Exchange

	name string
	host string
	port uint16
	id   uint16
	cid  int // slot in the directory, -1 for the local self entry

	conn net.Conn

	subscriptions []*subscription

	incoming []byte // partial frame carried over between reads

	awaitMu sync.RWMutex
	awaits  []*await

	writerQueue *queue[*command]

	wg sync.WaitGroup
}

// await is a parked rendezvous: some goroutine is blocked waiting for a
// frame of this type on this peer. The reader satisfies it directly,
// bypassing the event loop.
type await struct {
	msgType uint32
	ch      chan awaitResult
}

type awaitResult struct {
	version uint32
	payload []byte
}

func newComponent(e *Exchange) *component {
	return &component{
		e:           e,
		cid:         -1,
		writerQueue: newQueue[*command](),
	}
}

// startWorkers launches the reader and writer goroutines for a
// connected peer.
func (c *component) startWorkers() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// readLoop pulls bytes off the socket and splits them into frames. A
// frame somebody is awaiting completes that await directly; everything
// else becomes a message event. EOF or a closed connection turns into a
// disconnect event, any other read error into an error event.
func (c *component) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.handleIncoming(buf[:n])
		}
		if err == io.EOF {
			c.e.postEvent(&event{kind: evDisconnect, cid: c.cid, whence: "read"})
			return
		}
		if err != nil {
			if isClosedConn(err) {
				c.e.postEvent(&event{kind: evDisconnect, cid: c.cid, whence: "read"})
			} else {
				c.e.postEvent(&event{kind: evError, cid: c.cid, whence: "read", err: err})
			}
			return
		}
	}
}

// handleIncoming appends data to the pending buffer and delivers every
// complete frame found in it.
func (c *component) handleIncoming(data []byte) {
	c.incoming = append(c.incoming, data...)

	for {
		h, payload, n := wire.SplitFrame(c.incoming)
		if n == 0 {
			return
		}
		body := make([]byte, len(payload))
		copy(body, payload)
		c.incoming = c.incoming[n:]

		framesReceived.Inc()

		if c.completeAwait(h, body) {
			continue
		}
		c.e.postEvent(&event{
			kind:    evMessage,
			cid:     c.cid,
			msgType: h.Type,
			version: h.Version,
			payload: body,
		})
	}
}

// completeAwait hands the frame to the oldest await for its type, if
// any. Awaits are matched in arrival order.
func (c *component) completeAwait(h wire.Header, payload []byte) bool {
	c.awaitMu.Lock()
	var found *await
	for i, a := range c.awaits {
		if a.msgType == h.Type {
			found = a
			c.awaits = append(c.awaits[:i], c.awaits[i+1:]...)
			break
		}
	}
	c.awaitMu.Unlock()

	if found == nil {
		return false
	}
	found.ch <- awaitResult{version: h.Version, payload: payload}
	return true
}

// addAwait registers an await for the given type and returns it.
func (c *component) addAwait(msgType uint32) *await {
	a := &await{msgType: msgType, ch: make(chan awaitResult, 1)}
	c.awaitMu.Lock()
	c.awaits = append(c.awaits, a)
	c.awaitMu.Unlock()
	return a
}

// removeAwait drops a from the await list. It reports false when the
// reader got there first, in which case a result is already on its way.
func (c *component) removeAwait(a *await) bool {
	c.awaitMu.Lock()
	defer c.awaitMu.Unlock()
	for i, x := range c.awaits {
		if x == a {
			c.awaits = append(c.awaits[:i], c.awaits[i+1:]...)
			return true
		}
	}
	return false
}

// abortAwaits fails every pending await. Called when the peer goes away.
func (c *component) abortAwaits() {
	c.awaitMu.Lock()
	pending := c.awaits
	c.awaits = nil
	c.awaitMu.Unlock()
	for _, a := range pending {
		close(a.ch)
	}
}

// writeLoop serializes and writes frames handed to it on the writer
// queue. A write failure terminates the loop and, unless the connection
// was already closed, is recorded; the peer will be detected as gone by
// its reader.
func (c *component) writeLoop() {
	defer c.wg.Done()

	var out []byte
	for {
		cmd, _ := c.writerQueue.pop(nil)
		switch cmd.kind {
		case cmdExit:
			return
		case cmdWrite:
			out = wire.EncodeFrame(out[:0], cmd.msgType, cmd.version, cmd.payload)
			if _, err := c.conn.Write(out); err != nil {
				if !isClosedConn(err) {
					c.e.log.Warn("write failed",
						zap.String("component", c.name),
						zap.Error(err))
					c.e.errors.add(sevNotice, "write to %q failed: %v", c.name, err)
				}
				return
			}
			framesSent.Inc()
		default:
			c.e.errors.add(sevError, "unexpected command type in writer: %d", cmd.kind)
			return
		}
	}
}

// send enqueues one frame to this peer's writer.
func (c *component) send(msgType, version uint32, payload []byte) {
	body := make([]byte, len(payload))
	copy(body, payload)
	c.writerQueue.push(&command{kind: cmdWrite, msgType: msgType, version: version, payload: body})
}

// sendAndWait enqueues a request and parks the calling goroutine until
// a frame of replyType arrives on this peer or the timeout elapses.
func (c *component) sendAndWait(timeout float64, replyType uint32,
	reqType, reqVersion uint32, reqPayload []byte) (awaitResult, error) {
	a := c.addAwait(replyType)

	c.send(reqType, reqVersion, reqPayload)

	return c.waitFor(a, timeout)
}

// awaitOnly parks the calling goroutine until a frame of msgType
// arrives or the timeout elapses, without sending anything first.
func (c *component) awaitOnly(timeout float64, msgType uint32) (awaitResult, error) {
	return c.waitFor(c.addAwait(msgType), timeout)
}

func (c *component) waitFor(a *await, timeout float64) (awaitResult, error) {
	t := time.NewTimer(time.Duration(timeout * float64(time.Second)))
	defer t.Stop()

	select {
	case res, ok := <-a.ch:
		if !ok {
			return awaitResult{}, ErrShutDown
		}
		return res, nil
	case <-t.C:
		if c.removeAwait(a) {
			return awaitResult{}, ErrReplyTimeout
		}
		// The reader matched the frame before we could withdraw:
		// take the result after all.
		res, ok := <-a.ch
		if !ok {
			return awaitResult{}, ErrShutDown
		}
		return res, nil
	}
}

// stop tears the connection down and joins both workers. Safe to call
// for a component whose workers never started.
func (c *component) stop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.writerQueue.push(&command{kind: cmdExit})
	c.wg.Wait()
	c.abortAwaits()
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
