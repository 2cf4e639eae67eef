package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTimerWorker runs the timer loop of a bare exchange and returns
// it together with a stopper.
func startTimerWorker(t *testing.T) *Exchange {
	t.Helper()
	e := newExchange("timer-test", nil)
	e.wg.Add(1)
	go e.timerLoop()
	t.Cleanup(func() {
		e.timerQueue.push(&command{kind: cmdExit})
		e.wg.Wait()
	})
	return e
}

func nextEvent(t *testing.T, e *Exchange, within time.Duration) *event {
	t.Helper()
	deadline := time.Now().Add(within)
	ev, ok := e.events.pop(&deadline)
	require.True(t, ok, "no event within %v", within)
	return ev
}

func TestTimerFires(t *testing.T) {
	e := startTimerWorker(t)

	handler := func(*Exchange, uint32, float64) {}
	e.CreateTimer(1, Now()+0.05, handler)

	ev := nextEvent(t, e, time.Second)
	assert.Equal(t, evTimerFired, ev.kind)
	assert.EqualValues(t, 1, ev.timerID)
}

func TestTimersFireInTimeOrder(t *testing.T) {
	e := startTimerWorker(t)

	now := Now()
	// Created out of order on purpose.
	e.CreateTimer(3, now+0.15, nil)
	e.CreateTimer(1, now+0.05, nil)
	e.CreateTimer(2, now+0.10, nil)

	var order []uint32
	for i := 0; i < 3; i++ {
		ev := nextEvent(t, e, time.Second)
		require.Equal(t, evTimerFired, ev.kind)
		order = append(order, ev.timerID)
	}
	assert.Equal(t, []uint32{1, 2, 3}, order)
}

func TestTimerAdjustResorts(t *testing.T) {
	e := startTimerWorker(t)

	now := Now()
	e.CreateTimer(1, now+0.05, nil)
	e.CreateTimer(2, now+0.30, nil)
	// Move timer 2 ahead of timer 1.
	e.AdjustTimer(2, now+0.02)

	ev := nextEvent(t, e, time.Second)
	require.Equal(t, evTimerFired, ev.kind)
	assert.EqualValues(t, 2, ev.timerID)
}

func TestTimerRemove(t *testing.T) {
	e := startTimerWorker(t)

	now := Now()
	e.CreateTimer(1, now+0.05, nil)
	e.CreateTimer(2, now+0.08, nil)
	e.RemoveTimer(1)

	ev := nextEvent(t, e, time.Second)
	require.Equal(t, evTimerFired, ev.kind)
	assert.EqualValues(t, 2, ev.timerID)
}

func TestTimerDuplicateIDIsError(t *testing.T) {
	e := startTimerWorker(t)

	e.CreateTimer(1, Now()+5, nil)
	e.CreateTimer(1, Now()+6, nil)

	ev := nextEvent(t, e, time.Second)
	require.Equal(t, evError, ev.kind)
	assert.ErrorIs(t, ev.err, ErrDuplicateTimer)
}

func TestTimerUnknownIDIsError(t *testing.T) {
	e := startTimerWorker(t)

	e.AdjustTimer(99, Now()+1)
	ev := nextEvent(t, e, time.Second)
	require.Equal(t, evError, ev.kind)
	assert.ErrorIs(t, ev.err, ErrUnknownTimer)

	e.RemoveTimer(99)
	ev = nextEvent(t, e, time.Second)
	require.Equal(t, evError, ev.kind)
	assert.ErrorIs(t, ev.err, ErrUnknownTimer)
}

func TestTimerInPastFiresImmediately(t *testing.T) {
	e := startTimerWorker(t)

	e.CreateTimer(1, Now()-1, nil)
	ev := nextEvent(t, e, time.Second)
	assert.Equal(t, evTimerFired, ev.kind)
}
