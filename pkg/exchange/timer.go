package exchange

import (
	"math"
	"sort"
	"time"
)

// TimerHandler is called on the event loop when a timer fires. The id
// and the trigger time of the timer are passed back.
type TimerHandler func(e *Exchange, id uint32, t float64)

// Now returns the current UTC time as seconds since the epoch. Timer
// trigger times use the same scale.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func timeFromFloat(t float64) time.Time {
	return time.Unix(0, int64(t*1e9))
}

// timer is one entry in the timer worker's list.
type timer struct {
	id      uint32
	when    float64
	handler TimerHandler
}

// timerLoop is the timer worker. It owns the timer list outright: all
// mutations arrive as commands on its queue, and it sleeps with a
// deadline equal to the nearest trigger time. Expiry pops the head
// timer and posts a fired event to the event loop.
func (e *Exchange) timerLoop() {
	defer e.wg.Done()

	var timers []*timer

	sortTimers := func() {
		sort.SliceStable(timers, func(i, j int) bool { return timers[i].when < timers[j].when })
	}
	find := func(id uint32) int {
		for i, t := range timers {
			if t.id == id {
				return i
			}
		}
		return -1
	}

	for {
		var deadline *time.Time
		if len(timers) > 0 && timers[0].when < math.MaxFloat64 {
			d := timeFromFloat(timers[0].when)
			deadline = &d
		}

		cmd, ok := e.timerQueue.pop(deadline)
		if !ok {
			head := timers[0]
			timers = timers[1:]
			e.postEvent(&event{
				kind:    evTimerFired,
				timerID: head.id,
				when:    head.when,
				handler: head.handler,
			})
			continue
		}

		switch cmd.kind {
		case cmdTimerCreate:
			if find(cmd.timerID) >= 0 {
				e.postEvent(&event{kind: evError, cid: -1, whence: "CreateTimer", err: ErrDuplicateTimer})
				continue
			}
			timers = append(timers, &timer{id: cmd.timerID, when: cmd.when, handler: cmd.handler})
			sortTimers()
		case cmdTimerAdjust:
			i := find(cmd.timerID)
			if i < 0 {
				e.postEvent(&event{kind: evError, cid: -1, whence: "AdjustTimer", err: ErrUnknownTimer})
				continue
			}
			timers[i].when = cmd.when
			sortTimers()
		case cmdTimerDelete:
			i := find(cmd.timerID)
			if i < 0 {
				e.postEvent(&event{kind: evError, cid: -1, whence: "RemoveTimer", err: ErrUnknownTimer})
				continue
			}
			timers = append(timers[:i], timers[i+1:]...)
		case cmdExit:
			return
		default:
			e.postEvent(&event{kind: evError, cid: -1, whence: "timerLoop", err: errUnknownCommand(cmd.kind)})
			return
		}
	}
}

// CreateTimer schedules handler to run at absolute time t (seconds
// since the epoch, as returned by Now). The id identifies the timer in
// later AdjustTimer and RemoveTimer calls; reusing a live id raises an
// error event.
func (e *Exchange) CreateTimer(id uint32, t float64, handler TimerHandler) {
	e.timerQueue.push(&command{kind: cmdTimerCreate, timerID: id, when: t, handler: handler})
}

// AdjustTimer moves the timer with the given id to a new trigger time.
func (e *Exchange) AdjustTimer(id uint32, t float64) {
	e.timerQueue.push(&command{kind: cmdTimerAdjust, timerID: id, when: t})
}

// RemoveTimer cancels the timer with the given id.
func (e *Exchange) RemoveTimer(id uint32) {
	e.timerQueue.push(&command{kind: cmdTimerDelete, timerID: id})
}
