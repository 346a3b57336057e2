package aqualink

import "time"

// clock is the schedule-at-deadline / cancel-timer contract the core
// consumes from its host runtime (spec.md §6). The default
// implementation schedules on the Go runtime's timer wheel; tests
// substitute a fake clock for deterministic, wall-clock-free timing.
type clock interface {
	after(d time.Duration, fire func()) cancelFunc
}

// cancelFunc stops a previously scheduled deadline. Calling it after
// the deadline already fired is a no-op.
type cancelFunc func()

type realClock struct{}

func (realClock) after(d time.Duration, fire func()) cancelFunc {
	t := time.AfterFunc(d, fire)
	return func() { t.Stop() }
}

// timerEvent is posted to the scheduler's event loop when an armed
// timer fires.
type timerEvent struct {
	kind  timerKind
	addr  byte // device address; only meaningful when kind == tkLiveness
	epoch uint64
}

type timerKind int

const (
	tkProbe timerKind = iota
	tkDeviceWork
	tkGap
	tkReplyTimeout
	tkLiveness
)

// timer is a single re-armable deadline. Each Arm call bumps an
// epoch; a fire is only acted on if its epoch still matches the
// timer's current epoch, so a timer that was canceled or re-armed
// after scheduling but before its old fire is delivered is recognized
// as stale. This is the "closures capture a stable reference instead
// of reconstructing the owner from a pointer" pattern spec.md §9 calls
// for, applied to timer identity instead of container-of.
type timer struct {
	clock  clock
	kind   timerKind
	addr   byte
	events chan<- timerEvent

	epoch  uint64
	live   bool
	cancel cancelFunc
}

func newTimer(c clock, kind timerKind, addr byte, events chan<- timerEvent) *timer {
	return &timer{clock: c, kind: kind, addr: addr, events: events}
}

// arm schedules (or re-schedules) the timer to fire after d.
func (t *timer) arm(d time.Duration) {
	if t.cancel != nil {
		t.cancel()
	}
	t.epoch++
	epoch := t.epoch
	events := t.events
	kind := t.kind
	addr := t.addr
	t.live = true
	t.cancel = t.clock.after(d, func() {
		events <- timerEvent{kind: kind, addr: addr, epoch: epoch}
	})
}

// stop cancels the timer and invalidates any fire already in flight.
func (t *timer) stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.live = false
	t.epoch++
}

// pending reports whether the timer is currently armed.
func (t *timer) pending() bool {
	return t.live
}

// deliver reports whether evt is the most recent fire scheduled for
// this timer (not stale), and if so marks the timer no longer live.
func (t *timer) deliver(evt timerEvent) bool {
	if evt.epoch != t.epoch {
		return false
	}
	t.live = false
	return true
}
