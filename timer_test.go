package aqualink

import "testing"

func TestTimerStaleFireRejected(t *testing.T) {
	events := make(chan timerEvent, 4)
	clk := &fakeClock{}
	tm := newTimer(clk, tkReplyTimeout, 0x68, events)

	tm.arm(0) // schedules entry 1
	stale := clk.entries[0]

	tm.arm(0) // re-arms: entry 1 is canceled, entry 2 becomes current
	stale.fire()
	select {
	case evt := <-events:
		if tm.deliver(evt) {
			t.Error("deliver() accepted a fire from a canceled arm")
		}
	default:
		t.Fatal("expected the stale fire to still post an event")
	}
}

func TestTimerFreshFireAccepted(t *testing.T) {
	events := make(chan timerEvent, 4)
	clk := &fakeClock{}
	tm := newTimer(clk, tkProbe, 0, events)

	tm.arm(0)
	clk.last().fire()

	evt := <-events
	if !tm.deliver(evt) {
		t.Error("deliver() rejected a fire from the current arm")
	}
	if tm.pending() {
		t.Error("pending() = true after delivering the only scheduled fire")
	}
}

func TestTimerStopInvalidatesPending(t *testing.T) {
	events := make(chan timerEvent, 4)
	clk := &fakeClock{}
	tm := newTimer(clk, tkGap, 0, events)

	tm.arm(0)
	tm.stop()
	if tm.pending() {
		t.Error("pending() = true after stop()")
	}

	fired := clk.entries[0]
	if !fired.canceled {
		t.Error("stop() did not cancel the underlying clock entry")
	}
}
