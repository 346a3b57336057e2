package aqualink

import (
	"container/list"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/GoAethereal/cancel"
)

// fakeClock is a clock whose after calls are recorded instead of
// scheduled on a real timer; tests fire them explicitly and
// deterministically instead of sleeping.
type fakeClock struct {
	mu      sync.Mutex
	entries []*fakeClockEntry
}

type fakeClockEntry struct {
	d        time.Duration
	fire     func()
	canceled bool
}

func (c *fakeClock) after(d time.Duration, fire func()) cancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &fakeClockEntry{d: d, fire: fire}
	c.entries = append(c.entries, e)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		e.canceled = true
	}
}

// last returns the most recently armed, not-yet-canceled entry.
func (c *fakeClock) last() *fakeClockEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if !c.entries[i].canceled {
			return c.entries[i]
		}
	}
	return nil
}

// newTestScheduler builds a Scheduler wired to clk instead of the real
// clock, so tests can drive its timers by hand.
func newTestScheduler(cfg Config, stream Stream, clk clock) *Scheduler {
	cfg.Verify()
	events := make(chan timerEvent, 64)
	s := &Scheduler{
		cfg:         cfg,
		registry:    NewRegistry(cfg.RegistrySize),
		stream:      stream,
		log:         slog.Default(),
		clock:       clk,
		queue:       list.New(),
		maxQueueLen: cfg.RegistrySize * 4,
		events:      events,
	}
	s.probe = newTimer(clk, tkProbe, 0, events)
	s.deviceWork = newTimer(clk, tkDeviceWork, 0, events)
	s.gap = newTimer(clk, tkGap, 0, events)
	s.replyTO = newTimer(clk, tkReplyTimeout, 0, events)
	return s
}

func TestSchedulerEnqueueSendsImmediatelyWhenIdle(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	sched.AddDevice(0x68, Heater{})

	frame := Encode([]byte{0x68, heaterMeasurements})
	if err := sched.enqueue(0x68, frame); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w, ok := stream.written()
	if !ok {
		t.Fatal("expected a write, got none")
	}
	if string(w) != string(frame) {
		t.Errorf("written = %x, want %x", w, frame)
	}
	if !sched.replyTO.pending() {
		t.Error("reply timeout not armed after sending the only pending request")
	}
}

func TestSchedulerSecondRequestWaitsBehindFirst(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	sched.AddDevice(0x68, Heater{})
	sched.AddDevice(0x08, &ControlPanel{})

	sched.enqueue(0x68, Encode([]byte{0x68, heaterMeasurements}))
	sched.enqueue(0x08, Encode([]byte{0x08, panelAck}))

	if _, ok := stream.written(); !ok {
		t.Fatal("expected the first request to be written")
	}
	if _, ok := stream.written(); ok {
		t.Fatal("second request must not be written while the first is pending")
	}
	if sched.queue.Len() != 2 {
		t.Errorf("queue.Len() = %d, want 2", sched.queue.Len())
	}
}

func TestSchedulerRoutesReplyByRequestAddress(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	heater, _ := sched.AddDevice(0x68, Heater{})
	sched.AddDevice(0x08, &ControlPanel{})

	sched.enqueue(0x68, Encode([]byte{0x68, heaterMeasurements}))
	stream.written() // drain the write recorded by enqueue

	// The reply carries a different address byte (0x08) than the
	// pending request (0x68); it must still be routed to the heater,
	// because routing follows the request, not the reply's own
	// address field.
	reply := Encode([]byte{0x08, heaterMeasurements, 0xe8, 0x03, 0x2a, 0x00, 0x00, 0x00, 0x5a})
	sched.handleFrame(reply)

	gv, err := heater.Props.GetInt("gv_on_time")
	if err != nil || gv != 1000 {
		t.Errorf("gv_on_time = %v, %v, want 1000 (reply should have routed to the heater)", gv, err)
	}
	if sched.queue.Len() != 0 {
		t.Errorf("queue.Len() = %d, want 0 after the only pending request resolved", sched.queue.Len())
	}
}

func TestSchedulerDecodeErrorDoesNotAdvanceQueue(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	sched.AddDevice(0x68, Heater{})
	sched.enqueue(0x68, Encode([]byte{0x68, heaterMeasurements}))

	lenBefore := sched.queue.Len()
	replyTOArmedBefore := sched.replyTO.pending()

	corrupt := []byte{0x10, 0x02, 0xff, 0xff, 0x10, 0x03}
	sched.handleFrame(corrupt)

	if sched.queue.Len() != lenBefore {
		t.Errorf("queue.Len() changed on decode error: %d -> %d", lenBefore, sched.queue.Len())
	}
	if sched.replyTO.pending() != replyTOArmedBefore {
		t.Error("reply timeout touched on decode error; only the timeout itself may advance state")
	}
}

func TestSchedulerReplyTimeoutAdvancesQueue(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	sched.AddDevice(0x68, Heater{})
	sched.AddDevice(0x08, &ControlPanel{})

	sched.enqueue(0x68, Encode([]byte{0x68, heaterMeasurements}))
	sched.enqueue(0x08, Encode([]byte{0x08, panelAck}))
	stream.written() // the 0x68 request

	sched.onReplyTimeout()

	w, ok := stream.written()
	if !ok {
		t.Fatal("expected the second request to be sent after the first timed out")
	}
	want := Encode([]byte{0x08, panelAck})
	if string(w) != string(want) {
		t.Errorf("written = %x, want %x", w, want)
	}
	if sched.queue.Len() != 1 {
		t.Errorf("queue.Len() = %d, want 1 (only the 0x08 request in flight)", sched.queue.Len())
	}
}

func TestSchedulerDiscardsUnsolicitedReply(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	sched.AddDevice(0x68, Heater{})

	reply := Encode([]byte{0x68, heaterMeasurements, 0, 0, 0, 0, 0, 0, 0})
	sched.handleFrame(reply) // no pending request at all

	if sched.queue.Len() != 0 {
		t.Errorf("queue.Len() = %d, want 0", sched.queue.Len())
	}
}

func TestSchedulerProbesOnlyDisconnectedDevices(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	connected, _ := sched.AddDevice(0x68, Heater{})
	sched.AddDevice(0x08, &ControlPanel{})
	connected.Connected = true

	sched.runProbeCycle()

	w, ok := stream.written()
	if !ok {
		t.Fatal("expected a probe for the disconnected device")
	}
	want := Encode([]byte{0x08, cmdProbeRequest})
	if string(w) != string(want) {
		t.Errorf("probe frame = %x, want %x", w, want)
	}
	if _, ok := stream.written(); ok {
		t.Error("unexpected second probe write; the connected device should not be re-probed")
	}
}

func TestSchedulerDeviceWorkDefersOnContention(t *testing.T) {
	stream := newFakeStream()
	clk := &fakeClock{}
	cfg := Config{}
	sched := newTestScheduler(cfg, stream, clk)
	sched.AddDevice(0x68, Heater{})
	sched.enqueue(0x68, Encode([]byte{0x68, heaterMeasurements})) // leaves the queue nonempty

	sched.runDeviceWork()

	e := clk.last()
	if e == nil || e.d != sched.cfg.DeviceWorkDefer {
		t.Errorf("device-work timer re-armed for %v, want the %v defer", e, sched.cfg.DeviceWorkDefer)
	}
}

func TestSchedulerLivenessRecoveryRoundTrip(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	dev, _ := sched.AddDevice(0x68, Heater{})

	sched.enqueue(0x68, Encode([]byte{0x68, cmdProbeRequest}))
	stream.written()

	sched.handleFrame(Encode([]byte{0x68, cmdProbeResponse}))

	if !dev.Connected {
		t.Error("Connected = false after a probe response, want true")
	}
	if !dev.liveness.pending() {
		t.Error("liveness timer not armed after a probe response")
	}

	sched.onLivenessExpired(dev)
	if dev.Connected {
		t.Error("Connected = true after liveness expiry, want false")
	}
}

func TestSchedulerDataValidTransitions(t *testing.T) {
	stream := newFakeStream()
	sched := newTestScheduler(Config{}, stream, &fakeClock{})
	dev, _ := sched.AddDevice(0x68, Heater{})

	if dev.DataValid {
		t.Fatal("DataValid = true before any reply, want false")
	}

	sched.enqueue(0x68, Encode([]byte{0x68, heaterMeasurements}))
	stream.written()
	sched.handleFrame(Encode([]byte{0x68, heaterMeasurements, 0xe8, 0x03, 0x2a, 0x00, 0x00, 0x00, 0x5a}))

	if !dev.DataValid {
		t.Error("DataValid = false after a successful HandleReply, want true")
	}

	sched.onLivenessExpired(dev)
	if dev.DataValid {
		t.Error("DataValid = true after liveness expiry, want false")
	}
}

func TestSchedulerAddDeviceSetsLogger(t *testing.T) {
	sched := newTestScheduler(Config{}, newFakeStream(), &fakeClock{})
	dev, _ := sched.AddDevice(0x08, &ControlPanel{})
	if dev.Log == nil {
		t.Error("Log = nil after AddDevice, want the scheduler's logger")
	}
}

func TestSchedulerRunReturnsOnStreamEOF(t *testing.T) {
	stream := newFakeStream()
	sched := NewScheduler(Config{}, stream, nil, nil)

	done := make(chan error, 1)
	root := cancel.New()
	go func() { done <- sched.Run(root) }()

	stream.close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStreamEOF) {
			t.Errorf("Run returned %v, want an error wrapping ErrStreamEOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the stream closed")
	}
}
