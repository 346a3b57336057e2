package aqualink

import "log/slog"

// Ops is the trait each slave implementation satisfies. It is the
// polymorphic seam the scheduler uses to drive any device without
// knowing its concrete type: a device owns its property store and is
// handed a reference to it during InitProperties, then produces
// requests and consumes replies through the other two methods.
type Ops interface {
	// InitProperties populates dev's property map with its declared
	// schema. Called once, at registration.
	InitProperties(dev *Device)

	// NextRequest writes the next outgoing message payload (address
	// byte at offset 0, command at offset 1, the rest command-specific)
	// into buf and returns the number of bytes written. It returns
	// ErrNoRequest if the device has nothing to send this round, or
	// ErrNotSupported if the device never originates requests.
	NextRequest(dev *Device, buf []byte) (int, error)

	// HandleReply consumes an unescaped reply message (including the
	// address and command bytes) and updates dev's properties. A
	// non-nil error is logged by the scheduler but never escalated.
	HandleReply(dev *Device, reply []byte) error
}

// Device is a registered slave: its bus address, its behavior (Ops),
// its property store, and the liveness bookkeeping the scheduler
// maintains for it. Devices are created once at startup and live for
// the process lifetime.
type Device struct {
	Addr  byte
	Ops   Ops
	Props *Properties

	// Connected becomes true when the device answers a probe and
	// returns to false once a liveness interval passes with no reply of
	// any kind from it.
	Connected bool

	// DataValid reflects whether Props currently holds values read
	// from a live reply rather than stale zero values or values left
	// over from before the device last dropped off the bus. It
	// becomes true the first time HandleReply succeeds and is cleared
	// again when the liveness deadline expires (spec.md §3, §5).
	DataValid bool

	// Log is the scheduler's logger, made available to Ops
	// implementations that need to record slave-specific events (e.g.
	// the control panel logging a button name). Set by the scheduler
	// at registration; nil for a Device constructed outside it.
	Log *slog.Logger

	liveness *timer // armed/refreshed by the scheduler on every reply
}

// newDevice constructs a Device for addr, running ops.InitProperties
// against a fresh property store.
func newDevice(addr byte, ops Ops) *Device {
	d := &Device{
		Addr:  addr,
		Ops:   ops,
		Props: NewProperties(),
	}
	ops.InitProperties(d)
	return d
}
