package aqualink

import "time"

// Config configures a Scheduler. Every duration has a default matching
// the specification's timing constants; they are exposed so tests can
// run the scheduler at compressed timings instead of real wall-clock
// seconds.
type Config struct {
	// RegistrySize is the fixed capacity of the device registry.
	// Defaults to DefaultRegistrySize (10).
	RegistrySize int

	// MaxFrameSize bounds an encoded frame accepted by enqueue.
	// Defaults to 32.
	MaxFrameSize int

	// ProbeInterval is how often disconnected devices are re-probed.
	// Defaults to 2s.
	ProbeInterval time.Duration
	// DeviceWorkInterval is how often each registered device is asked
	// for its next request. Defaults to 500ms.
	DeviceWorkInterval time.Duration
	// DeviceWorkDefer is the delay before retrying device work when
	// the pending queue was nonempty. Defaults to 100ms.
	DeviceWorkDefer time.Duration
	// ReplyTimeout is how long the scheduler waits for a reply to the
	// frame currently on the wire. Defaults to 200ms.
	ReplyTimeout time.Duration
	// InterFrameGap is the mandatory idle time enforced between two
	// frames on the wire. Defaults to 4ms.
	InterFrameGap time.Duration
	// LivenessTimeout is how long a device may go without replying
	// before it is marked disconnected. Defaults to 2s.
	LivenessTimeout time.Duration
}

// Verify validates the Config, filling in any zero-valued duration or
// size with its documented default. It never returns an error today —
// there is no combination of these fields that is invalid — but
// matches the teacher's Verify gate shape (config.go) for symmetry
// with how a future transport-selecting field would be validated.
func (cfg *Config) Verify() error {
	if cfg.RegistrySize <= 0 {
		cfg.RegistrySize = DefaultRegistrySize
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = 32
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 2 * time.Second
	}
	if cfg.DeviceWorkInterval <= 0 {
		cfg.DeviceWorkInterval = 500 * time.Millisecond
	}
	if cfg.DeviceWorkDefer <= 0 {
		cfg.DeviceWorkDefer = 100 * time.Millisecond
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 200 * time.Millisecond
	}
	if cfg.InterFrameGap <= 0 {
		cfg.InterFrameGap = 4 * time.Millisecond
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 2 * time.Second
	}
	return nil
}
