package aqualink

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the framer, scheduler, and property store.
// Each corresponds to one row of the error taxonomy in the specification.
var (
	// ErrTooShort is returned by Decode when a frame is shorter than the
	// minimum valid length of 5 bytes (header + checksum + footer).
	ErrTooShort = errors.New("aqualink: frame too short")
	// ErrBadHeader is returned by Decode when the frame does not start
	// with the 0x10 0x02 header.
	ErrBadHeader = errors.New("aqualink: missing header")
	// ErrBadFooter is returned by Decode when the frame does not end
	// with the 0x10 0x03 footer.
	ErrBadFooter = errors.New("aqualink: missing footer")
	// ErrBadChecksum is returned by Decode when the trailing checksum
	// byte does not match the modulo-256 sum of the preceding bytes.
	ErrBadChecksum = errors.New("aqualink: checksum mismatch")

	// ErrFrameTooLarge is returned by enqueue when the encoded frame
	// exceeds the pending-request buffer size (32 bytes).
	ErrFrameTooLarge = errors.New("aqualink: frame exceeds pending request size")
	// ErrQueueFull is returned when the pending request queue cannot
	// accept another frame.
	ErrQueueFull = errors.New("aqualink: pending request queue full")

	// ErrUnsolicitedReply is logged (not returned to a caller) when a
	// complete frame arrives with no pending request to match it to.
	ErrUnsolicitedReply = errors.New("aqualink: unsolicited reply")
	// ErrReplyTimeout is logged when no reply arrives within the
	// per-transaction timeout.
	ErrReplyTimeout = errors.New("aqualink: reply timeout")
	// ErrLivenessExpired marks a device's connected flag false after
	// the liveness deadline passes with no reply.
	ErrLivenessExpired = errors.New("aqualink: liveness expired")

	// ErrDeviceExists is returned by Registry.Insert for a duplicate
	// address.
	ErrDeviceExists = errors.New("aqualink: device already registered")
	// ErrRegistryFull is returned by Registry.Insert when all slots
	// are occupied.
	ErrRegistryFull = errors.New("aqualink: device registry full")
	// ErrInvalidAddress is returned for address 0, the reserved empty
	// slot sentinel.
	ErrInvalidAddress = errors.New("aqualink: address 0 is reserved")

	// ErrPropertyMissing is returned by a property get/set for a name
	// that was never declared during device init.
	ErrPropertyMissing = errors.New("aqualink: property not declared")
	// ErrPropertyTypeMismatch is returned by a property get/set when
	// the declared type does not match the requested type.
	ErrPropertyTypeMismatch = errors.New("aqualink: property type mismatch")

	// ErrNoRequest is returned by Ops.NextRequest when the device has
	// nothing to send this round.
	ErrNoRequest = errors.New("aqualink: no request to send")
	// ErrNotSupported is returned by Ops.NextRequest when the device
	// never originates requests.
	ErrNotSupported = errors.New("aqualink: operation not supported")

	// ErrStreamEOF is fatal: the underlying serial stream closed.
	ErrStreamEOF = errors.New("aqualink: stream closed")
)

// UnknownDeviceError is logged by the scheduler when a reply is matched to a request
// whose address is not present in the registry — a configuration drift
// between the pending queue and the registry contents.
type UnknownDeviceError struct {
	Addr byte
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("aqualink: unknown device address 0x%02x", e.Addr)
}

// MalformedReplyError wraps an error returned by a device's reply
// handler with the slave address that produced it, so the scheduler
// can log it without the device needing to know its own address.
type MalformedReplyError struct {
	Addr byte
	Err  error
}

func (e *MalformedReplyError) Error() string {
	return fmt.Sprintf("aqualink: malformed reply from 0x%02x: %v", e.Addr, e.Err)
}

func (e *MalformedReplyError) Unwrap() error {
	return e.Err
}
