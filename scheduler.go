package aqualink

import (
	"bytes"
	"container/list"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GoAethereal/cancel"
	"github.com/mrnuke/aqualink-control/internal/metrics"
)

// Protocol-level commands the scheduler itself drives, independent of
// any slave implementation.
const (
	cmdProbeRequest  = 0x00
	cmdProbeResponse = 0x01
)

// pendingRequest is an owned, bounded record of one encoded frame that
// is either on the wire or waiting its turn, plus the address it
// targets. The address is what a reply is routed by — not the address
// byte the reply itself carries (spec.md §3, §9).
type pendingRequest struct {
	addr  byte
	frame []byte
}

// Scheduler is the master: a single-threaded event loop owning the
// serial stream, the pending request FIFO, and the probe/device-work/
// inter-frame-gap/reply-timeout timers. It is the Go analogue of the
// teacher's Client (client.go) generalized from "one TCP connection,
// verify by transaction ID" to "one RS-485 link, verify there is
// exactly one request in flight and route the reply by that request's
// address" — and of _examples/original_source/src/main.c's aqua_ctx.
type Scheduler struct {
	cfg      Config
	registry *Registry
	stream   Stream
	log      *slog.Logger
	metrics  *metrics.Bus
	clock    clock

	queue       *list.List // of pendingRequest, strictly FIFO
	maxQueueLen int

	events chan timerEvent

	probe      *timer
	deviceWork *timer
	gap        *timer
	replyTO    *timer

	buf []byte // bytes read but not yet resolved into a complete frame
}

// NewScheduler constructs a Scheduler driving stream according to cfg.
// logger and bus may be nil; a nil logger falls back to slog.Default(),
// and a nil bus simply disables bus-health instrumentation.
func NewScheduler(cfg Config, stream Stream, logger *slog.Logger, bus *metrics.Bus) *Scheduler {
	cfg.Verify()
	if logger == nil {
		logger = slog.Default()
	}
	events := make(chan timerEvent, 8)
	s := &Scheduler{
		cfg:         cfg,
		registry:    NewRegistry(cfg.RegistrySize),
		stream:      stream,
		log:         logger,
		metrics:     bus,
		clock:       realClock{},
		queue:       list.New(),
		maxQueueLen: cfg.RegistrySize * 4,
		events:      events,
	}
	s.probe = newTimer(s.clock, tkProbe, 0, events)
	s.deviceWork = newTimer(s.clock, tkDeviceWork, 0, events)
	s.gap = newTimer(s.clock, tkGap, 0, events)
	s.replyTO = newTimer(s.clock, tkReplyTimeout, 0, events)
	return s
}

// AddDevice registers ops at addr, running its InitProperties and
// creating its liveness timer, which stays unarmed until the device's
// first reply (the device starts disconnected).
func (s *Scheduler) AddDevice(addr byte, ops Ops) (*Device, error) {
	dev, err := s.registry.Insert(addr, ops)
	if err != nil {
		return nil, err
	}
	dev.liveness = newTimer(s.clock, tkLiveness, addr, s.events)
	dev.Log = s.log
	return dev, nil
}

// Registry exposes the scheduler's device registry for inspection
// (e.g. by a telemetry exporter reading a device's Props — the
// property store is the only thing consumers are meant to touch;
// spec.md §1 keeps any RPC/IPC surface itself out of the core).
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

type readResult struct {
	data []byte
	err  error
}

// Run drives the event loop until ctx is canceled or the stream
// signals EOF, returning a non-nil error in both cases (a canceled ctx
// returns ctx.Err(); a closed stream returns an error wrapping
// ErrStreamEOF, which is fatal per spec.md §4.6/§7).
func (s *Scheduler) Run(ctx cancel.Context) error {
	defer s.shutdown()

	reads := make(chan readResult, 1)
	go pumpReads(ctx, s.stream, reads)

	s.armProbe()
	s.armDeviceWork()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-reads:
			if r.err != nil {
				s.log.Error("stream closed", "err", r.err)
				return fmt.Errorf("%w: %v", ErrStreamEOF, r.err)
			}
			s.onRead(r.data)
		case ev := <-s.events:
			s.onTimer(ev)
		}
	}
}

// pumpReads repeatedly reads from stream and forwards each chunk (or
// the terminal error) to out. It is the one piece of the scheduler
// that runs on its own goroutine; everything it sends funnels through
// a channel the event loop alone receives from, so no other goroutine
// ever touches scheduler state (spec.md §5).
func pumpReads(ctx cancel.Context, stream Stream, out chan<- readResult) {
	buf := make([]byte, 256)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			cp := append([]byte(nil), buf[:n]...)
			select {
			case out <- readResult{data: cp}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// shutdown cancels every armed timer before the event loop exits.
func (s *Scheduler) shutdown() {
	s.probe.stop()
	s.deviceWork.stop()
	s.gap.stop()
	s.replyTO.stop()
	for _, dev := range s.registry.Active() {
		if dev.liveness != nil {
			dev.liveness.stop()
		}
	}
}

func (s *Scheduler) armProbe() {
	s.probe.arm(s.cfg.ProbeInterval)
}

func (s *Scheduler) armDeviceWork() {
	s.deviceWork.arm(s.cfg.DeviceWorkInterval)
}

func (s *Scheduler) onTimer(ev timerEvent) {
	switch ev.kind {
	case tkProbe:
		if !s.probe.deliver(ev) {
			return
		}
		s.runProbeCycle()
		s.armProbe()
	case tkDeviceWork:
		if !s.deviceWork.deliver(ev) {
			return
		}
		s.runDeviceWork()
	case tkGap:
		if !s.gap.deliver(ev) {
			return
		}
		s.sendHead()
	case tkReplyTimeout:
		if !s.replyTO.deliver(ev) {
			return
		}
		s.onReplyTimeout()
	case tkLiveness:
		dev := s.registry.Lookup(ev.addr)
		if dev == nil || dev.liveness == nil || !dev.liveness.deliver(ev) {
			return
		}
		s.onLivenessExpired(dev)
	}
}

// runProbeCycle enqueues a minimal probe request (command 0x00) for
// every registered device that is not currently connected, in address
// order.
func (s *Scheduler) runProbeCycle() {
	for _, dev := range s.registry.Active() {
		if dev.Connected {
			continue
		}
		frame := Encode([]byte{dev.Addr, cmdProbeRequest})
		if err := s.enqueue(dev.Addr, frame); err != nil {
			s.log.Error("probe enqueue failed", "addr", dev.Addr, "err", err)
		}
	}
}

// runDeviceWork asks every registered device for its next request, in
// address order, deferring entirely if the pending queue is already
// nonempty (bus contention).
func (s *Scheduler) runDeviceWork() {
	if s.queue.Len() > 0 {
		s.log.Warn("bus contention, delaying device work")
		s.deviceWork.arm(s.cfg.DeviceWorkDefer)
		return
	}

	var msgBuf [16]byte
	for _, dev := range s.registry.Active() {
		n, err := dev.Ops.NextRequest(dev, msgBuf[:])
		if err != nil {
			if !errors.Is(err, ErrNoRequest) && !errors.Is(err, ErrNotSupported) {
				s.log.Error("next request failed", "addr", dev.Addr, "err", err)
			}
			continue
		}
		frame := Encode(msgBuf[:n])
		if err := s.enqueue(dev.Addr, frame); err != nil {
			s.log.Error("device-work enqueue failed", "addr", dev.Addr, "err", err)
		}
	}
	s.armDeviceWork()
}

// enqueue appends an already-encoded frame to the pending queue,
// sending it immediately if the queue was empty.
func (s *Scheduler) enqueue(addr byte, frame []byte) error {
	if len(frame) > s.cfg.MaxFrameSize {
		return ErrFrameTooLarge
	}
	if s.queue.Len() >= s.maxQueueLen {
		return ErrQueueFull
	}
	wasEmpty := s.queue.Len() == 0
	s.queue.PushBack(pendingRequest{addr: addr, frame: frame})
	if wasEmpty {
		s.sendHead()
	}
	return nil
}

// sendHead transmits the frame at the head of the pending queue,
// unless the inter-frame gap timer is still counting down — in which
// case its eventual fire calls sendHead again.
func (s *Scheduler) sendHead() {
	if s.queue.Len() == 0 {
		return
	}
	if s.gap.pending() {
		return
	}
	req := s.queue.Front().Value.(pendingRequest)
	s.replyTO.arm(s.cfg.ReplyTimeout)
	if _, err := s.stream.Write(req.frame); err != nil {
		s.log.Error("write failed", "addr", req.addr, "err", err)
	}
	if s.metrics != nil {
		s.metrics.IncFramesSent()
	}
}

// onReplyTimeout drops the request at the head of the queue after
// 200ms produced no reply, and advances to the next one. It does not
// touch the target device's connected flag — only the independent
// liveness timer does that.
func (s *Scheduler) onReplyTimeout() {
	front := s.queue.Front()
	if front == nil {
		return
	}
	req := front.Value.(pendingRequest)
	s.queue.Remove(front)

	s.log.Warn(ErrReplyTimeout.Error(), "addr", req.addr)
	if s.metrics != nil {
		s.metrics.IncReplyTimeout()
	}
	s.sendHead()
}

// onRead accumulates newly read bytes and extracts every complete
// frame it can find, discarding junk bytes preceding a header and
// waiting for more data if a header has no footer yet.
func (s *Scheduler) onRead(chunk []byte) {
	s.buf = append(s.buf, chunk...)
	for {
		hi := bytes.Index(s.buf, header[:])
		if hi < 0 {
			s.buf = s.buf[:0]
			return
		}
		if hi > 0 {
			s.buf = s.buf[hi:]
		}
		fi := bytes.Index(s.buf[2:], footer[:])
		if fi < 0 {
			return
		}
		frameEnd := 2 + fi + len(footer)
		frame := append([]byte(nil), s.buf[:frameEnd]...)
		s.buf = s.buf[frameEnd:]
		s.handleFrame(frame)
	}
}

// handleFrame decodes one complete frame and, if it decodes
// successfully, routes it to the device named by the request at the
// head of the pending queue (not the address the reply itself
// carries). A frame that fails to decode is logged and dropped
// without disturbing the pending queue — the request it failed to
// satisfy is recovered by the reply-timeout, not by this path
// (spec.md §7).
func (s *Scheduler) handleFrame(frame []byte) {
	if s.metrics != nil {
		s.metrics.IncFramesReceived()
	}
	msg, err := Decode(frame)
	if err != nil {
		s.log.Error("frame decode error", "err", err)
		if s.metrics != nil {
			s.metrics.IncDecodeError(decodeErrorReason(err))
		}
		return
	}

	front := s.queue.Front()
	if front == nil {
		s.log.Warn(ErrUnsolicitedReply.Error())
		if s.metrics != nil {
			s.metrics.IncUnsolicitedReply()
		}
		return
	}
	req := front.Value.(pendingRequest)
	s.queue.Remove(front)

	dev := s.registry.Lookup(req.addr)
	switch {
	case dev == nil:
		s.log.Error((&UnknownDeviceError{Addr: req.addr}).Error())
		if s.metrics != nil {
			s.metrics.IncUnknownDevice()
		}
	case len(msg) >= 2 && msg[1] == cmdProbeResponse:
		if !dev.Connected && s.metrics != nil {
			s.metrics.IncLivenessRegained()
		}
		dev.Connected = true
		dev.liveness.arm(s.cfg.LivenessTimeout)
	default:
		if err := dev.Ops.HandleReply(dev, msg); err != nil {
			s.log.Warn("malformed reply", "addr", dev.Addr, "err", err)
			if s.metrics != nil {
				s.metrics.IncMalformedReply()
			}
		} else {
			dev.DataValid = true
		}
		dev.liveness.arm(s.cfg.LivenessTimeout)
	}

	s.replyTO.stop()
	s.gap.arm(s.cfg.InterFrameGap)
	s.sendHead()
}

func (s *Scheduler) onLivenessExpired(dev *Device) {
	dev.Connected = false
	dev.DataValid = false
	s.log.Warn(ErrLivenessExpired.Error(), "addr", dev.Addr)
	if s.metrics != nil {
		s.metrics.IncLivenessLost()
	}
}

func decodeErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrBadHeader):
		return "bad_header"
	case errors.Is(err, ErrBadFooter):
		return "bad_footer"
	case errors.Is(err, ErrBadChecksum):
		return "bad_checksum"
	default:
		return "unknown"
	}
}
