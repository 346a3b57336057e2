// Package metrics instruments the Aqualink bus itself — frames,
// framing errors, timeouts, and liveness transitions — not the
// per-device property store. It deliberately does not expose a way to
// read or write a device property: that remains the IPC/RPC surface
// spec.md §1 puts out of scope.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Bus is a prometheus.Collector counting scheduler-level events. It is
// modeled on the Describe/Collect shape of
// runZeroInc-sockstats/pkg/exporter.TCPInfoCollector, trading that
// collector's per-connection gauge set for a handful of monotonic
// counters appropriate to a single serial link.
type Bus struct {
	framesSent        prometheus.Counter
	framesReceived    prometheus.Counter
	decodeErrors      *prometheus.CounterVec
	unsolicitedReply  prometheus.Counter
	malformedReplies  prometheus.Counter
	unknownDevices    prometheus.Counter
	replyTimeouts     prometheus.Counter
	livenessLost      prometheus.Counter
	livenessRegained  prometheus.Counter
}

// NewBus constructs a Bus collector. constLabels is attached to every
// metric (e.g. {"tty": "/dev/ttyS0"}).
func NewBus(constLabels prometheus.Labels) *Bus {
	return &Bus{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "frames_sent_total",
			Help:        "Frames written to the bus.",
			ConstLabels: constLabels,
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "frames_received_total",
			Help:        "Complete frames read from the bus, decoded or not.",
			ConstLabels: constLabels,
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "decode_errors_total",
			Help:        "Frames that failed to decode, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		unsolicitedReply: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "unsolicited_replies_total",
			Help:        "Frames that decoded fine but had no pending request.",
			ConstLabels: constLabels,
		}),
		malformedReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "malformed_replies_total",
			Help:        "Replies a device's HandleReply rejected.",
			ConstLabels: constLabels,
		}),
		unknownDevices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "unknown_device_total",
			Help:        "Replies matched to a request address absent from the registry.",
			ConstLabels: constLabels,
		}),
		replyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "reply_timeouts_total",
			Help:        "Pending requests dropped after 200ms with no reply.",
			ConstLabels: constLabels,
		}),
		livenessLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "liveness_lost_total",
			Help:        "Devices that transitioned from connected to disconnected.",
			ConstLabels: constLabels,
		}),
		livenessRegained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aqualink",
			Name:        "liveness_regained_total",
			Help:        "Devices that transitioned from disconnected to connected.",
			ConstLabels: constLabels,
		}),
	}
}

// Describe implements prometheus.Collector.
func (b *Bus) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range b.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (b *Bus) Collect(ch chan<- prometheus.Metric) {
	for _, c := range b.collectors() {
		c.Collect(ch)
	}
}

func (b *Bus) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		b.framesSent, b.framesReceived, b.decodeErrors,
		b.unsolicitedReply, b.malformedReplies, b.unknownDevices,
		b.replyTimeouts, b.livenessLost, b.livenessRegained,
	}
}

func (b *Bus) IncFramesSent()       { b.framesSent.Inc() }
func (b *Bus) IncFramesReceived()   { b.framesReceived.Inc() }
func (b *Bus) IncDecodeError(reason string) {
	b.decodeErrors.WithLabelValues(reason).Inc()
}
func (b *Bus) IncUnsolicitedReply() { b.unsolicitedReply.Inc() }
func (b *Bus) IncMalformedReply()   { b.malformedReplies.Inc() }
func (b *Bus) IncUnknownDevice()    { b.unknownDevices.Inc() }
func (b *Bus) IncReplyTimeout()     { b.replyTimeouts.Inc() }
func (b *Bus) IncLivenessLost()     { b.livenessLost.Inc() }
func (b *Bus) IncLivenessRegained() { b.livenessRegained.Inc() }
