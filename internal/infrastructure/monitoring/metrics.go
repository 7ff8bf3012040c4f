// Package monitoring exposes Prometheus metrics for channel traffic.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so instrumentation stays optional at call sites.
type Metrics struct {
	WritesTotal   prometheus.Counter
	ReadsTotal    prometheus.Counter
	ReleasesTotal prometheus.Counter
	WriteErrors   *prometheus.CounterVec

	WriteBlockSeconds prometheus.Histogram
	ReadBlockSeconds  prometheus.Histogram

	ChannelsActive     prometheus.Gauge
	SlotBytesAllocated prometheus.Gauge
}

// New creates a metrics collector on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a metrics collector on the given registry. Tests use
// a private registry to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoff_writes_total",
			Help: "Total values published into channel slots",
		}),
		ReadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoff_reads_total",
			Help: "Total values delivered to readers",
		}),
		ReleasesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoff_releases_total",
			Help: "Total read-release signals",
		}),
		WriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_write_errors_total",
			Help: "Write failures by reason",
		}, []string{"reason"}),
		WriteBlockSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_write_block_seconds",
			Help:    "Time writes spent blocked on slot release",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		ReadBlockSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_read_block_seconds",
			Help:    "Time reads spent blocked on value arrival",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_channels_active",
			Help: "Channels currently constructed in this process",
		}),
		SlotBytesAllocated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_slot_bytes_allocated",
			Help: "Slot capacity bytes allocated by this process",
		}),
	}
}

// ObserveWrite records a completed write and how long it blocked.
func (m *Metrics) ObserveWrite(blocked time.Duration) {
	if m == nil {
		return
	}
	m.WritesTotal.Inc()
	m.WriteBlockSeconds.Observe(blocked.Seconds())
}

// ObserveRead records a delivered value and how long the read blocked.
func (m *Metrics) ObserveRead(blocked time.Duration) {
	if m == nil {
		return
	}
	m.ReadsTotal.Inc()
	m.ReadBlockSeconds.Observe(blocked.Seconds())
}

// ObserveRelease records a read-release signal.
func (m *Metrics) ObserveRelease() {
	if m == nil {
		return
	}
	m.ReleasesTotal.Inc()
}

// WriteError records a failed write by reason.
func (m *Metrics) WriteError(reason string) {
	if m == nil {
		return
	}
	m.WriteErrors.WithLabelValues(reason).Inc()
}

// ChannelOpened tracks a newly constructed channel and its slot bytes.
func (m *Metrics) ChannelOpened(capacityBytes int64) {
	if m == nil {
		return
	}
	m.ChannelsActive.Inc()
	m.SlotBytesAllocated.Add(float64(capacityBytes))
}
