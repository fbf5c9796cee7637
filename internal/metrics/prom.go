// Package metrics exposes Prometheus instrumentation for the bridge and the
// optional diagnostics HTTP server.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Directions for the forwarded-message counter.
const (
	DirectionInbound  = "inbound"  // remote -> stdout
	DirectionOutbound = "outbound" // stdin -> remote
)

// Drop reasons for the dropped-message counter.
const (
	ReasonBadLocalLine = "bad_local_line"
	ReasonBadSSEData   = "bad_sse_data"
	ReasonUnknownEvent = "unknown_event"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "mcpremote_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "bridge"},
		},
		[]string{"date", "sha", "version"},
	)

	forwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpremote_messages_forwarded_total",
			Help: "Messages forwarded per direction",
		},
		[]string{"direction"},
	)

	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpremote_messages_dropped_total",
			Help: "Messages dropped per reason",
		},
		[]string{"reason"},
	)

	postSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpremote_post_seconds_total",
			Help: "Total time spent in outbound POSTs",
		},
	)

	queued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpremote_outbound_queued",
			Help: "Outbound messages buffered while the endpoint is unknown",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, forwarded, dropped, postSeconds, queued)
}

var defaultOnce sync.Once

// RegisterDefault registers the bridge metrics with the default registerer.
// Safe to call more than once.
func RegisterDefault() {
	defaultOnce.Do(func() { Register(prometheus.DefaultRegisterer) })
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordForwarded increments the forwarded counter for a direction.
func RecordForwarded(direction string) {
	forwarded.WithLabelValues(direction).Inc()
}

// RecordDropped increments the dropped counter for a reason.
func RecordDropped(reason string) {
	dropped.WithLabelValues(reason).Inc()
}

// RecordPostDuration accumulates time spent in an outbound POST.
func RecordPostDuration(d time.Duration) {
	postSeconds.Add(d.Seconds())
}

// SetQueueDepth reports the current pre-endpoint buffer depth.
func SetQueueDepth(n int) {
	queued.Set(float64(n))
}
