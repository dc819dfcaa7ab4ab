package progress

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the aggregate progress snapshot as Prometheus gauges for
// the local control API's /metrics endpoint (SPEC_FULL.md's Control API
// expansion).
type Metrics struct {
	filesTotal       *prometheus.GaugeVec
	bytesWritten     prometheus.Gauge
	estimatedSeconds prometheus.Gauge
}

// NewMetrics registers a fresh set of gauges with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		filesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "imageintact",
			Name:      "files_total",
			Help:      "Manifest entries by outcome across all destinations.",
		}, []string{"outcome"}),
		bytesWritten: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imageintact",
			Name:      "bytes_written_total",
			Help:      "Bytes written across all destinations in the current session.",
		}),
		estimatedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imageintact",
			Name:      "estimated_seconds_remaining",
			Help:      "Estimated seconds remaining for the current session, -1 if unknown.",
		}),
	}

	reg.MustRegister(m.filesTotal, m.bytesWritten, m.estimatedSeconds)

	return m
}

// Observe updates the gauges from an Aggregate snapshot.
func (m *Metrics) Observe(agg Aggregate) {
	m.filesTotal.WithLabelValues("copied").Set(float64(agg.CopiedFiles))
	m.filesTotal.WithLabelValues("skipped").Set(float64(agg.SkippedFiles))
	m.filesTotal.WithLabelValues("verified").Set(float64(agg.VerifiedFiles))
	m.filesTotal.WithLabelValues("failed").Set(float64(agg.FailedFiles))
	m.filesTotal.WithLabelValues("quarantined").Set(float64(agg.QuarantinedFiles))

	m.bytesWritten.Set(float64(agg.BytesWritten))
	m.estimatedSeconds.Set(agg.EstimatedSecondsRemaining)
}
