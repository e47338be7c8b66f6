// Package obs wires the bulk loader's Prometheus metrics.
package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the loader's counters and histogram. The orchestrator
// adds to NodesIngested and RelsIngested as labels finish and observes
// PassDuration once per run; PagesFlushed and OverflowBytes are
// registered but nothing adds to them.
type Metrics struct {
	NodesIngested   prometheus.Counter
	RelsIngested    prometheus.Counter
	PagesFlushed    prometheus.Counter
	OverflowBytes   prometheus.Counter
	PassDuration    prometheus.Histogram
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide metrics instance, registered
// against the default Prometheus registry on first call. Every caller
// within a process shares the same collectors: promauto panics on a
// second registration of the same metric name, and an Orchestrator may
// legitimately be constructed more than once per process (e.g. in
// tests), so registration itself is one-time while the returned handle
// is shared.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		NodesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "graphload_nodes_ingested_total",
			Help: "Total node records written across all labels",
		}),
		RelsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "graphload_rels_ingested_total",
			Help: "Total relationship records written across all labels",
		}),
		PagesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "graphload_pages_flushed_total",
			Help: "Total 4 KiB pages written to the output directory",
		}),
		OverflowBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "graphload_overflow_bytes_total",
			Help: "Total bytes written into variable-length overflow files",
		}),
		PassDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "graphload_pass_duration_seconds",
			Help: "Wall-clock duration of a whole load run",
		}),
	}
}
