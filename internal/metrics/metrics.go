// Package metrics provides Prometheus instrumentation for the geotag API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks geotag lifecycle counts and query latency.
// Construct exactly once per process: promauto registers on the default
// registry and a second New panics on duplicate registration.
type Metrics struct {
	TagsCreated      prometheus.Counter
	TagsUpdated      prometheus.Counter
	TagsDeleted      prometheus.Counter
	PositionsDeleted prometheus.Counter
	WriteConflicts   prometheus.Counter
	QueryDuration    prometheus.Histogram
}

// New creates a Metrics instance with all geotag metrics registered.
func New() *Metrics {
	return &Metrics{
		TagsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geotag_tags_created_total",
			Help: "Total number of geotags created",
		}),
		TagsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geotag_tags_updated_total",
			Help: "Total number of geotag current-position updates",
		}),
		TagsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geotag_tags_deleted_total",
			Help: "Total number of geotags deleted",
		}),
		PositionsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geotag_positions_deleted_total",
			Help: "Total number of single positions deleted",
		}),
		WriteConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geotag_write_conflicts_total",
			Help: "Total number of optimistic writes lost to a concurrent update",
		}),
		QueryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "geotag_query_duration_seconds",
			Help:    "Duration of geotag list/nearby/within queries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveQuery records the duration of a query operation.
// Call with time.Now() captured at the start of the operation.
func (m *Metrics) ObserveQuery(start time.Time) {
	m.QueryDuration.Observe(time.Since(start).Seconds())
}
