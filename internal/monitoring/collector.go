// Package monitoring watches ingestion health and sends webhook alerts when
// thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobstore/internal/query"
)

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Store metrics.
	LiveTotal int64 `json:"live_total" yaml:"live_total"`
	Recent    int64 `json:"recent" yaml:"recent"` // observed within the lookback window

	// DLQ depth.
	DLQDepth int `json:"dlq_depth" yaml:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours" yaml:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at" yaml:"collected_at"`
}

// StatsReader abstracts the query service methods needed by the collector.
type StatsReader interface {
	Stats(ctx context.Context, window time.Duration) (*query.Stats, error)
}

// DeadLetterCounter reports the dead-letter spool depth.
type DeadLetterCounter interface {
	Count(ctx context.Context) (int, error)
}

// Collector gathers metrics from the store and the dead-letter spool.
type Collector struct {
	stats StatsReader
	dlq   DeadLetterCounter
}

// NewCollector creates a new metrics collector. dlq may be nil.
func NewCollector(stats StatsReader, dlq DeadLetterCounter) *Collector {
	return &Collector{stats: stats, dlq: dlq}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	st, err := c.stats.Stats(ctx, time.Duration(lookbackHours)*time.Hour)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store stats")
	}
	snap.LiveTotal = st.Total
	snap.Recent = st.Recent

	if c.dlq != nil {
		depth, err := c.dlq.Count(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count dlq")
		}
		snap.DLQDepth = depth
	}

	return snap, nil
}
