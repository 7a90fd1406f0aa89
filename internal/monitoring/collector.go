package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	Day      string         `json:"day"`
	Counters map[string]int `json:"counters"`

	// Latest outreach run, nil before the first run.
	LastRun       *model.RunSummary `json:"last_run,omitempty"`
	LastRunErrors int               `json:"last_run_errors"`
	LastRunRate   float64           `json:"last_run_error_rate"`

	Outbox           model.OutboxStats `json:"outbox"`
	OldestPendingAge time.Duration     `json:"oldest_pending_age"`
	// Leases whose holder stopped without releasing them.
	StaleLeases []model.Lease `json:"stale_leases,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Store is the read access the collector needs.
type Store interface {
	GetCounters(ctx context.Context, day string) (map[string]int, error)
	ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error)
	OutboxStats(ctx context.Context) (model.OutboxStats, error)
	ListLeases(ctx context.Context) ([]model.Lease, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers today's counters, the latest run summary, the outbox
// backlog and any lapsed leases.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{Day: model.DayKey(now), CollectedAt: now}

	counters, err := c.store.GetCounters(ctx, snap.Day)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: get counters")
	}
	snap.Counters = counters

	runs, err := c.store.ListRunSummaries(ctx, 1)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	if len(runs) > 0 {
		run := runs[0]
		snap.LastRun = &run
		snap.LastRunErrors = len(run.Errors)
		if attempted := run.Sent + len(run.Errors); attempted > 0 {
			snap.LastRunRate = float64(len(run.Errors)) / float64(attempted)
		}
	}

	outbox, err := c.store.OutboxStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: outbox stats")
	}
	snap.Outbox = outbox
	if outbox.OldestPending != nil {
		snap.OldestPendingAge = now.Sub(*outbox.OldestPending)
	}

	leases, err := c.store.ListLeases(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list leases")
	}
	for _, l := range leases {
		if l.Expired(now) {
			snap.StaleLeases = append(snap.StaleLeases, l)
		}
	}
	return snap, nil
}
