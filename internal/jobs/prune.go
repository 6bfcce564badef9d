package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner periodically reaps terminal job records older than Retention
// from a Store, keeping a long-lived registry's backing store bounded.
type Pruner struct {
	store     Store
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	metrics   *Metrics
}

// NewPruner schedules a prune of store every spec (standard 5-field cron,
// e.g. "0 * * * *" for hourly) removing records older than retention.
func NewPruner(store Store, spec string, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pruner{
		store:     store,
		retention: retention,
		logger:    logger.With("component", "jobs.pruner"),
		cron:      cron.New(),
		metrics:   NewMetrics(),
	}
	if _, err := p.cron.AddFunc(spec, p.runOnce); err != nil {
		return nil, err
	}
	return p, nil
}

// Start begins the schedule in the background.
func (p *Pruner) Start() { p.cron.Start() }

// Stop halts the schedule, waiting for any in-flight prune to finish.
func (p *Pruner) Stop() { <-p.cron.Stop().Done() }

func (p *Pruner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := p.store.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Error("jobs: prune failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("jobs: pruned terminal records", "count", n, "retention", p.retention)
	}
	for i := int64(0); i < n; i++ {
		p.metrics.PrunedTotal.Inc()
	}
}
