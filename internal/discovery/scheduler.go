package discovery

import (
	"context"
	"log/slog"
	"time"
)

// Refresher runs one discovery cycle. *Coordinator implements it.
type Refresher interface {
	Refresh(ctx context.Context) *Snapshot
}

// Scheduler drives a Refresher on a fixed interval.
type Scheduler struct {
	r        Refresher
	interval time.Duration
	log      *slog.Logger
}

// NewScheduler returns a Scheduler that refreshes every interval.
func NewScheduler(r Refresher, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{r: r, interval: interval, log: log}
}

// Run refreshes once immediately, then on every tick until ctx is done.
// Ticks that fire while a cycle is still running are dropped by the ticker.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("discovery scheduler started", slog.Duration("interval", s.interval))
	s.r.Refresh(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("discovery scheduler stopped")
			return ctx.Err()
		case <-t.C:
			s.r.Refresh(ctx)
		}
	}
}
