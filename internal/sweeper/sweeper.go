// Package sweeper runs the periodic eviction of stale conversation memory
// and inactive sessions.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/refaxbot/refaxbot/internal/metrics"
)

// SweepFunc removes entries older than maxAge and reports how many it removed.
type SweepFunc func(ctx context.Context, maxAge time.Duration) (int, error)

// Job is one independent periodic sweep.
type Job struct {
	Name     string
	Interval time.Duration
	MaxAge   time.Duration
	Sweep    SweepFunc
}

// Sweeper runs each job on its own ticker.
type Sweeper struct {
	jobs []Job
}

// New creates a Sweeper. Jobs with a non-positive interval are skipped.
func New(jobs ...Job) *Sweeper {
	s := &Sweeper{}
	for _, j := range jobs {
		if j.Interval <= 0 || j.Sweep == nil {
			slog.Warn("sweeper: job disabled", "sweep", j.Name)
			continue
		}
		s.jobs = append(s.jobs, j)
	}
	return s
}

// Start blocks running every job until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	slog.Info("sweeper started", "jobs", len(s.jobs))

	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, j)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Sweeper) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx, j)
		}
	}
}

// RunOnce runs every job a single time, in order.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int {
	out := make(map[string]int, len(s.jobs))
	for _, j := range s.jobs {
		out[j.Name] = run(ctx, j)
	}
	return out
}

func run(ctx context.Context, j Job) int {
	removed, err := j.Sweep(ctx, j.MaxAge)
	if err != nil {
		slog.Error("sweeper: sweep failed", "sweep", j.Name, "error", err)
		return 0
	}
	if removed > 0 {
		metrics.SweepRemovedTotal.WithLabelValues(j.Name).Add(float64(removed))
		slog.Debug("sweeper: sweep done", "sweep", j.Name, "removed", removed)
	}
	return removed
}
