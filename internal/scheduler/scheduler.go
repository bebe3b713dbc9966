// Package scheduler runs Paradiso's periodic housekeeping on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultSweepSchedule is how often idle conversations are swept.
	DefaultSweepSchedule = "@every 1m"
	// DefaultSweepTimeout bounds one sweep, including the notices it sends.
	DefaultSweepTimeout = 30 * time.Second
)

// Sweeper removes idle state and reports how many entries it dropped.
type Sweeper interface {
	ExpireIdle(ctx context.Context) int
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron

	mu    sync.Mutex
	names map[cron.EntryID]string
}

// NewScheduler creates and starts a cron scheduler. Expressions use the
// standard 5-field layout or descriptors such as "@every 1m". A run that
// overlaps the previous run of the same job is skipped.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c, names: make(map[cron.EntryID]string)}
}

// AddJob schedules task under name. It returns an error if the expression
// is invalid.
func (s *Scheduler) AddJob(expr, name string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		slog.Error("Scheduler.AddJob: invalid schedule", "name", name, "expr", expr, "error", err)
		return err
	}
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
	slog.Debug("Scheduler.AddJob: scheduled", "name", name, "expr", expr, "entry_id", id)
	return nil
}

// AddSweep schedules sw.ExpireIdle, each run bounded by timeout.
func (s *Scheduler) AddSweep(expr, name string, sw Sweeper, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultSweepTimeout
	}
	return s.AddJob(expr, name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if n := sw.ExpireIdle(ctx); n > 0 {
			slog.Info("Scheduler.sweep: expired idle entries", "name", name, "count", n)
		}
	})
}

// Job describes one scheduled entry.
type Job struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Jobs lists the scheduled entries in cron order.
func (s *Scheduler) Jobs() []Job {
	entries := s.cron.Entries()
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, Job{Name: s.names[e.ID], Next: e.Next, Prev: e.Prev})
	}
	return jobs
}

// Stop stops the scheduler and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
