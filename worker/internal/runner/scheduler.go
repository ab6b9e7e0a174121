package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a job on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	c   *cron.Cron
	job func()

	mu    sync.Mutex
	spec  string
	entry cron.EntryID
}

// NewScheduler returns a stopped Scheduler for job.
func NewScheduler(job func()) *Scheduler {
	log := cronLogger{}
	return &Scheduler{
		c:   cron.New(cron.WithLogger(log), cron.WithChain(cron.SkipIfStillRunning(log))),
		job: job,
	}
}

// Reschedule replaces the current schedule with spec. An unchanged spec is a
// no-op. On error the previous schedule stays in place.
func (s *Scheduler) Reschedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == s.spec && s.entry != 0 {
		return nil
	}
	id, err := s.c.AddFunc(spec, s.job)
	if err != nil {
		return fmt.Errorf("runner: schedule %q: %w", spec, err)
	}
	if s.entry != 0 {
		s.c.Remove(s.entry)
	}
	s.entry, s.spec = id, spec
	slog.Info("runner: schedule set", "schedule", spec)
	return nil
}

// RunNow runs the job once in the background through the same chain as
// scheduled runs, so it is skipped if a run is already in progress.
func (s *Scheduler) RunNow() {
	s.mu.Lock()
	e := s.c.Entry(s.entry)
	s.mu.Unlock()
	if e.WrappedJob != nil {
		go e.WrappedJob.Run()
	}
}

// Start begins running in the background.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the schedule and returns a context that is done once a running
// job has finished.
func (s *Scheduler) Stop() context.Context { return s.c.Stop() }

// cronLogger routes cron's internal logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("runner: cron "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("runner: cron "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
