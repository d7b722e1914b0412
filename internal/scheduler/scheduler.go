// Package scheduler re-runs the walk-forward optimization on a cron schedule.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wfo/internal/api"
	"wfo/internal/config"
	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/runner"
)

// Submitter starts runs; *api.RunService implements it
type Submitter interface {
	Submit(ctx context.Context, req runner.Request) (api.Run, error)
	Get(id string) (api.Run, error)
}

// Stats counts scheduler activity
type Stats struct {
	Triggered int       `json:"triggered"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	LastRunID string    `json:"last_run_id,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

// Scheduler triggers one optimization job on a cron expression with a seconds
// field. A trigger is skipped while the previous scheduled run is running.
type Scheduler struct {
	cron *cron.Cron
	runs Submitter
	log  logger.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	expr    string
	request runner.Request
	stats   Stats
}

// New creates a scheduler
func New(runs Submitter, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithField("component", "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser()),
			cron.WithLogger(cronLogger{log: log}),
			cron.WithChain(cron.Recover(cronLogger{log: log})),
		),
		runs: runs,
		log:  log,
	}
}

// Schedule installs expr, replacing any previous schedule. An empty expr
// removes the schedule.
func (s *Scheduler) Schedule(expr string, req runner.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expr == s.expr && s.entry != 0 {
		s.request = req
		return nil
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	s.expr = expr
	s.request = req
	if expr == "" {
		s.log.Info("Schedule removed")
		return nil
	}

	id, err := s.cron.AddFunc(expr, func() {
		if _, _, err := s.Trigger(context.Background()); err != nil {
			s.log.Warn("Scheduled run failed to start", "error", err)
		}
	})
	if err != nil {
		s.expr = ""
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"invalid cron schedule", expr, err).WithContext("field", "schedule.cron")
	}
	s.entry = id
	s.log.Info("Schedule installed", "cron", expr)
	return nil
}

// Trigger starts the scheduled job now. started is false when the previous
// scheduled run is still in progress.
func (s *Scheduler) Trigger(ctx context.Context) (runID string, started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats.LastRunID != "" {
		if last, err := s.runs.Get(s.stats.LastRunID); err == nil && !last.Finished() {
			s.stats.Skipped++
			s.log.Info("Skipping scheduled run, previous run still active", "run_id", last.ID)
			return last.ID, false, nil
		}
	}

	req := s.request
	req.Trigger = "schedule"
	run, err := s.runs.Submit(ctx, req)
	if err != nil {
		s.stats.Failed++
		return "", false, err
	}
	s.stats.Triggered++
	s.stats.LastRunID = run.ID
	s.stats.LastRun = run.CreatedAt
	return run.ID, true, nil
}

// Stats returns a snapshot of the counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	if s.entry != 0 {
		// cron 启动前 Entry.Next 为零值
		entry := s.cron.Entry(s.entry)
		stats.Next = entry.Next
		if stats.Next.IsZero() && entry.Schedule != nil {
			stats.Next = entry.Schedule.Next(time.Now())
		}
	}
	return stats
}

// Start starts the cron loop in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron loop; the returned context is done once running
// trigger callbacks have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts logger.Logger to cron.Logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
