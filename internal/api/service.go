package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/runner"
	"wfo/internal/strategy/optimizer"
)

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Run is a snapshot of one optimization run
type Run struct {
	ID               string              `json:"id"`
	Strategy         string              `json:"strategy"`
	Trigger          string              `json:"trigger"`
	Status           RunStatus           `json:"status"`
	Request          runner.Request      `json:"request"`
	WindowsCompleted int                 `json:"windows_completed"`
	CreatedAt        time.Time           `json:"created_at"`
	FinishedAt       *time.Time          `json:"finished_at,omitempty"`
	Error            *apperrors.AppError `json:"error,omitempty"`
	Report           *optimizer.Report   `json:"report,omitempty"`
}

// Finished reports whether the run reached a terminal state
func (r Run) Finished() bool {
	return r.Status != StatusRunning
}

// Preparer builds optimization jobs; *runner.Builder implements it
type Preparer interface {
	Prepare(ctx context.Context, req runner.Request) (*runner.Job, error)
}

// RunGauge tracks runs in flight; *monitoring.Metrics implements it
type RunGauge interface {
	RunStarted()
	RunFinished()
}

type runState struct {
	Run
	job    *runner.Job
	cancel context.CancelFunc
	subs   map[chan StreamEvent]struct{}
}

// RunService starts optimization runs in the background and keeps the
// most recent ones in memory.
type RunService struct {
	preparer Preparer
	gauge    RunGauge
	log      logger.Logger
	maxRuns  int

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu    sync.RWMutex
	runs  map[string]*runState
	order []string // 按创建时间排列
}

// NewRunService creates a run service. maxRuns bounds the finished runs kept.
func NewRunService(preparer Preparer, log logger.Logger, maxRuns int, gauge RunGauge) *RunService {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if maxRuns <= 0 {
		maxRuns = 100
	}
	ctx, stop := context.WithCancel(context.Background())
	return &RunService{
		preparer: preparer,
		gauge:    gauge,
		log:      log.WithField("component", "run_service"),
		maxRuns:  maxRuns,
		ctx:      ctx,
		stop:     stop,
		runs:     make(map[string]*runState),
	}
}

// Submit prepares req synchronously and runs it in the background.
// Preparation errors are returned without registering a run.
func (s *RunService) Submit(ctx context.Context, req runner.Request) (Run, error) {
	if s.ctx.Err() != nil {
		return Run{}, apperrors.NewAppError(apperrors.ErrCodeCancelled, "run service is shut down", nil)
	}
	job, err := s.preparer.Prepare(ctx, req)
	if err != nil {
		return Run{}, err
	}
	if req.Trigger == "" {
		req.Trigger = "api"
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	state := &runState{
		Run: Run{
			ID:        uuid.NewString(),
			Strategy:  job.Strategy,
			Trigger:   req.Trigger,
			Status:    StatusRunning,
			Request:   req,
			CreatedAt: time.Now().UTC(),
		},
		job:    job,
		cancel: cancel,
	}
	runCtx = logger.ContextWithRunID(runCtx, state.ID)

	job.Optimizer.OnWindowComplete(func(w optimizer.WindowResult) {
		s.mu.Lock()
		state.WindowsCompleted++
		state.publishLocked(StreamEvent{
			Type:   EventWindow,
			RunID:  state.ID,
			Window: &w,
			Time:   time.Now().UTC(),
		})
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.runs[state.ID] = state
	s.order = append(s.order, state.ID)
	s.pruneLocked()
	snapshot := state.Run
	s.mu.Unlock()

	if s.gauge != nil {
		s.gauge.RunStarted()
	}
	s.log.Info("Run submitted", "run_id", state.ID, "strategy", job.Strategy, "trigger", req.Trigger)

	s.wg.Add(1)
	go s.execute(runCtx, state)
	return snapshot, nil
}

func (s *RunService) execute(ctx context.Context, state *runState) {
	defer s.wg.Done()
	defer state.cancel()
	if s.gauge != nil {
		defer s.gauge.RunFinished()
	}

	var (
		report *optimizer.Report
		err    error
	)
	var pc panics.Catcher
	pc.Try(func() {
		report, err = state.job.Report(ctx)
	})
	if r := pc.Recovered(); r != nil {
		err = apperrors.NewAppError(apperrors.ErrCodeOptimizationFailed, "run panicked", r.AsError())
	}

	finished := time.Now().UTC()
	s.mu.Lock()
	state.FinishedAt = &finished
	state.Report = report
	switch {
	case err != nil:
		state.Status = StatusFailed
		state.Error = apperrors.WrapError(err, apperrors.ErrCodeOptimizationFailed, "optimization failed")
	case report.Cancelled:
		state.Status = StatusCancelled
	default:
		state.Status = StatusCompleted
	}
	status := state.Status
	state.publishLocked(finishedEvent(state.Run))
	state.closeSubsLocked()
	s.mu.Unlock()

	log := s.log.WithContext(ctx)
	if err != nil {
		log.Error("Run failed", "error", err)
		return
	}
	log.Info("Run finished", "status", status, "windows", len(report.Windows),
		"potential_overfit", report.PotentialOverfit)
}

// pruneLocked drops the oldest finished runs beyond maxRuns
func (s *RunService) pruneLocked() {
	excess := len(s.order) - s.maxRuns
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && s.runs[id].Finished() {
			delete(s.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Get returns a snapshot of the run
func (s *RunService) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.runs[id]
	if !ok {
		return Run{}, notFound(id)
	}
	return state.Run, nil
}

// List returns snapshots of all kept runs, newest first, without reports
func (s *RunService) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.order))
	for _, id := range s.order {
		r := s.runs[id].Run
		r.Report = nil
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel stops a running run. Cancelling a finished run is a CONFLICT.
func (s *RunService) Cancel(id string) (Run, error) {
	s.mu.RLock()
	state, ok := s.runs[id]
	var snapshot Run
	if ok {
		snapshot = state.Run
	}
	s.mu.RUnlock()

	if !ok {
		return Run{}, notFound(id)
	}
	if snapshot.Finished() {
		return snapshot, apperrors.NewAppError(apperrors.ErrCodeConflict, "run already finished", nil).
			WithContext("run_id", id).WithContext("status", string(snapshot.Status))
	}
	state.job.Optimizer.Cancel()
	state.cancel()
	s.log.Info("Run cancel requested", "run_id", id)
	return snapshot, nil
}

// Subscribe streams the events of run id. The channel is closed after the
// finished event; a finished run yields only that event. unsubscribe may
// be called more than once.
func (s *RunService) Subscribe(id string) (events <-chan StreamEvent, unsubscribe func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.runs[id]
	if !ok {
		return nil, nil, notFound(id)
	}

	ch := make(chan StreamEvent, streamBuffer)
	if state.Finished() {
		ch <- finishedEvent(state.Run)
		close(ch)
		return ch, func() {}, nil
	}
	if state.subs == nil {
		state.subs = make(map[chan StreamEvent]struct{})
	}
	state.subs[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := state.subs[ch]; ok {
			delete(state.subs, ch)
			close(ch)
		}
	}, nil
}

// Subscribers returns the number of open streams on run id
func (s *RunService) Subscribers(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.runs[id]; ok {
		return len(state.subs)
	}
	return 0
}

// publishLocked fans ev out without blocking; a subscriber whose buffer is
// full is dropped.
func (r *runState) publishLocked(ev StreamEvent) {
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
			delete(r.subs, ch)
			close(ch)
		}
	}
}

func (r *runState) closeSubsLocked() {
	for ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

// Active returns the number of runs in progress
func (s *RunService) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, state := range s.runs {
		if !state.Finished() {
			n++
		}
	}
	return n
}

// Wait blocks until every submitted run has finished
func (s *RunService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all runs and waits for them until ctx is done
func (s *RunService) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return apperrors.NewAppError(apperrors.ErrCodeTimeout, "timed out waiting for runs", ctx.Err())
	}
}

func notFound(id string) error {
	return apperrors.NewAppError(apperrors.ErrCodeNotFound, "run not found", nil).WithContext("run_id", id)
}
