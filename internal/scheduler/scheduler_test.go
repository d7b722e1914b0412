package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfo/internal/api"
	"wfo/internal/errors"
	"wfo/internal/runner"
	"wfo/internal/testutils"
)

type fakeRuns struct {
	mu       sync.Mutex
	runs     map[string]api.Run
	requests []runner.Request
	finish   bool
	fail     error
}

func newFakeRuns(finish bool) *fakeRuns {
	return &fakeRuns{runs: make(map[string]api.Run), finish: finish}
}

func (f *fakeRuns) Submit(_ context.Context, req runner.Request) (api.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return api.Run{}, f.fail
	}
	f.requests = append(f.requests, req)
	run := api.Run{
		ID:        fmt.Sprintf("run-%d", len(f.requests)),
		Strategy:  req.Strategy,
		Trigger:   req.Trigger,
		Status:    api.StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if f.finish {
		run.Status = api.StatusCompleted
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeRuns) Get(id string) (api.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return api.Run{}, errors.NewAppError(errors.ErrCodeNotFound, "run not found", nil)
	}
	return run, nil
}

func (f *fakeRuns) complete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[id]
	run.Status = api.StatusCompleted
	f.runs[id] = run
}

func (f *fakeRuns) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestTriggerSkipsWhilePreviousRunActive(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	runs := newFakeRuns(false)
	s := New(runs, suite.Logger)
	require.NoError(t, s.Schedule("", runner.Request{Strategy: "ma_cross", Trigger: "api"}))

	id, started, err := s.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, "run-1", id)
	assert.Equal(t, "schedule", runs.requests[0].Trigger)
	assert.Equal(t, "ma_cross", runs.requests[0].Strategy)

	id, started, err = s.Trigger(context.Background())
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, "run-1", id)

	runs.complete("run-1")
	id, started, err = s.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, "run-2", id)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Triggered)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, "run-2", stats.LastRunID)
	assert.True(t, stats.Next.IsZero())
}

func TestTriggerSubmitError(t *testing.T) {
	runs := newFakeRuns(true)
	runs.fail = errors.NewAppError(errors.ErrCodeStrategyNotFound, "strategy not found", nil)
	s := New(runs, testutils.NewTestSuite(t, nil).Logger)

	_, started, err := s.Trigger(context.Background())
	assert.False(t, started)
	assert.Equal(t, errors.ErrCodeStrategyNotFound, errors.CodeOf(err))
	assert.Equal(t, 1, s.Stats().Failed)
}

func TestScheduleRejectsInvalidSpec(t *testing.T) {
	s := New(newFakeRuns(true), nil)

	err := s.Schedule("every tuesday", runner.Request{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidConfig, errors.CodeOf(err))

	require.NoError(t, s.Schedule("0 30 2 * * *", runner.Request{}))
	assert.False(t, s.Stats().Next.IsZero())

	require.NoError(t, s.Schedule("", runner.Request{}))
	assert.True(t, s.Stats().Next.IsZero())
}

func TestSchedulerRunsOnSchedule(t *testing.T) {
	runs := newFakeRuns(true)
	s := New(runs, testutils.NewTestSuite(t, nil).Logger)
	require.NoError(t, s.Schedule("@every 1s", runner.Request{Strategy: "qty"}))

	s.Start()
	defer func() { <-s.Stop().Done() }()

	testutils.WaitForCondition(t, func() bool { return runs.count() >= 2 }, 5*time.Second, "two scheduled runs")
	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.Triggered, 2)
	assert.Zero(t, stats.Skipped)
	assert.False(t, stats.LastRun.IsZero())
}
