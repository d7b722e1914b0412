package optimizer

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	apperrors "wfo/internal/errors"
	"wfo/internal/strategy/backtest"
)

// TrialOutcome is the result of one evaluated parameter set
type TrialOutcome struct {
	Params  ParameterSet
	Fitness float64
	Results *backtest.Results
}

// batchFailure keeps the first error of a batch
type batchFailure struct {
	mu     sync.Mutex
	err    error
	index  int
	failed int
}

func (f *batchFailure) record(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
	if f.err == nil {
		f.err = err
		f.index = index
	}
}

func (f *batchFailure) result() error {
	if f.err == nil {
		return nil
	}
	return apperrors.NewAppError(apperrors.ErrCodeTrialFailed, "trial failed", f.err).
		WithContext("failed_trials", f.failed).
		WithContext("trial_index", f.index)
}

// workerCount returns the pool size for n trials
func workerCount(parallelism, n int) int {
	workers := parallelism
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	return workers
}

// evaluate runs every trial on a fixed worker pool. Workers claim indices
// from a shared counter and write only their own slot, so outcomes keep
// the input order. Failures do not stop sibling trials; the first one is
// returned after all workers finish.
func (o *Optimizer) evaluate(ctx context.Context, env *trialEnv, fitness *FitnessEvaluator, trials []trial) ([]TrialOutcome, error) {
	outcomes := make([]TrialOutcome, len(trials))
	if len(trials) == 0 {
		return outcomes, nil
	}

	var (
		next    atomic.Int64
		failure batchFailure
		wg      conc.WaitGroup
	)
	for w := workerCount(o.cfg.Parallelism, len(trials)); w > 0; w-- {
		wg.Go(func() {
			for {
				i := int(next.Add(1) - 1)
				if i >= len(trials) {
					return
				}
				results, err := runCaught(ctx, env, trials[i])
				if err != nil {
					failure.record(i, err)
					continue
				}
				outcomes[i] = TrialOutcome{
					Params:  trials[i].params,
					Fitness: fitness.Evaluate(results),
					Results: results,
				}
			}
		})
	}
	wg.Wait()

	if err := failure.result(); err != nil {
		return nil, err
	}
	for _, outcome := range outcomes {
		o.notifyTrial(outcome)
	}
	return outcomes, nil
}

// runCaught runs one trial and converts a panic in strategy code into an error
func runCaught(ctx context.Context, env *trialEnv, t trial) (results *backtest.Results, err error) {
	var catcher panics.Catcher
	catcher.Try(func() {
		results, err = env.runTrial(ctx, t)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeStrategyExecution, "trial panicked", recovered.AsError()).
			WithContext("params", t.params.Key())
	}
	return results, err
}

// bestOutcome returns the index of the best fitness; ties keep the lowest index
func bestOutcome(outcomes []TrialOutcome, maximize bool) int {
	best := -1
	for i, outcome := range outcomes {
		if best < 0 || better(outcome.Fitness, outcomes[best].Fitness, maximize) {
			best = i
		}
	}
	return best
}

func better(candidate, current float64, maximize bool) bool {
	if maximize {
		return candidate > current
	}
	return candidate < current
}
