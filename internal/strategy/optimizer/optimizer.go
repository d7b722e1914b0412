package optimizer

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/market"
	"wfo/internal/regime"
	"wfo/internal/strategy/backtest"
)

var (
	ErrNoDataSource      = apperrors.NewAppError(apperrors.ErrCodeMissingDependency, "data source is required", nil)
	ErrNoStrategyFactory = apperrors.NewAppError(apperrors.ErrCodeMissingDependency, "strategy factory is required", nil)
	ErrNilStrategy       = apperrors.NewAppError(apperrors.ErrCodeStrategyInvalid, "strategy factory returned no strategy", nil)
)

// WindowResult is the outcome of one in-sample search and its out-of-sample check
type WindowResult struct {
	Index              int                     `json:"index"`
	InSample           market.TimeRange        `json:"in_sample"`
	OutOfSample        market.TimeRange        `json:"out_of_sample"`
	OptimalParams      ParameterSet            `json:"optimal_params"`
	ISFitness          float64                 `json:"is_fitness"`
	ISResults          *backtest.Results       `json:"is_results,omitempty"`
	OOSFitness         float64                 `json:"oos_fitness"`
	OOSResults         *backtest.Results       `json:"oos_results,omitempty"`
	RegimeDistribution map[regime.Type]float64 `json:"regime_distribution,omitempty"` // 样本内各状态时间占比
	EfficiencyRatio    float64                 `json:"efficiency_ratio"`
	Trials             int                     `json:"trials"`
}

// Results aggregates every window of one optimize call
type Results struct {
	Windows     []WindowResult    `json:"windows"`
	StitchedOOS *backtest.Results `json:"stitched_oos"`

	ParamEvolution map[string][]float64 `json:"param_evolution"`
	ParamStability map[string]float64   `json:"param_stability"`

	AvgISFitness       float64 `json:"avg_is_fitness"`
	AvgOOSFitness      float64 `json:"avg_oos_fitness"`
	StitchedOOSFitness float64 `json:"stitched_oos_fitness"`

	AvgEfficiencyRatio float64 `json:"avg_efficiency_ratio"`
	PotentialOverfit   bool    `json:"potential_overfit"`
	OverfitDiagnosis   string  `json:"overfit_diagnosis,omitempty"`

	OOSFitnessByRegime map[regime.Type]float64 `json:"oos_fitness_by_regime"`
	RegimeConsistency  float64                 `json:"regime_consistency"`

	Cancelled bool `json:"cancelled"`
}

// MetricsRecorder receives optimizer measurements
type MetricsRecorder interface {
	ObserveTrial(fitness float64)
	ObserveWindow(window *WindowResult, duration time.Duration)
	ObserveRun(results *Results, duration time.Duration, err error)
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the logger used for run events
func WithLogger(log logger.Logger) Option {
	return func(o *Optimizer) {
		if log != nil {
			o.log = log
		}
	}
}

// WithTrialCache reuses results of trials that run without a regime
// detector. namespace separates strategies and data sets sharing a cache.
func WithTrialCache(cache TrialCache, namespace string, ttl time.Duration) Option {
	return func(o *Optimizer) {
		o.cache = cache
		o.cacheNamespace = namespace
		o.cacheTTL = ttl
	}
}

// WithMetrics reports trials, windows and runs to m
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Optimizer) {
		o.metrics = m
	}
}

// Optimizer runs walk-forward optimization. Callbacks may be registered at
// any time; each Optimize call uses the callbacks registered when it starts.
type Optimizer struct {
	cfg Config
	log logger.Logger

	cache          TrialCache
	cacheNamespace string
	cacheTTL       time.Duration
	metrics        MetricsRecorder

	cancelled atomic.Bool

	mu               sync.RWMutex
	windowCallbacks  []func(WindowResult)
	trialCallbacks   []func(ParameterSet, float64)
	trainHooks       []RegimeTrainHook
	trainedCallbacks []RegimeTrainedCallback
}

// New creates an optimizer after validating cfg
func New(cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{
		cfg: cfg,
		log: logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the optimizer configuration
func (o *Optimizer) Config() Config {
	return o.cfg
}

// OnWindowComplete registers a callback fired after each emitted window
func (o *Optimizer) OnWindowComplete(cb func(WindowResult)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.windowCallbacks = append(o.windowCallbacks, cb)
}

// OnTrialComplete registers a callback fired for every evaluated in-sample trial
func (o *Optimizer) OnTrialComplete(cb func(ParameterSet, float64)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trialCallbacks = append(o.trialCallbacks, cb)
}

// OnRegimeTrain registers a training hook. Every hook runs; if any reports
// true the default feature training is skipped.
func (o *Optimizer) OnRegimeTrain(hook RegimeTrainHook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trainHooks = append(o.trainHooks, hook)
}

// OnRegimeTrained registers a callback fired after each detector training step
func (o *Optimizer) OnRegimeTrained(cb RegimeTrainedCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trainedCallbacks = append(o.trainedCallbacks, cb)
}

// Cancel stops the run between windows and between guided trials. It is
// permanent for this optimizer.
func (o *Optimizer) Cancel() {
	o.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called
func (o *Optimizer) Cancelled() bool {
	return o.cancelled.Load()
}

func (o *Optimizer) stopRequested(ctx context.Context) bool {
	return o.cancelled.Load() || ctx.Err() != nil
}

type callbacks struct {
	window []func(WindowResult)
	trial  []func(ParameterSet, float64)
}

// Optimize searches defs over every window of full. A cancelled run
// returns the completed windows with Cancelled set and a nil error.
func (o *Optimizer) Optimize(ctx context.Context, defs []ParameterDef, factory StrategyFactory, source market.DataSource, full market.TimeRange, newDetector regime.Factory) (*Results, error) {
	if source == nil {
		return nil, ErrNoDataSource
	}
	if factory == nil {
		return nil, ErrNoStrategyFactory
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeParameterInvalid, "invalid parameter definition", err)
		}
	}

	started := time.Now()
	results, err := o.optimize(ctx, defs, factory, source, full, newDetector)
	if o.metrics != nil {
		o.metrics.ObserveRun(results, time.Since(started), err)
	}
	return results, err
}

func (o *Optimizer) optimize(ctx context.Context, defs []ParameterDef, factory StrategyFactory, source market.DataSource, full market.TimeRange, newDetector regime.Factory) (*Results, error) {
	log := o.log.WithContext(ctx)
	perf := logger.NewPerformanceLogger(log)

	o.mu.RLock()
	env := &trialEnv{
		cfg:              o.cfg,
		factory:          factory,
		source:           source,
		newDetector:      newDetector,
		trainHooks:       slices.Clone(o.trainHooks),
		trainedCallbacks: slices.Clone(o.trainedCallbacks),
		cache:            o.cache,
		cacheNamespace:   o.cacheNamespace,
		cacheTTL:         o.cacheTTL,
		log:              log,
	}
	cbs := callbacks{
		window: slices.Clone(o.windowCallbacks),
		trial:  slices.Clone(o.trialCallbacks),
	}
	o.mu.RUnlock()

	// trials run to completion once started; cancellation is checked between them
	trialCtx := context.WithoutCancel(ctx)

	var windows []Window
	if o.cfg.WindowType == WindowRegimeAware {
		var err error
		windows, err = GenerateRegimeWindows(trialCtx, full, o.cfg, source, newDetector)
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeMarketDataUnavailable, "failed to label regimes")
		}
	} else {
		windows = GenerateWindows(full, o.cfg)
	}

	log.Info("Starting walk-forward optimization",
		"windows", len(windows),
		"window_type", o.cfg.WindowType.String(),
		"method", o.cfg.SearchMethod.String(),
		"parameters", len(defs),
		"parallelism", workerCount(o.cfg.Parallelism, 1<<30))

	fitness := NewFitnessEvaluator(o.cfg)
	sampler := NewSampler(o.cfg.Seed)

	results := &Results{Windows: make([]WindowResult, 0, len(windows))}
	for i, w := range windows {
		if o.stopRequested(ctx) {
			results.Cancelled = true
			break
		}
		windowStart := time.Now()

		window, ok, err := o.optimizeWindow(ctx, trialCtx, env, fitness, sampler, defs, cbs, w)
		if err != nil {
			log.Error("Window optimization failed", "window", i, "error", err)
			return nil, err
		}
		if !ok {
			results.Cancelled = true
			break
		}
		window.Index = i
		results.Windows = append(results.Windows, window)

		elapsed := time.Since(windowStart)
		perf.LogPerformance("optimize_window", elapsed, map[string]interface{}{
			"window":           i,
			"is_fitness":       window.ISFitness,
			"oos_fitness":      window.OOSFitness,
			"efficiency_ratio": window.EfficiencyRatio,
			"trials":           window.Trials,
		})
		if o.metrics != nil {
			o.metrics.ObserveWindow(&results.Windows[len(results.Windows)-1], elapsed)
		}
		for _, cb := range cbs.window {
			cb(window)
		}
	}

	if results.Cancelled {
		log.Warn("Walk-forward optimization cancelled", "completed_windows", len(results.Windows))
	}

	analyzer := NewAnalyzer(o.cfg, fitness)
	analyzer.Analyze(results)
	if results.PotentialOverfit {
		log.Warn("Potential overfitting detected",
			"avg_efficiency_ratio", results.AvgEfficiencyRatio,
			"diagnosis", results.OverfitDiagnosis)
	}
	return results, nil
}

// optimizeWindow searches the in-sample range and checks the winner out of
// sample. ok is false when the run was cancelled during the search.
func (o *Optimizer) optimizeWindow(ctx, trialCtx context.Context, env *trialEnv, fitness *FitnessEvaluator, sampler *Sampler, defs []ParameterDef, cbs callbacks, w Window) (WindowResult, bool, error) {
	// 仅在每个窗口重新训练时挂载检测器
	attach := env.newDetector != nil && o.cfg.RetrainRegimeEachWindow
	window := WindowResult{InSample: w.InSample, OutOfSample: w.OutOfSample}

	var best TrialOutcome
	switch o.cfg.SearchMethod {
	case SearchGuided:
		outcome, trials, ok, err := o.guidedSearch(ctx, trialCtx, env, fitness, sampler, defs, cbs, w, attach)
		if err != nil || !ok {
			return window, ok, err
		}
		best = outcome
		window.Trials = trials
	default:
		var sets []ParameterSet
		if o.cfg.SearchMethod == SearchRandom {
			sets = sampler.Random(defs, o.cfg.MaxTrials)
		} else {
			sets = BuildGrid(defs)
		}
		if len(sets) == 0 {
			sets = []ParameterSet{{}}
		}
		trials := make([]trial, len(sets))
		for i, set := range sets {
			trials[i] = trial{params: set, rng: w.InSample, training: w.InSample, attach: attach}
		}

		outcomes, err := o.evaluate(trialCtx, env, fitness, trials)
		if err != nil {
			return window, false, err
		}
		for _, outcome := range outcomes {
			for _, cb := range cbs.trial {
				cb(outcome.Params, outcome.Fitness)
			}
		}
		best = outcomes[bestOutcome(outcomes, o.cfg.Maximize)]
		window.Trials = len(trials)
	}

	window.OptimalParams = best.Params
	window.ISFitness = best.Fitness
	window.ISResults = best.Results
	window.RegimeDistribution = regimeDistribution(best.Results)

	oos, err := runCaught(trialCtx, env, trial{params: best.Params, rng: w.OutOfSample, training: w.InSample, attach: attach})
	if err != nil {
		return window, false, apperrors.WrapError(err, apperrors.ErrCodeBacktestFailed, "out-of-sample backtest failed")
	}
	window.OOSResults = oos
	window.OOSFitness = fitness.Evaluate(oos)
	if window.ISFitness != 0 {
		window.EfficiencyRatio = finite(window.OOSFitness / window.ISFitness)
	}
	return window, true, nil
}

// guidedSearch evaluates trials one at a time: a random warm-up, then
// draws around the best set so far.
func (o *Optimizer) guidedSearch(ctx, trialCtx context.Context, env *trialEnv, fitness *FitnessEvaluator, sampler *Sampler, defs []ParameterDef, cbs callbacks, w Window, attach bool) (TrialOutcome, int, bool, error) {
	total := o.cfg.MaxTrials
	if total < 1 {
		total = 1
	}
	warmup := min(total, guidedWarmup)

	var best TrialOutcome
	found := false
	evaluated := 0
	for i := 0; i < total; i++ {
		if o.stopRequested(ctx) {
			return best, evaluated, false, nil
		}

		var set ParameterSet
		if i < warmup || len(best.Params) == 0 {
			set = sampler.Sample(defs)
		} else {
			set = sampler.Guided(defs, best.Params)
		}

		results, err := runCaught(trialCtx, env, trial{params: set, rng: w.InSample, training: w.InSample, attach: attach})
		if err != nil {
			return best, evaluated, false, apperrors.NewAppError(apperrors.ErrCodeTrialFailed, "trial failed", err).
				WithContext("failed_trials", 1).
				WithContext("trial_index", i)
		}
		evaluated++
		score := fitness.Evaluate(results)
		o.notifyTrial(TrialOutcome{Params: set, Fitness: score})
		for _, cb := range cbs.trial {
			cb(set, score)
		}
		if !found || better(score, best.Fitness, o.cfg.Maximize) {
			best = TrialOutcome{Params: set, Fitness: score, Results: results}
			found = true
		}
	}
	return best, evaluated, true, nil
}

func (o *Optimizer) notifyTrial(outcome TrialOutcome) {
	if o.metrics != nil {
		o.metrics.ObserveTrial(outcome.Fitness)
	}
}

func regimeDistribution(results *backtest.Results) map[regime.Type]float64 {
	if results == nil || len(results.Regimes) == 0 {
		return nil
	}
	dist := make(map[regime.Type]float64, len(results.Regimes))
	for r, perf := range results.Regimes {
		dist[r] = perf.TimePct
	}
	return dist
}
