package optimizer

import (
	"context"
	"fmt"
	"time"

	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/market"
	"wfo/internal/regime"
	"wfo/internal/strategy/backtest"
)

// StrategyFactory builds a strategy for one parameter set
type StrategyFactory func(params ParameterSet) (backtest.Strategy, error)

// RegimeTrainingContext describes the detector about to be trained for one trial
type RegimeTrainingContext struct {
	Source        market.DataSource
	TrainingRange market.TimeRange
	BarType       market.BarType
	Symbols       []market.SymbolID
	Detector      regime.Detector
}

// RegimeTrainHook trains the detector itself and reports whether it did.
// Hooks run concurrently across trials.
type RegimeTrainHook func(ctx context.Context, tc RegimeTrainingContext) bool

// RegimeTrainedCallback is notified after training, whoever performed it
type RegimeTrainedCallback func(ctx context.Context, tc RegimeTrainingContext)

// TrialCache stores backtest results by key. Get returns a CACHE_MISS
// error when the key is absent.
type TrialCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// trial describes one backtest to run
type trial struct {
	params   ParameterSet
	rng      market.TimeRange
	training market.TimeRange
	attach   bool
}

// trialEnv is shared by every trial of one optimize call
type trialEnv struct {
	cfg         Config
	factory     StrategyFactory
	source      market.DataSource
	newDetector regime.Factory

	trainHooks       []RegimeTrainHook
	trainedCallbacks []RegimeTrainedCallback

	cache          TrialCache
	cacheNamespace string
	cacheTTL       time.Duration
	log            logger.Logger
}

// runTrial executes one backtest. It returns an error instead of empty
// results when the factory yields no strategy.
func (env *trialEnv) runTrial(ctx context.Context, t trial) (*backtest.Results, error) {
	infos, err := env.source.AvailableSymbols(ctx)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeMarketDataUnavailable, "failed to list symbols")
	}
	symbols := make([]market.SymbolID, len(infos))
	for i, info := range infos {
		symbols[i] = info.ID
	}

	strategy, err := env.factory(t.params)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeStrategyInvalid, "strategy factory failed", err).
			WithContext("params", t.params.Key())
	}
	if strategy == nil {
		return nil, ErrNilStrategy
	}

	withDetector := t.attach && env.newDetector != nil
	cacheKey := ""
	if !withDetector && env.cache != nil {
		cacheKey = env.cacheKey(t, symbols)
		var cached backtest.Results
		err := env.cache.Get(ctx, cacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if apperrors.CodeOf(err) != apperrors.ErrCodeCacheMiss {
			env.log.Warn("Trial cache read failed", "key", cacheKey, "error", err)
		}
	}

	engine := backtest.NewEngine(env.cfg.InitialCapital)
	if withDetector {
		if detector := env.newDetector(); detector != nil {
			if env.cfg.RetrainRegimeEachWindow {
				if err := env.trainDetector(ctx, detector, symbols, t.training); err != nil {
					return nil, err
				}
			}
			engine.SetRegimeDetector(detector)
		}
	}

	results, err := engine.Run(ctx, env.source, strategy, t.rng, symbols, env.cfg.BarType)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeBacktestFailed, "backtest failed", err).
			WithContext("range", t.rng.String())
	}

	if cacheKey != "" {
		if err := env.cache.Set(ctx, cacheKey, results, env.cacheTTL); err != nil {
			env.log.Warn("Trial cache write failed", "key", cacheKey, "error", err)
		}
	}
	return results, nil
}

// trainDetector runs every hook; when none handled training and default
// training is enabled, the detector is trained on features of the
// training range. Trained callbacks always fire.
func (env *trialEnv) trainDetector(ctx context.Context, detector regime.Detector, symbols []market.SymbolID, training market.TimeRange) error {
	tc := RegimeTrainingContext{
		Source:        env.source,
		TrainingRange: training,
		BarType:       env.cfg.BarType,
		Symbols:       symbols,
		Detector:      detector,
	}

	handled := false
	for _, hook := range env.trainHooks {
		handled = hook(ctx, tc) || handled
	}

	if !handled && !env.cfg.DisableDefaultRegimeTraining && len(symbols) > 0 {
		it, err := env.source.Iterator(ctx, symbols, training, env.cfg.BarType)
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeMarketDataUnavailable, "failed to load training bars")
		}
		if features := regime.ExtractFeatures(it); len(features) > 0 {
			if err := detector.Train(features); err != nil {
				return apperrors.NewAppError(apperrors.ErrCodeBacktestFailed, "regime detector training failed", err).
					WithContext("detector", detector.Name())
			}
		}
	}

	for _, cb := range env.trainedCallbacks {
		cb(ctx, tc)
	}
	return nil
}

func (env *trialEnv) cacheKey(t trial, symbols []market.SymbolID) string {
	return fmt.Sprintf("wfo:trial:%s:%s:%s:%v:%s:%g",
		env.cacheNamespace, t.params.Key(), t.rng, symbols, env.cfg.BarType, env.cfg.InitialCapital)
}
