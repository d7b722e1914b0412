// Package runner turns the application config and a run request into a
// prepared walk-forward optimization job.
package runner

import (
	"context"
	"fmt"
	"sync"

	"wfo/internal/config"
	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/market"
	"wfo/internal/regime"
	"wfo/internal/strategy/optimizer"
	"wfo/internal/strategy/templates"
)

// Request describes one optimization run. Zero fields fall back to the config.
type Request struct {
	Strategy     string   `json:"strategy"`
	Symbols      []string `json:"symbols,omitempty"`
	Start        string   `json:"start,omitempty"`
	End          string   `json:"end,omitempty"`
	Metric       string   `json:"metric,omitempty"`
	SearchMethod string   `json:"search_method,omitempty"`
	WindowType   string   `json:"window_type,omitempty"`
	MaxTrials    int      `json:"max_trials,omitempty"`
	Seed         *uint64  `json:"seed,omitempty"`
	Trigger      string   `json:"trigger,omitempty"` // api, schedule, cli
}

// Job is a prepared optimization run
type Job struct {
	Strategy  string
	Config    optimizer.Config
	Params    []optimizer.ParameterDef
	Range     market.TimeRange
	Optimizer *optimizer.Optimizer

	factory  optimizer.StrategyFactory
	source   market.DataSource
	detector regime.Factory
}

// Run executes the job
func (j *Job) Run(ctx context.Context) (*optimizer.Results, error) {
	return j.Optimizer.Optimize(ctx, j.Params, j.factory, j.source, j.Range, j.detector)
}

// Report runs the job and summarises the results
func (j *Job) Report(ctx context.Context) (*optimizer.Report, error) {
	results, err := j.Run(ctx)
	if err != nil {
		return nil, err
	}
	return optimizer.NewReport(j.Config, results), nil
}

// Option configures a Builder
type Option func(*Builder)

// WithLogger sets the logger handed to every optimizer
func WithLogger(log logger.Logger) Option {
	return func(b *Builder) {
		if log != nil {
			b.log = log
		}
	}
}

// WithTrialCache shares one trial cache between jobs
func WithTrialCache(cache optimizer.TrialCache) Option {
	return func(b *Builder) { b.cache = cache }
}

// WithMetrics reports every job to m
func WithMetrics(m optimizer.MetricsRecorder) Option {
	return func(b *Builder) { b.metrics = m }
}

// Builder prepares jobs from the current configuration. The configuration
// can be swapped at runtime; jobs already prepared keep their settings.
type Builder struct {
	mu  sync.RWMutex
	cfg *config.Config

	registry *templates.Registry
	source   market.DataSource
	cache    optimizer.TrialCache
	metrics  optimizer.MetricsRecorder
	log      logger.Logger
}

// NewBuilder creates a job builder
func NewBuilder(cfg *config.Config, registry *templates.Registry, source market.DataSource, opts ...Option) (*Builder, error) {
	if cfg == nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeMissingDependency, "config is required", nil)
	}
	if registry == nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeMissingDependency, "strategy registry is required", nil)
	}
	if source == nil {
		return nil, optimizer.ErrNoDataSource
	}
	b := &Builder{
		cfg:      cfg,
		registry: registry,
		source:   source,
		log:      logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SetConfig replaces the configuration used by later jobs
func (b *Builder) SetConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

// Config returns the current configuration
func (b *Builder) Config() *config.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Registry returns the strategy registry
func (b *Builder) Registry() *templates.Registry {
	return b.registry
}

// Prepare resolves req against the configuration and builds an optimizer
func (b *Builder) Prepare(ctx context.Context, req Request) (*Job, error) {
	cfg := b.Config()

	name := req.Strategy
	if name == "" {
		name = cfg.Strategy.Name
	}
	tmpl, err := b.registry.Get(name)
	if err != nil {
		return nil, err
	}

	params, err := cfg.ParameterDefs()
	if err != nil {
		return nil, err
	}
	if len(params) == 0 || name != cfg.Strategy.Name {
		// 配置中的参数空间只适用于配置的策略
		params = tmpl.Parameters
	}

	optCfg, err := applyRequest(cfg.OptimizerSettings(), req)
	if err != nil {
		return nil, err
	}

	source := b.source
	if len(req.Symbols) > 0 {
		source = market.NewFilteredSource(source, req.Symbols)
	}

	full, err := b.resolveRange(ctx, cfg.Data, req, source, optCfg.BarType)
	if err != nil {
		return nil, err
	}

	detector, err := cfg.DetectorFactory()
	if err != nil {
		return nil, err
	}

	opts := []optimizer.Option{optimizer.WithLogger(b.log.WithField("strategy", name))}
	if b.cache != nil {
		opts = append(opts, optimizer.WithTrialCache(b.cache, cacheNamespace(cfg, name, req.Symbols), cfg.Cache.TTL.Std()))
	}
	if b.metrics != nil {
		opts = append(opts, optimizer.WithMetrics(b.metrics))
	}
	opt, err := optimizer.New(optCfg, opts...)
	if err != nil {
		return nil, err
	}

	return &Job{
		Strategy:  name,
		Config:    optCfg,
		Params:    params,
		Range:     full,
		Optimizer: opt,
		factory:   tmpl.New,
		source:    source,
		detector:  detector,
	}, nil
}

func (b *Builder) resolveRange(ctx context.Context, data config.DataConfig, req Request, source market.DataSource, barType market.BarType) (market.TimeRange, error) {
	if req.Start != "" {
		data.Start = req.Start
	}
	if req.End != "" {
		data.End = req.End
	}
	r, err := data.Range()
	if err != nil {
		return r, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "invalid time range", err)
	}
	if !r.Start.IsZero() && !r.End.IsZero() {
		return r, nil
	}

	available, err := DataRange(ctx, source, barType)
	if err != nil {
		return r, err
	}
	if r.Start.IsZero() {
		r.Start = available.Start
	}
	if r.End.IsZero() {
		r.End = available.End
	}
	if !r.End.After(r.Start) {
		return r, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
			"empty time range", r.String(), nil)
	}
	return r, nil
}

func applyRequest(cfg optimizer.Config, req Request) (optimizer.Config, error) {
	invalid := func(field string, err error) error {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "invalid run request", err).
			WithContext("field", field)
	}
	if req.Metric != "" {
		cfg.Metric = req.Metric
	}
	if req.SearchMethod != "" {
		m, err := optimizer.ParseSearchMethod(req.SearchMethod)
		if err != nil {
			return cfg, invalid("search_method", err)
		}
		cfg.SearchMethod = m
	}
	if req.WindowType != "" {
		w, err := optimizer.ParseWindowType(req.WindowType)
		if err != nil {
			return cfg, invalid("window_type", err)
		}
		cfg.WindowType = w
	}
	if req.MaxTrials > 0 {
		cfg.MaxTrials = req.MaxTrials
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	return cfg, nil
}

// cacheNamespace separates cached trials by data set and strategy
func cacheNamespace(cfg *config.Config, strategy string, symbols []string) string {
	data := cfg.Data.Path
	if cfg.Data.Kind == "postgres" {
		data = cfg.Data.Table
	}
	if len(symbols) == 0 {
		symbols = cfg.Data.Symbols
	}
	return fmt.Sprintf("%s:%s:%s:%s:%v", cfg.Cache.Namespace, cfg.Data.Kind, data, strategy, symbols)
}
