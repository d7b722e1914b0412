package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wfo/internal/cache"
	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/market"
	"wfo/internal/regime"
	"wfo/internal/strategy/optimizer"
)

// Config represents the application configuration
type Config struct {
	Logging    logger.Config     `yaml:"logging"`
	Optimizer  OptimizerConfig   `yaml:"optimizer"`
	Parameters []ParameterConfig `yaml:"parameters"`
	Strategy   StrategyConfig    `yaml:"strategy"`
	Regime     RegimeConfig      `yaml:"regime"`
	Data       DataConfig        `yaml:"data"`
	Cache      CacheConfig       `yaml:"cache"`
	Server     ServerConfig      `yaml:"server"`
	Schedule   ScheduleConfig    `yaml:"schedule"`
}

// OptimizerConfig is the YAML form of optimizer.Config
type OptimizerConfig struct {
	WindowType                   optimizer.WindowType   `yaml:"window_type"`
	InSample                     Duration               `yaml:"in_sample"`
	OutOfSample                  Duration               `yaml:"out_of_sample"`
	Step                         Duration               `yaml:"step"`
	SearchMethod                 optimizer.SearchMethod `yaml:"search_method"`
	MaxTrials                    int                    `yaml:"max_trials"`
	Metric                       string                 `yaml:"metric"`
	Maximize                     bool                   `yaml:"maximize"`
	OptimizePerRegime            bool                   `yaml:"optimize_per_regime"`
	RetrainRegimeEachWindow      bool                   `yaml:"retrain_regime_each_window"`
	DisableDefaultRegimeTraining bool                   `yaml:"disable_default_regime_training"`
	Parallelism                  int                    `yaml:"parallelism"`
	EnableOverfittingDetection   bool                   `yaml:"enable_overfitting_detection"`
	MaxISOOSRatio                float64                `yaml:"max_is_oos_ratio"`
	InitialCapital               float64                `yaml:"initial_capital"`
	BarType                      market.BarType         `yaml:"bar_type"`
	PeriodsPerYear               float64                `yaml:"periods_per_year"`
	Seed                         uint64                 `yaml:"seed"`
}

// ParameterConfig declares one searchable parameter. Categorical values
// keep their YAML type: integers, floats and strings.
type ParameterConfig struct {
	optimizer.ParameterDef `yaml:",inline"`
	Values                 []interface{} `yaml:"values"`
}

// StrategyConfig selects the strategy template
type StrategyConfig struct {
	Name string `yaml:"name"`
}

// RegimeConfig selects the regime detector; "none" disables detection
type RegimeConfig struct {
	Detector string             `yaml:"detector"` // none, trend, constant
	Constant string             `yaml:"constant"` // constant 检测器使用的状态
	Trend    regime.TrendConfig `yaml:"trend"`
}

// DataConfig describes where bars come from
type DataConfig struct {
	Kind    string         `yaml:"kind"` // csv, postgres, memory
	Path    string         `yaml:"path"` // csv 文件或目录
	DSN     string         `yaml:"dsn"`
	Table   string         `yaml:"table"`
	MaxOpen int            `yaml:"max_open"`
	MaxIdle int            `yaml:"max_idle"`
	Symbols []string       `yaml:"symbols"`
	Start   string         `yaml:"start"`
	End     string         `yaml:"end"`
	BarType market.BarType `yaml:"bar_type"`
}

// CacheConfig configures the trial result cache
type CacheConfig struct {
	Kind      string   `yaml:"kind"` // none, memory, redis
	Addr      string   `yaml:"addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
	Size      int      `yaml:"size"`
	TTL       Duration `yaml:"ttl"`
	Namespace string   `yaml:"namespace"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	RequestsPerSec float64  `yaml:"requests_per_sec"` // 提交任务的限流
	Burst          int      `yaml:"burst"`
	MaxRuns        int      `yaml:"max_runs"` // 保留的历史任务数
}

// ScheduleConfig triggers runs periodically
type ScheduleConfig struct {
	Cron string `yaml:"cron"` // 含秒字段
}

// Default returns the default configuration
func Default() *Config {
	opt := optimizer.DefaultConfig()
	cacheDefaults := cache.DefaultConfig()
	return &Config{
		Logging: logger.DefaultConfig,
		Optimizer: OptimizerConfig{
			WindowType:                 opt.WindowType,
			InSample:                   Duration(opt.InSample),
			OutOfSample:                Duration(opt.OutOfSample),
			Step:                       Duration(opt.Step),
			SearchMethod:               opt.SearchMethod,
			MaxTrials:                  opt.MaxTrials,
			Metric:                     opt.Metric,
			Maximize:                   opt.Maximize,
			RetrainRegimeEachWindow:    opt.RetrainRegimeEachWindow,
			EnableOverfittingDetection: opt.EnableOverfittingDetection,
			MaxISOOSRatio:              opt.MaxISOOSRatio,
			InitialCapital:             opt.InitialCapital,
			BarType:                    opt.BarType,
			PeriodsPerYear:             opt.PeriodsPerYear,
			Seed:                       opt.Seed,
		},
		Strategy: StrategyConfig{Name: "ma_cross"},
		Regime:   RegimeConfig{Detector: "none", Trend: regime.DefaultTrendConfig()},
		Data:     DataConfig{Kind: "csv", Table: "market_data", BarType: market.BarType1Day},
		Cache: CacheConfig{
			Kind:      "none",
			Addr:      cacheDefaults.Addr,
			PoolSize:  cacheDefaults.PoolSize,
			Size:      cacheDefaults.MemoryMaxSize,
			TTL:       Duration(cacheDefaults.TTL),
			Namespace: cacheDefaults.Namespace,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    Duration(30 * time.Second),
			WriteTimeout:   Duration(30 * time.Second),
			RequestsPerSec: 1,
			Burst:          5,
			MaxRuns:        100,
		},
	}
}

// Load reads a YAML file over the defaults and applies WFO_ environment overrides
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"failed to read config file", filename, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(NewEnvManager(""))
	return cfg, nil
}

// Parse decodes a YAML document over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "failed to parse config file", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(em *EnvManager) {
	c.Logging.Level = logger.LogLevel(em.GetString("LOG_LEVEL", string(c.Logging.Level)))
	c.Logging.Format = logger.LogFormat(em.GetString("LOG_FORMAT", string(c.Logging.Format)))
	c.Logging.Output = em.GetString("LOG_OUTPUT", c.Logging.Output)
	c.Logging.Filename = em.GetString("LOG_FILE", c.Logging.Filename)

	c.Strategy.Name = em.GetString("STRATEGY", c.Strategy.Name)
	c.Regime.Detector = em.GetString("REGIME_DETECTOR", c.Regime.Detector)

	c.Optimizer.MaxTrials = em.GetInt("MAX_TRIALS", c.Optimizer.MaxTrials)
	c.Optimizer.Metric = em.GetString("METRIC", c.Optimizer.Metric)
	c.Optimizer.Parallelism = em.GetInt("PARALLELISM", c.Optimizer.Parallelism)
	c.Optimizer.InSample = Duration(em.GetDuration("IN_SAMPLE", c.Optimizer.InSample.Std()))
	c.Optimizer.OutOfSample = Duration(em.GetDuration("OUT_OF_SAMPLE", c.Optimizer.OutOfSample.Std()))
	c.Optimizer.Step = Duration(em.GetDuration("STEP", c.Optimizer.Step.Std()))
	c.Optimizer.InitialCapital = em.GetFloat("INITIAL_CAPITAL", c.Optimizer.InitialCapital)
	if seed := em.GetInt("SEED", -1); seed >= 0 {
		c.Optimizer.Seed = uint64(seed)
	}
	if v := em.GetString("WINDOW_TYPE", ""); v != "" {
		if w, err := optimizer.ParseWindowType(v); err == nil {
			c.Optimizer.WindowType = w
		}
	}
	if v := em.GetString("SEARCH_METHOD", ""); v != "" {
		if m, err := optimizer.ParseSearchMethod(v); err == nil {
			c.Optimizer.SearchMethod = m
		}
	}

	c.Data.Kind = em.GetString("DATA_KIND", c.Data.Kind)
	c.Data.Path = em.GetString("DATA_PATH", c.Data.Path)
	c.Data.DSN = em.GetString("DATABASE_URL", c.Data.DSN)
	if v := em.GetString("SYMBOLS", ""); v != "" {
		c.Data.Symbols = splitList(v)
	}

	c.Cache.Kind = em.GetString("CACHE_KIND", c.Cache.Kind)
	c.Cache.Addr = em.GetString("REDIS_ADDR", c.Cache.Addr)
	c.Cache.Password = em.GetString("REDIS_PASSWORD", c.Cache.Password)
	c.Cache.DB = em.GetInt("REDIS_DB", c.Cache.DB)

	c.Server.Addr = em.GetString("SERVER_ADDR", c.Server.Addr)
	c.Schedule.Cron = em.GetString("SCHEDULE", c.Schedule.Cron)
}

// Validate reports the first invalid field as INVALID_CONFIG
func (c *Config) Validate() error {
	return NewValidator(c).Validate()
}

// OptimizerSettings converts the optimizer section
func (c *Config) OptimizerSettings() optimizer.Config {
	o := c.Optimizer
	return optimizer.Config{
		WindowType:                   o.WindowType,
		InSample:                     o.InSample.Std(),
		OutOfSample:                  o.OutOfSample.Std(),
		Step:                         o.Step.Std(),
		SearchMethod:                 o.SearchMethod,
		MaxTrials:                    o.MaxTrials,
		Metric:                       o.Metric,
		Maximize:                     o.Maximize,
		OptimizePerRegime:            o.OptimizePerRegime,
		RetrainRegimeEachWindow:      o.RetrainRegimeEachWindow,
		DisableDefaultRegimeTraining: o.DisableDefaultRegimeTraining,
		Parallelism:                  o.Parallelism,
		EnableOverfittingDetection:   o.EnableOverfittingDetection,
		MaxISOOSRatio:                o.MaxISOOSRatio,
		InitialCapital:               o.InitialCapital,
		BarType:                      o.BarType,
		PeriodsPerYear:               o.PeriodsPerYear,
		Seed:                         o.Seed,
	}
}

// ParameterDefs converts the parameters section. An empty section returns
// nil so callers can fall back to the strategy template's space.
func (c *Config) ParameterDefs() ([]optimizer.ParameterDef, error) {
	if len(c.Parameters) == 0 {
		return nil, nil
	}
	defs := make([]optimizer.ParameterDef, len(c.Parameters))
	for i, p := range c.Parameters {
		def, err := p.Def()
		if err != nil {
			return nil, err
		}
		defs[i] = def
	}
	return defs, nil
}

// Def converts the parameter, typing categorical values
func (p ParameterConfig) Def() (optimizer.ParameterDef, error) {
	def := p.ParameterDef
	def.Values = nil
	for _, raw := range p.Values {
		v, err := toValue(raw)
		if err != nil {
			return def, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
				"invalid parameter value", fmt.Sprintf("%s: %v", p.Name, err), nil).
				WithContext("field", "parameters."+p.Name)
		}
		def.Values = append(def.Values, v)
	}
	if err := def.Validate(); err != nil {
		return def, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"invalid parameter", err.Error(), nil).WithContext("field", "parameters")
	}
	return def, nil
}

func toValue(raw interface{}) (optimizer.Value, error) {
	switch v := raw.(type) {
	case int:
		return optimizer.IntValue(int64(v)), nil
	case int64:
		return optimizer.IntValue(v), nil
	case uint64:
		return optimizer.IntValue(int64(v)), nil
	case float64:
		return optimizer.FloatValue(v), nil
	case string:
		return optimizer.TextValue(v), nil
	case bool:
		return optimizer.TextValue(strconv.FormatBool(v)), nil
	default:
		return optimizer.Value{}, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

// CacheSettings converts the cache section; ok is false for kind none
func (c *Config) CacheSettings() (cache.Config, bool) {
	if c.Cache.Kind == "" || c.Cache.Kind == "none" {
		return cache.Config{}, false
	}
	return cache.Config{
		Enabled:       c.Cache.Kind == "redis",
		Addr:          c.Cache.Addr,
		Password:      c.Cache.Password,
		DB:            c.Cache.DB,
		PoolSize:      c.Cache.PoolSize,
		MemoryMaxSize: c.Cache.Size,
		TTL:           c.Cache.TTL.Std(),
		Namespace:     c.Cache.Namespace,
	}, true
}

// DetectorFactory builds the configured regime detector factory; nil when disabled
func (c *Config) DetectorFactory() (regime.Factory, error) {
	switch strings.ToLower(c.Regime.Detector) {
	case "", "none":
		return nil, nil
	case "trend":
		trend := c.Regime.Trend
		return func() regime.Detector { return regime.NewTrendDetector(trend) }, nil
	case "constant":
		t, err := regime.ParseType(c.Regime.Constant)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "invalid constant regime", err).
				WithContext("field", "regime.constant")
		}
		return func() regime.Detector { return regime.NewConstantDetector(t) }, nil
	default:
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"unknown regime detector", c.Regime.Detector, nil).WithContext("field", "regime.detector")
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// Range returns the configured data range. Missing bounds are zero.
func (d DataConfig) Range() (market.TimeRange, error) {
	start, err := parseDate(d.Start)
	if err != nil {
		return market.TimeRange{}, err
	}
	end, err := parseDate(d.End)
	if err != nil {
		return market.TimeRange{}, err
	}
	return market.NewTimeRange(start, end), nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
