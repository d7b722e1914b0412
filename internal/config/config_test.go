package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/market"
	"wfo/internal/regime"
	"wfo/internal/strategy/optimizer"
	"wfo/internal/testutils"
)

const fullConfig = `
logging:
  level: debug
  format: text

optimizer:
  window_type: anchored
  in_sample: 180d
  out_of_sample: 30d
  step: 720h
  search_method: random
  max_trials: 50
  metric: sortino
  maximize: true
  parallelism: 4
  seed: 7
  bar_type: 1h

parameters:
  - name: fast
    type: int
    min: 5
    max: 20
    step: 5
  - name: slow
    type: float
    min: 20
    max: 60
    distribution: log_uniform
  - name: mode
    type: categorical
    values: [flat, hold, 3, 0.5]

strategy:
  name: ma_cross

regime:
  detector: trend
  trend:
    lookback_period: 30

data:
  kind: csv
  path: ./data
  symbols: [BTCUSDT, ETHUSDT]
  start: "2023-01-01"
  end: "2024-01-01"

cache:
  kind: redis
  addr: localhost:6380
  ttl: 2h
  namespace: test

server:
  addr: ":9090"

schedule:
  cron: "0 0 2 * * *"
`

func TestLoadConfig(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	path := suite.CreateTempFile("config.yaml", fullConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, logger.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, logger.FormatText, cfg.Logging.Format)
	// 未配置的字段保留默认值
	assert.Equal(t, "stdout", cfg.Logging.Output)

	opt := cfg.OptimizerSettings()
	assert.Equal(t, optimizer.WindowAnchored, opt.WindowType)
	assert.Equal(t, 180*24*time.Hour, opt.InSample)
	assert.Equal(t, 30*24*time.Hour, opt.OutOfSample)
	assert.Equal(t, 720*time.Hour, opt.Step)
	assert.Equal(t, optimizer.SearchRandom, opt.SearchMethod)
	assert.Equal(t, 50, opt.MaxTrials)
	assert.Equal(t, "sortino", opt.Metric)
	assert.Equal(t, 4, opt.Parallelism)
	assert.Equal(t, uint64(7), opt.Seed)
	assert.Equal(t, market.BarType1Hour, opt.BarType)
	assert.Equal(t, 100000.0, opt.InitialCapital)

	defs, err := cfg.ParameterDefs()
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, optimizer.ParamInt, defs[0].Type)
	assert.Equal(t, 5.0, defs[0].Step)
	assert.Equal(t, optimizer.DistLogUniform, defs[1].Distribution)
	assert.Equal(t, []optimizer.Value{
		optimizer.TextValue("flat"),
		optimizer.TextValue("hold"),
		optimizer.IntValue(3),
		optimizer.FloatValue(0.5),
	}, defs[2].Values)

	assert.Equal(t, "ma_cross", cfg.Strategy.Name)
	assert.Equal(t, 30, cfg.Regime.Trend.LookbackPeriod)
	assert.Equal(t, regime.DefaultTrendConfig().VolatilityWindow, cfg.Regime.Trend.VolatilityWindow)

	r, err := cfg.Data.Range()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), r.End)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Data.Symbols)

	cc, ok := cfg.CacheSettings()
	require.True(t, ok)
	assert.True(t, cc.Enabled)
	assert.Equal(t, "localhost:6380", cc.Addr)
	assert.Equal(t, 2*time.Hour, cc.TTL)
	assert.Equal(t, "test", cc.Namespace)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "0 0 2 * * *", cfg.Schedule.Cron)
}

func TestLoadConfigErrors(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	_, err := Load(suite.TempDir + "/missing.yaml")
	assert.Equal(t, apperrors.ErrCodeInvalidConfig, apperrors.CodeOf(err))

	path := suite.CreateTempFile("bad.yaml", "optimizer:\n  in_sample: soon\n")
	_, err = Load(path)
	assert.Equal(t, apperrors.ErrCodeInvalidConfig, apperrors.CodeOf(err))

	path = suite.CreateTempFile("bad_window.yaml", "optimizer:\n  window_type: sliding\n")
	_, err = Load(path)
	assert.Equal(t, apperrors.ErrCodeInvalidConfig, apperrors.CodeOf(err))
}

func TestDefaultsNeedDataPath(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeInvalidConfig, appErr.Code)
	assert.Equal(t, "data.path", appErr.Context["field"])

	cfg.Data.Kind = "memory"
	assert.NoError(t, cfg.Validate())

	_, ok := cfg.CacheSettings()
	assert.False(t, ok)
}

func TestValidateReportsFirstInvalidField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"in_sample", func(c *Config) { c.Optimizer.InSample = 0 }, "optimizer.in_sample"},
		{"step", func(c *Config) { c.Optimizer.Step = -1 }, "optimizer.step"},
		{"duplicate parameter", func(c *Config) {
			def := optimizer.ParameterDef{Name: "x", Type: optimizer.ParamInt, Min: 1, Max: 2}
			c.Parameters = []ParameterConfig{{ParameterDef: def}, {ParameterDef: def}}
		}, "parameters[1]"},
		{"empty categorical", func(c *Config) {
			c.Parameters = []ParameterConfig{{ParameterDef: optimizer.ParameterDef{Name: "m", Type: optimizer.ParamCategorical}}}
		}, "parameters[0]"},
		{"strategy", func(c *Config) { c.Strategy.Name = "" }, "strategy.name"},
		{"detector", func(c *Config) { c.Regime.Detector = "hmm" }, "regime.detector"},
		{"regime aware without detector", func(c *Config) {
			c.Optimizer.WindowType = optimizer.WindowRegimeAware
		}, "regime.detector"},
		{"constant regime", func(c *Config) {
			c.Regime.Detector = "constant"
			c.Regime.Constant = "sideways"
		}, "regime.constant"},
		{"data range", func(c *Config) {
			c.Data.Start = "2024-01-01"
			c.Data.End = "2023-01-01"
		}, "data.end"},
		{"cache kind", func(c *Config) { c.Cache.Kind = "memcached" }, "cache.kind"},
		{"redis addr", func(c *Config) {
			c.Cache.Kind = "redis"
			c.Cache.Addr = "localhost"
		}, "cache.addr"},
		{"server addr", func(c *Config) { c.Server.Addr = "8080" }, "server.addr"},
		{"cron", func(c *Config) { c.Schedule.Cron = "every day" }, "schedule.cron"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Data.Kind = "memory"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			appErr := apperrors.GetAppError(err)
			require.NotNil(t, appErr)
			assert.Equal(t, apperrors.ErrCodeInvalidConfig, appErr.Code)
			assert.Equal(t, tt.field, appErr.Context["field"])
		})
	}
}

func TestApplyEnv(t *testing.T) {
	testutils.SetEnv(t, "WFO_MAX_TRIALS", "42")
	testutils.SetEnv(t, "WFO_IN_SAMPLE", "30d")
	testutils.SetEnv(t, "WFO_SEARCH_METHOD", "guided")
	testutils.SetEnv(t, "WFO_WINDOW_TYPE", "bogus")
	testutils.SetEnv(t, "WFO_SYMBOLS", "BTCUSDT, ETHUSDT,")
	testutils.SetEnv(t, "WFO_SEED", "99")
	testutils.SetEnv(t, "WFO_INITIAL_CAPITAL", "2500.5")
	testutils.SetEnv(t, "WFO_REDIS_PASSWORD", "secret")
	testutils.SetEnv(t, "WFO_LOG_LEVEL", "warn")

	cfg := Default()
	cfg.ApplyEnv(NewEnvManager(""))

	assert.Equal(t, 42, cfg.Optimizer.MaxTrials)
	assert.Equal(t, 30*24*time.Hour, cfg.Optimizer.InSample.Std())
	assert.Equal(t, optimizer.SearchGuided, cfg.Optimizer.SearchMethod)
	// 无效值忽略
	assert.Equal(t, optimizer.WindowRolling, cfg.Optimizer.WindowType)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Data.Symbols)
	assert.Equal(t, uint64(99), cfg.Optimizer.Seed)
	assert.Equal(t, 2500.5, cfg.Optimizer.InitialCapital)
	assert.Equal(t, "secret", cfg.Cache.Password)
	assert.Equal(t, logger.LevelWarn, cfg.Logging.Level)
}

func TestEnvManager(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	em := NewEnvManager("WFOTEST_")
	testutils.SetEnv(t, "WFOTEST_COUNT", "12")
	testutils.SetEnv(t, "WFOTEST_BAD_INT", "twelve")
	testutils.SetEnv(t, "WFOTEST_ENABLED", "true")
	testutils.SetEnv(t, "WFOTEST_WINDOW", "1.5d")
	testutils.SetEnv(t, "WFOTEST_EXISTING", "from-env")

	assert.Equal(t, 12, em.GetInt("count", 0))
	assert.Equal(t, 7, em.GetInt("bad_int", 7))
	assert.True(t, em.GetBool("enabled", false))
	assert.Equal(t, 36*time.Hour, em.GetDuration("window", 0))
	assert.Equal(t, "fallback", em.GetString("unset", "fallback"))

	// godotenv 不覆盖已有变量
	path := suite.CreateTempFile(".env", "WFOTEST_EXISTING=from-file\nWFOTEST_FROM_FILE=\"quoted value\"\n")
	t.Cleanup(func() { os.Unsetenv("WFOTEST_FROM_FILE") })
	require.NoError(t, em.LoadFromFile(path))
	assert.Equal(t, "from-env", em.GetString("existing", ""))
	assert.Equal(t, "quoted value", em.GetString("from_file", ""))

	err := em.LoadFromFile(suite.TempDir + "/missing.env")
	assert.Equal(t, apperrors.ErrCodeInvalidConfig, apperrors.CodeOf(err))

	err = em.ValidateRequired([]string{"count", "api_key"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMissingDependency, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "WFOTEST_API_KEY")
	assert.NotContains(t, err.Error(), "WFOTEST_COUNT")
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"90d", 90 * 24 * time.Hour, true},
		{"0.5d", 12 * time.Hour, true},
		{"36h", 36 * time.Hour, true},
		{"1h30m", 90 * time.Minute, true},
		{"xd", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDetectorFactory(t *testing.T) {
	cfg := Default()

	factory, err := cfg.DetectorFactory()
	require.NoError(t, err)
	assert.Nil(t, factory)

	cfg.Regime.Detector = "trend"
	factory, err = cfg.DetectorFactory()
	require.NoError(t, err)
	require.NotNil(t, factory)
	assert.IsType(t, &regime.TrendDetector{}, factory())
	// 每次调用返回新实例
	assert.NotSame(t, factory(), factory())

	cfg.Regime.Detector = "constant"
	cfg.Regime.Constant = "bear"
	factory, err = cfg.DetectorFactory()
	require.NoError(t, err)
	state := factory().OnBar(market.Bar{Close: 1})
	assert.Equal(t, regime.Bear, state.Current)

	cfg.Regime.Detector = "hmm"
	_, err = cfg.DetectorFactory()
	assert.Equal(t, apperrors.ErrCodeInvalidConfig, apperrors.CodeOf(err))
}

func TestConfigWatcherReloads(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	path := suite.CreateTempFile("watch.yaml", "data:\n  kind: memory\noptimizer:\n  max_trials: 10\n")
	w := NewConfigWatcher(path, 10*time.Millisecond, suite.Logger)

	var trials atomic.Int64
	w.AddCallback(func(cfg *Config) error {
		trials.Store(int64(cfg.Optimizer.MaxTrials))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	testutils.WaitForCondition(t, w.IsRunning, time.Second, "watcher start")

	// 无效配置不触发回调
	require.NoError(t, os.WriteFile(path, []byte("data:\n  kind: memory\noptimizer:\n  step: 0s\n"), 0644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), trials.Load())

	require.NoError(t, os.WriteFile(path, []byte("data:\n  kind: memory\noptimizer:\n  max_trials: 25\n"), 0644))
	future = future.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	testutils.WaitForCondition(t, func() bool { return trials.Load() == 25 }, time.Second, "config reload")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, w.IsRunning())
}
