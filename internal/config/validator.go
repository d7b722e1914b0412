package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	apperrors "wfo/internal/errors"
	"wfo/internal/regime"
	"wfo/internal/strategy/optimizer"
)

// Validator 配置验证器
type Validator struct {
	config   *Config
	problems []problem
}

type problem struct {
	field string
	msg   string
}

// NewValidator 创建配置验证器
func NewValidator(config *Config) *Validator {
	return &Validator{config: config}
}

// Validate 验证配置；所有问题写入Details，context.field 为第一个无效字段
func (v *Validator) Validate() error {
	v.problems = nil

	v.validateOptimizer()
	v.validateParameters()
	v.validateStrategy()
	v.validateRegime()
	v.validateData()
	v.validateCache()
	v.validateServer()
	v.validateSchedule()

	if len(v.problems) == 0 {
		return nil
	}
	details := make([]string, len(v.problems))
	for i, p := range v.problems {
		details[i] = p.field + ": " + p.msg
	}
	return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
		"invalid configuration", strings.Join(details, "; "), nil).
		WithContext("field", v.problems[0].field)
}

func (v *Validator) fail(field, format string, args ...interface{}) {
	v.problems = append(v.problems, problem{field: field, msg: fmt.Sprintf(format, args...)})
}

func (v *Validator) validateOptimizer() {
	err := v.config.OptimizerSettings().Validate()
	if err == nil {
		return
	}
	field := "optimizer"
	if appErr := apperrors.GetAppError(err); appErr != nil {
		if f, ok := appErr.Context["field"].(string); ok {
			field = "optimizer." + f
		}
		v.fail(field, "%s", appErr.Details)
		return
	}
	v.fail(field, "%v", err)
}

func (v *Validator) validateParameters() {
	seen := make(map[string]bool, len(v.config.Parameters))
	for i, p := range v.config.Parameters {
		field := fmt.Sprintf("parameters[%d]", i)
		if p.Name != "" {
			if seen[p.Name] {
				v.fail(field, "duplicate parameter %s", p.Name)
				continue
			}
			seen[p.Name] = true
		}
		if _, err := p.Def(); err != nil {
			msg := err.Error()
			if appErr := apperrors.GetAppError(err); appErr != nil && appErr.Details != "" {
				msg = appErr.Details
			}
			v.fail(field, "%s", msg)
		}
		if p.Type == optimizer.ParamCategorical && len(p.Values) == 0 {
			v.fail(field, "categorical parameter %s has no values", p.Name)
		}
	}
}

func (v *Validator) validateStrategy() {
	if v.config.Strategy.Name == "" {
		v.fail("strategy.name", "is required")
	}
}

func (v *Validator) validateRegime() {
	r := v.config.Regime
	switch strings.ToLower(r.Detector) {
	case "", "none":
	case "trend":
		if r.Trend.LookbackPeriod <= 0 {
			v.fail("regime.trend.lookback_period", "must be positive")
		}
		if r.Trend.VolatilityWindow <= 0 {
			v.fail("regime.trend.volatility_window", "must be positive")
		}
	case "constant":
		if _, err := regime.ParseType(r.Constant); err != nil {
			v.fail("regime.constant", "%v", err)
		}
	default:
		v.fail("regime.detector", "unknown detector %q", r.Detector)
	}
	if v.config.Optimizer.WindowType == optimizer.WindowRegimeAware && (r.Detector == "" || r.Detector == "none") {
		v.fail("regime.detector", "regime_aware windows need a detector")
	}
}

func (v *Validator) validateData() {
	d := v.config.Data
	switch d.Kind {
	case "csv":
		if d.Path == "" {
			v.fail("data.path", "is required for csv data")
		}
	case "postgres":
		if d.DSN == "" {
			v.fail("data.dsn", "is required for postgres data")
		}
	case "memory":
	default:
		v.fail("data.kind", "unknown data kind %q", d.Kind)
	}
	r, err := d.Range()
	if err != nil {
		v.fail("data.range", "%v", err)
		return
	}
	if !r.Start.IsZero() && !r.End.IsZero() && !r.End.After(r.Start) {
		v.fail("data.end", "must be after start")
	}
}

func (v *Validator) validateCache() {
	c := v.config.Cache
	switch c.Kind {
	case "", "none":
		return
	case "memory":
	case "redis":
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			v.fail("cache.addr", "invalid redis address %q", c.Addr)
		}
		if c.DB < 0 || c.DB > 15 {
			v.fail("cache.db", "must be between 0 and 15")
		}
	default:
		v.fail("cache.kind", "unknown cache kind %q", c.Kind)
		return
	}
	if c.Size <= 0 {
		v.fail("cache.size", "must be positive")
	}
	if c.TTL < 0 {
		v.fail("cache.ttl", "must not be negative")
	}
}

func (v *Validator) validateServer() {
	s := v.config.Server
	if s.Addr == "" {
		return
	}
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		v.fail("server.addr", "invalid address %q", s.Addr)
	}
	if s.RequestsPerSec <= 0 {
		v.fail("server.requests_per_sec", "must be positive")
	}
	if s.Burst <= 0 {
		v.fail("server.burst", "must be positive")
	}
}

func (v *Validator) validateSchedule() {
	if v.config.Schedule.Cron == "" {
		return
	}
	if _, err := CronParser().Parse(v.config.Schedule.Cron); err != nil {
		v.fail("schedule.cron", "%v", err)
	}
}

// CronParser parses six-field specs with seconds, plus descriptors like @daily
func CronParser() cron.Parser {
	return cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}
