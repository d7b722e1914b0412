package optimizer

import (
	"fmt"
	"strings"
	"time"

	apperrors "wfo/internal/errors"
	"wfo/internal/market"
)

// WindowType selects how in-sample / out-of-sample windows are laid out
type WindowType int

const (
	WindowRolling WindowType = iota
	WindowAnchored
	WindowRegimeAware
)

var windowTypeNames = map[WindowType]string{
	WindowRolling:     "rolling",
	WindowAnchored:    "anchored",
	WindowRegimeAware: "regime_aware",
}

func (w WindowType) String() string {
	if name, ok := windowTypeNames[w]; ok {
		return name
	}
	return fmt.Sprintf("window_type(%d)", int(w))
}

// ParseWindowType parses rolling, anchored or regime_aware
func ParseWindowType(s string) (WindowType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if normalized == "regime" || normalized == "regimeaware" {
		normalized = "regime_aware"
	}
	for w, name := range windowTypeNames {
		if name == normalized {
			return w, nil
		}
	}
	return WindowRolling, fmt.Errorf("unknown window type %q", s)
}

func (w WindowType) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *WindowType) UnmarshalText(text []byte) error {
	parsed, err := ParseWindowType(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// SearchMethod selects how candidate parameter sets are produced
type SearchMethod int

const (
	SearchGrid SearchMethod = iota
	SearchRandom
	// SearchGuided samples one trial at a time around the best known set
	SearchGuided
)

var searchMethodNames = map[SearchMethod]string{
	SearchGrid:   "grid",
	SearchRandom: "random",
	SearchGuided: "bayesian",
}

func (m SearchMethod) String() string {
	if name, ok := searchMethodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("search_method(%d)", int(m))
}

// ParseSearchMethod parses grid, random or bayesian (alias guided)
func ParseSearchMethod(s string) (SearchMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grid":
		return SearchGrid, nil
	case "random":
		return SearchRandom, nil
	case "bayesian", "guided", "smbo":
		return SearchGuided, nil
	}
	return SearchGrid, fmt.Errorf("unknown search method %q", s)
}

func (m SearchMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SearchMethod) UnmarshalText(text []byte) error {
	parsed, err := ParseSearchMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Config 前向优化配置
type Config struct {
	WindowType   WindowType    `json:"window_type"`
	InSample     time.Duration `json:"in_sample"`     // 样本内长度
	OutOfSample  time.Duration `json:"out_of_sample"` // 样本外长度
	Step         time.Duration `json:"step"`          // 窗口步进
	SearchMethod SearchMethod  `json:"search_method"`
	MaxTrials    int           `json:"max_trials"` // Random / 引导搜索的试验次数
	Metric       string        `json:"metric"`
	Maximize     bool          `json:"maximize"`

	OptimizePerRegime            bool `json:"optimize_per_regime"`
	RetrainRegimeEachWindow      bool `json:"retrain_regime_each_window"`
	DisableDefaultRegimeTraining bool `json:"disable_default_regime_training"`

	Parallelism int `json:"parallelism"` // <=0 表示使用CPU核数

	EnableOverfittingDetection bool    `json:"enable_overfitting_detection"`
	MaxISOOSRatio              float64 `json:"max_is_oos_ratio"`

	InitialCapital float64        `json:"initial_capital"`
	BarType        market.BarType `json:"bar_type"`
	PeriodsPerYear float64        `json:"periods_per_year"`
	Seed           uint64         `json:"seed"`
}

const day = 24 * time.Hour

// DefaultConfig returns the default optimizer configuration
func DefaultConfig() Config {
	return Config{
		WindowType:                 WindowRolling,
		InSample:                   365 * day,
		OutOfSample:                90 * day,
		Step:                       90 * day,
		SearchMethod:               SearchGrid,
		MaxTrials:                  100,
		Metric:                     MetricSharpe,
		Maximize:                   true,
		RetrainRegimeEachWindow:    true,
		EnableOverfittingDetection: true,
		MaxISOOSRatio:              2.0,
		InitialCapital:             100000,
		BarType:                    market.BarType1Day,
		PeriodsPerYear:             252,
		Seed:                       1337,
	}
}

// Validate reports the first invalid field
func (c Config) Validate() error {
	invalid := func(field, msg string) error {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"invalid optimizer config", field+": "+msg, nil).WithContext("field", field)
	}
	if c.InSample <= 0 {
		return invalid("in_sample", "must be positive")
	}
	if c.OutOfSample <= 0 {
		return invalid("out_of_sample", "must be positive")
	}
	if c.Step <= 0 {
		return invalid("step", "must be positive")
	}
	if _, ok := windowTypeNames[c.WindowType]; !ok {
		return invalid("window_type", c.WindowType.String())
	}
	if _, ok := searchMethodNames[c.SearchMethod]; !ok {
		return invalid("search_method", c.SearchMethod.String())
	}
	if c.SearchMethod != SearchGrid && c.MaxTrials < 0 {
		return invalid("max_trials", "must not be negative")
	}
	if c.EnableOverfittingDetection && c.MaxISOOSRatio <= 0 {
		return invalid("max_is_oos_ratio", "must be positive")
	}
	if c.InitialCapital < 0 {
		return invalid("initial_capital", "must not be negative")
	}
	if c.PeriodsPerYear < 0 {
		return invalid("periods_per_year", "must not be negative")
	}
	return nil
}

func (c Config) perRegimeFitness() bool {
	return c.OptimizePerRegime || c.WindowType == WindowRegimeAware
}
