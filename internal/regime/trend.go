package regime

import (
	"fmt"
	"math"
	"sort"

	"github.com/cinar/indicator"
	"gonum.org/v1/gonum/stat"

	"wfo/internal/market"
)

// TrendConfig 趋势/波动率状态检测配置
type TrendConfig struct {
	LookbackPeriod   int     `yaml:"lookback_period" json:"lookback_period"`     // 均线周期
	VolatilityWindow int     `yaml:"volatility_window" json:"volatility_window"` // 波动率窗口
	TrendThreshold   float64 `yaml:"trend_threshold" json:"trend_threshold"`     // 价格偏离均线阈值
	CrisisVolatility float64 `yaml:"crisis_volatility" json:"crisis_volatility"` // 危机波动率阈值
	CrisisQuantile   float64 `yaml:"crisis_quantile" json:"crisis_quantile"`     // 训练时危机阈值分位数
	TrendScale       float64 `yaml:"trend_scale" json:"trend_scale"`             // 训练时趋势阈值倍数
}

// DefaultTrendConfig returns the detector defaults
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		LookbackPeriod:   20,
		VolatilityWindow: DefaultFeatureWindow,
		TrendThreshold:   0.02,
		CrisisVolatility: 0.04,
		CrisisQuantile:   0.95,
		TrendScale:       2,
	}
}

// TrendDetector classifies bars by the distance of the close from its moving
// average, overridden by Crisis when rolling volatility is extreme.
type TrendDetector struct {
	config    TrendConfig
	closes    []float64
	extractor *FeatureExtractor
	state     State
}

// NewTrendDetector creates a detector; zero fields fall back to defaults
func NewTrendDetector(config TrendConfig) *TrendDetector {
	defaults := DefaultTrendConfig()
	if config.LookbackPeriod <= 0 {
		config.LookbackPeriod = defaults.LookbackPeriod
	}
	if config.VolatilityWindow <= 0 {
		config.VolatilityWindow = defaults.VolatilityWindow
	}
	if config.TrendThreshold <= 0 {
		config.TrendThreshold = defaults.TrendThreshold
	}
	if config.CrisisVolatility <= 0 {
		config.CrisisVolatility = defaults.CrisisVolatility
	}
	if config.CrisisQuantile <= 0 || config.CrisisQuantile > 1 {
		config.CrisisQuantile = defaults.CrisisQuantile
	}
	if config.TrendScale <= 0 {
		config.TrendScale = defaults.TrendScale
	}
	return &TrendDetector{
		config:    config,
		extractor: NewFeatureExtractor(config.VolatilityWindow, FeatureReturn, FeatureVolatility),
		state:     NeutralState(),
	}
}

// Config returns the current (possibly trained) thresholds
func (d *TrendDetector) Config() TrendConfig {
	return d.config
}

// OnBar implements Detector
func (d *TrendDetector) OnBar(bar market.Bar) State {
	features := d.extractor.OnBar(bar)
	volatility := features[1]

	d.closes = append(d.closes, bar.Close)
	if len(d.closes) > d.config.LookbackPeriod {
		d.closes = d.closes[len(d.closes)-d.config.LookbackPeriod:]
	}

	// 预热期内保持中性
	if len(d.closes) < d.config.LookbackPeriod {
		d.state = State{Current: Neutral, Confidence: 0, Timestamp: bar.Timestamp}
		return d.state
	}

	sma := indicator.Sma(d.config.LookbackPeriod, d.closes)
	mean := sma[len(sma)-1]
	deviation := 0.0
	if mean > 0 {
		deviation = (bar.Close - mean) / mean
	}

	d.state = d.classify(deviation, volatility)
	d.state.Timestamp = bar.Timestamp
	return d.state
}

func (d *TrendDetector) classify(deviation, volatility float64) State {
	probs := make([]float64, 4)
	var current Type
	var confidence float64

	switch {
	case volatility > d.config.CrisisVolatility:
		current = Crisis
		confidence = math.Min(1, volatility/d.config.CrisisVolatility-1)
	case deviation > d.config.TrendThreshold:
		current = Bull
		confidence = math.Min(1, deviation/d.config.TrendThreshold-1)
	case deviation < -d.config.TrendThreshold:
		current = Bear
		confidence = math.Min(1, -deviation/d.config.TrendThreshold-1)
	default:
		current = Neutral
		confidence = 1 - math.Abs(deviation)/d.config.TrendThreshold
	}

	probs[current] = 0.5 + confidence/2
	rest := (1 - probs[current]) / 3
	for i := range probs {
		if Type(i) != current {
			probs[i] = rest
		}
	}
	return State{Current: current, Confidence: confidence, Probabilities: probs}
}

// Train fits the thresholds from [return, volatility] feature vectors: the
// crisis level becomes the configured volatility quantile and the trend
// threshold becomes TrendScale times the mean absolute return.
func (d *TrendDetector) Train(features []FeatureVector) error {
	if len(features) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(features))
	vols := make([]float64, 0, len(features))
	for i, f := range features {
		if len(f) < 2 {
			return fmt.Errorf("feature vector %d has %d values, need return and volatility", i, len(f))
		}
		returns = append(returns, math.Abs(f[0]))
		if f[1] > 0 {
			vols = append(vols, f[1])
		}
	}

	if meanAbs := stat.Mean(returns, nil); meanAbs > 0 {
		d.config.TrendThreshold = meanAbs * d.config.TrendScale
	}
	if len(vols) > 0 {
		sort.Float64s(vols)
		if q := stat.Quantile(d.config.CrisisQuantile, stat.Empirical, vols, nil); q > 0 {
			d.config.CrisisVolatility = q
		}
	}
	return nil
}

// Name implements Detector
func (d *TrendDetector) Name() string {
	return "trend"
}
