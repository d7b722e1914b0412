package regime

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"wfo/internal/market"
)

// FeatureVector is one observation passed to Detector.Train
type FeatureVector []float64

// FeatureType selects a value produced by FeatureExtractor
type FeatureType int

const (
	FeatureReturn FeatureType = iota
	FeatureLogReturn
	FeatureVolatility
	FeatureVolume
	FeatureVolumeZScore
	FeatureRange
	FeatureOnBalanceVolume
)

// DefaultFeatureWindow is the rolling window used for volatility and z-scores
const DefaultFeatureWindow = 20

// FeatureExtractor turns bars into feature vectors over a rolling window
type FeatureExtractor struct {
	window    int
	features  []FeatureType
	lastClose float64
	returns   []float64
	volumes   []float64
	obv       float64
}

// NewFeatureExtractor creates an extractor. A non-positive window uses
// DefaultFeatureWindow and an empty feature list uses Return and Volatility.
func NewFeatureExtractor(window int, features ...FeatureType) *FeatureExtractor {
	if window <= 0 {
		window = DefaultFeatureWindow
	}
	if len(features) == 0 {
		features = []FeatureType{FeatureReturn, FeatureVolatility}
	}
	return &FeatureExtractor{window: window, features: features}
}

// Features returns the configured feature order
func (e *FeatureExtractor) Features() []FeatureType {
	return e.features
}

// OnBar updates the rolling state and returns the features of bar
func (e *FeatureExtractor) OnBar(bar market.Bar) FeatureVector {
	var ret, logRet float64
	if e.lastClose > 0 {
		ret = (bar.Close - e.lastClose) / e.lastClose
		if bar.Close > 0 {
			logRet = math.Log(bar.Close / e.lastClose)
		}
	}
	e.lastClose = bar.Close

	e.returns = pushWindow(e.returns, ret, e.window)
	e.volumes = pushWindow(e.volumes, bar.Volume, e.window)

	switch {
	case ret > 0:
		e.obv += bar.Volume
	case ret < 0:
		e.obv -= bar.Volume
	}

	vol := e.volatility()
	values := make(FeatureVector, len(e.features))
	for i, f := range e.features {
		switch f {
		case FeatureReturn:
			values[i] = ret
		case FeatureLogReturn:
			values[i] = logRet
		case FeatureVolatility:
			values[i] = vol
		case FeatureVolume:
			values[i] = bar.Volume
		case FeatureVolumeZScore:
			values[i] = zscore(e.volumes, bar.Volume)
		case FeatureRange:
			values[i] = bar.High - bar.Low
		case FeatureOnBalanceVolume:
			values[i] = e.obv
		}
	}
	return values
}

func (e *FeatureExtractor) volatility() float64 {
	if len(e.returns) < 2 {
		return 0
	}
	return stat.StdDev(e.returns, nil)
}

func pushWindow(series []float64, v float64, window int) []float64 {
	series = append(series, v)
	if len(series) > window {
		series = series[len(series)-window:]
	}
	return series
}

func zscore(series []float64, v float64) float64 {
	if len(series) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(series, nil)
	if std == 0 {
		return 0
	}
	return (v - mean) / std
}

// ExtractFeatures runs a fresh default extractor over bars in order
func ExtractFeatures(it market.BarIterator) []FeatureVector {
	extractor := NewFeatureExtractor(DefaultFeatureWindow)
	var out []FeatureVector
	for it.HasNext() {
		if v := extractor.OnBar(it.Next()); len(v) > 0 {
			out = append(out, v)
		}
	}
	return out
}
