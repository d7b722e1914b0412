package regime

import (
	"wfo/internal/market"
)

// Detector labels bars with market regimes. Detectors are stateful and are
// used by a single backtest at a time.
type Detector interface {
	// OnBar consumes one bar and returns the regime after it
	OnBar(bar market.Bar) State
	// Train fits the detector to feature vectors extracted from history
	Train(features []FeatureVector) error
	// Name identifies the detector in logs and reports
	Name() string
}

// Factory builds a fresh detector
type Factory func() Detector

// ConstantDetector reports the same regime for every bar
type ConstantDetector struct {
	regime  Type
	trained int
}

// NewConstantDetector creates a detector that always reports regime
func NewConstantDetector(regime Type) *ConstantDetector {
	return &ConstantDetector{regime: regime}
}

// OnBar returns the configured regime with full confidence
func (d *ConstantDetector) OnBar(bar market.Bar) State {
	probs := make([]float64, 4)
	if int(d.regime) < len(probs) {
		probs[d.regime] = 1
	}
	return State{
		Current:       d.regime,
		Confidence:    1,
		Probabilities: probs,
		Timestamp:     bar.Timestamp,
	}
}

// Train records the call; there is nothing to fit
func (d *ConstantDetector) Train(features []FeatureVector) error {
	d.trained++
	return nil
}

// TrainCount returns how many times Train was called
func (d *ConstantDetector) TrainCount() int {
	return d.trained
}

// Name implements Detector
func (d *ConstantDetector) Name() string {
	return "constant:" + d.regime.String()
}
