package optimizer

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"wfo/internal/regime"
	"wfo/internal/strategy/backtest"
)

// OverfitDiagnosis is reported when the mean efficiency ratio is too low
const OverfitDiagnosis = "OOS/IS efficiency ratio below threshold"

// Analyzer computes the cross-window statistics of a finished run
type Analyzer struct {
	cfg     Config
	fitness *FitnessEvaluator
}

// NewAnalyzer creates an analyzer scoring with fitness
func NewAnalyzer(cfg Config, fitness *FitnessEvaluator) *Analyzer {
	return &Analyzer{cfg: cfg, fitness: fitness}
}

// Analyze fills the aggregate fields of results from its windows
func (a *Analyzer) Analyze(results *Results) {
	results.StitchedOOS = StitchOOS(results.Windows)
	a.analyzeOOS(results)
	a.analyzeStability(results)
	a.analyzeRegimes(results)
	if a.cfg.EnableOverfittingDetection && len(results.Windows) > 0 {
		a.analyzeOverfitting(results)
	}
}

// StitchOOS joins the out-of-sample results of every window. The first
// non-empty curve seeds the equity and regime data; total return is the sum
// and max drawdown the maximum over windows, not a compounded curve.
func StitchOOS(windows []WindowResult) *backtest.Results {
	stitched := &backtest.Results{}
	seeded := false
	for _, w := range windows {
		oos := w.OOSResults
		if oos == nil {
			continue
		}
		if !seeded && !oos.Equity.Empty() {
			stitched.InitialCapital = oos.InitialCapital
			stitched.FinalEquity = oos.FinalEquity
			stitched.Equity = oos.Equity.Clone()
			stitched.Regimes = oos.Regimes
			stitched.RegimeHistory = oos.RegimeHistory
			seeded = true
		}
		stitched.TotalReturn += oos.TotalReturn
		stitched.MaxDrawdown = math.Max(stitched.MaxDrawdown, oos.MaxDrawdown)
		stitched.Bars += oos.Bars
	}
	return stitched
}

func (a *Analyzer) analyzeOOS(results *Results) {
	n := len(results.Windows)
	if n > 0 {
		var isSum, oosSum float64
		for _, w := range results.Windows {
			isSum += w.ISFitness
			oosSum += w.OOSFitness
		}
		results.AvgISFitness = isSum / float64(n)
		results.AvgOOSFitness = oosSum / float64(n)
	}
	results.StitchedOOSFitness = a.fitness.Evaluate(results.StitchedOOS)
}

// analyzeStability records the numeric optimum of every parameter per
// window; the stability score is the population variance of that series.
func (a *Analyzer) analyzeStability(results *Results) {
	results.ParamEvolution = make(map[string][]float64)
	results.ParamStability = make(map[string]float64)
	for _, w := range results.Windows {
		for _, name := range w.OptimalParams.Names() {
			v, ok := w.OptimalParams[name].Numeric()
			if !ok {
				continue
			}
			results.ParamEvolution[name] = append(results.ParamEvolution[name], v)
		}
	}
	for name, values := range results.ParamEvolution {
		results.ParamStability[name] = stat.PopVariance(values, nil)
	}
}

// analyzeRegimes averages each regime's OOS metric over windows weighted by
// time; consistency is 1/(1+stddev) of those means, 0 below two regimes.
func (a *Analyzer) analyzeRegimes(results *Results) {
	weighted := make(map[regime.Type]float64)
	weights := make(map[regime.Type]float64)
	for _, w := range results.Windows {
		if w.OOSResults == nil {
			continue
		}
		for r, perf := range w.OOSResults.Regimes {
			weighted[r] += a.fitness.RegimeMetric(perf) * perf.TimePct
			weights[r] += perf.TimePct
		}
	}

	results.OOSFitnessByRegime = make(map[regime.Type]float64, len(weighted))
	values := make([]float64, 0, len(weighted))
	for _, r := range sortedRegimes(weighted) {
		value := 0.0
		if weights[r] > 0 {
			value = weighted[r] / weights[r]
		}
		results.OOSFitnessByRegime[r] = value
		values = append(values, value)
	}

	results.RegimeConsistency = 0
	if len(values) >= 2 {
		results.RegimeConsistency = 1 / (1 + stat.PopStdDev(values, nil))
	}
}

func (a *Analyzer) analyzeOverfitting(results *Results) {
	var sum float64
	var count int
	for _, w := range results.Windows {
		if w.ISFitness != 0 {
			sum += w.OOSFitness / w.ISFitness
			count++
		}
	}
	results.AvgEfficiencyRatio = 0
	if count > 0 {
		results.AvgEfficiencyRatio = finite(sum / float64(count))
	}
	results.PotentialOverfit = results.AvgEfficiencyRatio < 1/a.cfg.MaxISOOSRatio
	if results.PotentialOverfit {
		results.OverfitDiagnosis = OverfitDiagnosis
	}
}
