package optimizer

import (
	"math"
	"sort"
	"strings"

	"wfo/internal/regime"
	"wfo/internal/strategy/backtest"
)

// Fitness metric names
const (
	MetricSharpe     = "sharpe"
	MetricSortino    = "sortino"
	MetricCalmar     = "calmar"
	MetricReturn     = "return"
	MetricDrawdown   = "drawdown"
	MetricVolatility = "volatility"
	MetricCAGR       = "cagr"
	MetricVaR        = "var"
	MetricCVaR       = "cvar"
)

// FitnessEvaluator turns backtest results into one score
type FitnessEvaluator struct {
	metric         string
	perRegime      bool
	periodsPerYear float64
}

// NewFitnessEvaluator creates an evaluator for cfg's metric
func NewFitnessEvaluator(cfg Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		metric:         strings.ToLower(strings.TrimSpace(cfg.Metric)),
		perRegime:      cfg.perRegimeFitness(),
		periodsPerYear: cfg.PeriodsPerYear,
	}
}

// Evaluate scores results. With per-regime fitness enabled and attribution
// present the score is the time-weighted mean of the per-regime metric;
// otherwise it is the metric of the whole equity curve. Unknown metrics
// score as Sharpe and degenerate curves score 0.
func (e *FitnessEvaluator) Evaluate(results *backtest.Results) float64 {
	if results == nil {
		return 0
	}
	if e.perRegime && len(results.Regimes) > 0 {
		if score, ok := e.regimeWeighted(results.Regimes); ok {
			return finite(score)
		}
	}

	stats := backtest.ComputeStats(results.Equity, e.periodsPerYear)
	var score float64
	switch e.metric {
	case MetricSortino:
		score = stats.Sortino
	case MetricCalmar:
		score = stats.Calmar
	case MetricReturn:
		score = stats.TotalReturn
	case MetricDrawdown:
		score = stats.MaxDrawdown
	case MetricVolatility:
		score = stats.Volatility
	case MetricCAGR:
		score = stats.CAGR
	case MetricVaR:
		score = stats.VaR95
	case MetricCVaR:
		score = stats.CVaR95
	default:
		score = stats.Sharpe
	}
	return finite(score)
}

// RegimeMetric returns the configured metric for one regime's performance
func (e *FitnessEvaluator) RegimeMetric(perf backtest.RegimePerformance) float64 {
	switch e.metric {
	case MetricReturn:
		return perf.TotalReturn
	case MetricDrawdown:
		return perf.MaxDrawdown
	case MetricCalmar:
		if perf.MaxDrawdown > 0 {
			return perf.TotalReturn / perf.MaxDrawdown
		}
		return 0
	default:
		return perf.Sharpe
	}
}

func (e *FitnessEvaluator) regimeWeighted(regimes map[regime.Type]backtest.RegimePerformance) (float64, bool) {
	var weighted, weights float64
	for _, r := range sortedRegimes(regimes) {
		perf := regimes[r]
		weighted += e.RegimeMetric(perf) * perf.TimePct
		weights += perf.TimePct
	}
	if weights <= 0 {
		return 0, false
	}
	return weighted / weights, true
}

func sortedRegimes[V any](m map[regime.Type]V) []regime.Type {
	out := make([]regime.Type, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
