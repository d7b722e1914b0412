package backtest

import (
	"math"

	"wfo/internal/regime"
)

// RegimePerformance summarises the returns observed while one regime was active
type RegimePerformance struct {
	TotalReturn  float64 `json:"total_return"` // 区间收益率之和
	AvgReturn    float64 `json:"avg_return"`
	Sharpe       float64 `json:"sharpe"` // 未年化
	MaxDrawdown  float64 `json:"max_drawdown"`
	Observations int     `json:"observations"`
	TimePct      float64 `json:"time_pct"`
}

type regimeStats struct {
	sum          float64
	sumSq        float64
	equity       float64
	peak         float64
	maxDD        float64
	observations int
}

// RegimeAttribution accumulates per-regime return statistics
type RegimeAttribution struct {
	stats    map[regime.Type]*regimeStats
	totalObs int
}

// NewRegimeAttribution creates an empty attribution
func NewRegimeAttribution() *RegimeAttribution {
	return &RegimeAttribution{stats: make(map[regime.Type]*regimeStats)}
}

// Update records one period return observed under r
func (a *RegimeAttribution) Update(r regime.Type, ret float64) {
	s, ok := a.stats[r]
	if !ok {
		s = &regimeStats{equity: 1, peak: 1}
		a.stats[r] = s
	}
	s.sum += ret
	s.sumSq += ret * ret
	s.equity *= 1 + ret
	s.peak = math.Max(s.peak, s.equity)
	if s.peak > 0 {
		s.maxDD = math.Max(s.maxDD, (s.peak-s.equity)/s.peak)
	}
	s.observations++
	a.totalObs++
}

// Results returns a snapshot of per-regime performance
func (a *RegimeAttribution) Results() map[regime.Type]RegimePerformance {
	out := make(map[regime.Type]RegimePerformance, len(a.stats))
	for r, s := range a.stats {
		perf := RegimePerformance{
			TotalReturn:  s.sum,
			MaxDrawdown:  s.maxDD,
			Observations: s.observations,
		}
		n := float64(s.observations)
		if s.observations > 0 {
			perf.AvgReturn = s.sum / n
		}
		if s.observations > 1 {
			variance := (s.sumSq - s.sum*s.sum/n) / (n - 1)
			if variance > 0 {
				perf.Sharpe = perf.AvgReturn / math.Sqrt(variance)
			}
		}
		if a.totalObs > 0 {
			perf.TimePct = n / float64(a.totalObs)
		}
		out[r] = perf
	}
	return out
}

// Observations returns the total number of recorded periods
func (a *RegimeAttribution) Observations() int {
	return a.totalObs
}
