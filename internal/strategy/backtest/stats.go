package backtest

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const secondsPerYear = 365.25 * 24 * 3600

// EquityCurve is the time series of portfolio equity
type EquityCurve struct {
	Points []EquityPoint `json:"points"`
}

// Add appends a point. A point with the same timestamp as the last one
// replaces it, so several symbols sharing a bar time produce one point.
func (c *EquityCurve) Add(ts time.Time, equity float64) {
	if n := len(c.Points); n > 0 && c.Points[n-1].Timestamp.Equal(ts) {
		c.Points[n-1].Equity = equity
		return
	}
	c.Points = append(c.Points, EquityPoint{Timestamp: ts, Equity: equity})
}

// Len returns the number of points
func (c EquityCurve) Len() int {
	return len(c.Points)
}

// Empty reports whether the curve has no points
func (c EquityCurve) Empty() bool {
	return len(c.Points) == 0
}

// Equities returns the equity values
func (c EquityCurve) Equities() []float64 {
	out := make([]float64, len(c.Points))
	for i, p := range c.Points {
		out[i] = p.Equity
	}
	return out
}

// Returns returns simple per-period returns; a zero previous equity yields 0
func (c EquityCurve) Returns() []float64 {
	if len(c.Points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(c.Points)-1)
	for i := 1; i < len(c.Points); i++ {
		prev := c.Points[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (c.Points[i].Equity-prev)/prev)
	}
	return out
}

// Clone returns a deep copy
func (c EquityCurve) Clone() EquityCurve {
	points := make([]EquityPoint, len(c.Points))
	copy(points, c.Points)
	return EquityCurve{Points: points}
}

// PerformanceStats represents performance statistics
type PerformanceStats struct {
	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`
	Volatility  float64 `json:"volatility"` // 年化波动率
	Sharpe      float64 `json:"sharpe"`
	Sortino     float64 `json:"sortino"`
	Calmar      float64 `json:"calmar"`
	MaxDrawdown float64 `json:"max_drawdown"`
	VaR95       float64 `json:"var_95"`  // 正数表示损失
	CVaR95      float64 `json:"cvar_95"` // 正数表示损失
	BestReturn  float64 `json:"best_return"`
	WorstReturn float64 `json:"worst_return"`
}

// ComputeStats derives aggregate statistics from an equity curve. Curves with
// fewer than two points yield zero stats; ratios with a zero denominator are 0.
func ComputeStats(curve EquityCurve, periodsPerYear float64) PerformanceStats {
	var stats PerformanceStats
	if curve.Len() < 2 {
		return stats
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	annualize := math.Sqrt(periodsPerYear)

	first := curve.Points[0]
	last := curve.Points[curve.Len()-1]
	if first.Equity != 0 {
		stats.TotalReturn = (last.Equity - first.Equity) / first.Equity
	}
	stats.MaxDrawdown = MaxDrawdown(curve.Equities())

	returns := curve.Returns()
	stats.BestReturn = returns[0]
	stats.WorstReturn = returns[0]
	for _, r := range returns {
		stats.BestReturn = math.Max(stats.BestReturn, r)
		stats.WorstReturn = math.Min(stats.WorstReturn, r)
	}

	avg := stat.Mean(returns, nil)
	vol := sampleStdDev(returns)
	stats.Volatility = vol * annualize
	if vol > 0 {
		stats.Sharpe = avg / vol * annualize
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if downVol := sampleStdDev(downside); downVol > 0 {
		stats.Sortino = avg / downVol * annualize
	}

	years := last.Timestamp.Sub(first.Timestamp).Seconds() / secondsPerYear
	if years > 0 && 1+stats.TotalReturn >= 0 {
		stats.CAGR = math.Pow(1+stats.TotalReturn, 1/years) - 1
	}
	if stats.MaxDrawdown > 0 {
		stats.Calmar = stats.CAGR / stats.MaxDrawdown
	}

	v := percentile(returns, 0.05)
	stats.VaR95 = -v
	var tailSum float64
	var tailCount int
	for _, r := range returns {
		if r <= v {
			tailSum += r
			tailCount++
		}
	}
	if tailCount > 0 {
		stats.CVaR95 = -(tailSum / float64(tailCount))
	}

	return stats
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of the peak
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-v)/peak)
		}
	}
	return maxDD
}

func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// percentile interpolates linearly at position alpha*(n-1) of the sorted values
func percentile(values []float64, alpha float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := alpha * float64(len(sorted)-1)
	idx := int(pos)
	frac := pos - float64(idx)
	if idx+1 < len(sorted) {
		return sorted[idx]*(1-frac) + sorted[idx+1]*frac
	}
	return sorted[len(sorted)-1]
}
