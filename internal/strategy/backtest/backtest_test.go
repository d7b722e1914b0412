package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfo/internal/market"
	"wfo/internal/regime"
	"wfo/internal/testutils"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type buyOnce struct {
	qty    float64
	bought bool
	inits  int
}

func (s *buyOnce) Initialize(ctx *StrategyContext) error {
	s.inits++
	return nil
}

func (s *buyOnce) OnBar(ctx *StrategyContext, bar market.Bar) error {
	if !s.bought {
		ctx.SubmitOrder(bar.Symbol, s.qty)
		s.bought = true
	}
	return nil
}

type failing struct{}

func (failing) Initialize(ctx *StrategyContext) error { return nil }
func (failing) OnBar(ctx *StrategyContext, bar market.Bar) error {
	return errors.New("boom")
}

type regimeWatcher struct {
	buyOnce
	transitions []regime.Transition
}

func (s *regimeWatcher) OnRegimeChange(ctx *StrategyContext, t regime.Transition) {
	s.transitions = append(s.transitions, t)
}

func newSource(t *testing.T, bars []market.Bar) (*market.MemorySource, market.SymbolID) {
	src := market.NewMemorySource(market.NewSymbolRegistry())
	id := src.AddBars("SPY", market.BarType1Day, bars...)
	return src, id
}

func TestEngineBuyAndHold(t *testing.T) {
	src, id := newSource(t, testutils.RisingBars(day0, 10, 100))
	strategy := &buyOnce{qty: 10}

	engine := NewEngine(10000)
	res, err := engine.Run(context.Background(), src, strategy,
		market.NewTimeRange(day0, day0.AddDate(0, 0, 10)), []market.SymbolID{id}, market.BarType1Day)
	require.NoError(t, err)

	assert.Equal(t, 1, strategy.inits)
	assert.Equal(t, 10, res.Bars)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, 100.0, res.Fills[0].Price, "market orders fill at the bar close")

	// 10 units bought at 100, last close 109
	assert.InDelta(t, 10090.0, res.FinalEquity, 1e-9)
	assert.InDelta(t, 0.009, res.TotalReturn, 1e-12)
	assert.Equal(t, 0.0, res.MaxDrawdown)
	assert.Equal(t, 10, res.Equity.Len())
	assert.Equal(t, 10000.0, res.Equity.Points[0].Equity)

	perf, ok := res.Regimes[regime.Neutral]
	require.True(t, ok, "without a detector every bar is attributed to neutral")
	assert.Equal(t, 10, perf.Observations)
	assert.Equal(t, 1.0, perf.TimePct)
}

func TestEngineRejectsUnaffordableOrders(t *testing.T) {
	src, id := newSource(t, testutils.RisingBars(day0, 3, 100))
	res, err := NewEngine(50).Run(context.Background(), src, &buyOnce{qty: 1},
		market.NewTimeRange(day0, day0.AddDate(0, 0, 3)), []market.SymbolID{id}, market.BarType1Day)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 0.0, res.TotalReturn)
}

func TestEngineStrategyError(t *testing.T) {
	src, id := newSource(t, testutils.RisingBars(day0, 3, 100))
	_, err := NewEngine(1000).Run(context.Background(), src, failing{},
		market.NewTimeRange(day0, day0.AddDate(0, 0, 3)), []market.SymbolID{id}, market.BarType1Day)
	require.Error(t, err)

	var btErr ErrBacktest
	require.ErrorAs(t, err, &btErr)
	assert.Contains(t, err.Error(), "boom")
}

func TestEngineInvalidConfig(t *testing.T) {
	_, err := NewEngine(1000).Run(context.Background(), nil, &buyOnce{}, market.TimeRange{}, nil, market.BarType1Day)
	var cfgErr ErrInvalidConfig
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "source", cfgErr.Field)
}

func TestEngineRegimeDetector(t *testing.T) {
	src, id := newSource(t, testutils.RisingBars(day0, 5, 100))
	strategy := &regimeWatcher{buyOnce: buyOnce{qty: 1}}

	engine := NewEngine(1000)
	engine.SetRegimeDetector(regime.NewConstantDetector(regime.Bull))
	res, err := engine.Run(context.Background(), src, strategy,
		market.NewTimeRange(day0, day0.AddDate(0, 0, 5)), []market.SymbolID{id}, market.BarType1Day)
	require.NoError(t, err)

	require.Len(t, res.RegimeHistory, 1)
	assert.Equal(t, regime.Neutral, res.RegimeHistory[0].From)
	assert.Equal(t, regime.Bull, res.RegimeHistory[0].To)
	require.Len(t, strategy.transitions, 1)

	// first bar is attributed to the neutral state that preceded detection
	assert.Equal(t, 1, res.Regimes[regime.Neutral].Observations)
	assert.Equal(t, 4, res.Regimes[regime.Bull].Observations)
	assert.InDelta(t, 0.8, res.Regimes[regime.Bull].TimePct, 1e-12)
}

func TestEngineCancelledContext(t *testing.T) {
	src, id := newSource(t, testutils.RisingBars(day0, 3, 100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(1000).Run(ctx, src, &buyOnce{qty: 1},
		market.NewTimeRange(day0, day0.AddDate(0, 0, 3)), []market.SymbolID{id}, market.BarType1Day)
	assert.ErrorIs(t, err, context.Canceled)
}

func curveOf(values ...float64) EquityCurve {
	var c EquityCurve
	for i, v := range values {
		c.Add(day0.AddDate(0, 0, i), v)
	}
	return c
}

func TestComputeStatsDegenerate(t *testing.T) {
	assert.Equal(t, PerformanceStats{}, ComputeStats(EquityCurve{}, 252))
	assert.Equal(t, PerformanceStats{}, ComputeStats(curveOf(100), 252))

	flat := ComputeStats(curveOf(100, 100, 100), 252)
	assert.Equal(t, 0.0, flat.Sharpe)
	assert.Equal(t, 0.0, flat.Sortino)
	assert.Equal(t, 0.0, flat.Calmar)
	assert.False(t, math.IsNaN(flat.CAGR))
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(curveOf(100, 110, 99, 108.9), 252)

	assert.InDelta(t, 0.089, stats.TotalReturn, 1e-12)
	assert.InDelta(t, 0.1, stats.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0.1, stats.BestReturn, 1e-12)
	assert.InDelta(t, -0.1, stats.WorstReturn, 1e-12)

	// returns are [0.1, -0.1, 0.1]
	mean := 0.1 / 3
	sd := math.Sqrt((2*math.Pow(0.1-mean, 2) + math.Pow(-0.1-mean, 2)) / 2)
	assert.InDelta(t, mean/sd*math.Sqrt(252), stats.Sharpe, 1e-9)
	assert.InDelta(t, sd*math.Sqrt(252), stats.Volatility, 1e-9)
	assert.Equal(t, 0.0, stats.Sortino, "a single negative return has no downside deviation")

	// 5th percentile at position 0.1 between -0.1 and 0.1
	assert.InDelta(t, -(-0.1*0.9 + 0.1*0.1), stats.VaR95, 1e-12)
	assert.InDelta(t, 0.1, stats.CVaR95, 1e-12)
	assert.Greater(t, stats.CAGR, 0.0)
	assert.InDelta(t, stats.CAGR/0.1, stats.Calmar, 1e-9)
}

func TestEquityCurveCollapsesSameTimestamp(t *testing.T) {
	var c EquityCurve
	c.Add(day0, 100)
	c.Add(day0, 101)
	c.Add(day0.AddDate(0, 0, 1), 102)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []float64{101, 102}, c.Equities())

	clone := c.Clone()
	clone.Points[0].Equity = 0
	assert.Equal(t, 101.0, c.Points[0].Equity)
}

func TestRegimeAttribution(t *testing.T) {
	a := NewRegimeAttribution()
	a.Update(regime.Bull, 0.1)
	a.Update(regime.Bull, -0.05)
	a.Update(regime.Bear, 0.02)

	results := a.Results()
	bull := results[regime.Bull]
	assert.InDelta(t, 0.05, bull.TotalReturn, 1e-12)
	assert.InDelta(t, 0.025, bull.AvgReturn, 1e-12)
	assert.InDelta(t, 0.05, bull.MaxDrawdown, 1e-12)
	assert.InDelta(t, 2.0/3.0, bull.TimePct, 1e-12)

	sd := math.Sqrt((math.Pow(0.075, 2) + math.Pow(0.075, 2)) / 1)
	assert.InDelta(t, 0.025/sd, bull.Sharpe, 1e-9)

	bear := results[regime.Bear]
	assert.Equal(t, 0.0, bear.Sharpe, "one observation has no deviation")
	assert.Equal(t, 3, a.Observations())
}
