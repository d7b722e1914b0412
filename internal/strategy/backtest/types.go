package backtest

import (
	"time"

	"wfo/internal/market"
	"wfo/internal/regime"
)

// Strategy is driven bar by bar by the Engine
type Strategy interface {
	// Initialize is called once before the first bar
	Initialize(ctx *StrategyContext) error
	// OnBar is called for every bar after the portfolio is marked to market
	OnBar(ctx *StrategyContext, bar market.Bar) error
}

// RegimeChangeHandler is implemented by strategies that react to regime transitions
type RegimeChangeHandler interface {
	OnRegimeChange(ctx *StrategyContext, transition regime.Transition)
}

// Order is a market order; positive Quantity buys, negative sells
type Order struct {
	Symbol    market.SymbolID
	Quantity  float64
	Submitted time.Time
}

// Fill represents an executed order
type Fill struct {
	Symbol    market.SymbolID `json:"symbol"`
	Quantity  float64         `json:"quantity"`
	Price     float64         `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// EquityPoint represents a point in the equity curve
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Results holds everything one backtest run produced
type Results struct {
	InitialCapital float64                           `json:"initial_capital"`
	FinalEquity    float64                           `json:"final_equity"`
	TotalReturn    float64                           `json:"total_return"`
	MaxDrawdown    float64                           `json:"max_drawdown"`
	Equity         EquityCurve                       `json:"equity"`
	Fills          []Fill                            `json:"fills,omitempty"`
	Rejected       int                               `json:"rejected,omitempty"`
	RegimeHistory  []regime.Transition               `json:"regime_history,omitempty"`
	Regimes        map[regime.Type]RegimePerformance `json:"regimes,omitempty"`
	Bars           int                               `json:"bars"`
}

// Stats computes the aggregate performance statistics of the equity curve
func (r *Results) Stats(periodsPerYear float64) PerformanceStats {
	return ComputeStats(r.Equity, periodsPerYear)
}

// Error types
type ErrInvalidConfig struct {
	Field   string
	Message string
}

func (e ErrInvalidConfig) Error() string {
	return "invalid config: " + e.Field + " - " + e.Message
}

type ErrBacktest struct {
	Message string
	Err     error
}

func (e ErrBacktest) Error() string {
	if e.Err != nil {
		return "backtest error: " + e.Message + ": " + e.Err.Error()
	}
	return "backtest error: " + e.Message
}

func (e ErrBacktest) Unwrap() error {
	return e.Err
}
