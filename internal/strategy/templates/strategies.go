package templates

import (
	"fmt"
	"math"

	"github.com/cinar/indicator"

	"wfo/internal/market"
	"wfo/internal/regime"
	"wfo/internal/strategy/backtest"
)

// QtyStrategy buys Qty units of each symbol on the symbol's first bar
type QtyStrategy struct {
	Qty    float64
	bought map[market.SymbolID]bool
}

func NewQtyStrategy(qty float64) *QtyStrategy {
	return &QtyStrategy{Qty: qty}
}

func (s *QtyStrategy) Initialize(ctx *backtest.StrategyContext) error {
	s.bought = make(map[market.SymbolID]bool)
	return nil
}

func (s *QtyStrategy) OnBar(ctx *backtest.StrategyContext, bar market.Bar) error {
	if s.bought[bar.Symbol] {
		return nil
	}
	s.bought[bar.Symbol] = true
	ctx.SubmitOrder(bar.Symbol, s.Qty)
	return nil
}

// BuyAndHold spends Fraction of the starting equity, split evenly across symbols
type BuyAndHold struct {
	Fraction float64
	budget   float64
	bought   map[market.SymbolID]bool
}

func NewBuyAndHold(fraction float64) *BuyAndHold {
	return &BuyAndHold{Fraction: fraction}
}

func (s *BuyAndHold) Initialize(ctx *backtest.StrategyContext) error {
	s.bought = make(map[market.SymbolID]bool)
	if n := len(ctx.Symbols()); n > 0 {
		s.budget = ctx.Equity() * s.Fraction / float64(n)
	}
	return nil
}

func (s *BuyAndHold) OnBar(ctx *backtest.StrategyContext, bar market.Bar) error {
	if s.bought[bar.Symbol] || bar.Close <= 0 {
		return nil
	}
	s.bought[bar.Symbol] = true
	if qty := math.Floor(s.budget / bar.Close); qty > 0 {
		ctx.SubmitOrder(bar.Symbol, qty)
	}
	return nil
}

// 危机状态处理方式
const (
	CrisisHold = "hold"
	CrisisFlat = "flat"
)

// MACrossConfig 均线交叉参数
type MACrossConfig struct {
	Fast   int
	Slow   int
	Qty    float64
	Crisis string // hold 或 flat
}

// MACross goes long Qty when the fast SMA crosses above the slow SMA and
// exits on the opposite cross. With Crisis=flat every position is closed
// when the regime turns to crisis.
type MACross struct {
	config MACrossConfig
	closes map[market.SymbolID][]float64
	above  map[market.SymbolID]bool
	primed map[market.SymbolID]bool
}

// NewMACross validates config and creates the strategy
func NewMACross(config MACrossConfig) (*MACross, error) {
	if config.Fast <= 0 || config.Slow <= 0 {
		return nil, fmt.Errorf("moving average periods must be positive: fast=%d slow=%d", config.Fast, config.Slow)
	}
	if config.Fast >= config.Slow {
		return nil, fmt.Errorf("fast period %d must be below slow period %d", config.Fast, config.Slow)
	}
	if config.Qty <= 0 {
		return nil, fmt.Errorf("qty must be positive, got %v", config.Qty)
	}
	if config.Crisis == "" {
		config.Crisis = CrisisHold
	}
	if config.Crisis != CrisisHold && config.Crisis != CrisisFlat {
		return nil, fmt.Errorf("unknown crisis mode %q", config.Crisis)
	}
	return &MACross{config: config}, nil
}

func (s *MACross) Initialize(ctx *backtest.StrategyContext) error {
	s.closes = make(map[market.SymbolID][]float64)
	s.above = make(map[market.SymbolID]bool)
	s.primed = make(map[market.SymbolID]bool)
	return nil
}

func (s *MACross) OnBar(ctx *backtest.StrategyContext, bar market.Bar) error {
	closes := append(s.closes[bar.Symbol], bar.Close)
	if len(closes) > s.config.Slow {
		closes = closes[len(closes)-s.config.Slow:]
	}
	s.closes[bar.Symbol] = closes
	if len(closes) < s.config.Slow {
		return nil
	}

	fast := indicator.Sma(s.config.Fast, closes)
	slow := indicator.Sma(s.config.Slow, closes)
	above := fast[len(fast)-1] > slow[len(slow)-1]

	// 首次计算只记录方向，不交易
	if !s.primed[bar.Symbol] {
		s.primed[bar.Symbol] = true
		s.above[bar.Symbol] = above
		return nil
	}
	if above == s.above[bar.Symbol] {
		return nil
	}
	s.above[bar.Symbol] = above

	position := ctx.Position(bar.Symbol)
	switch {
	case above && position == 0:
		if s.config.Crisis == CrisisFlat && ctx.Regime().Current == regime.Crisis {
			return nil
		}
		ctx.SubmitOrder(bar.Symbol, s.config.Qty)
	case !above && position > 0:
		ctx.SubmitOrder(bar.Symbol, -position)
	}
	return nil
}

// OnRegimeChange closes every position on entering crisis when configured to
func (s *MACross) OnRegimeChange(ctx *backtest.StrategyContext, transition regime.Transition) {
	if s.config.Crisis != CrisisFlat || transition.To != regime.Crisis {
		return
	}
	for _, symbol := range ctx.Symbols() {
		if position := ctx.Position(symbol); position > 0 {
			ctx.SubmitOrder(symbol, -position)
		}
	}
}
