package backtest

import (
	"context"
	"time"

	"wfo/internal/market"
	"wfo/internal/regime"
)

// Engine runs one strategy over one time range. An Engine is single-use and
// must not be shared between goroutines.
type Engine struct {
	initialCapital float64
	detector       regime.Detector
	orderMgr       *OrderManager
	posMgr         *PositionManager
	attribution    *RegimeAttribution
}

// NewEngine creates a new backtesting engine
func NewEngine(initialCapital float64) *Engine {
	return &Engine{
		initialCapital: initialCapital,
		orderMgr:       NewOrderManager(),
		posMgr:         NewPositionManager(initialCapital),
		attribution:    NewRegimeAttribution(),
	}
}

// SetRegimeDetector attaches a detector that labels every bar
func (e *Engine) SetRegimeDetector(detector regime.Detector) {
	e.detector = detector
}

// Run drives strategy over every bar of symbols inside r
func (e *Engine) Run(ctx context.Context, src market.DataSource, strategy Strategy, r market.TimeRange, symbols []market.SymbolID, barType market.BarType) (*Results, error) {
	if src == nil {
		return nil, ErrInvalidConfig{Field: "source", Message: "data source is required"}
	}
	if strategy == nil {
		return nil, ErrInvalidConfig{Field: "strategy", Message: "strategy is required"}
	}
	if e.initialCapital < 0 {
		return nil, ErrInvalidConfig{Field: "initial_capital", Message: "must not be negative"}
	}

	it, err := src.Iterator(ctx, symbols, r, barType)
	if err != nil {
		return nil, ErrBacktest{Message: "failed to load bars", Err: err}
	}

	results := &Results{InitialCapital: e.initialCapital}
	sctx := &StrategyContext{engine: e, symbols: symbols, state: regime.NeutralState()}

	// 初始化策略
	if err := strategy.Initialize(sctx); err != nil {
		return nil, ErrBacktest{Message: "failed to initialize strategy", Err: err}
	}

	lastEquity := e.initialCapital
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, ErrBacktest{Message: "backtest cancelled", Err: err}
		}

		bar := it.Next()
		sctx.now = bar.Timestamp
		results.Bars++

		// 按收盘价估值并记录权益，归因使用本根K线之前的状态
		e.posMgr.Mark(bar.Symbol, bar.Close)
		equity := e.posMgr.Equity()
		ret := 0.0
		if lastEquity > 0 {
			ret = (equity - lastEquity) / lastEquity
		}
		lastEquity = equity
		results.Equity.Add(bar.Timestamp, equity)
		e.attribution.Update(sctx.state.Current, ret)

		if e.detector != nil {
			e.updateRegime(sctx, strategy, bar, results)
		}

		if err := strategy.OnBar(sctx, bar); err != nil {
			return nil, ErrBacktest{Message: "strategy OnBar error", Err: err}
		}

		// 撮合：市价单按本根K线收盘价成交
		for _, fill := range e.orderMgr.Match(bar) {
			if err := e.posMgr.Apply(fill); err != nil {
				results.Rejected++
				continue
			}
			results.Fills = append(results.Fills, fill)
		}
	}

	results.FinalEquity = e.posMgr.Equity()
	if e.initialCapital > 0 && results.Equity.Len() > 0 {
		results.TotalReturn = (results.FinalEquity - e.initialCapital) / e.initialCapital
	}
	results.MaxDrawdown = MaxDrawdown(results.Equity.Equities())
	results.Regimes = e.attribution.Results()
	return results, nil
}

func (e *Engine) updateRegime(sctx *StrategyContext, strategy Strategy, bar market.Bar, results *Results) {
	prev := sctx.state
	next := e.detector.OnBar(bar)
	sctx.state = next

	if len(results.RegimeHistory) > 0 && next.Current == prev.Current {
		return
	}
	transition := regime.Transition{From: prev.Current, To: next.Current, Timestamp: bar.Timestamp}
	results.RegimeHistory = append(results.RegimeHistory, transition)
	if handler, ok := strategy.(RegimeChangeHandler); ok && next.Current != prev.Current {
		handler.OnRegimeChange(sctx, transition)
	}
}

// StrategyContext is the strategy's view of the running backtest
type StrategyContext struct {
	engine  *Engine
	symbols []market.SymbolID
	state   regime.State
	now     time.Time
}

// SubmitOrder queues a market order filled at the close of symbol's current bar
func (c *StrategyContext) SubmitOrder(symbol market.SymbolID, quantity float64) {
	c.engine.orderMgr.PlaceOrder(Order{Symbol: symbol, Quantity: quantity, Submitted: c.now})
}

// Position returns the quantity held in symbol
func (c *StrategyContext) Position(symbol market.SymbolID) float64 {
	return c.engine.posMgr.Position(symbol)
}

// Cash returns available cash
func (c *StrategyContext) Cash() float64 {
	return c.engine.posMgr.Cash()
}

// Equity returns the marked-to-market portfolio value
func (c *StrategyContext) Equity() float64 {
	return c.engine.posMgr.Equity()
}

// Regime returns the latest detector state (Neutral without a detector)
func (c *StrategyContext) Regime() regime.State {
	return c.state
}

// Symbols returns the symbols being backtested
func (c *StrategyContext) Symbols() []market.SymbolID {
	return c.symbols
}

// Now returns the timestamp of the bar being processed
func (c *StrategyContext) Now() time.Time {
	return c.now
}
