package backtest

import (
	"fmt"

	"wfo/internal/market"
)

// PositionManager tracks cash, holdings and last prices
type PositionManager struct {
	cash      float64
	positions map[market.SymbolID]float64
	prices    map[market.SymbolID]float64
	held      []market.SymbolID // 按首次成交顺序，保证权益求和顺序确定
}

// NewPositionManager creates a new position manager
func NewPositionManager(initialCapital float64) *PositionManager {
	return &PositionManager{
		cash:      initialCapital,
		positions: make(map[market.SymbolID]float64),
		prices:    make(map[market.SymbolID]float64),
	}
}

// Mark updates the last known price of symbol
func (m *PositionManager) Mark(symbol market.SymbolID, price float64) {
	m.prices[symbol] = price
}

// Apply books a fill. Buys that cost more than the available cash are rejected.
func (m *PositionManager) Apply(fill Fill) error {
	cost := fill.Quantity * fill.Price
	if fill.Quantity > 0 && cost > m.cash {
		return fmt.Errorf("insufficient cash: required %.2f, available %.2f", cost, m.cash)
	}
	m.cash -= cost
	if _, ok := m.positions[fill.Symbol]; !ok {
		m.held = append(m.held, fill.Symbol)
	}
	m.positions[fill.Symbol] += fill.Quantity
	m.prices[fill.Symbol] = fill.Price
	return nil
}

// Cash returns available cash
func (m *PositionManager) Cash() float64 {
	return m.cash
}

// Position returns the signed quantity held in symbol
func (m *PositionManager) Position(symbol market.SymbolID) float64 {
	return m.positions[symbol]
}

// Equity returns cash plus positions marked at their last price
func (m *PositionManager) Equity() float64 {
	equity := m.cash
	for _, symbol := range m.held {
		equity += m.positions[symbol] * m.prices[symbol]
	}
	return equity
}
