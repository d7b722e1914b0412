package backtest

import (
	"wfo/internal/market"
)

// OrderManager holds pending market orders until their symbol's next bar
type OrderManager struct {
	pending map[market.SymbolID][]Order
}

// NewOrderManager creates a new order manager
func NewOrderManager() *OrderManager {
	return &OrderManager{
		pending: make(map[market.SymbolID][]Order),
	}
}

// PlaceOrder queues a market order; zero quantities are ignored
func (m *OrderManager) PlaceOrder(order Order) {
	if order.Quantity == 0 {
		return
	}
	m.pending[order.Symbol] = append(m.pending[order.Symbol], order)
}

// Pending returns the number of queued orders for symbol
func (m *OrderManager) Pending(symbol market.SymbolID) int {
	return len(m.pending[symbol])
}

// Match fills every pending order of bar.Symbol at the bar close, in
// submission order
func (m *OrderManager) Match(bar market.Bar) []Fill {
	orders := m.pending[bar.Symbol]
	if len(orders) == 0 {
		return nil
	}
	delete(m.pending, bar.Symbol)

	fills := make([]Fill, 0, len(orders))
	for _, order := range orders {
		fills = append(fills, Fill{
			Symbol:    order.Symbol,
			Quantity:  order.Quantity,
			Price:     bar.Close,
			Timestamp: bar.Timestamp,
		})
	}
	return fills
}
