package market

import (
	"fmt"
	"sync"
)

// SymbolRegistry interns tickers into SymbolIDs. A registry is passed to every
// data source explicitly so independent optimizer runs never share symbol state.
type SymbolRegistry struct {
	mu    sync.RWMutex
	ids   map[string]SymbolID
	names []string
}

// NewSymbolRegistry creates an empty registry
func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{ids: make(map[string]SymbolID)}
}

// Intern returns the id of ticker, assigning a new one if needed
func (r *SymbolRegistry) Intern(ticker string) SymbolID {
	r.mu.RLock()
	id, ok := r.ids[ticker]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[ticker]; ok {
		return id
	}
	id = SymbolID(len(r.names))
	r.ids[ticker] = id
	r.names = append(r.names, ticker)
	return id
}

// Lookup returns the id of an already interned ticker
func (r *SymbolRegistry) Lookup(ticker string) (SymbolID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[ticker]
	return id, ok
}

// Ticker returns the ticker for id
func (r *SymbolRegistry) Ticker(id SymbolID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.names) {
		return "", fmt.Errorf("unknown symbol id %d", id)
	}
	return r.names[id], nil
}

// Len returns the number of interned symbols
func (r *SymbolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
