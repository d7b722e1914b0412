package market

import (
	"context"
	"sort"
	"sync"
)

type seriesKey struct {
	symbol  SymbolID
	barType BarType
}

// MemorySource keeps bars in memory. It is the source used by tests and by the
// CSV loader once files are parsed.
type MemorySource struct {
	registry *SymbolRegistry
	mu       sync.RWMutex
	series   map[seriesKey][]Bar
	symbols  []SymbolID
}

// NewMemorySource creates an empty in-memory source bound to registry
func NewMemorySource(registry *SymbolRegistry) *MemorySource {
	if registry == nil {
		registry = NewSymbolRegistry()
	}
	return &MemorySource{
		registry: registry,
		series:   make(map[seriesKey][]Bar),
	}
}

// Registry returns the symbol registry the source interns tickers into
func (s *MemorySource) Registry() *SymbolRegistry {
	return s.registry
}

// AddBars stores bars for ticker. Bar.Symbol is overwritten with the interned id.
func (s *MemorySource) AddBars(ticker string, barType BarType, bars ...Bar) SymbolID {
	id := s.registry.Intern(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{symbol: id, barType: barType}
	if _, exists := s.series[key]; !exists && !s.hasSymbol(id) {
		s.symbols = append(s.symbols, id)
	}
	series := s.series[key]
	for _, bar := range bars {
		bar.Symbol = id
		series = append(series, bar)
	}
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
	s.series[key] = series
	return id
}

func (s *MemorySource) hasSymbol(id SymbolID) bool {
	for _, existing := range s.symbols {
		if existing == id {
			return true
		}
	}
	return false
}

// AvailableSymbols lists symbols in insertion order
func (s *MemorySource) AvailableSymbols(ctx context.Context) ([]SymbolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SymbolInfo, 0, len(s.symbols))
	for _, id := range s.symbols {
		ticker, err := s.registry.Ticker(id)
		if err != nil {
			return nil, err
		}
		infos = append(infos, SymbolInfo{ID: id, Ticker: ticker})
	}
	return infos, nil
}

// Bars returns a copy of the bars of symbol with Start <= ts < End
func (s *MemorySource) Bars(ctx context.Context, symbol SymbolID, r TimeRange, barType BarType) ([]Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[seriesKey{symbol: symbol, barType: barType}]
	lo := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(r.Start)
	})
	hi := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(r.End)
	})
	if lo >= hi {
		return []Bar{}, nil
	}
	out := make([]Bar, hi-lo)
	copy(out, series[lo:hi])
	return out, nil
}

// Iterator merges the requested symbols in timestamp order
func (s *MemorySource) Iterator(ctx context.Context, symbols []SymbolID, r TimeRange, barType BarType) (BarIterator, error) {
	return mergedIterator(ctx, s, symbols, r, barType)
}
