package market

import (
	"context"
	"sort"
)

// DataSource provides historical bars. Implementations must be safe for
// concurrent use because trials read from one source in parallel.
type DataSource interface {
	// AvailableSymbols lists every symbol the source can serve
	AvailableSymbols(ctx context.Context) ([]SymbolInfo, error)
	// Bars returns the bars of one symbol inside r ordered by timestamp
	Bars(ctx context.Context, symbol SymbolID, r TimeRange, barType BarType) ([]Bar, error)
	// Iterator merges the bars of several symbols in timestamp order
	Iterator(ctx context.Context, symbols []SymbolID, r TimeRange, barType BarType) (BarIterator, error)
}

// BarIterator walks bars in time order
type BarIterator interface {
	HasNext() bool
	Next() Bar
	Reset()
}

// SliceIterator iterates over a pre-sorted slice of bars
type SliceIterator struct {
	bars    []Bar
	current int
}

// NewSliceIterator creates an iterator over bars. The slice is not copied.
func NewSliceIterator(bars []Bar) *SliceIterator {
	return &SliceIterator{bars: bars}
}

// HasNext returns true if more bars remain
func (it *SliceIterator) HasNext() bool {
	return it.current < len(it.bars)
}

// Next returns the next bar. It must only be called after HasNext returned true.
func (it *SliceIterator) Next() Bar {
	bar := it.bars[it.current]
	it.current++
	return bar
}

// Reset rewinds the iterator
func (it *SliceIterator) Reset() {
	it.current = 0
}

// Len returns the total number of bars
func (it *SliceIterator) Len() int {
	return len(it.bars)
}

// MergeBars combines per-symbol bar slices into one slice ordered by timestamp,
// breaking ties by the order of the input slices.
func MergeBars(perSymbol [][]Bar) []Bar {
	total := 0
	for _, bars := range perSymbol {
		total += len(bars)
	}

	type tagged struct {
		bar   Bar
		order int
	}
	merged := make([]tagged, 0, total)
	for i, bars := range perSymbol {
		for _, bar := range bars {
			merged = append(merged, tagged{bar: bar, order: i})
		}
	}
	sort.SliceStable(merged, func(a, b int) bool {
		ta, tb := merged[a].bar.Timestamp, merged[b].bar.Timestamp
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return merged[a].order < merged[b].order
	})

	out := make([]Bar, len(merged))
	for i, t := range merged {
		out[i] = t.bar
	}
	return out
}

// mergedIterator builds an iterator by loading each symbol through src.Bars
func mergedIterator(ctx context.Context, src DataSource, symbols []SymbolID, r TimeRange, barType BarType) (BarIterator, error) {
	perSymbol := make([][]Bar, 0, len(symbols))
	for _, id := range symbols {
		bars, err := src.Bars(ctx, id, r, barType)
		if err != nil {
			return nil, err
		}
		perSymbol = append(perSymbol, bars)
	}
	return NewSliceIterator(MergeBars(perSymbol)), nil
}

// FilteredSource restricts AvailableSymbols of a source to a ticker list
type FilteredSource struct {
	DataSource
	tickers map[string]struct{}
}

// NewFilteredSource returns src unchanged when tickers is empty
func NewFilteredSource(src DataSource, tickers []string) DataSource {
	if len(tickers) == 0 {
		return src
	}
	set := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		set[t] = struct{}{}
	}
	return &FilteredSource{DataSource: src, tickers: set}
}

// AvailableSymbols lists the wrapped source's symbols that pass the filter
func (s *FilteredSource) AvailableSymbols(ctx context.Context) ([]SymbolInfo, error) {
	infos, err := s.DataSource.AvailableSymbols(ctx)
	if err != nil {
		return nil, err
	}
	out := infos[:0:0]
	for _, info := range infos {
		if _, ok := s.tickers[info.Ticker]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}
