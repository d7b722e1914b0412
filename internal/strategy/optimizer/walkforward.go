package optimizer

import (
	"context"
	"sort"

	"wfo/internal/market"
	"wfo/internal/regime"
)

// Window is one in-sample / out-of-sample pair
type Window struct {
	InSample    market.TimeRange `json:"in_sample"`
	OutOfSample market.TimeRange `json:"out_of_sample"`
}

// GenerateWindows lays out rolling or anchored windows over full. The
// out-of-sample range is clipped to full.End; a window whose out-of-sample
// range would start at or after full.End ends the sequence.
func GenerateWindows(full market.TimeRange, cfg Config) []Window {
	var windows []Window
	if full.Empty() || cfg.InSample <= 0 || cfg.OutOfSample <= 0 {
		return windows
	}

	for cursor := full.Start; cursor.Before(full.End); cursor = cursor.Add(cfg.Step) {
		var is market.TimeRange
		is.End = cursor.Add(cfg.InSample)
		if cfg.WindowType == WindowAnchored {
			is.Start = full.Start
		} else {
			is.Start = cursor
		}

		oos := market.TimeRange{Start: is.End, End: is.End.Add(cfg.OutOfSample)}
		if !oos.Start.Before(full.End) {
			break
		}
		if oos.End.After(full.End) {
			oos.End = full.End
		}
		windows = append(windows, Window{InSample: is, OutOfSample: oos})

		if cfg.Step <= 0 {
			break
		}
	}
	return windows
}

type labeledBar struct {
	bar    market.Bar
	regime regime.Type
}

// GenerateRegimeWindows starts from the rolling layout and extends each
// in-sample range backwards, bar by bar, until it contains every regime the
// detector reports over the first symbol's bars in full. Without a source,
// detector or bars it returns the rolling layout.
func GenerateRegimeWindows(ctx context.Context, full market.TimeRange, cfg Config, src market.DataSource, newDetector regime.Factory) ([]Window, error) {
	rolling := cfg
	rolling.WindowType = WindowRolling
	base := GenerateWindows(full, rolling)
	if src == nil || newDetector == nil || len(base) == 0 {
		return base, nil
	}

	symbols, err := src.AvailableSymbols(ctx)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return base, nil
	}
	bars, err := src.Bars(ctx, symbols[0].ID, full, cfg.BarType)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return base, nil
	}
	detector := newDetector()
	if detector == nil {
		return base, nil
	}

	labeled := make([]labeledBar, len(bars))
	present := make(map[regime.Type]struct{})
	for i, bar := range bars {
		state := detector.OnBar(bar)
		labeled[i] = labeledBar{bar: bar, regime: state.Current}
		present[state.Current] = struct{}{}
	}
	required := make([]regime.Type, 0, len(present))
	for r := range present {
		required = append(required, r)
	}
	sort.Slice(required, func(i, j int) bool { return required[i] < required[j] })

	windows := make([]Window, 0, len(base))
	for _, w := range base {
		start := sort.Search(len(labeled), func(i int) bool {
			return !labeled[i].bar.Timestamp.Before(w.InSample.Start)
		})
		end := sort.Search(len(labeled), func(i int) bool {
			return !labeled[i].bar.Timestamp.Before(w.InSample.End)
		})

		seen := make(map[regime.Type]struct{}, len(required))
		for i := start; i < end; i++ {
			seen[labeled[i].regime] = struct{}{}
		}
		for missingRegime(required, seen) && start > 0 {
			start--
			seen[labeled[start].regime] = struct{}{}
		}
		if start < len(labeled) {
			w.InSample.Start = labeled[start].bar.Timestamp
		}
		windows = append(windows, w)
	}
	return windows, nil
}

func missingRegime(required []regime.Type, seen map[regime.Type]struct{}) bool {
	for _, r := range required {
		if _, ok := seen[r]; !ok {
			return true
		}
	}
	return false
}
