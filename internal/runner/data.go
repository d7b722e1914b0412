package runner

import (
	"context"
	"io"
	"os"
	"time"

	"wfo/internal/config"
	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/market"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenSource builds the data source described by cfg. The returned closer
// releases database connections and is never nil.
func OpenSource(ctx context.Context, cfg config.DataConfig, log logger.Logger) (market.DataSource, io.Closer, error) {
	registry := market.NewSymbolRegistry()

	switch cfg.Kind {
	case "csv":
		src := market.NewMemorySource(registry)
		info, err := os.Stat(cfg.Path)
		if err != nil {
			return nil, nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeMarketDataUnavailable,
				"data path not found", cfg.Path, err)
		}
		var n int
		if info.IsDir() {
			n, err = market.LoadCSVDir(cfg.Path, src, cfg.BarType)
		} else {
			n, err = market.LoadCSVFile(cfg.Path, src, cfg.BarType)
		}
		if err != nil {
			return nil, nil, err
		}
		log.Info("Loaded csv bars", "path", cfg.Path, "bars", n, "symbols", registry.Len())
		return market.NewFilteredSource(src, cfg.Symbols), nopCloser{}, nil

	case "postgres":
		pg, err := market.OpenPostgres(ctx, market.PostgresConfig{
			DSN:             cfg.DSN,
			Table:           cfg.Table,
			MaxOpen:         cfg.MaxOpen,
			MaxIdle:         cfg.MaxIdle,
			ConnMaxLifetime: time.Hour,
		}, registry)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Connected to market database", "table", cfg.Table)
		return market.NewFilteredSource(pg, cfg.Symbols), pg, nil

	case "memory":
		return market.NewFilteredSource(market.NewMemorySource(registry), cfg.Symbols), nopCloser{}, nil

	default:
		return nil, nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"unknown data kind", cfg.Kind, nil).WithContext("field", "data.kind")
	}
}

// DataRange returns the span covered by every symbol of src: from the
// earliest bar to one bar after the latest.
func DataRange(ctx context.Context, src market.DataSource, barType market.BarType) (market.TimeRange, error) {
	symbols, err := src.AvailableSymbols(ctx)
	if err != nil {
		return market.TimeRange{}, err
	}
	all := market.NewTimeRange(time.Unix(0, 0).UTC(), time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))

	var first, last time.Time
	for _, s := range symbols {
		bars, err := src.Bars(ctx, s.ID, all, barType)
		if err != nil {
			return market.TimeRange{}, err
		}
		if len(bars) == 0 {
			continue
		}
		if first.IsZero() || bars[0].Timestamp.Before(first) {
			first = bars[0].Timestamp
		}
		if end := bars[len(bars)-1].Timestamp; end.After(last) {
			last = end
		}
	}
	if first.IsZero() {
		return market.TimeRange{}, apperrors.NewAppError(apperrors.ErrCodeMarketDataUnavailable, "no bars available", nil).
			WithContext("bar_type", barType.String())
	}
	return market.NewTimeRange(first, last.Add(barType.Duration())), nil
}
