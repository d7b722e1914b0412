package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	apperrors "wfo/internal/errors"
)

// PostgresConfig holds connection settings for PostgresSource
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// PostgresSource reads bars from a market_data table:
//
//	symbol TEXT, interval TEXT, timestamp TIMESTAMPTZ,
//	open, high, low, close, volume DOUBLE PRECISION
type PostgresSource struct {
	db       *sql.DB
	table    string
	registry *SymbolRegistry
}

// OpenPostgres opens a connection pool and verifies it with a ping
func OpenPostgres(ctx context.Context, cfg PostgresConfig, registry *SymbolRegistry) (*PostgresSource, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBConnection, "failed to open database", err)
	}

	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 10 // 默认最大连接数
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 2
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = time.Hour
	}
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBConnection, "failed to ping database", err)
	}

	return NewPostgresSource(db, cfg.Table, registry)
}

// NewPostgresSource wraps an existing pool
func NewPostgresSource(db *sql.DB, table string, registry *SymbolRegistry) (*PostgresSource, error) {
	if db == nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeMissingDependency, "database handle is required", nil)
	}
	if table == "" {
		table = "market_data"
	}
	if registry == nil {
		registry = NewSymbolRegistry()
	}
	return &PostgresSource{db: db, table: table, registry: registry}, nil
}

// Close releases the connection pool
func (s *PostgresSource) Close() error {
	return s.db.Close()
}

// Registry returns the symbol registry used to intern tickers
func (s *PostgresSource) Registry() *SymbolRegistry {
	return s.registry
}

// AvailableSymbols lists distinct symbols stored in the table
func (s *PostgresSource) AvailableSymbols(ctx context.Context) ([]SymbolInfo, error) {
	query := fmt.Sprintf(`SELECT DISTINCT symbol FROM %s ORDER BY symbol`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to query symbols", err)
	}
	defer rows.Close()

	var infos []SymbolInfo
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to scan symbol", err)
		}
		infos = append(infos, SymbolInfo{ID: s.registry.Intern(ticker), Ticker: ticker})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "error iterating symbols", err)
	}
	return infos, nil
}

// Bars loads the bars of symbol with Start <= timestamp < End
func (s *PostgresSource) Bars(ctx context.Context, symbol SymbolID, r TimeRange, barType BarType) ([]Bar, error) {
	ticker, err := s.registry.Ticker(symbol)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "unknown symbol", err)
	}

	query := fmt.Sprintf(`
		SELECT timestamp, open, high, low, close, volume
		FROM %s
		WHERE symbol = $1 AND interval = $2 AND timestamp >= $3 AND timestamp < $4
		ORDER BY timestamp ASC
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query, ticker, barType.String(), r.Start, r.End)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to query bars", err).
			WithContext("symbol", ticker)
	}
	defer rows.Close()

	bars := make([]Bar, 0)
	for rows.Next() {
		bar := Bar{Symbol: symbol}
		if err := rows.Scan(&bar.Timestamp, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to scan bar", err)
		}
		bar.Timestamp = bar.Timestamp.UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "error iterating bars", err)
	}
	return bars, nil
}

// Iterator merges the requested symbols in timestamp order
func (s *PostgresSource) Iterator(ctx context.Context, symbols []SymbolID, r TimeRange, barType BarType) (BarIterator, error) {
	return mergedIterator(ctx, s, symbols, r, barType)
}
