package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "wfo/internal/errors"
)

var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadCSV reads bars for ticker from r into src. The expected columns are
// timestamp,open,high,low,close[,volume]; a header row is skipped when its
// first field is not a timestamp.
func LoadCSV(r io.Reader, src *MemorySource, ticker string, barType BarType) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []Bar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return 0, apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "failed to read csv", err).
				WithContext("ticker", ticker).WithContext("line", line)
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		bar, err := parseRecord(record)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return 0, apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "invalid csv row", err).
				WithContext("ticker", ticker).WithContext("line", line)
		}
		bars = append(bars, bar)
	}

	src.AddBars(ticker, barType, bars...)
	return len(bars), nil
}

// LoadCSVDir loads every *.csv file in dir, using the file name without
// extension as the ticker.
func LoadCSVDir(dir string, src *MemorySource, barType BarType) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return 0, fmt.Errorf("failed to list csv files: %w", err)
	}
	if len(paths) == 0 {
		return 0, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeMarketDataUnavailable, "no csv files found", dir, nil)
	}

	total := 0
	for _, path := range paths {
		n, err := LoadCSVFile(path, src, barType)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// LoadCSVFile loads one csv file, using the file name without extension as the ticker
func LoadCSVFile(path string, src *MemorySource, barType BarType) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeMarketDataUnavailable, "failed to open csv", path, err)
	}
	defer f.Close()

	ticker := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return LoadCSV(f, src, ticker, barType)
}

func parseRecord(record []string) (Bar, error) {
	if len(record) < 5 {
		return Bar{}, fmt.Errorf("expected at least 5 columns, got %d", len(record))
	}

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return Bar{}, err
	}

	values := make([]float64, 5)
	for i := 1; i < len(record) && i <= 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("column %d: %w", i, err)
		}
		values[i-1] = v
	}

	return Bar{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
