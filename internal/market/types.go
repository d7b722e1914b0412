package market

import (
	"fmt"
	"strings"
	"time"
)

// SymbolID is a compact handle for an interned ticker
type SymbolID uint32

// BarType 表示K线周期
type BarType int

const (
	BarType1Min BarType = iota
	BarType5Min
	BarType15Min
	BarType1Hour
	BarType4Hour
	BarType1Day
	BarType1Week
)

var barTypeNames = map[BarType]string{
	BarType1Min:  "1m",
	BarType5Min:  "5m",
	BarType15Min: "15m",
	BarType1Hour: "1h",
	BarType4Hour: "4h",
	BarType1Day:  "1d",
	BarType1Week: "1w",
}

// String returns the interval label used in storage ("1d", "1h", ...)
func (b BarType) String() string {
	if name, ok := barTypeNames[b]; ok {
		return name
	}
	return fmt.Sprintf("bartype(%d)", int(b))
}

// Duration returns the nominal length of one bar
func (b BarType) Duration() time.Duration {
	switch b {
	case BarType1Min:
		return time.Minute
	case BarType5Min:
		return 5 * time.Minute
	case BarType15Min:
		return 15 * time.Minute
	case BarType1Hour:
		return time.Hour
	case BarType4Hour:
		return 4 * time.Hour
	case BarType1Week:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ParseBarType parses an interval label
func ParseBarType(s string) (BarType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for bt, name := range barTypeNames {
		if name == s {
			return bt, nil
		}
	}
	switch s {
	case "day", "daily":
		return BarType1Day, nil
	case "hour", "hourly":
		return BarType1Hour, nil
	}
	return BarType1Day, fmt.Errorf("unknown bar type %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (b BarType) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *BarType) UnmarshalText(text []byte) error {
	bt, err := ParseBarType(string(text))
	if err != nil {
		return err
	}
	*b = bt
	return nil
}

// Bar represents an OHLCV data point for one symbol
type Bar struct {
	Symbol    SymbolID  `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// TimeRange is a half-open interval [Start, End)
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange creates a time range
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start, End: end}
}

// Duration returns End - Start
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Empty reports whether the range contains no instant
func (r TimeRange) Empty() bool {
	return !r.Start.Before(r.End)
}

// Contains reports whether t lies in [Start, End)
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// ContainsInclusive reports whether t lies in [Start, End]
func (r TimeRange) ContainsInclusive(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// SymbolInfo describes a tradable symbol known to a data source
type SymbolInfo struct {
	ID     SymbolID `json:"id"`
	Ticker string   `json:"ticker"`
}
