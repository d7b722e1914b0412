package regime

import (
	"fmt"
	"strings"
	"time"
)

// Type is a discrete market-condition label
type Type uint8

const (
	Bull    Type = 0
	Neutral Type = 1
	Bear    Type = 2
	Crisis  Type = 3
	Custom  Type = 255
)

// String returns the lower-case regime name
func (t Type) String() string {
	switch t {
	case Bull:
		return "bull"
	case Neutral:
		return "neutral"
	case Bear:
		return "bear"
	case Crisis:
		return "crisis"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("regime(%d)", uint8(t))
	}
}

// ParseType parses a regime name
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bull":
		return Bull, nil
	case "neutral":
		return Neutral, nil
	case "bear":
		return Bear, nil
	case "crisis":
		return Crisis, nil
	case "custom":
		return Custom, nil
	}
	return Neutral, fmt.Errorf("unknown regime %q", s)
}

// MarshalText implements encoding.TextMarshaler so regimes can key JSON maps
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// State is a detector's view of the market after one bar
type State struct {
	Current       Type      `json:"regime"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities,omitempty"` // bull, neutral, bear, crisis
	Timestamp     time.Time `json:"timestamp"`
}

// NeutralState is the state assumed before any detector output
func NeutralState() State {
	return State{Current: Neutral}
}

// Transition records a regime change
type Transition struct {
	From      Type      `json:"from"`
	To        Type      `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}
