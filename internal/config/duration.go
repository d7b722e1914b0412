package config

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that also accepts day suffixes like "365d"
type Duration time.Duration

// Std returns the standard library duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ParseDuration parses Go durations plus whole or fractional days ("90d", "1.5d")
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(s)
}

// UnmarshalYAML accepts a duration string or a plain number of seconds
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" || node.Tag == "!!float" {
		secs, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the Go duration form
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
