package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "wfo/internal/errors"
)

// DefaultEnvPrefix is prepended to every environment key
const DefaultEnvPrefix = "WFO_"

// EnvManager manages environment variable configuration
type EnvManager struct {
	prefix string
}

// NewEnvManager creates a new environment variable manager
func NewEnvManager(prefix string) *EnvManager {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvManager{prefix: prefix}
}

// Prefix returns the key prefix
func (em *EnvManager) Prefix() string {
	return em.prefix
}

// GetString gets a string environment variable
func (em *EnvManager) GetString(key string, defaultValue string) string {
	value := os.Getenv(em.prefix + strings.ToUpper(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetInt gets an integer environment variable
func (em *EnvManager) GetInt(key string, defaultValue int) int {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

// GetFloat gets a float environment variable
func (em *EnvManager) GetFloat(key string, defaultValue float64) float64 {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

// GetBool gets a boolean environment variable
func (em *EnvManager) GetBool(key string, defaultValue bool) bool {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}
	return defaultValue
}

// GetDuration gets a duration environment variable; "d" suffixes are days
func (em *EnvManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// LoadFromFile loads a dotenv file without overriding variables already set
func (em *EnvManager) LoadFromFile(filename string) error {
	if err := godotenv.Load(filename); err != nil {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"failed to load env file", filename, err)
	}
	return nil
}

// ValidateRequired checks if all required environment variables are set
func (em *EnvManager) ValidateRequired(required []string) error {
	var missing []string
	for _, key := range required {
		envKey := em.prefix + strings.ToUpper(key)
		if os.Getenv(envKey) == "" {
			missing = append(missing, envKey)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeMissingDependency,
			"missing required environment variables", strings.Join(missing, ", "), nil)
	}
	return nil
}
