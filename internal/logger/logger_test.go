package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevel(t *testing.T) {
	l := NewLogger(Config{Level: LevelWarn, Format: FormatText, Output: "discard"})
	assert.Equal(t, LevelWarn, l.GetLevel())

	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, l.GetLevel())

	// unknown levels are ignored
	l.SetLevel(LogLevel("verbose"))
	assert.Equal(t, LevelDebug, l.GetLevel())
}

func TestFileOutputRotatesIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "nested", "wfo.log")

	l := NewLogger(Config{
		Level:    LevelInfo,
		Format:   FormatJSON,
		Output:   "file",
		Filename: filename,
		MaxSize:  1,
	})
	l.Info("window complete", "index", 0, "oos_fitness", 1.25)

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"window complete"`)
	assert.Contains(t, string(data), `"oos_fitness":1.25`)
}

func TestWithContextAddsRunID(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "ctx.log")
	l := NewLogger(Config{Level: LevelInfo, Format: FormatJSON, Output: "file", Filename: filename})

	ctx := ContextWithRunID(context.Background(), "run-42")
	l.WithContext(ctx).Info("started")

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"run-42"`)
}

func TestPerformanceLoggerThresholds(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "perf.log")
	l := NewLogger(Config{Level: LevelInfo, Format: FormatJSON, Output: "file", Filename: filename})

	perf := NewPerformanceLogger(l).WithThresholds(time.Millisecond, time.Hour)
	perf.LogPerformance("optimize", time.Second, map[string]interface{}{"windows": 3})

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"warning"`)
	assert.Contains(t, string(data), `"windows":3`)
}
