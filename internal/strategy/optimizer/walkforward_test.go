package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfo/internal/market"
	"wfo/internal/regime"
	"wfo/internal/testutils"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func windowConfig(windowType WindowType, is, oos, step int) Config {
	cfg := DefaultConfig()
	cfg.WindowType = windowType
	cfg.InSample = days(is)
	cfg.OutOfSample = days(oos)
	cfg.Step = days(step)
	return cfg
}

func TestGenerateWindowsRolling(t *testing.T) {
	full := market.NewTimeRange(t0, t0.Add(days(120)))
	windows := GenerateWindows(full, windowConfig(WindowRolling, 30, 15, 15))
	require.Len(t, windows, 6)

	for i, w := range windows {
		assert.Equal(t, t0.Add(days(15*i)), w.InSample.Start)
		assert.Equal(t, w.InSample.Start.Add(days(30)), w.InSample.End)
		assert.Equal(t, w.InSample.End, w.OutOfSample.Start)
		assert.True(t, w.OutOfSample.Start.Before(full.End))
		assert.False(t, w.OutOfSample.End.After(full.End))
		if i > 0 {
			assert.True(t, w.InSample.Start.After(windows[i-1].InSample.Start))
		}
	}
}

func TestGenerateWindowsClipsLastOOS(t *testing.T) {
	full := market.NewTimeRange(t0, t0.Add(days(100)))
	windows := GenerateWindows(full, windowConfig(WindowRolling, 30, 25, 25))
	require.Len(t, windows, 3)

	last := windows[2]
	assert.Equal(t, t0.Add(days(80)), last.OutOfSample.Start)
	assert.Equal(t, full.End, last.OutOfSample.End)
}

func TestGenerateWindowsAnchored(t *testing.T) {
	full := market.NewTimeRange(t0, t0.Add(days(120)))
	windows := GenerateWindows(full, windowConfig(WindowAnchored, 30, 15, 15))
	require.Len(t, windows, 6)

	for i, w := range windows {
		assert.Equal(t, t0, w.InSample.Start)
		assert.Equal(t, t0.Add(days(15*i+30)), w.InSample.End)
		assert.Equal(t, w.InSample.End, w.OutOfSample.Start)
	}
}

func TestGenerateWindowsDegenerate(t *testing.T) {
	cfg := windowConfig(WindowRolling, 30, 15, 15)
	assert.Empty(t, GenerateWindows(market.NewTimeRange(t0, t0), cfg))
	assert.Empty(t, GenerateWindows(market.NewTimeRange(t0, t0.Add(-days(1))), cfg))
	assert.Empty(t, GenerateWindows(market.NewTimeRange(t0, t0.Add(days(30))), cfg))

	cfg.Step = 0
	assert.Len(t, GenerateWindows(market.NewTimeRange(t0, t0.Add(days(90))), cfg), 1)
}

// labelDetector reports Bear before cutoff and Bull afterwards
type labelDetector struct {
	cutoff time.Time
}

func (d *labelDetector) OnBar(bar market.Bar) regime.State {
	if bar.Timestamp.Before(d.cutoff) {
		return regime.State{Current: regime.Bear, Timestamp: bar.Timestamp}
	}
	return regime.State{Current: regime.Bull, Timestamp: bar.Timestamp}
}

func (d *labelDetector) Train([]regime.FeatureVector) error { return nil }
func (d *labelDetector) Name() string { return "label" }

func TestGenerateRegimeWindowsExtendsInSample(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	src := suite.NewMemorySource()
	src.AddBars("TEST", market.BarType1Day, testutils.RisingBars(t0, 60, 100)...)

	full := market.NewTimeRange(t0, t0.Add(days(60)))
	cfg := windowConfig(WindowRegimeAware, 10, 5, 5)
	factory := func() regime.Detector { return &labelDetector{cutoff: t0.Add(days(10))} }

	windows, err := GenerateRegimeWindows(context.Background(), full, cfg, src, factory)
	require.NoError(t, err)
	rolling := GenerateWindows(full, windowConfig(WindowRolling, 10, 5, 5))
	require.Len(t, windows, len(rolling))

	for i, w := range windows {
		assert.Equal(t, rolling[i].InSample.End, w.InSample.End)
		assert.Equal(t, rolling[i].OutOfSample, w.OutOfSample)
		switch {
		case rolling[i].InSample.Start.Before(t0.Add(days(10))):
			// 已包含熊市，或已到数据起点
			assert.Equal(t, rolling[i].InSample.Start, w.InSample.Start)
		default:
			assert.Equal(t, t0.Add(days(9)), w.InSample.Start, "window %d", i)
		}
	}
}

func TestGenerateRegimeWindowsFallsBackToRolling(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	full := market.NewTimeRange(t0, t0.Add(days(60)))
	cfg := windowConfig(WindowRegimeAware, 10, 5, 5)
	rolling := GenerateWindows(full, windowConfig(WindowRolling, 10, 5, 5))

	empty := suite.NewMemorySource()
	factory := func() regime.Detector { return regime.NewConstantDetector(regime.Bull) }

	windows, err := GenerateRegimeWindows(context.Background(), full, cfg, empty, factory)
	require.NoError(t, err)
	assert.Equal(t, rolling, windows)

	windows, err = GenerateRegimeWindows(context.Background(), full, cfg, empty, nil)
	require.NoError(t, err)
	assert.Equal(t, rolling, windows)

	src := suite.NewMemorySource()
	src.AddBars("TEST", market.BarType1Day, testutils.RisingBars(t0, 60, 100)...)
	nilDetector := func() regime.Detector { return nil }
	windows, err = GenerateRegimeWindows(context.Background(), full, cfg, src, nilDetector)
	require.NoError(t, err)
	assert.Equal(t, rolling, windows)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Step = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CONFIG")
	assert.Contains(t, err.Error(), "step")

	cfg = DefaultConfig()
	cfg.MaxISOOSRatio = 0
	assert.Error(t, cfg.Validate())
	cfg.EnableOverfittingDetection = false
	assert.NoError(t, cfg.Validate())
}

func TestParseEnums(t *testing.T) {
	w, err := ParseWindowType("regime-aware")
	require.NoError(t, err)
	assert.Equal(t, WindowRegimeAware, w)
	_, err = ParseWindowType("sliding")
	assert.Error(t, err)

	m, err := ParseSearchMethod("Bayesian")
	require.NoError(t, err)
	assert.Equal(t, SearchGuided, m)
	assert.Equal(t, "bayesian", m.String())

	var d Distribution
	require.NoError(t, d.UnmarshalText([]byte("log-uniform")))
	assert.Equal(t, DistLogUniform, d)

	var p ParamType
	require.NoError(t, p.UnmarshalText([]byte("double")))
	assert.Equal(t, ParamFloat, p)
}
