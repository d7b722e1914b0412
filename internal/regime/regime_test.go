package regime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfo/internal/market"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64) market.Bar {
	return market.Bar{
		Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
		Open:      close,
		High:      close * 1.01,
		Low:       close * 0.99,
		Close:     close,
		Volume:    100 + float64(i),
	}
}

func TestTypeTextRoundTrip(t *testing.T) {
	data, err := json.Marshal(map[Type]float64{Bull: 0.25, Crisis: 0.75})
	require.NoError(t, err)
	assert.JSONEq(t, `{"bull":0.25,"crisis":0.75}`, string(data))

	var decoded map[Type]float64
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 0.75, decoded[Crisis])

	_, err = ParseType("sideways")
	assert.Error(t, err)
}

func TestFeatureExtractorDefaults(t *testing.T) {
	e := NewFeatureExtractor(0)
	assert.Equal(t, []FeatureType{FeatureReturn, FeatureVolatility}, e.Features())

	first := e.OnBar(bar(0, 100))
	require.Len(t, first, 2)
	assert.Equal(t, 0.0, first[0], "no previous close")
	assert.Equal(t, 0.0, first[1])

	second := e.OnBar(bar(1, 110))
	assert.InDelta(t, 0.1, second[0], 1e-12)
	// returns window is [0, 0.1]
	assert.InDelta(t, 0.0707106781, second[1], 1e-9)
}

func TestFeatureExtractorWindowAndExtras(t *testing.T) {
	e := NewFeatureExtractor(3, FeatureLogReturn, FeatureRange, FeatureVolume, FeatureOnBalanceVolume)
	e.OnBar(bar(0, 100))
	v := e.OnBar(bar(1, 90))

	assert.Less(t, v[0], 0.0)
	assert.InDelta(t, 90*0.02, v[1], 1e-9)
	assert.Equal(t, 101.0, v[2])
	assert.Equal(t, -101.0, v[3])

	for i := 2; i < 10; i++ {
		e.OnBar(bar(i, 100))
	}
	assert.Len(t, e.returns, 3)
}

func TestExtractFeatures(t *testing.T) {
	bars := []market.Bar{bar(0, 1), bar(1, 2), bar(2, 3)}
	features := ExtractFeatures(market.NewSliceIterator(bars))
	assert.Len(t, features, 3)
}

func TestConstantDetector(t *testing.T) {
	d := NewConstantDetector(Bear)
	state := d.OnBar(bar(0, 1))
	assert.Equal(t, Bear, state.Current)
	assert.Equal(t, 1.0, state.Probabilities[Bear])
	assert.Equal(t, "constant:bear", d.Name())

	require.NoError(t, d.Train(nil))
	assert.Equal(t, 1, d.TrainCount())

	custom := NewConstantDetector(Custom).OnBar(bar(0, 1))
	assert.Equal(t, Custom, custom.Current)
}

func cycle(phaseLen int) []market.Bar {
	bars := make([]market.Bar, 0, phaseLen*3)
	price := 100.0
	for phase := 0; phase < 3; phase++ {
		for i := 0; i < phaseLen; i++ {
			switch phase {
			case 0:
				price *= 1.01
			case 1:
				if i%2 == 0 {
					price *= 1.08
				} else {
					price *= 0.92
				}
			default:
				price *= 0.99
			}
			bars = append(bars, bar(len(bars), price))
		}
	}
	return bars
}

func TestTrendDetectorClassifiesPhases(t *testing.T) {
	d := NewTrendDetector(TrendConfig{})
	bars := cycle(40)

	seen := map[Type]int{}
	var states []State
	for _, b := range bars {
		s := d.OnBar(b)
		states = append(states, s)
		seen[s.Current]++
	}

	assert.Equal(t, Neutral, states[0].Current, "warm-up is neutral")
	assert.Equal(t, Bull, states[39].Current)
	assert.Equal(t, Crisis, states[79].Current)
	assert.Equal(t, Bear, states[119].Current)
	assert.Len(t, seen, 4)

	sum := 0.0
	for _, p := range states[39].Probabilities {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestTrendDetectorTrain(t *testing.T) {
	d := NewTrendDetector(DefaultTrendConfig())

	features := []FeatureVector{{0.01, 0.01}, {-0.03, 0.02}, {0.02, 0.03}, {0, 0.2}}
	require.NoError(t, d.Train(features))

	cfg := d.Config()
	assert.InDelta(t, 0.015*2, cfg.TrendThreshold, 1e-12)
	assert.Equal(t, 0.2, cfg.CrisisVolatility)

	assert.Error(t, d.Train([]FeatureVector{{1}, {2}}))
	assert.NoError(t, d.Train(nil), "too little history leaves thresholds unchanged")
}
