package optimizer

import (
	"math"
	"math/rand/v2"
)

const (
	// exploitProbability is the chance a guided trial keeps the best categorical value
	exploitProbability = 0.7
	// guidedBandwidthDivisor sets the guided normal stddev to range/divisor
	guidedBandwidthDivisor = 5.0
	// guidedWarmup is the number of pure random draws before guided sampling
	guidedWarmup = 10

	gridEpsilon       = 1e-12
	logUniformEpsilon = 1e-12
)

// BuildGrid expands defs into their cartesian product; later parameters
// vary fastest. An empty space yields one empty set.
func BuildGrid(defs []ParameterDef) []ParameterSet {
	grid := []ParameterSet{{}}
	for _, def := range defs {
		values := gridValues(def)
		if len(values) == 0 {
			continue
		}
		next := make([]ParameterSet, 0, len(grid)*len(values))
		for _, base := range grid {
			for _, v := range values {
				set := base.Clone()
				set[def.Name] = v
				next = append(next, set)
			}
		}
		grid = next
	}
	return grid
}

func gridValues(def ParameterDef) []Value {
	if def.Type == ParamCategorical {
		return def.Values
	}

	lo, hi := def.Bounds()
	step := math.Abs(def.Step)
	if step == 0 {
		step = 1
	}
	count := int(math.Floor((hi-lo)/step+gridEpsilon)) + 1

	values := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		v := lo + float64(i)*step
		if def.Type == ParamInt {
			values = append(values, IntValue(int64(v)))
		} else {
			values = append(values, FloatValue(v))
		}
	}
	return values
}

// Sampler draws parameter sets from one seeded stream. A Sampler is not
// safe for concurrent use; all draws happen on the optimizer goroutine.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a sampler seeded with seed
func NewSampler(seed uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Random draws n independent parameter sets
func (s *Sampler) Random(defs []ParameterDef, n int) []ParameterSet {
	if n <= 0 {
		return nil
	}
	trials := make([]ParameterSet, 0, n)
	for i := 0; i < n; i++ {
		trials = append(trials, s.Sample(defs))
	}
	return trials
}

// Sample draws one parameter set
func (s *Sampler) Sample(defs []ParameterDef) ParameterSet {
	set := make(ParameterSet, len(defs))
	for _, def := range defs {
		if v, ok := s.sampleValue(def); ok {
			set[def.Name] = v
		}
	}
	return set
}

// Guided draws one set around best: categorical values are kept with
// probability exploitProbability, numeric values are drawn from a normal
// centred on the best value.
func (s *Sampler) Guided(defs []ParameterDef, best ParameterSet) ParameterSet {
	set := make(ParameterSet, len(defs))
	for _, def := range defs {
		if def.Type == ParamCategorical {
			exploit := s.rng.Float64() < exploitProbability
			if v, ok := best[def.Name]; ok && exploit {
				set[def.Name] = v
				continue
			}
			if v, ok := s.sampleValue(def); ok {
				set[def.Name] = v
			}
			continue
		}

		lo, hi := def.Bounds()
		base := lo
		if v, ok := best[def.Name]; ok {
			if f, ok := v.Numeric(); ok {
				base = f
			}
		}
		stddev := (hi - lo) / guidedBandwidthDivisor
		if stddev <= 0 {
			stddev = 1
		}
		raw := applyStep(def, base+s.rng.NormFloat64()*stddev)
		set[def.Name] = numericValue(def, raw)
	}
	return set
}

func (s *Sampler) sampleValue(def ParameterDef) (Value, bool) {
	if def.Type == ParamCategorical {
		if len(def.Values) == 0 {
			return Value{}, false
		}
		return def.Values[s.rng.IntN(len(def.Values))], true
	}

	lo, hi := def.Bounds()
	var raw float64
	switch def.Distribution {
	case DistLogUniform:
		a := math.Log(math.Max(lo, logUniformEpsilon))
		b := math.Log(math.Max(hi, logUniformEpsilon))
		raw = math.Exp(s.uniform(a, b))
	case DistNormal:
		mean := (lo + hi) / 2
		stddev := (hi - lo) / 6
		if stddev > 0 {
			raw = mean + s.rng.NormFloat64()*stddev
		} else {
			raw = mean
		}
	default:
		raw = s.uniform(lo, hi)
	}
	return numericValue(def, applyStep(def, raw)), true
}

func (s *Sampler) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Float64()*(hi-lo)
}

// applyStep snaps v to the step grid anchored at the lower bound and clamps it
func applyStep(def ParameterDef, v float64) float64 {
	lo, hi := def.Bounds()
	if step := math.Abs(def.Step); step > 0 {
		v = lo + math.Round((v-lo)/step)*step
	}
	return math.Min(math.Max(v, lo), hi)
}

func numericValue(def ParameterDef, v float64) Value {
	if def.Type == ParamInt {
		return IntValue(int64(math.Round(v)))
	}
	return FloatValue(v)
}
