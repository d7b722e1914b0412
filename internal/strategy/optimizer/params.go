package optimizer

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the concrete type held by a Value
type ValueKind uint8

const (
	KindInvalid ValueKind = iota // 零值，表示缺失
	KindInt
	KindFloat
	KindText
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindInvalid:
		return "invalid"
	}
	return "unknown"
}

// Value is one concrete parameter value: an int64, a float64 or a string
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
}

func IntValue(v int64) Value     { return Value{kind: KindInt, i: v} }
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }
func TextValue(v string) Value   { return Value{kind: KindText, s: v} }

func (v Value) Kind() ValueKind { return v.kind }

// Valid reports whether v holds a value; the zero Value does not
func (v Value) Valid() bool { return v.kind != KindInvalid }

// Int returns the integer and whether v holds one
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == KindInt
}

// Float returns the float and whether v holds one
func (v Value) Float() (float64, bool) {
	return v.f, v.kind == KindFloat
}

// Text returns the string and whether v holds one
func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindText
}

// Numeric converts int and float values to float64; text is not numeric
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Equal compares kind and payload; Int(1) and Float(1) differ
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	default:
		return v.s == o.s
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// MarshalJSON encodes ints and floats as JSON numbers and text as a string.
// Floats with an integral value keep a trailing ".0" so they decode as floats.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("cannot encode %v as JSON", v.f)
		}
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return []byte(s), nil
	case KindText:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes numbers without a fraction or exponent as ints
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = Value{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	if !strings.ContainsAny(trimmed, ".eE") {
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			*v = IntValue(i)
			return nil
		}
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fmt.Errorf("invalid parameter value %s", trimmed)
	}
	*v = FloatValue(f)
	return nil
}

// ParamType is the kind of a parameter definition
type ParamType int

const (
	ParamInt ParamType = iota
	ParamFloat
	ParamCategorical
)

var paramTypeNames = map[ParamType]string{
	ParamInt:         "int",
	ParamFloat:       "float",
	ParamCategorical: "categorical",
}

func (t ParamType) String() string {
	if name, ok := paramTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("param_type(%d)", int(t))
}

func (t ParamType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ParamType) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "int", "integer":
		*t = ParamInt
	case "float", "double":
		*t = ParamFloat
	case "categorical", "category", "choice":
		*t = ParamCategorical
	default:
		return fmt.Errorf("unknown parameter type %q", string(text))
	}
	return nil
}

// Distribution is the sampling distribution of a numeric parameter
type Distribution int

const (
	DistUniform Distribution = iota
	DistLogUniform
	DistNormal
)

var distributionNames = map[Distribution]string{
	DistUniform:    "uniform",
	DistLogUniform: "log_uniform",
	DistNormal:     "normal",
}

func (d Distribution) String() string {
	if name, ok := distributionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("distribution(%d)", int(d))
}

func (d Distribution) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Distribution) UnmarshalText(text []byte) error {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(string(text))), "-", "_") {
	case "", "uniform":
		*d = DistUniform
	case "log_uniform", "loguniform", "log":
		*d = DistLogUniform
	case "normal", "gaussian":
		*d = DistNormal
	default:
		return fmt.Errorf("unknown distribution %q", string(text))
	}
	return nil
}

// ParameterDef declares one searchable parameter
type ParameterDef struct {
	Name         string       `json:"name" yaml:"name"`
	Type         ParamType    `json:"type" yaml:"type"`
	Min          float64      `json:"min,omitempty" yaml:"min"`
	Max          float64      `json:"max,omitempty" yaml:"max"`
	Step         float64      `json:"step,omitempty" yaml:"step"` // 0 表示不量化
	Distribution Distribution `json:"distribution,omitempty" yaml:"distribution"`
	Values       []Value      `json:"values,omitempty" yaml:"-"` // 分类参数候选值
}

// Bounds returns min and max in ascending order
func (d ParameterDef) Bounds() (float64, float64) {
	if d.Max < d.Min {
		return d.Max, d.Min
	}
	return d.Min, d.Max
}

// Validate checks the definition is usable by every search method
func (d ParameterDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("parameter name is required")
	}
	switch d.Type {
	case ParamInt, ParamFloat:
		if math.IsNaN(d.Min) || math.IsNaN(d.Max) || math.IsInf(d.Min, 0) || math.IsInf(d.Max, 0) {
			return fmt.Errorf("parameter %s: bounds must be finite", d.Name)
		}
	case ParamCategorical:
	default:
		return fmt.Errorf("parameter %s: unknown type %s", d.Name, d.Type)
	}
	return nil
}

// ParameterSet maps parameter names to concrete values
type ParameterSet map[string]Value

// Clone returns a copy that can be modified independently
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Names returns the parameter names in sorted order
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Key is a canonical string for the set, independent of insertion order
func (p ParameterSet) Key() string {
	var b strings.Builder
	for i, name := range p.Names() {
		if i > 0 {
			b.WriteByte(';')
		}
		v := p[name]
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(v.Kind().String())
		b.WriteByte(':')
		b.WriteString(v.String())
	}
	return b.String()
}

// Equal reports whether both sets hold the same names and values
func (p ParameterSet) Equal(o ParameterSet) bool {
	if len(p) != len(o) {
		return false
	}
	for name, v := range p {
		ov, ok := o[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Int returns the named integer, or def when missing or of another kind
func (p ParameterSet) Int(name string, def int64) int64 {
	if v, ok := p[name].Int(); ok {
		return v
	}
	return def
}

// Float returns the named value as float64; ints are converted
func (p ParameterSet) Float(name string, def float64) float64 {
	v, ok := p[name]
	if !ok {
		return def
	}
	if f, ok := v.Numeric(); ok {
		return f
	}
	return def
}

// Text returns the named string, or def when missing or of another kind
func (p ParameterSet) Text(name string, def string) string {
	if v, ok := p[name].Text(); ok {
		return v
	}
	return def
}

func (p ParameterSet) String() string {
	return "{" + strings.ReplaceAll(p.Key(), ";", ", ") + "}"
}
