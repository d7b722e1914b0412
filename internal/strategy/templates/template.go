package templates

import (
	"fmt"
	"sort"
	"sync"

	apperrors "wfo/internal/errors"
	"wfo/internal/strategy/backtest"
	"wfo/internal/strategy/optimizer"
)

// Template 策略模板：参数空间加上构造函数
type Template struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Category    string                   `json:"category"`
	Parameters  []optimizer.ParameterDef `json:"parameters"`

	New func(params optimizer.ParameterSet) (backtest.Strategy, error) `json:"-"`
}

// Registry holds the strategy templates known to the application
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// DefaultRegistry returns a registry with the built-in templates
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range []*Template{NewQtyTemplate(), NewBuyAndHoldTemplate(), NewMACrossTemplate()} {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds t; names must be unique
func (r *Registry) Register(t *Template) error {
	if t == nil || t.Name == "" || t.New == nil {
		return apperrors.NewAppError(apperrors.ErrCodeStrategyInvalid, "template needs a name and a constructor", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.Name]; exists {
		return apperrors.NewAppError(apperrors.ErrCodeConflict, "template already registered", nil).
			WithContext("template", t.Name)
	}
	r.templates[t.Name] = t
	return nil
}

// Get returns the named template
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeStrategyNotFound,
			"strategy template not found", fmt.Sprintf("name=%s", name), nil)
	}
	return t, nil
}

// List returns the templates sorted by name
func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Factory returns the optimizer strategy factory of the named template
func (r *Registry) Factory(name string) (optimizer.StrategyFactory, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.New, nil
}

// NewQtyTemplate buys a fixed quantity of every symbol on its first bar
func NewQtyTemplate() *Template {
	return &Template{
		Name:        "qty",
		Description: "首根K线买入固定数量并持有",
		Category:    "benchmark",
		Parameters: []optimizer.ParameterDef{
			{Name: "qty", Type: optimizer.ParamInt, Min: 1, Max: 3, Step: 1},
		},
		New: func(params optimizer.ParameterSet) (backtest.Strategy, error) {
			qty := params.Float("qty", 1)
			if qty <= 0 {
				return nil, fmt.Errorf("qty must be positive, got %v", qty)
			}
			return NewQtyStrategy(qty), nil
		},
	}
}

// NewBuyAndHoldTemplate invests a fraction of equity split across symbols
func NewBuyAndHoldTemplate() *Template {
	return &Template{
		Name:        "buy_and_hold",
		Description: "按资金比例等权买入并持有",
		Category:    "benchmark",
		Parameters: []optimizer.ParameterDef{
			{Name: "fraction", Type: optimizer.ParamFloat, Min: 0.1, Max: 1, Step: 0.1},
		},
		New: func(params optimizer.ParameterSet) (backtest.Strategy, error) {
			fraction := params.Float("fraction", 1)
			if fraction <= 0 || fraction > 1 {
				return nil, fmt.Errorf("fraction must be in (0, 1], got %v", fraction)
			}
			return NewBuyAndHold(fraction), nil
		},
	}
}

// NewMACrossTemplate creates the moving-average crossover template
func NewMACrossTemplate() *Template {
	return &Template{
		Name:        "ma_cross",
		Description: "快慢均线交叉，金叉买入死叉卖出",
		Category:    "trend",
		Parameters: []optimizer.ParameterDef{
			{Name: "fast", Type: optimizer.ParamInt, Min: 5, Max: 20, Step: 5},
			{Name: "slow", Type: optimizer.ParamInt, Min: 30, Max: 90, Step: 30},
			{Name: "qty", Type: optimizer.ParamInt, Min: 1, Max: 10, Step: 1, Distribution: optimizer.DistLogUniform},
			{Name: "crisis", Type: optimizer.ParamCategorical, Values: []optimizer.Value{
				optimizer.TextValue(CrisisHold), optimizer.TextValue(CrisisFlat),
			}},
		},
		New: func(params optimizer.ParameterSet) (backtest.Strategy, error) {
			return NewMACross(MACrossConfig{
				Fast:   int(params.Int("fast", 10)),
				Slow:   int(params.Int("slow", 30)),
				Qty:    params.Float("qty", 1),
				Crisis: params.Text("crisis", CrisisHold),
			})
		},
	}
}
