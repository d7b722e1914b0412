package optimizer

import (
	"time"

	"wfo/internal/market"
	"wfo/internal/regime"
)

// WindowReport summarises one window without the full backtest results
type WindowReport struct {
	Index              int                     `json:"index"`
	InSample           market.TimeRange        `json:"in_sample"`
	OutOfSample        market.TimeRange        `json:"out_of_sample"`
	OptimalParams      ParameterSet            `json:"optimal_params"`
	ISFitness          float64                 `json:"is_fitness"`
	OOSFitness         float64                 `json:"oos_fitness"`
	OOSReturn          float64                 `json:"oos_return"`
	OOSMaxDrawdown     float64                 `json:"oos_max_drawdown"`
	EfficiencyRatio    float64                 `json:"efficiency_ratio"`
	RegimeDistribution map[regime.Type]float64 `json:"regime_distribution,omitempty"`
	Trials             int                     `json:"trials"`
}

// Report is the JSON summary of a run used by the CLI and the HTTP API
type Report struct {
	GeneratedAt  time.Time `json:"generated_at"`
	WindowType   string    `json:"window_type"`
	SearchMethod string    `json:"search_method"`
	Metric       string    `json:"metric"`
	Maximize     bool      `json:"maximize"`

	Windows []WindowReport `json:"windows"`

	StitchedOOSReturn      float64 `json:"stitched_oos_return"`
	StitchedOOSMaxDrawdown float64 `json:"stitched_oos_max_drawdown"`
	StitchedOOSFitness     float64 `json:"stitched_oos_fitness"`
	AvgISFitness           float64 `json:"avg_is_fitness"`
	AvgOOSFitness          float64 `json:"avg_oos_fitness"`

	AvgEfficiencyRatio float64 `json:"avg_efficiency_ratio"`
	PotentialOverfit   bool    `json:"potential_overfit"`
	OverfitDiagnosis   string  `json:"overfit_diagnosis,omitempty"`

	ParamEvolution     map[string][]float64    `json:"param_evolution"`
	ParamStability     map[string]float64      `json:"param_stability"`
	OOSFitnessByRegime map[regime.Type]float64 `json:"oos_fitness_by_regime"`
	RegimeConsistency  float64                 `json:"regime_consistency"`

	Cancelled bool `json:"cancelled"`
}

// NewReport builds a report from results produced with cfg
func NewReport(cfg Config, results *Results) *Report {
	report := &Report{
		GeneratedAt:  time.Now().UTC(),
		WindowType:   cfg.WindowType.String(),
		SearchMethod: cfg.SearchMethod.String(),
		Metric:       cfg.Metric,
		Maximize:     cfg.Maximize,
		Windows:      []WindowReport{},
	}
	if results == nil {
		return report
	}

	for _, w := range results.Windows {
		wr := WindowReport{
			Index:              w.Index,
			InSample:           w.InSample,
			OutOfSample:        w.OutOfSample,
			OptimalParams:      w.OptimalParams,
			ISFitness:          w.ISFitness,
			OOSFitness:         w.OOSFitness,
			EfficiencyRatio:    w.EfficiencyRatio,
			RegimeDistribution: w.RegimeDistribution,
			Trials:             w.Trials,
		}
		if w.OOSResults != nil {
			wr.OOSReturn = w.OOSResults.TotalReturn
			wr.OOSMaxDrawdown = w.OOSResults.MaxDrawdown
		}
		report.Windows = append(report.Windows, wr)
	}

	if results.StitchedOOS != nil {
		report.StitchedOOSReturn = results.StitchedOOS.TotalReturn
		report.StitchedOOSMaxDrawdown = results.StitchedOOS.MaxDrawdown
	}
	report.StitchedOOSFitness = results.StitchedOOSFitness
	report.AvgISFitness = results.AvgISFitness
	report.AvgOOSFitness = results.AvgOOSFitness
	report.AvgEfficiencyRatio = results.AvgEfficiencyRatio
	report.PotentialOverfit = results.PotentialOverfit
	report.OverfitDiagnosis = results.OverfitDiagnosis
	report.ParamEvolution = results.ParamEvolution
	report.ParamStability = results.ParamStability
	report.OOSFitnessByRegime = results.OOSFitnessByRegime
	report.RegimeConsistency = results.RegimeConsistency
	report.Cancelled = results.Cancelled
	return report
}
