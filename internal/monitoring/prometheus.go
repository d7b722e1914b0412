package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "wfo/internal/errors"
	"wfo/internal/strategy/optimizer"
)

const namespace = "wfo"

// Metrics holds all Prometheus metrics. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	apiErrorsTotal       *prometheus.CounterVec

	trialsTotal      prometheus.Counter
	trialFitness     prometheus.Histogram
	windowsTotal     prometheus.Counter
	windowDuration   prometheus.Histogram
	windowEfficiency prometheus.Gauge
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	runsActive       prometheus.Gauge
	overfitRuns      prometheus.Counter
}

var _ optimizer.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates and registers the metrics on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		apiErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors",
			},
			[]string{"endpoint", "error_type"},
		),
		trialsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trials_total",
				Help:      "Total number of evaluated in-sample trials",
			},
		),
		trialFitness: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trial_fitness",
				Help:      "Fitness of evaluated trials",
				Buckets:   []float64{-2, -1, -0.5, 0, 0.5, 1, 2, 3},
			},
		),
		windowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "windows_total",
				Help:      "Total number of completed walk-forward windows",
			},
		),
		windowDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "window_duration_seconds",
				Help:      "Time spent optimizing one window",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		windowEfficiency: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "window_efficiency_ratio",
				Help:      "OOS/IS fitness ratio of the last completed window",
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of optimization runs",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of optimization runs",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Number of optimization runs in progress",
			},
		),
		overfitRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overfit_runs_total",
				Help:      "Runs flagged as potentially overfit",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.apiErrorsTotal,
		m.trialsTotal,
		m.trialFitness,
		m.windowsTotal,
		m.windowDuration,
		m.windowEfficiency,
		m.runsTotal,
		m.runDuration,
		m.runsActive,
		m.overfitRuns,
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MetricsMiddleware creates a Prometheus metrics middleware
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		c.Next()

		status := c.Writer.Status()
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			m.apiErrorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}

// RunStarted marks a run as in progress; ObserveRun ends it
func (m *Metrics) RunStarted() {
	m.runsActive.Inc()
}

// ObserveTrial records one evaluated trial
func (m *Metrics) ObserveTrial(fitness float64) {
	m.trialsTotal.Inc()
	m.trialFitness.Observe(fitness)
}

// ObserveWindow records a completed window
func (m *Metrics) ObserveWindow(w *optimizer.WindowResult, elapsed time.Duration) {
	m.windowsTotal.Inc()
	m.windowDuration.Observe(elapsed.Seconds())
	m.windowEfficiency.Set(w.EfficiencyRatio)
}

// ObserveRun records the outcome of an optimization run
func (m *Metrics) ObserveRun(results *optimizer.Results, elapsed time.Duration, err error) {
	m.runDuration.Observe(elapsed.Seconds())
	m.runsTotal.WithLabelValues(runStatus(results, err)).Inc()
	if results != nil && results.PotentialOverfit {
		m.overfitRuns.Inc()
	}
}

// RunFinished balances RunStarted
func (m *Metrics) RunFinished() {
	m.runsActive.Dec()
}

func runStatus(results *optimizer.Results, err error) string {
	switch {
	case err != nil && apperrors.CodeOf(err) == apperrors.ErrCodeTrialFailed:
		return "trial_failed"
	case err != nil:
		return "failed"
	case results != nil && results.Cancelled:
		return "cancelled"
	default:
		return "completed"
	}
}
