package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "wfo/internal/errors"
	"wfo/internal/strategy/optimizer"
)

func TestOptimizerMetrics(t *testing.T) {
	m := NewMetrics()

	m.ObserveTrial(1.2)
	m.ObserveTrial(-0.3)
	m.ObserveWindow(&optimizer.WindowResult{EfficiencyRatio: 0.8}, 250*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.trialsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.windowsTotal))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.windowEfficiency))

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsActive))
	m.ObserveRun(&optimizer.Results{PotentialOverfit: true}, time.Second, nil)
	m.ObserveRun(&optimizer.Results{Cancelled: true}, time.Second, nil)
	m.ObserveRun(nil, time.Second, apperrors.NewAppError(apperrors.ErrCodeTrialFailed, "trial failed", nil))
	m.ObserveRun(nil, time.Second, errors.New("boom"))
	m.RunFinished()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("trial_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.overfitRuns))
}

func TestMetricsAreIsolatedPerInstance(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.ObserveTrial(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.trialsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.trialsTotal))
}

func TestMetricsMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(m.MetricsMiddleware())
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/ok", "/ok", "/bad", "/missing"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/ok", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiErrorsTotal.WithLabelValues("/bad", "client_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiErrorsTotal.WithLabelValues("unmatched", "client_error")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "wfo_http_requests_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
