package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"wfo/internal/config"
	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
	"wfo/internal/middleware"
	"wfo/internal/monitoring"
	"wfo/internal/strategy/templates"
)

// Server represents the API server
type Server struct {
	config     config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	metrics    *monitoring.Metrics
	log        logger.Logger
}

// Handlers contains all API handlers
type Handlers struct {
	Runs       *RunHandler
	Streams    *StreamHandler
	Strategies *StrategyHandler
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, service *RunService, registry *templates.Registry, metrics *monitoring.Metrics, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	s := &Server{
		config:  cfg,
		router:  gin.New(),
		metrics: metrics,
		log:     log.WithField("component", "api"),
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true // 无浏览器会话，不校验来源
		},
	}
	s.handlers = &Handlers{
		Runs:       NewRunHandler(service),
		Streams:    NewStreamHandler(service, upgrader, s.log),
		Strategies: NewStrategyHandler(registry),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
	}
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// 指标中间件在外层，才能记录错误处理写入的状态码
	s.router.Use(middleware.RequestID())
	s.router.Use(s.metrics.MetricsMiddleware())
	s.router.Use(middleware.ErrorHandler(s.log))

	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/strategies", s.handlers.Strategies.List)

	runs := s.router.Group("/runs")
	{
		runs.POST("", rateLimitMiddleware(s.config.RequestsPerSec, s.config.Burst), s.handlers.Runs.Submit)
		runs.GET("", s.handlers.Runs.List)
		runs.GET("/:id", s.handlers.Runs.Get)
		runs.DELETE("/:id", s.handlers.Runs.Cancel)
		runs.GET("/:id/stream", s.handlers.Streams.Stream)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"active_runs": s.handlers.Runs.service.Active(),
		"time":        time.Now().UTC(),
	})
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info("Starting API server", "addr", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return apperrors.NewAppError(apperrors.ErrCodeInternal, "API server failed", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

// rateLimitMiddleware 使用令牌桶限制提交频率
func rateLimitMiddleware(requestsPerSec float64, burst int) gin.HandlerFunc {
	if requestsPerSec <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(requestsPerSec), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Error(apperrors.NewAppError(apperrors.ErrCodeRateLimit, "too many run submissions", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
