package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"wfo/internal/middleware"
	"wfo/internal/runner"
	"wfo/internal/strategy/templates"
)

// RunHandler handles optimization run requests
type RunHandler struct {
	service *RunService
}

// NewRunHandler creates a new run handler
func NewRunHandler(service *RunService) *RunHandler {
	return &RunHandler{service: service}
}

// Submit starts a run; an empty body runs the configured defaults
func (h *RunHandler) Submit(c *gin.Context) {
	var req runner.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.Error(middleware.ValidationErrorHandler(err))
		return
	}
	req.Trigger = "api"

	run, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.Header("Location", "/runs/"+run.ID)
	c.JSON(http.StatusAccepted, run)
}

// List returns every kept run without reports
func (h *RunHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.service.List()})
}

// Get returns one run with its report once finished
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.service.Get(c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// Cancel stops a running run
func (h *RunHandler) Cancel(c *gin.Context) {
	run, err := h.service.Cancel(c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// StrategyHandler lists strategy templates
type StrategyHandler struct {
	registry *templates.Registry
}

// NewStrategyHandler creates a new strategy handler
func NewStrategyHandler(registry *templates.Registry) *StrategyHandler {
	if registry == nil {
		registry = templates.DefaultRegistry()
	}
	return &StrategyHandler{registry: registry}
}

// List returns the templates with their parameter spaces
func (h *StrategyHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": h.registry.List()})
}
