package middleware

import (
	"encoding/json"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wfo/internal/errors"
	"wfo/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID 为每个请求分配ID，优先沿用客户端传入的值
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// ErrorHandler 错误处理中间件：恢复panic并将 c.Errors 转换为统一错误响应
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Error("Panic recovered",
					"error", recovered,
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				handleError(c, log, errors.NewAppError(errors.ErrCodeInternal, "Internal server error", nil))
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			handleError(c, log, c.Errors.Last().Err)
		}
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, err error) {
	if err == nil {
		return
	}

	appErr := errors.GetAppError(err)
	if appErr == nil {
		appErr = errors.WrapError(err, errors.ErrCodeInternal, "Internal server error")
	}
	if appErr.RequestID == "" {
		// 复制后再写入，避免修改共享的哨兵错误
		cp := *appErr
		appErr = cp.WithRequestID(getRequestID(c))
	}

	logError(c, log, appErr)

	c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, c.Request.URL.Path))
}

// logError 记录错误日志
func logError(c *gin.Context, log logger.Logger, err *errors.AppError) {
	fields := []interface{}{
		"error_code", err.Code,
		"message", err.Message,
		"severity", err.Severity,
		"request_id", err.RequestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"ip", c.ClientIP(),
	}

	if err.Details != "" {
		fields = append(fields, "details", err.Details)
	}
	if len(err.Context) > 0 {
		contextJSON, _ := json.Marshal(err.Context)
		fields = append(fields, "context", string(contextJSON))
	}
	if err.Cause != nil {
		fields = append(fields, "cause", err.Cause.Error())
	}

	// 根据严重程度选择日志级别
	switch err.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		log.Error("Request failed", fields...)
	case errors.SeverityMedium:
		log.Warn("Request failed", fields...)
	default:
		log.Info("Request failed", fields...)
	}
}

// getRequestID 获取请求ID
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if rid, ok := requestID.(string); ok {
			return rid
		}
	}
	return c.GetHeader(requestIDHeader)
}

// ValidationErrorHandler 将请求绑定错误包装为 INVALID_INPUT
func ValidationErrorHandler(err error) *errors.AppError {
	if err == nil {
		return nil
	}
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}
	return errors.NewAppError(errors.ErrCodeInvalidInput, "Validation failed", err)
}
