package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode 定义错误代码类型
type ErrorCode string

// 错误代码常量
const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT"
	ErrCodeCancelled    ErrorCode = "CANCELLED"

	// 配置错误
	ErrCodeInvalidConfig     ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingDependency ErrorCode = "MISSING_DEPENDENCY"

	// 数据库错误
	ErrCodeDBConnection ErrorCode = "DB_CONNECTION_ERROR"
	ErrCodeDBQuery      ErrorCode = "DB_QUERY_ERROR"

	// 缓存错误
	ErrCodeCacheConnection ErrorCode = "CACHE_CONNECTION_ERROR"
	ErrCodeCacheOperation  ErrorCode = "CACHE_OPERATION_ERROR"
	ErrCodeCacheMiss       ErrorCode = "CACHE_MISS"

	// 策略与优化错误
	ErrCodeStrategyNotFound   ErrorCode = "STRATEGY_NOT_FOUND"
	ErrCodeStrategyInvalid    ErrorCode = "STRATEGY_INVALID"
	ErrCodeStrategyExecution  ErrorCode = "STRATEGY_EXECUTION_ERROR"
	ErrCodeParameterInvalid   ErrorCode = "PARAMETER_INVALID"
	ErrCodeBacktestFailed     ErrorCode = "BACKTEST_FAILED"
	ErrCodeTrialFailed        ErrorCode = "TRIAL_FAILED"
	ErrCodeOptimizationFailed ErrorCode = "OPTIMIZATION_FAILED"

	// 市场数据错误
	ErrCodeMarketDataUnavailable ErrorCode = "MARKET_DATA_UNAVAILABLE"
	ErrCodeMarketDataInvalid     ErrorCode = "MARKET_DATA_INVALID"
)

// ErrorSeverity 定义错误严重程度
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError 应用错误结构
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码和消息匹配，用于 errors.Is 比较预定义错误
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeStrategyNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeStrategyInvalid, ErrCodeParameterInvalid:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeMarketDataUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError 创建新的应用错误
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// NewAppErrorWithDetails 创建带详细信息的应用错误
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID 添加请求ID
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// getSeverityByCode 根据错误代码确定严重程度
func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeDBConnection:
		return SeverityCritical
	case ErrCodeDBQuery, ErrCodeStrategyExecution, ErrCodeBacktestFailed,
		ErrCodeTrialFailed, ErrCodeOptimizationFailed:
		return SeverityHigh
	case ErrCodeCacheConnection, ErrCodeCacheOperation, ErrCodeMarketDataUnavailable,
		ErrCodeMarketDataInvalid, ErrCodeMissingDependency:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRetryable 判断错误是否可重试
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeDBConnection, ErrCodeCacheConnection, ErrCodeMarketDataUnavailable:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, path string) *ErrorResponse {
	return &ErrorResponse{
		Error:     err,
		Success:   false,
		Timestamp: time.Now(),
		Path:      path,
	}
}

// WrapError 包装标准错误为应用错误
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，直接返回
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	return NewAppError(code, message, err)
}

// IsAppError 检查错误链中是否包含应用错误
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError 获取错误链中的第一个应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf 返回错误链中第一个应用错误的代码
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ""
}
