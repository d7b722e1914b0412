package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestNewAppError(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "Test error", nil)

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, err.Code)
	}

	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got %s", err.Message)
	}

	if err.Severity != SeverityLow {
		t.Errorf("Expected severity %s, got %s", SeverityLow, err.Severity)
	}
}

func TestAppErrorMessage(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := NewAppErrorWithDetails(ErrCodeTrialFailed, "trial failed", "index 3", cause)

	expected := "[TRIAL_FAILED] trial failed: index 3: boom"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}

func TestAppErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		code           ErrorCode
		expectedStatus int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeInvalidConfig, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeMarketDataUnavailable, http.StatusServiceUnavailable},
	}

	for _, test := range tests {
		err := NewAppError(test.code, "Test", nil)
		status := err.HTTPStatus()

		if status != test.expectedStatus {
			t.Errorf("Code %s: expected status %d, got %d", test.code, test.expectedStatus, status)
		}
	}
}

func TestAppErrorWithContext(t *testing.T) {
	err := NewAppError(ErrCodeInternal, "Test error", nil)
	err = err.WithContext("trial_index", 4)
	err = err.WithRequestID("req_456")

	if err.Context["trial_index"] != 4 {
		t.Errorf("Expected context trial_index 4, got %v", err.Context["trial_index"])
	}

	if err.RequestID != "req_456" {
		t.Errorf("Expected request ID 'req_456', got %s", err.RequestID)
	}
}

func TestAppErrorIsRetryable(t *testing.T) {
	retryableErr := NewAppError(ErrCodeTimeout, "Timeout", nil)
	nonRetryableErr := NewAppError(ErrCodeInvalidInput, "Invalid input", nil)

	if !retryableErr.IsRetryable() {
		t.Error("Timeout error should be retryable")
	}

	if nonRetryableErr.IsRetryable() {
		t.Error("Invalid input error should not be retryable")
	}
}

func TestWrapError(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	wrappedErr := WrapError(originalErr, ErrCodeDBQuery, "Database error")

	if wrappedErr.Code != ErrCodeDBQuery {
		t.Errorf("Expected code %s, got %s", ErrCodeDBQuery, wrappedErr.Code)
	}

	if wrappedErr.Message != "Database error" {
		t.Errorf("Expected message 'Database error', got %s", wrappedErr.Message)
	}

	if wrappedErr.Cause != originalErr {
		t.Error("Wrapped error should preserve original error")
	}

	if WrapError(nil, ErrCodeDBQuery, "nothing") != nil {
		t.Error("Wrapping nil should return nil")
	}

	appErr := NewAppError(ErrCodeNotFound, "missing", nil)
	if WrapError(appErr, ErrCodeInternal, "other") != appErr {
		t.Error("Wrapping an AppError should return it unchanged")
	}
}

func TestAppErrorIs(t *testing.T) {
	sentinel := NewAppError(ErrCodeStrategyInvalid, "strategy factory returned nil", nil)
	wrapped := fmt.Errorf("trial 2: %w", NewAppError(ErrCodeStrategyInvalid, "strategy factory returned nil", nil))

	if !stderrors.Is(wrapped, sentinel) {
		t.Error("errors.Is should match by code and message")
	}

	other := NewAppError(ErrCodeStrategyInvalid, "different message", nil)
	if stderrors.Is(wrapped, other) {
		t.Error("errors.Is should not match a different message")
	}
}

func TestErrorResponse(t *testing.T) {
	err := NewAppError(ErrCodeNotFound, "Resource not found", nil)
	response := NewErrorResponse(err, "/runs/abc")

	if response.Error != err {
		t.Error("Response should contain the error")
	}

	if response.Success {
		t.Error("Response success should be false")
	}

	if response.Path != "/runs/abc" {
		t.Errorf("Expected path '/runs/abc', got %s", response.Path)
	}

	if time.Since(response.Timestamp) > time.Second {
		t.Error("Response timestamp should be recent")
	}
}

func TestGetSeverityByCode(t *testing.T) {
	tests := []struct {
		code             ErrorCode
		expectedSeverity ErrorSeverity
	}{
		{ErrCodeInternal, SeverityCritical},
		{ErrCodeDBConnection, SeverityCritical},
		{ErrCodeTrialFailed, SeverityHigh},
		{ErrCodeCacheOperation, SeverityMedium},
		{ErrCodeInvalidInput, SeverityLow},
	}

	for _, test := range tests {
		severity := getSeverityByCode(test.code)
		if severity != test.expectedSeverity {
			t.Errorf("Code %s: expected severity %s, got %s", test.code, test.expectedSeverity, severity)
		}
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInternal, "Test", nil)
	standardErr := fmt.Errorf("standard error")

	if GetAppError(appErr) != appErr {
		t.Error("Should return the same AppError")
	}

	if GetAppError(fmt.Errorf("outer: %w", appErr)) != appErr {
		t.Error("Should find AppError through wrapping")
	}

	if GetAppError(standardErr) != nil {
		t.Error("Should return nil for standard error")
	}

	if !IsAppError(appErr) || IsAppError(standardErr) {
		t.Error("IsAppError should follow GetAppError")
	}

	if CodeOf(appErr) != ErrCodeInternal || CodeOf(standardErr) != "" {
		t.Error("CodeOf should report the first AppError code")
	}
}
