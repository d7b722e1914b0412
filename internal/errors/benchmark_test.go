package errors

import (
	"testing"
)

func BenchmarkNewAppError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewAppError(ErrCodeInvalidInput, "test error", nil)
	}
}

func BenchmarkWrapError(b *testing.B) {
	originalErr := NewAppError(ErrCodeInternal, "original", nil)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = WrapError(originalErr, ErrCodeDBQuery, "wrapped error")
	}
}

func BenchmarkGetAppError(b *testing.B) {
	err := NewAppError(ErrCodeTrialFailed, "trial failed", nil)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = GetAppError(err)
	}
}
