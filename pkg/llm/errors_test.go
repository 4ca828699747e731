package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "minimal",
			err:      NewError(ErrorTypeUnknown, "llm error", false, nil),
			expected: "unknown llm error",
		},
		{
			name:     "with status and model",
			err:      NewErrorWithContext(ErrorTypeEndpoint, "server error", true, nil, "gpt-4o", "", 503),
			expected: "endpoint HTTP 503 model=gpt-4o server error",
		},
		{
			name:     "with endpoint and cause",
			err:      NewErrorWithContext(ErrorTypeAuth, "authentication failed", false, errors.New("bad key"), "", "https://api.example.com", 0),
			expected: "auth endpoint=https://api.example.com authentication failed: bad key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		errType    ErrorType
		retryable  bool
		statusCode int
	}{
		{"auth", errors.New("error, status code: 401, message: invalid api key"), ErrorTypeAuth, false, 401},
		{"model", errors.New("The model `gpt-9` does not exist"), ErrorTypeModel, false, 0},
		{"endpoint 404", errors.New("HTTP 404 page missing"), ErrorTypeEndpoint, false, 404},
		{"rate limit", errors.New("HTTP 429 Too Many Requests"), ErrorTypeRateLimited, true, 429},
		{"rate limit text", errors.New("rate limit exceeded"), ErrorTypeRateLimited, true, 0},
		{"timeout", errors.New("Post https://api: context deadline exceeded"), ErrorTypeTimeout, true, 0},
		{"connection", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true, 0},
		{"overloaded", errors.New("anthropic: overloaded_error"), ErrorTypeEndpoint, true, 0},
		{"server", errors.New("status: 502 bad gateway"), ErrorTypeEndpoint, true, 502},
		{"canceled", errors.New("context canceled"), ErrorTypeCanceled, false, 0},
		{"circuit", fmt.Errorf("call: %w", ErrCircuitOpen), ErrorTypeCircuitOpen, false, 0},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.errType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.statusCode, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
}

func TestClassifyError_PreservesExistingError(t *testing.T) {
	original := NewError(ErrorTypeParse, "bad json", false, nil)
	wrapped := fmt.Errorf("confirm: %w", original)
	assert.Same(t, original, ClassifyError(wrapped))
}

func TestExtractStatusCode_Precision(t *testing.T) {
	tests := []struct {
		errStr   string
		expected int
	}{
		{"HTTP 503 Service Unavailable", 503},
		{"status 429 rate limited", 429},
		{"status: 500", 500},
		{"error, status code: 401, message: x", 401},
		{"code: 504 timeout", 504},
		{"processed 503 records", 0},
		{"port 5432 connection failed", 0},
		{"error after 429 seconds", 0},
	}

	for _, tt := range tests {
		t.Run(tt.errStr, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractStatusCode(tt.errStr))
		})
	}
}

func TestIsRetryableAndGetErrorType(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewError(ErrorTypeTimeout, "request timeout", true, nil))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(err))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(errors.New("plain")))
	assert.Equal(t, ErrorTypeNone, GetErrorType(nil))
}
