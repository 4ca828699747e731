package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	"github.com/ekaya-inc/finsql-engine/pkg/retry"
)

func TestIsRetryable_WithLLMError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"server error", llm.NewError(llm.ErrorTypeEndpoint, "server error", true, errors.New("HTTP 503")), true},
		{"rate limited", llm.NewError(llm.ErrorTypeRateLimited, "rate limited", true, errors.New("HTTP 429")), true},
		{"auth", llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, errors.New("HTTP 401")), false},
		{"circuit open", llm.ClassifyError(fmt.Errorf("%w: down", llm.ErrCircuitOpen)), false},
		{"parse error mentioning timeout", llm.NewError(llm.ErrorTypeParse, "timeout field missing", false, nil), false},
		{"wrapped retryable", fmt.Errorf("confirm: %w", llm.NewError(llm.ErrorTypeTimeout, "request timeout", true, nil)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, retry.IsRetryable(tt.err))
		})
	}
}

func TestDoIfRetryable_WithLLMError(t *testing.T) {
	cfg := &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	err := retry.DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return llm.NewError(llm.ErrorTypeEndpoint, "server error", true, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retry.DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, llm.ErrorTypeAuth, llm.GetErrorType(err))
}
