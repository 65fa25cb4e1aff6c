package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection refused")

	// When: wrapping with EngineError
	engErr := New(ErrCodeAssetFetch, "fetch metadata.json failed", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, engErr)
	assert.Equal(t, originalErr, errors.Unwrap(engErr))
	assert.True(t, errors.Is(engErr, originalErr))
}

func TestEngineError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "cache error",
			code:     ErrCodeAssetNotCached,
			message:  "metadata.json not in store",
			expected: "[ERR_201_ASSET_NOT_CACHED] metadata.json not in store",
		},
		{
			name:     "network error",
			code:     ErrCodeNetworkTimeout,
			message:  "request timed out",
			expected: "[ERR_301_NETWORK_TIMEOUT] request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestEngineError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeAssetFetch, "fetch A failed", nil)
	err2 := New(ErrCodeAssetFetch, "fetch B failed", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestEngineError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeAssetFetch, "fetch failed", nil)
	err2 := New(ErrCodeNotReady, "not ready", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestCategoryFromCode(t *testing.T) {
	assert.Equal(t, CategoryConfig, categoryFromCode(ErrCodeConfigInvalid))
	assert.Equal(t, CategoryCache, categoryFromCode(ErrCodeAssetNotCached))
	assert.Equal(t, CategoryNetwork, categoryFromCode(ErrCodeAssetFetch))
	assert.Equal(t, CategoryValidation, categoryFromCode(ErrCodeAlignment))
	assert.Equal(t, CategoryInternal, categoryFromCode(ErrCodeNotReady))
	assert.Equal(t, CategoryInternal, categoryFromCode("bogus"))
}

func TestRetryable_NetworkCodes(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeAssetFetch, "x", nil)))
	assert.True(t, IsRetryable(New(ErrCodeVersionFetch, "x", nil)))
	assert.False(t, IsRetryable(New(ErrCodeAlignment, "x", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestAlignmentError_IsFatal(t *testing.T) {
	err := AlignmentError("vector count 10 != chunk count 9")
	assert.True(t, IsFatal(err))
	assert.Equal(t, ErrCodeAlignment, GetCode(err))
	assert.NotEmpty(t, err.Suggestion)
}

func TestIsNotReady(t *testing.T) {
	assert.True(t, IsNotReady(NotReady("dataset still loading")))
	assert.False(t, IsNotReady(New(ErrCodeSearchFailed, "x", nil)))
	assert.False(t, IsNotReady(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeAssetFetch, nil))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return errors.New("should not matter")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
