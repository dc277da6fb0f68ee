package util

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "ETIMEDOUT",
			err:      syscall.ETIMEDOUT,
			expected: true,
		},
		{
			name:     "ECONNRESET",
			err:      syscall.ECONNRESET,
			expected: true,
		},
		{
			name:     "ENOENT (not retryable)",
			err:      syscall.ENOENT,
			expected: false,
		},
		{
			name:     "EACCES (not retryable)",
			err:      syscall.EACCES,
			expected: false,
		},
		{
			name:     "PathError with EIO",
			err:      &os.PathError{Op: "open", Path: "/data/x.json", Err: syscall.EIO},
			expected: true,
		},
		{
			name:     "S3 throttling",
			err:      errors.New("operation error S3: PutObject, https response error StatusCode: 503, api error SlowDown: Please reduce your request rate."),
			expected: true,
		},
		{
			name:     "wrapped timeout message",
			err:      fmt.Errorf("get object: %w", errors.New("request timeout")),
			expected: true,
		},
		{
			name:     "access denied (not retryable)",
			err:      errors.New("api error AccessDenied: Access Denied"),
			expected: false,
		},
		{
			name:     "context canceled (not retryable)",
			err:      fmt.Errorf("list: %w", context.Canceled),
			expected: false,
		},
		{
			name:     "schema error (not retryable)",
			err:      fmt.Errorf("song_data/A/A/A/x.json: %w", ErrSchema),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, expected %v",
					tt.err, result, tt.expected)
			}
		})
	}
}

func testRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     100 * time.Millisecond,
	}
}

func TestRetryWithBackoff_ImmediateSuccess(t *testing.T) {
	attempts := 0

	result, err := RetryWithBackoff(context.Background(), testRetryConfig(), func() (int, error) {
		attempts++
		return 42, nil
	}, "test operation")

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != 42 {
		t.Errorf("Expected result 42, got: %d", result)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0

	result, err := RetryWithBackoff(context.Background(), testRetryConfig(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", syscall.ETIMEDOUT
		}
		return "success", nil
	}, "test operation")

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected result 'success', got: %s", result)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetryWithBackoff_FailureAfterMaxRetries(t *testing.T) {
	attempts := 0

	_, err := RetryWithBackoff(context.Background(), testRetryConfig(), func() (int, error) {
		attempts++
		return 0, syscall.ETIMEDOUT
	}, "test operation")

	if err == nil {
		t.Fatal("Expected error after max retries, got nil")
	}
	if !errors.Is(err, syscall.ETIMEDOUT) {
		t.Errorf("Expected wrapped ETIMEDOUT, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts (max), got: %d", attempts)
	}
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	attempts := 0

	_, err := RetryWithBackoff(context.Background(), testRetryConfig(), func() (int, error) {
		attempts++
		return 0, syscall.ENOENT
	}, "test operation")

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry for non-retryable), got: %d", attempts)
	}
}

func TestRetryWithBackoff_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	cfg := &RetryConfig{MaxAttempts: 5, InitialWait: time.Second, MaxWait: time.Second}

	_, err := RetryWithBackoff(ctx, cfg, func() (int, error) {
		attempts++
		cancel()
		return 0, syscall.ETIMEDOUT
	}, "test operation")

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got: %d", attempts)
	}
}

func TestRetry_NoReturnValue(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), testRetryConfig(), func() error {
		attempts++
		if attempts < 2 {
			return syscall.ECONNRESET
		}
		return nil
	}, "test operation")

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestNoRetry(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), NoRetry(), func() error {
		attempts++
		return syscall.ETIMEDOUT
	}, "test operation")

	if !errors.Is(err, syscall.ETIMEDOUT) {
		t.Errorf("Expected ETIMEDOUT unwrapped, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestObjectStoreRetryConfig(t *testing.T) {
	cfg := ObjectStoreRetryConfig()

	if cfg.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts=5, got: %d", cfg.MaxAttempts)
	}
	if cfg.InitialWait != 200*time.Millisecond {
		t.Errorf("Expected InitialWait=200ms, got: %v", cfg.InitialWait)
	}
	if cfg.MaxWait != 10*time.Second {
		t.Errorf("Expected MaxWait=10s, got: %v", cfg.MaxWait)
	}
}
