package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying with default config
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond // Speed up test

	err := Retry(context.Background(), cfg, fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		return errors.New("persistent error")
	}

	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	err := Retry(context.Background(), cfg, fn)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // Initial + 2 retries
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	fn := func() error {
		return errors.New("error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 200 * time.Millisecond

	start := time.Now()
	err := Retry(ctx, cfg, fn)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	fn := func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	}

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 5 * time.Millisecond

	got, err := RetryWithResult(context.Background(), cfg, fn)
	assert.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRetry_NonRetryableCiteErrorStopsImmediately(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		return New(ErrCodeConfigMissing, "ZOTERO_LIBRARY_ID unset")
	}

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 5 * time.Millisecond

	err := Retry(context.Background(), cfg, fn)
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeConfigMissing, GetCode(err))
}

func TestWebAPIRetryConfig_MatchesBackoffContract(t *testing.T) {
	cfg := WebAPIRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.True(t, cfg.Jitter)
}

func TestJittered_StaysWithinQuarterBand(t *testing.T) {
	base := 1 * time.Second
	for i := 0; i < 100; i++ {
		d := jittered(base, true)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
	assert.Equal(t, base, jittered(base, false))
}
