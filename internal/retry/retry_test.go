package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigledger/internal/domain"
)

func TestDoRetriesConflictsUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return &domain.ConcurrentConflictError{Entity: "proposal", ID: "p1"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		return &domain.ConcurrentConflictError{Entity: "contract", ID: "c1"}
	})
	var conflict *domain.ConcurrentConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, Config{MaxAttempts: 100, BaseDelay: 50 * time.Millisecond}, func() error {
		calls++
		return &domain.ConcurrentConflictError{Entity: "proposal", ID: "p1"}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestDoCallsOnRetryHook(t *testing.T) {
	var attempts []int
	calls := 0
	err := Do(context.Background(), Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(attempt int, err error) { attempts = append(attempts, attempt) },
	}, func() error {
		calls++
		if calls < 2 {
			return &domain.ConcurrentConflictError{Entity: "worker", ID: "w1"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, attempts)
}
