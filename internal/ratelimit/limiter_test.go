package ratelimit

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"gigledger/internal/config"
	"gigledger/internal/db"
	"gigledger/internal/domain"
	"gigledger/internal/migrate"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return conn
}

func TestCheckAndIncrementFixedWindow(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	l := New(conn)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		remaining, err := l.CheckAndIncrement(ctx, ScopeWorker, "w-1", "proposals", 60, 3)
		require.NoError(t, err)
		assert.Equal(t, 2-i, remaining)
	}

	_, err := l.CheckAndIncrement(ctx, ScopeWorker, "w-1", "proposals", 60, 3)
	var rle *domain.RateLimitExceededError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "proposals", rle.LimitType)
	assert.Equal(t, 3, rle.Limit)

	// Counter must sit exactly at the limit after the denial.
	c, err := l.Repo.GetCounter(ctx, ScopeWorker, "w-1", "proposals", now.Truncate(time.Minute).Format(time.RFC3339))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Count)

	// A new window opens a fresh counter.
	now = now.Add(time.Minute)
	remaining, err := l.CheckAndIncrement(ctx, ScopeWorker, "w-1", "proposals", 60, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestCheckAndIncrementZeroLimitUnbounded(t *testing.T) {
	conn := openTestDB(t)
	l := New(conn)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		remaining, err := l.CheckAndIncrement(ctx, ScopeGlobal, "all", "api_calls", 60, 0)
		require.NoError(t, err)
		assert.Equal(t, Unbounded, remaining)
	}
}

func TestAllowEnforcesAllWindows(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := New(conn)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	cfg := config.Default()
	cfg.RateLimits.Platforms = map[string]map[string]config.WindowLimits{
		"upwork": {"proposals": {PerMinute: 10, PerHour: 2}},
	}

	// The hour window is the tightest cap, so it drives remaining.
	remaining, err := l.Allow(ctx, cfg, "upwork", "w-1", "proposals")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	remaining, err = l.Allow(ctx, cfg, "upwork", "w-1", "proposals")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = l.Allow(ctx, cfg, "upwork", "w-1", "proposals")
	var rle *domain.RateLimitExceededError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "proposals:hour", rle.LimitType)
	assert.Equal(t, "hour", rle.Window)

	// The denied call must not have consumed the minute window either.
	c, err := l.Repo.GetCounter(ctx, ScopeWorker, "upwork/w-1", "proposals:minute", now.Truncate(time.Minute).Format(time.RFC3339))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Count)
}

func TestAllowFallsBackToDefaultLimits(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := New(conn)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	cfg := config.Default()
	cfg.RateLimits.Default = config.WindowLimits{PerMinute: 1}

	remaining, err := l.Allow(ctx, cfg, "toptal", "w-1", "messages")
	require.NoError(t, err)
	assert.Zero(t, remaining)
	_, err = l.Allow(ctx, cfg, "toptal", "w-1", "messages")
	var rle *domain.RateLimitExceededError
	require.ErrorAs(t, err, &rle)
}

func TestAllowScopesAreIndependent(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := New(conn)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	cfg := config.Default()
	cfg.RateLimits.Default = config.WindowLimits{PerMinute: 1}

	allow := func(platform, worker string) error {
		_, err := l.Allow(ctx, cfg, platform, worker, "messages")
		return err
	}
	require.NoError(t, allow("upwork", "w-1"))
	require.NoError(t, allow("upwork", "w-2"))
	require.NoError(t, allow("fiverr", "w-1"))
	require.Error(t, allow("upwork", "w-1"))
}

func TestConcurrentIncrementsNeverOvershoot(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := New(conn)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	const limit = 5
	const callers = 20

	var allowed, denied atomic.Int64
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := l.CheckAndIncrement(ctx, ScopePlatform, "upwork", "api_calls", 60, limit)
			if err == nil {
				allowed.Add(1)
				return nil
			}
			var rle *domain.RateLimitExceededError
			if !assert.ErrorAs(t, err, &rle) {
				return err
			}
			denied.Add(1)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(limit), allowed.Load())
	assert.Equal(t, int64(callers-limit), denied.Load())

	c, err := l.Repo.GetCounter(ctx, ScopePlatform, "upwork", "api_calls", now.Format(time.RFC3339))
	require.NoError(t, err)
	assert.Equal(t, limit, c.Count)
}

func TestPurgeDropsClosedWindows(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := New(conn)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	_, err := l.CheckAndIncrement(ctx, ScopeWorker, "w-1", "proposals", 60, 5)
	require.NoError(t, err)

	// Still inside the window: nothing to purge.
	n, err := l.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	l.Now = func() time.Time { return now.Add(2 * time.Minute) }
	n, err = l.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
