// Package ratelimit enforces fixed-window action caps backed by counter
// rows in SQLite. Each (scope, action, window) pair gets one row per
// window; increments are conditional updates so concurrent callers race on
// the row, not on a read-modify-write.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gigledger/internal/config"
	"gigledger/internal/domain"
	"gigledger/internal/repo"
	"gigledger/internal/telemetry"
)

const (
	ScopeWorker   = "worker"
	ScopePlatform = "platform"
	ScopeGlobal   = "global"
)

// Unbounded is the remaining-quota value for actions with no cap configured.
const Unbounded = -1

type window struct {
	name    string
	seconds int
}

var windows = []window{
	{"minute", 60},
	{"hour", 3600},
	{"day", 86400},
}

// Limiter checks and consumes rate-limit quota. Now is injectable for
// tests and defaults to the wall clock.
type Limiter struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
}

func New(db *sql.DB) *Limiter {
	return &Limiter{DB: db, Repo: repo.Repo{DB: db}, Now: time.Now}
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// CheckAndIncrement consumes one unit from a single fixed window and
// reports the quota left in it. The window containing now starts at now
// truncated to windowSeconds since the epoch. When the window is already at
// limit it returns RateLimitExceededError and consumes nothing. A limit of
// zero or below means unbounded, reported as remaining -1.
func (l *Limiter) CheckAndIncrement(ctx context.Context, scopeType, scopeID, limitType string, windowSeconds, limit int) (int, error) {
	if limit <= 0 {
		return Unbounded, nil
	}
	now := l.now()
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	remaining, err := l.consumeTx(ctx, tx, scopeType, scopeID, limitType, now, windowName(windowSeconds), windowSeconds, limit)
	if err != nil {
		return 0, err
	}
	return remaining, tx.Commit()
}

// Allow consumes one unit of quota for an action a worker performs on a
// platform, enforcing the platform's minute, hour and day caps together.
// All windows are consumed in one transaction: if any window is full the
// others are left untouched. It reports the smallest remaining quota across
// the enforced windows, Unbounded when no cap applies.
func (l *Limiter) Allow(ctx context.Context, cfg *config.Config, platform, workerID, action string) (int, error) {
	limits := cfg.LimitsFor(platform, action)
	caps := map[string]int{"minute": limits.PerMinute, "hour": limits.PerHour, "day": limits.PerDay}
	now := l.now()

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	scopeID := platform + "/" + workerID
	limitType := action
	remaining := Unbounded
	for _, w := range windows {
		limit := caps[w.name]
		if limit <= 0 {
			continue
		}
		left, err := l.consumeTx(ctx, tx, ScopeWorker, scopeID, limitType+":"+w.name, now, w.name, w.seconds, limit)
		if err != nil {
			return 0, err
		}
		if remaining == Unbounded || left < remaining {
			remaining = left
		}
	}
	return remaining, tx.Commit()
}

func (l *Limiter) consumeTx(ctx context.Context, tx *sql.Tx, scopeType, scopeID, limitType string, now time.Time, window string, windowSeconds, limit int) (int, error) {
	start := windowStart(now, windowSeconds)
	counter := domain.RateLimitCounter{
		ScopeType:     scopeType,
		ScopeID:       scopeID,
		LimitType:     limitType,
		WindowStart:   start.Format(time.RFC3339),
		WindowSeconds: windowSeconds,
	}
	if err := l.Repo.EnsureCounterTx(ctx, tx, counter); err != nil {
		return 0, err
	}
	ok, err := l.Repo.IncrementCounterTx(ctx, tx, counter, limit)
	if err != nil {
		return 0, err
	}
	if !ok {
		telemetry.RateLimitDenials.WithLabelValues(limitType).Inc()
		return 0, &domain.RateLimitExceededError{
			ScopeType: scopeType,
			ScopeID:   scopeID,
			LimitType: limitType,
			Window:    window,
			Limit:     limit,
		}
	}
	count, err := l.Repo.CounterCountTx(ctx, tx, counter)
	if err != nil {
		return 0, err
	}
	return limit - count, nil
}

// Usage reports current counter rows for a scope, for operator inspection.
func (l *Limiter) Usage(ctx context.Context, scopeType, scopeID string) ([]domain.RateLimitCounter, error) {
	return l.Repo.ListCounters(ctx, scopeType, scopeID)
}

// Purge deletes counters whose window closed before now.
func (l *Limiter) Purge(ctx context.Context) (int64, error) {
	return l.Repo.PurgeExpiredCounters(ctx, l.now().Format(time.RFC3339))
}

func windowStart(now time.Time, windowSeconds int) time.Time {
	return now.Truncate(time.Duration(windowSeconds) * time.Second)
}

func windowName(seconds int) string {
	for _, w := range windows {
		if w.seconds == seconds {
			return w.name
		}
	}
	return fmt.Sprintf("%ds", seconds)
}
