package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

// EnsureCounterTx creates the window row with count 0 if it does not exist.
func (r Repo) EnsureCounterTx(ctx context.Context, tx *sql.Tx, c domain.RateLimitCounter) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO rate_limit_counters(scope_type,scope_id,limit_type,window_start,window_seconds,count)
VALUES (?,?,?,?,?,0)`,
		c.ScopeType, c.ScopeID, c.LimitType, c.WindowStart, c.WindowSeconds)
	return err
}

// IncrementCounterTx bumps the window counter only while it is below limit.
// Returns true when the increment was applied; false means the window is
// already full. The conditional UPDATE makes the check-and-increment a
// single atomic statement.
func (r Repo) IncrementCounterTx(ctx context.Context, tx *sql.Tx, c domain.RateLimitCounter, limit int) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE rate_limit_counters SET count=count+1
WHERE scope_type=? AND scope_id=? AND limit_type=? AND window_start=? AND count < ?`,
		c.ScopeType, c.ScopeID, c.LimitType, c.WindowStart, limit)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CounterCountTx reads the window's current count inside tx, so a caller
// that just incremented can report remaining quota consistently.
func (r Repo) CounterCountTx(ctx context.Context, tx *sql.Tx, c domain.RateLimitCounter) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count FROM rate_limit_counters
WHERE scope_type=? AND scope_id=? AND limit_type=? AND window_start=?`,
		c.ScopeType, c.ScopeID, c.LimitType, c.WindowStart).Scan(&n)
	return n, err
}

func (r Repo) GetCounter(ctx context.Context, scopeType, scopeID, limitType, windowStart string) (domain.RateLimitCounter, error) {
	var c domain.RateLimitCounter
	row := r.DB.QueryRowContext(ctx, `SELECT scope_type,scope_id,limit_type,window_start,window_seconds,count
FROM rate_limit_counters WHERE scope_type=? AND scope_id=? AND limit_type=? AND window_start=?`,
		scopeType, scopeID, limitType, windowStart)
	err := row.Scan(&c.ScopeType, &c.ScopeID, &c.LimitType, &c.WindowStart, &c.WindowSeconds, &c.Count)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCounters(ctx context.Context, scopeType, scopeID string) ([]domain.RateLimitCounter, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT scope_type,scope_id,limit_type,window_start,window_seconds,count
FROM rate_limit_counters WHERE scope_type=? AND scope_id=? ORDER BY limit_type, window_start`, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RateLimitCounter
	for rows.Next() {
		var c domain.RateLimitCounter
		if err := rows.Scan(&c.ScopeType, &c.ScopeID, &c.LimitType, &c.WindowStart, &c.WindowSeconds, &c.Count); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// PurgeExpiredCounters drops windows that closed before cutoff. Counters are
// append-heavy; this keeps the table from growing without bound.
func (r Repo) PurgeExpiredCounters(ctx context.Context, cutoff string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rate_limit_counters
WHERE datetime(window_start, '+' || window_seconds || ' seconds') < datetime(?)`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
