package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

const workerColumns = `id,name,email,capabilities_json,hourly_rate_cents,min_project_cents,jobs_completed,jobs_failed,total_earnings_cents,net_profit_cents,status,last_active_at,created_at,updated_at,deleted_at`

func scanWorker(scan func(dest ...any) error) (domain.Worker, error) {
	var w domain.Worker
	var caps string
	var lastActive, deletedAt sql.NullString
	var successDenom int
	err := scan(&w.ID, &w.Name, &w.Email, &caps, &w.HourlyRateCents, &w.MinProjectCents,
		&w.JobsCompleted, &w.JobsFailed, &w.TotalEarningsCents, &w.NetProfitCents,
		&w.Status, &lastActive, &w.CreatedAt, &w.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Capabilities = unmarshalStringSlice(caps)
	if lastActive.Valid {
		w.LastActiveAt = &lastActive.String
	}
	if deletedAt.Valid {
		w.DeletedAt = &deletedAt.String
	}
	successDenom = w.JobsCompleted + w.JobsFailed
	if successDenom > 0 {
		w.SuccessRate = float64(w.JobsCompleted) / float64(successDenom)
	}
	return w, nil
}

func (r Repo) InsertWorker(ctx context.Context, w domain.Worker) error {
	caps, err := marshalStringSlice(w.Capabilities)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO workers(id,name,email,capabilities_json,hourly_rate_cents,min_project_cents,jobs_completed,jobs_failed,total_earnings_cents,net_profit_cents,status,last_active_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Name, w.Email, caps, w.HourlyRateCents, w.MinProjectCents,
		w.JobsCompleted, w.JobsFailed, w.TotalEarningsCents, w.NetProfitCents,
		w.Status, nullableStringPtr(w.LastActiveAt), w.CreatedAt, w.UpdatedAt)
	if IsUniqueViolation(err) {
		return &domain.DuplicateKeyError{Entity: "worker", Key: w.Email}
	}
	return err
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id)
	return scanWorker(row.Scan)
}

func (r Repo) GetWorkerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Worker, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id)
	return scanWorker(row.Scan)
}

// UpdateWorker persists admin-editable fields. Aggregate counters are owned
// by the ledger aggregator and are not touched here.
func (r Repo) UpdateWorker(ctx context.Context, w domain.Worker) error {
	caps, err := marshalStringSlice(w.Capabilities)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE workers SET name=?, email=?, capabilities_json=?, hourly_rate_cents=?, min_project_cents=?, status=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		w.Name, w.Email, caps, w.HourlyRateCents, w.MinProjectCents, w.Status, w.UpdatedAt, w.ID)
	if IsUniqueViolation(err) {
		return &domain.DuplicateKeyError{Entity: "worker", Key: w.Email}
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateWorkerStatsTx writes the aggregate projection fields inside the
// caller's transaction.
func (r Repo) UpdateWorkerStatsTx(ctx context.Context, tx *sql.Tx, id string, jobsCompleted, jobsFailed int, totalEarnings, netProfit int64, lastActiveAt, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE workers SET jobs_completed=?, jobs_failed=?, total_earnings_cents=?, net_profit_cents=?, last_active_at=?, updated_at=? WHERE id=?`,
		jobsCompleted, jobsFailed, totalEarnings, netProfit, nullable(lastActiveAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteWorker marks the worker deleted; history referencing it stays.
func (r Repo) SoftDeleteWorker(ctx context.Context, id, deletedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workers SET deleted_at=?, status='retired', updated_at=? WHERE id=? AND deleted_at IS NULL`, deletedAt, deletedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListWorkers(ctx context.Context, includeDeleted bool) ([]domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
