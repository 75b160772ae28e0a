package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigledger/internal/domain"
)

const contractColumns = `id,work_item_id,worker_id,proposal_id,agreed_amount_cents,progress_pct,milestones_json,deliverables_json,hours_logged,revision_count,max_revisions,status,started_at,deadline_at,delivered_at,completed_at,created_at,updated_at`

func scanContract(scan func(dest ...any) error) (domain.Contract, error) {
	var c domain.Contract
	var milestones, deliverables, deadline, delivered, completed sql.NullString
	err := scan(&c.ID, &c.WorkItemID, &c.WorkerID, &c.ProposalID, &c.AgreedAmountCents,
		&c.ProgressPct, &milestones, &deliverables, &c.HoursLogged, &c.RevisionCount, &c.MaxRevisions,
		&c.Status, &c.StartedAt, &deadline, &delivered, &completed, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if milestones.Valid {
		c.MilestonesJSON = &milestones.String
	}
	if deliverables.Valid {
		c.DeliverablesJSON = &deliverables.String
	}
	if deadline.Valid {
		c.DeadlineAt = &deadline.String
	}
	if delivered.Valid {
		c.DeliveredAt = &delivered.String
	}
	if completed.Valid {
		c.CompletedAt = &completed.String
	}
	return c, nil
}

func (r Repo) InsertContractTx(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contracts(`+contractColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkItemID, c.WorkerID, c.ProposalID, c.AgreedAmountCents,
		c.ProgressPct, nullableStringPtr(c.MilestonesJSON), nullableStringPtr(c.DeliverablesJSON),
		c.HoursLogged, c.RevisionCount, c.MaxRevisions, c.Status, c.StartedAt,
		nullableStringPtr(c.DeadlineAt), nullableStringPtr(c.DeliveredAt), nullableStringPtr(c.CompletedAt),
		c.CreatedAt, c.UpdatedAt)
	if IsUniqueViolation(err) {
		return &domain.DuplicateKeyError{Entity: "contract", Key: c.ID}
	}
	return err
}

func (r Repo) UpdateContractTx(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	_, err := tx.ExecContext(ctx, `UPDATE contracts SET agreed_amount_cents=?, progress_pct=?, milestones_json=?, deliverables_json=?, hours_logged=?, revision_count=?, max_revisions=?, status=?, deadline_at=?, delivered_at=?, completed_at=?, updated_at=? WHERE id=?`,
		c.AgreedAmountCents, c.ProgressPct, nullableStringPtr(c.MilestonesJSON), nullableStringPtr(c.DeliverablesJSON),
		c.HoursLogged, c.RevisionCount, c.MaxRevisions, c.Status,
		nullableStringPtr(c.DeadlineAt), nullableStringPtr(c.DeliveredAt), nullableStringPtr(c.CompletedAt),
		c.UpdatedAt, c.ID)
	return err
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id)
	return scanContract(row.Scan)
}

func (r Repo) GetContractTx(ctx context.Context, tx *sql.Tx, id string) (domain.Contract, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id)
	return scanContract(row.Scan)
}

type ContractFilters struct {
	WorkerID   string
	WorkItemID string
	Status     string
	Limit      int
}

func (r Repo) ListContracts(ctx context.Context, f ContractFilters) ([]domain.Contract, error) {
	var clauses []string
	var args []any
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	if f.WorkItemID != "" {
		clauses = append(clauses, "work_item_id=?")
		args = append(args, f.WorkItemID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + contractColumns + ` FROM contracts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountWorkerContractOutcomesTx tallies terminal contract outcomes for a
// worker. Cancelled and disputed both count as failures.
func (r Repo) CountWorkerContractOutcomesTx(ctx context.Context, tx *sql.Tx, workerID string) (completed, failed int, err error) {
	row := tx.QueryRowContext(ctx, `SELECT
  COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status IN ('cancelled','disputed') THEN 1 ELSE 0 END),0)
FROM contracts WHERE worker_id=?`, workerID)
	err = row.Scan(&completed, &failed)
	return
}

// ListOverdueContracts returns in-progress contracts past their deadline.
func (r Repo) ListOverdueContracts(ctx context.Context, now string) ([]domain.Contract, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contractColumns+` FROM contracts
WHERE status='in_progress' AND deadline_at IS NOT NULL AND deadline_at < ? ORDER BY deadline_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
