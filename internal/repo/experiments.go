package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"gigledger/internal/domain"
)

func scanExperiment(scan func(dest ...any) error) (domain.Experiment, error) {
	var e domain.Experiment
	var variantsJSON string
	err := scan(&e.ID, &e.Name, &e.Status, &variantsJSON, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(variantsJSON), &e.Variants); err != nil {
		return e, err
	}
	return e, nil
}

func (r Repo) InsertExperiment(ctx context.Context, e domain.Experiment) error {
	variants, err := json.Marshal(e.Variants)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO experiments(id,name,status,variants_json,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.Name, e.Status, string(variants), e.CreatedAt, e.UpdatedAt)
	if IsUniqueViolation(err) {
		return &domain.DuplicateKeyError{Entity: "experiment", Key: e.Name}
	}
	return err
}

func (r Repo) UpdateExperiment(ctx context.Context, e domain.Experiment) error {
	variants, err := json.Marshal(e.Variants)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE experiments SET name=?, status=?, variants_json=?, updated_at=? WHERE id=?`,
		e.Name, e.Status, string(variants), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,status,variants_json,created_at,updated_at FROM experiments WHERE id=?`, id)
	return scanExperiment(row.Scan)
}

func (r Repo) GetExperimentByName(ctx context.Context, name string) (domain.Experiment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,status,variants_json,created_at,updated_at FROM experiments WHERE name=?`, name)
	return scanExperiment(row.Scan)
}

func (r Repo) ListExperiments(ctx context.Context) ([]domain.Experiment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,variants_json,created_at,updated_at FROM experiments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// BumpExperimentResultTx adds deltas to one variant's rollup, creating the
// row on first touch. Called inside the same tx as the proposal or ledger
// write that produced the delta.
func (r Repo) BumpExperimentResultTx(ctx context.Context, tx *sql.Tx, experimentID, variantID string, impressions, conversions int, revenueCents int64, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO experiment_results(experiment_id,variant_id,impressions,conversions,revenue_cents,updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(experiment_id,variant_id) DO UPDATE SET
  impressions=impressions+excluded.impressions,
  conversions=conversions+excluded.conversions,
  revenue_cents=revenue_cents+excluded.revenue_cents,
  updated_at=excluded.updated_at`,
		experimentID, variantID, impressions, conversions, revenueCents, now)
	return err
}

func (r Repo) ResetExperimentResultsTx(ctx context.Context, tx *sql.Tx, experimentID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM experiment_results WHERE experiment_id=?`, experimentID)
	return err
}

func (r Repo) ListExperimentResults(ctx context.Context, experimentID string) ([]domain.ExperimentResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT experiment_id,variant_id,impressions,conversions,revenue_cents,updated_at
FROM experiment_results WHERE experiment_id=? ORDER BY variant_id`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExperimentResult
	for rows.Next() {
		var row domain.ExperimentResult
		if err := rows.Scan(&row.ExperimentID, &row.VariantID, &row.Impressions, &row.Conversions, &row.RevenueCents, &row.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// VariantOutcomeTx recomputes one variant's rollup from proposal history.
// Impressions are submitted proposals, conversions are accepted ones, and
// revenue is the net of ledger entries on contracts born from them.
func (r Repo) VariantOutcomeTx(ctx context.Context, tx *sql.Tx, variantID string) (impressions, conversions int, revenueCents int64, err error) {
	row := tx.QueryRowContext(ctx, `SELECT
  COALESCE(SUM(CASE WHEN p.status != 'draft' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN p.status = 'accepted' THEN 1 ELSE 0 END),0),
  COALESCE((SELECT SUM(le.net_cents) FROM ledger_entries le
    JOIN contracts c ON c.id = le.contract_id
    JOIN proposals p2 ON p2.id = c.proposal_id
    WHERE le.kind='earning' AND p2.variant_id = ?),0)
FROM proposals p WHERE p.variant_id = ?`, variantID, variantID)
	err = row.Scan(&impressions, &conversions, &revenueCents)
	return
}
