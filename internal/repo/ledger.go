package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

const ledgerColumns = `id,kind,worker_id,contract_id,platform,category,gross_cents,platform_fee_cents,processing_fee_cents,net_cents,amount_cents,currency,description,occurred_at,created_at`

func scanLedgerEntry(scan func(dest ...any) error) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var contractID, platform, category, description sql.NullString
	err := scan(&e.ID, &e.Kind, &e.WorkerID, &contractID, &platform, &category,
		&e.GrossCents, &e.PlatformFeeCents, &e.ProcessingFeeCents, &e.NetCents, &e.AmountCents,
		&e.Currency, &description, &e.OccurredAt, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if contractID.Valid {
		e.ContractID = &contractID.String
	}
	if platform.Valid {
		e.Platform = &platform.String
	}
	if category.Valid {
		e.Category = &category.String
	}
	if description.Valid {
		e.Description = description.String
	}
	return e, nil
}

// InsertLedgerEntryTx appends one immutable entry. There is no update or
// delete path for ledger entries anywhere in this package.
func (r Repo) InsertLedgerEntryTx(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries(`+ledgerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Kind, e.WorkerID, nullableStringPtr(e.ContractID), nullableStringPtr(e.Platform), nullableStringPtr(e.Category),
		e.GrossCents, e.PlatformFeeCents, e.ProcessingFeeCents, e.NetCents, e.AmountCents,
		e.Currency, nullable(e.Description), e.OccurredAt, e.CreatedAt)
	if IsUniqueViolation(err) {
		return &domain.DuplicateKeyError{Entity: "ledger_entry", Key: e.ID}
	}
	return err
}

// ListLedgerEntries returns a worker's entries in replay order
// (occurred_at ascending, insertion order as tiebreak).
func (r Repo) ListLedgerEntries(ctx context.Context, workerID string) ([]domain.LedgerEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE worker_id=? ORDER BY occurred_at ASC, created_at ASC, id ASC`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ListLedgerEntriesTx(ctx context.Context, tx *sql.Tx, workerID string) ([]domain.LedgerEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE worker_id=? ORDER BY occurred_at ASC, created_at ASC, id ASC`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// DailyEarningsRow is one day of settled earnings for reporting.
type DailyEarningsRow struct {
	Day        string `json:"day"`
	GrossCents int64  `json:"gross_cents"`
	FeeCents   int64  `json:"fee_cents"`
	NetCents   int64  `json:"net_cents"`
	EntryCount int    `json:"entry_count"`
}

// DailyEarnings aggregates earning entries per UTC day, newest first.
func (r Repo) DailyEarnings(ctx context.Context, workerID string, limit int) ([]DailyEarningsRow, error) {
	query := `SELECT substr(occurred_at,1,10) AS day,
COALESCE(SUM(gross_cents),0), COALESCE(SUM(platform_fee_cents+processing_fee_cents),0), COALESCE(SUM(net_cents),0), count(*)
FROM ledger_entries WHERE kind='earning'`
	var args []any
	if workerID != "" {
		query += ` AND worker_id=?`
		args = append(args, workerID)
	}
	query += ` GROUP BY day ORDER BY day DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DailyEarningsRow
	for rows.Next() {
		var row DailyEarningsRow
		if err := rows.Scan(&row.Day, &row.GrossCents, &row.FeeCents, &row.NetCents, &row.EntryCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// PlatformBalanceRow is the settled position against one platform.
type PlatformBalanceRow struct {
	Platform   string `json:"platform"`
	NetCents   int64  `json:"net_cents"`
	CostCents  int64  `json:"cost_cents"`
	EntryCount int    `json:"entry_count"`
}

func (r Repo) PlatformBalances(ctx context.Context, workerID string) ([]PlatformBalanceRow, error) {
	query := `SELECT COALESCE(platform,'unattributed'),
COALESCE(SUM(CASE WHEN kind='earning' THEN net_cents ELSE 0 END),0),
COALESCE(SUM(CASE WHEN kind='cost' THEN amount_cents ELSE 0 END),0),
count(*)
FROM ledger_entries`
	var args []any
	if workerID != "" {
		query += ` WHERE worker_id=?`
		args = append(args, workerID)
	}
	query += ` GROUP BY platform ORDER BY 1`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PlatformBalanceRow
	for rows.Next() {
		var row PlatformBalanceRow
		if err := rows.Scan(&row.Platform, &row.NetCents, &row.CostCents, &row.EntryCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}
