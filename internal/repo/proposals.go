package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigledger/internal/domain"
)

const proposalColumns = `id,work_item_id,worker_id,cover_letter,bid_amount_cents,variant_id,status,submitted_at,created_at,updated_at`

func scanProposal(scan func(dest ...any) error) (domain.Proposal, error) {
	var p domain.Proposal
	var cover, variant, submittedAt sql.NullString
	err := scan(&p.ID, &p.WorkItemID, &p.WorkerID, &cover, &p.BidAmountCents, &variant, &p.Status, &submittedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if cover.Valid {
		p.CoverLetter = cover.String
	}
	if variant.Valid {
		p.VariantID = &variant.String
	}
	if submittedAt.Valid {
		p.SubmittedAt = &submittedAt.String
	}
	return p, nil
}

func (r Repo) InsertProposalTx(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proposals(`+proposalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.WorkItemID, p.WorkerID, nullable(p.CoverLetter), p.BidAmountCents,
		nullableStringPtr(p.VariantID), p.Status, nullableStringPtr(p.SubmittedAt), p.CreatedAt, p.UpdatedAt)
	if IsUniqueViolation(err) {
		return &domain.DuplicateKeyError{Entity: "proposal", Key: p.WorkItemID + "/" + p.WorkerID}
	}
	return err
}

func (r Repo) UpdateProposalTx(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	_, err := tx.ExecContext(ctx, `UPDATE proposals SET cover_letter=?, bid_amount_cents=?, variant_id=?, status=?, submitted_at=?, updated_at=? WHERE id=?`,
		nullable(p.CoverLetter), p.BidAmountCents, nullableStringPtr(p.VariantID), p.Status,
		nullableStringPtr(p.SubmittedAt), p.UpdatedAt, p.ID)
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	return scanProposal(row.Scan)
}

func (r Repo) GetProposalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Proposal, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	return scanProposal(row.Scan)
}

// ListOpenProposalsForItemTx returns non-terminal sibling proposals for a
// work item, excluding the given proposal id.
func (r Repo) ListOpenProposalsForItemTx(ctx context.Context, tx *sql.Tx, workItemID, excludeID string) ([]domain.Proposal, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+proposalColumns+` FROM proposals
WHERE work_item_id=? AND id<>? AND status NOT IN ('accepted','rejected','withdrawn')`, workItemID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CountAcceptedForItemTx guards the single-winner invariant.
func (r Repo) CountAcceptedForItemTx(ctx context.Context, tx *sql.Tx, workItemID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM proposals WHERE work_item_id=? AND status='accepted'`, workItemID).Scan(&n)
	return n, err
}

type ProposalFilters struct {
	WorkItemID string
	WorkerID   string
	Status     string
	VariantID  string
	Limit      int
}

func (r Repo) ListProposals(ctx context.Context, f ProposalFilters) ([]domain.Proposal, error) {
	var clauses []string
	var args []any
	if f.WorkItemID != "" {
		clauses = append(clauses, "work_item_id=?")
		args = append(args, f.WorkItemID)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.VariantID != "" {
		clauses = append(clauses, "variant_id=?")
		args = append(args, f.VariantID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + proposalColumns + ` FROM proposals ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
