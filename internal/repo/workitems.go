package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigledger/internal/domain"
)

const workItemColumns = `id,platform,platform_job_id,source_url,title,description,budget_min_cents,budget_max_cents,currency,skills_json,client_name,client_country,client_rating,applicant_count,score,score_breakdown_json,status,assigned_worker_id,discovered_at,posted_at,expires_at,applied_at,won_at,completed_at,raw_json,created_at,updated_at`

func scanWorkItem(scan func(dest ...any) error) (domain.WorkItem, error) {
	var it domain.WorkItem
	var sourceURL, description, clientName, clientCountry, breakdown, assigned sql.NullString
	var postedAt, expiresAt, appliedAt, wonAt, completedAt, raw sql.NullString
	var budgetMin, budgetMax sql.NullInt64
	var clientRating, score sql.NullFloat64
	var skills string
	err := scan(&it.ID, &it.Platform, &it.PlatformJobID, &sourceURL, &it.Title, &description,
		&budgetMin, &budgetMax, &it.Currency, &skills, &clientName, &clientCountry, &clientRating,
		&it.ApplicantCount, &score, &breakdown, &it.Status, &assigned,
		&it.DiscoveredAt, &postedAt, &expiresAt, &appliedAt, &wonAt, &completedAt, &raw,
		&it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if sourceURL.Valid {
		it.SourceURL = &sourceURL.String
	}
	if description.Valid {
		it.Description = description.String
	}
	if budgetMin.Valid {
		it.BudgetMinCents = &budgetMin.Int64
	}
	if budgetMax.Valid {
		it.BudgetMaxCents = &budgetMax.Int64
	}
	it.SkillsRequired = unmarshalStringSlice(skills)
	if clientName.Valid {
		it.ClientName = &clientName.String
	}
	if clientCountry.Valid {
		it.ClientCountry = &clientCountry.String
	}
	if clientRating.Valid {
		it.ClientRating = &clientRating.Float64
	}
	if score.Valid {
		it.Score = &score.Float64
	}
	if breakdown.Valid {
		it.ScoreBreakdownJSON = &breakdown.String
	}
	if assigned.Valid {
		it.AssignedWorkerID = &assigned.String
	}
	if postedAt.Valid {
		it.PostedAt = &postedAt.String
	}
	if expiresAt.Valid {
		it.ExpiresAt = &expiresAt.String
	}
	if appliedAt.Valid {
		it.AppliedAt = &appliedAt.String
	}
	if wonAt.Valid {
		it.WonAt = &wonAt.String
	}
	if completedAt.Valid {
		it.CompletedAt = &completedAt.String
	}
	if raw.Valid {
		it.RawJSON = &raw.String
	}
	return it, nil
}

func (r Repo) InsertWorkItemTx(ctx context.Context, tx *sql.Tx, it domain.WorkItem) error {
	skills, err := marshalStringSlice(it.SkillsRequired)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO work_items(`+workItemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Platform, it.PlatformJobID, nullableStringPtr(it.SourceURL), it.Title, nullable(it.Description),
		nullableInt64Ptr(it.BudgetMinCents), nullableInt64Ptr(it.BudgetMaxCents), it.Currency, skills,
		nullableStringPtr(it.ClientName), nullableStringPtr(it.ClientCountry), nullableFloatPtr(it.ClientRating),
		it.ApplicantCount, nullableFloatPtr(it.Score), nullableStringPtr(it.ScoreBreakdownJSON),
		it.Status, nullableStringPtr(it.AssignedWorkerID), it.DiscoveredAt,
		nullableStringPtr(it.PostedAt), nullableStringPtr(it.ExpiresAt), nullableStringPtr(it.AppliedAt),
		nullableStringPtr(it.WonAt), nullableStringPtr(it.CompletedAt), nullableStringPtr(it.RawJSON),
		it.CreatedAt, it.UpdatedAt)
	if IsUniqueViolation(err) {
		return &domain.DuplicateKeyError{Entity: "work_item", Key: it.Platform + "/" + it.PlatformJobID}
	}
	return err
}

func (r Repo) UpdateWorkItemTx(ctx context.Context, tx *sql.Tx, it domain.WorkItem) error {
	skills, err := marshalStringSlice(it.SkillsRequired)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE work_items SET source_url=?, title=?, description=?, budget_min_cents=?, budget_max_cents=?, currency=?, skills_json=?, client_name=?, client_country=?, client_rating=?, applicant_count=?, score=?, score_breakdown_json=?, status=?, assigned_worker_id=?, discovered_at=?, posted_at=?, expires_at=?, applied_at=?, won_at=?, completed_at=?, raw_json=?, updated_at=? WHERE id=?`,
		nullableStringPtr(it.SourceURL), it.Title, nullable(it.Description),
		nullableInt64Ptr(it.BudgetMinCents), nullableInt64Ptr(it.BudgetMaxCents), it.Currency, skills,
		nullableStringPtr(it.ClientName), nullableStringPtr(it.ClientCountry), nullableFloatPtr(it.ClientRating),
		it.ApplicantCount, nullableFloatPtr(it.Score), nullableStringPtr(it.ScoreBreakdownJSON),
		it.Status, nullableStringPtr(it.AssignedWorkerID), it.DiscoveredAt,
		nullableStringPtr(it.PostedAt), nullableStringPtr(it.ExpiresAt), nullableStringPtr(it.AppliedAt),
		nullableStringPtr(it.WonAt), nullableStringPtr(it.CompletedAt), nullableStringPtr(it.RawJSON),
		it.UpdatedAt, it.ID)
	return err
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id)
	return scanWorkItem(row.Scan)
}

func (r Repo) GetWorkItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id)
	return scanWorkItem(row.Scan)
}

// GetWorkItemByKeyTx looks up by the (platform, platform_job_id) dedup key.
func (r Repo) GetWorkItemByKeyTx(ctx context.Context, tx *sql.Tx, platform, platformJobID string) (domain.WorkItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE platform=? AND platform_job_id=?`, platform, platformJobID)
	return scanWorkItem(row.Scan)
}

type WorkItemFilters struct {
	Platform        string
	Status          string
	AssignedWorker  string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.Platform != "" {
		clauses = append(clauses, "platform=?")
		args = append(args, f.Platform)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssignedWorker != "" {
		clauses = append(clauses, "assigned_worker_id=?")
		args = append(args, f.AssignedWorker)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workItemColumns + ` FROM work_items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		it, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ListEligible returns biddable items: status in the pre-applied set and not
// expired at the read snapshot. Ordered score descending with nulls last,
// ties broken by discovered_at descending then id for reproducibility.
func (r Repo) ListEligible(ctx context.Context, now string, limit int) ([]domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items
WHERE status IN ('discovered','scored','queued') AND (expires_at IS NULL OR expires_at > ?)
ORDER BY (score IS NULL) ASC, score DESC, discovered_at DESC, id DESC`
	args := []any{now}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		it, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) CountWorkItemsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
