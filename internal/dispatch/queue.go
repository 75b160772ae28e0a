// Package dispatch maintains the acquisition queue: it ingests discovered
// work items keyed by (platform, platform_job_id), attaches scores, and
// serves the bid-ordering query.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/repo"
	"gigledger/internal/telemetry"
)

// IngestOutcome says what an Ingest call did to the store.
type IngestOutcome string

const (
	IngestCreated   IngestOutcome = "created"
	IngestUpdated   IngestOutcome = "updated"
	IngestUnchanged IngestOutcome = "unchanged"
)

type Queue struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) *Queue {
	return &Queue{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (q *Queue) nowRFC3339() string {
	if q.Now != nil {
		return q.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// Ingest upserts one discovered item on its (platform, platform_job_id)
// key. A new key inserts the item in discovered status. An existing key
// refreshes descriptive fields only when the incoming snapshot is at least
// as fresh as the stored one; a stale snapshot is a no-op. Lifecycle
// fields (status, score, assignment, timestamps past discovery) are never
// touched by ingest.
func (q *Queue) Ingest(ctx context.Context, actorID string, in domain.WorkItem) (domain.WorkItem, IngestOutcome, error) {
	now := q.nowRFC3339()
	if in.DiscoveredAt == "" {
		in.DiscoveredAt = now
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}

	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, "", err
	}
	defer tx.Rollback()

	existing, err := q.Repo.GetWorkItemByKeyTx(ctx, tx, in.Platform, in.PlatformJobID)
	if errors.Is(err, repo.ErrNotFound) {
		item := in
		item.ID = uuid.NewString()
		item.Status = domain.ItemDiscovered
		item.Score = nil
		item.ScoreBreakdownJSON = nil
		item.AssignedWorkerID = nil
		item.CreatedAt = now
		item.UpdatedAt = now
		if err := q.Repo.InsertWorkItemTx(ctx, tx, item); err != nil {
			return domain.WorkItem{}, "", err
		}
		err = q.Events.Append(ctx, tx, "item.discovered", "work_item", item.ID, actorID, events.EventPayload{
			"platform":        item.Platform,
			"platform_job_id": item.PlatformJobID,
		})
		if err != nil {
			return domain.WorkItem{}, "", err
		}
		if err := tx.Commit(); err != nil {
			return domain.WorkItem{}, "", err
		}
		telemetry.ItemsIngested.WithLabelValues(item.Platform, string(IngestCreated)).Inc()
		return item, IngestCreated, nil
	}
	if err != nil {
		return domain.WorkItem{}, "", err
	}

	// RFC 3339 UTC strings compare in time order.
	if in.DiscoveredAt < existing.DiscoveredAt {
		telemetry.ItemsIngested.WithLabelValues(existing.Platform, string(IngestUnchanged)).Inc()
		return existing, IngestUnchanged, nil
	}

	updated := existing
	updated.SourceURL = in.SourceURL
	updated.Title = in.Title
	updated.Description = in.Description
	updated.BudgetMinCents = in.BudgetMinCents
	updated.BudgetMaxCents = in.BudgetMaxCents
	updated.Currency = in.Currency
	updated.SkillsRequired = in.SkillsRequired
	updated.ClientName = in.ClientName
	updated.ClientCountry = in.ClientCountry
	updated.ClientRating = in.ClientRating
	updated.ApplicantCount = in.ApplicantCount
	updated.PostedAt = in.PostedAt
	updated.ExpiresAt = in.ExpiresAt
	updated.RawJSON = in.RawJSON
	updated.DiscoveredAt = in.DiscoveredAt
	updated.UpdatedAt = now

	if err := q.Repo.UpdateWorkItemTx(ctx, tx, updated); err != nil {
		return domain.WorkItem{}, "", err
	}
	err = q.Events.Append(ctx, tx, "item.refreshed", "work_item", updated.ID, actorID, events.EventPayload{
		"platform":        updated.Platform,
		"platform_job_id": updated.PlatformJobID,
	})
	if err != nil {
		return domain.WorkItem{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, "", err
	}
	telemetry.ItemsIngested.WithLabelValues(updated.Platform, string(IngestUpdated)).Inc()
	return updated, IngestUpdated, nil
}

// ApplyScore attaches a score and its breakdown to an item. Re-scoring is
// last write wins; proposals already derived from an older score stand. A
// discovered item moves to scored; items further along keep their status.
func (q *Queue) ApplyScore(ctx context.Context, actorID, itemID string, score float64, breakdownJSON *string) (domain.WorkItem, error) {
	now := q.nowRFC3339()
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	item, err := q.Repo.GetWorkItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item.Score = &score
	item.ScoreBreakdownJSON = breakdownJSON
	if item.Status == domain.ItemDiscovered {
		item.Status = domain.ItemScored
	}
	item.UpdatedAt = now

	if err := q.Repo.UpdateWorkItemTx(ctx, tx, item); err != nil {
		return domain.WorkItem{}, err
	}
	err = q.Events.Append(ctx, tx, "item.scored", "work_item", item.ID, actorID, events.EventPayload{
		"score": score,
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// ListEligible returns bid candidates: unexpired items still in a
// pre-application status, best score first, unscored items last, newest
// discovery breaking ties.
func (q *Queue) ListEligible(ctx context.Context, limit int) ([]domain.WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.Repo.ListEligible(ctx, q.nowRFC3339(), limit)
}

// StatusCounts reports queue depth per status.
func (q *Queue) StatusCounts(ctx context.Context) (map[string]int, error) {
	return q.Repo.CountWorkItemsByStatus(ctx)
}
