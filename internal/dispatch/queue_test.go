package dispatch

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigledger/internal/db"
	"gigledger/internal/domain"
	"gigledger/internal/migrate"
)

func newTestQueue(t *testing.T) (*Queue, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	q := New(conn)
	q.Now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }
	return q, conn
}

func discoveredItem(platform, jobID, title, discoveredAt string) domain.WorkItem {
	return domain.WorkItem{
		Platform:      platform,
		PlatformJobID: jobID,
		Title:         title,
		Currency:      "USD",
		DiscoveredAt:  discoveredAt,
	}
}

func TestIngestCreatesDiscoveredItem(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	item, outcome, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "job-1", "Build API", "2025-05-01T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, IngestCreated, outcome)
	assert.Equal(t, domain.ItemDiscovered, item.Status)
	assert.NotEmpty(t, item.ID)
	assert.Nil(t, item.Score)
}

func TestIngestRefreshesOnSameKey(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "job-1", "Build API", "2025-05-01T10:00:00Z"))
	require.NoError(t, err)

	fresh := discoveredItem("upwork", "job-1", "Build API v2", "2025-05-01T11:00:00Z")
	fresh.ApplicantCount = 7
	second, outcome, err := q.Ingest(ctx, "scanner", fresh)
	require.NoError(t, err)
	assert.Equal(t, IngestUpdated, outcome)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Build API v2", second.Title)
	assert.Equal(t, 7, second.ApplicantCount)
	assert.Equal(t, domain.ItemDiscovered, second.Status)
}

func TestIngestStaleSnapshotIsNoOp(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "job-1", "Build API", "2025-05-01T10:00:00Z"))
	require.NoError(t, err)

	stale := discoveredItem("upwork", "job-1", "Old title", "2025-05-01T09:00:00Z")
	got, outcome, err := q.Ingest(ctx, "scanner", stale)
	require.NoError(t, err)
	assert.Equal(t, IngestUnchanged, outcome)
	assert.Equal(t, "Build API", got.Title)
}

func TestIngestSameJobIDOnOtherPlatformIsNewItem(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "job-1", "A", "2025-05-01T10:00:00Z"))
	require.NoError(t, err)
	b, outcome, err := q.Ingest(ctx, "scanner", discoveredItem("fiverr", "job-1", "B", "2025-05-01T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, IngestCreated, outcome)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestIngestNeverTouchesLifecycle(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	item, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "job-1", "Build API", "2025-05-01T10:00:00Z"))
	require.NoError(t, err)
	scored, err := q.ApplyScore(ctx, "scorer", item.ID, 0.8, nil)
	require.NoError(t, err)
	require.Equal(t, domain.ItemScored, scored.Status)

	got, outcome, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "job-1", "Build API v2", "2025-05-01T11:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, IngestUpdated, outcome)
	assert.Equal(t, domain.ItemScored, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 0.8, *got.Score)
}

func TestApplyScoreLastWriteWins(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	item, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "job-1", "Build API", "2025-05-01T10:00:00Z"))
	require.NoError(t, err)

	_, err = q.ApplyScore(ctx, "scorer", item.ID, 0.4, nil)
	require.NoError(t, err)
	breakdown := `{"budget":0.9,"skills":0.8}`
	got, err := q.ApplyScore(ctx, "scorer", item.ID, 0.85, &breakdown)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.Equal(t, 0.85, *got.Score)
	require.NotNil(t, got.ScoreBreakdownJSON)
	assert.Equal(t, domain.ItemScored, got.Status)
}

func TestListEligibleOrdering(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "a", "A", "2025-05-01T08:00:00Z"))
	require.NoError(t, err)
	b, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "b", "B", "2025-05-01T09:00:00Z"))
	require.NoError(t, err)
	// c stays unscored.
	c, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "c", "C", "2025-05-01T10:00:00Z"))
	require.NoError(t, err)

	_, err = q.ApplyScore(ctx, "scorer", a.ID, 0.5, nil)
	require.NoError(t, err)
	_, err = q.ApplyScore(ctx, "scorer", b.ID, 0.9, nil)
	require.NoError(t, err)

	got, err := q.ListEligible(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)
	assert.Equal(t, c.ID, got[2].ID)
}

func TestListEligibleScoreTieBreaksOnNewestDiscovery(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	older, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "a", "A", "2025-05-01T08:00:00Z"))
	require.NoError(t, err)
	newer, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "b", "B", "2025-05-01T09:00:00Z"))
	require.NoError(t, err)
	for _, id := range []string{older.ID, newer.ID} {
		_, err = q.ApplyScore(ctx, "scorer", id, 0.7, nil)
		require.NoError(t, err)
	}

	got, err := q.ListEligible(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}

func TestListEligibleSkipsExpiredAndRespectsLimit(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	expired := discoveredItem("upwork", "a", "A", "2025-05-01T08:00:00Z")
	past := "2025-05-01T11:00:00Z" // queue clock is 12:00
	expired.ExpiresAt = &past
	_, _, err := q.Ingest(ctx, "scanner", expired)
	require.NoError(t, err)

	for _, id := range []string{"b", "c", "d"} {
		_, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", id, id, "2025-05-01T09:00:00Z"))
		require.NoError(t, err)
	}

	got, err := q.ListEligible(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, it := range got {
		assert.NotEqual(t, "a", it.PlatformJobID)
	}
}

func TestStatusCounts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	item, _, err := q.Ingest(ctx, "scanner", discoveredItem("upwork", "a", "A", "2025-05-01T08:00:00Z"))
	require.NoError(t, err)
	_, _, err = q.Ingest(ctx, "scanner", discoveredItem("upwork", "b", "B", "2025-05-01T09:00:00Z"))
	require.NoError(t, err)
	_, err = q.ApplyScore(ctx, "scorer", item.ID, 0.5, nil)
	require.NoError(t, err)

	counts, err := q.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["discovered"])
	assert.Equal(t, 1, counts["scored"])
}
