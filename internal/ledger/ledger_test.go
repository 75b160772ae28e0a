package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigledger/internal/db"
	"gigledger/internal/domain"
	"gigledger/internal/migrate"
	"gigledger/internal/repo"
)

func newTestLedger(t *testing.T) (*Ledger, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	l := New(conn)
	l.Now = func() time.Time { return time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC) }
	return l, conn
}

func seedWorker(t *testing.T, r repo.Repo) domain.Worker {
	t.Helper()
	now := "2025-04-01T00:00:00Z"
	w := domain.Worker{
		ID:              uuid.NewString(),
		Name:            "alpha",
		Email:           "alpha@example.com",
		Capabilities:    []string{"go", "sql"},
		HourlyRateCents: 7500,
		Status:          "active",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, r.InsertWorker(context.Background(), w))
	return w
}

func TestRecordEarningUpdatesWorker(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWorker(t, l.Repo)

	entry, err := l.RecordEarning(ctx, "tester", EarningInput{
		WorkerID:           w.ID,
		GrossCents:         100_00,
		PlatformFeeCents:   10_00,
		ProcessingFeeCents: 3_00,
		Currency:           "USD",
		Description:        "milestone 1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(87_00), entry.NetCents)
	assert.Equal(t, domain.LedgerEarning, entry.Kind)

	got, err := l.Repo.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(87_00), got.TotalEarningsCents)
	assert.Equal(t, int64(87_00), got.NetProfitCents)
	require.NotNil(t, got.LastActiveAt)
}

func TestRecordEarningRejectsNegativeNet(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWorker(t, l.Repo)

	_, err := l.RecordEarning(ctx, "tester", EarningInput{
		WorkerID:         w.ID,
		GrossCents:       10_00,
		PlatformFeeCents: 15_00,
		Currency:         "USD",
	})
	var bad *domain.InvalidLedgerAmountError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, int64(-5_00), bad.NetCents)

	// Nothing written, nothing folded in.
	entries, err := l.Entries(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	got, err := l.Repo.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalEarningsCents)
}

func TestRecordCostReducesProfit(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWorker(t, l.Repo)

	_, err := l.RecordEarning(ctx, "tester", EarningInput{
		WorkerID: w.ID, GrossCents: 50_00, Currency: "USD",
	})
	require.NoError(t, err)

	platform := "upwork"
	_, err = l.RecordCost(ctx, "tester", CostInput{
		WorkerID:    w.ID,
		Platform:    &platform,
		AmountCents: 12_00,
		Category:    "connects",
		Currency:    "USD",
	})
	require.NoError(t, err)

	got, err := l.Repo.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_00), got.TotalEarningsCents)
	assert.Equal(t, int64(38_00), got.NetProfitCents)
}

func TestRebuildRecomputesFromHistory(t *testing.T) {
	l, conn := newTestLedger(t)
	ctx := context.Background()
	w := seedWorker(t, l.Repo)

	_, err := l.RecordEarning(ctx, "tester", EarningInput{
		WorkerID: w.ID, GrossCents: 200_00, PlatformFeeCents: 20_00, Currency: "USD",
		OccurredAt: "2025-04-01T09:00:00Z",
	})
	require.NoError(t, err)
	_, err = l.RecordCost(ctx, "tester", CostInput{
		WorkerID: w.ID, AmountCents: 30_00, Category: "subscription", Currency: "USD",
		OccurredAt: "2025-04-01T10:00:00Z",
	})
	require.NoError(t, err)

	// Corrupt the cached counters out from under the ledger.
	_, err = conn.Exec(`UPDATE workers SET total_earnings_cents=999999, net_profit_cents=-1, jobs_completed=42 WHERE id=?`, w.ID)
	require.NoError(t, err)

	rebuilt, err := l.Rebuild(ctx, "tester", w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(180_00), rebuilt.TotalEarningsCents)
	assert.Equal(t, int64(150_00), rebuilt.NetProfitCents)
	assert.Zero(t, rebuilt.JobsCompleted)
	require.NotNil(t, rebuilt.LastActiveAt)
	assert.Equal(t, "2025-04-01T10:00:00Z", *rebuilt.LastActiveAt)

	got, err := l.Repo.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(180_00), got.TotalEarningsCents)
	assert.Equal(t, int64(150_00), got.NetProfitCents)
}

func TestReconcileDetectsDrift(t *testing.T) {
	l, conn := newTestLedger(t)
	ctx := context.Background()
	w := seedWorker(t, l.Repo)

	_, err := l.RecordEarning(ctx, "tester", EarningInput{
		WorkerID: w.ID, GrossCents: 120_00, PlatformFeeCents: 12_00, Currency: "USD",
	})
	require.NoError(t, err)

	rec, err := l.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, int64(108_00), rec.DerivedEarningsCents)

	_, err = conn.Exec(`UPDATE workers SET total_earnings_cents=1 WHERE id=?`, w.ID)
	require.NoError(t, err)

	rec, err = l.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.Equal(t, int64(1), rec.CachedEarningsCents)
	assert.Equal(t, int64(108_00), rec.DerivedEarningsCents)

	// Reconcile never mutates; rebuild does.
	got, err := l.Repo.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalEarningsCents)
}

func TestSummaryDerivesFromEntries(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWorker(t, l.Repo)

	_, err := l.RecordEarning(ctx, "tester", EarningInput{
		WorkerID: w.ID, GrossCents: 100_00, PlatformFeeCents: 10_00, ProcessingFeeCents: 2_00, Currency: "USD",
	})
	require.NoError(t, err)
	_, err = l.RecordCost(ctx, "tester", CostInput{
		WorkerID: w.ID, AmountCents: 8_00, Category: "tooling", Currency: "USD",
	})
	require.NoError(t, err)

	s, err := l.Summary(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.EntryCount)
	assert.Equal(t, int64(100_00), s.GrossCents)
	assert.Equal(t, int64(12_00), s.FeeCents)
	assert.Equal(t, int64(88_00), s.EarningsCents)
	assert.Equal(t, int64(8_00), s.CostCents)
	assert.Equal(t, int64(80_00), s.NetProfitCents)
}

func TestDailyEarningsGroupsByDay(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWorker(t, l.Repo)

	for _, occurred := range []string{
		"2025-04-01T09:00:00Z",
		"2025-04-01T17:30:00Z",
		"2025-04-02T08:00:00Z",
	} {
		_, err := l.RecordEarning(ctx, "tester", EarningInput{
			WorkerID: w.ID, GrossCents: 10_00, Currency: "USD", OccurredAt: occurred,
		})
		require.NoError(t, err)
	}

	rows, err := l.DailyEarnings(ctx, w.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-04-02", rows[0].Day)
	assert.Equal(t, int64(10_00), rows[0].NetCents)
	assert.Equal(t, "2025-04-01", rows[1].Day)
	assert.Equal(t, int64(20_00), rows[1].NetCents)
	assert.Equal(t, 2, rows[1].EntryCount)
}

func TestPlatformBalances(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWorker(t, l.Repo)

	upwork, fiverr := "upwork", "fiverr"
	_, err := l.RecordEarning(ctx, "tester", EarningInput{
		WorkerID: w.ID, Platform: &upwork, GrossCents: 100_00, PlatformFeeCents: 10_00, Currency: "USD",
	})
	require.NoError(t, err)
	_, err = l.RecordCost(ctx, "tester", CostInput{
		WorkerID: w.ID, Platform: &upwork, AmountCents: 5_00, Category: "connects", Currency: "USD",
	})
	require.NoError(t, err)
	_, err = l.RecordEarning(ctx, "tester", EarningInput{
		WorkerID: w.ID, Platform: &fiverr, GrossCents: 40_00, Currency: "USD",
	})
	require.NoError(t, err)

	rows, err := l.PlatformBalances(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "fiverr", rows[0].Platform)
	assert.Equal(t, int64(40_00), rows[0].NetCents)
	assert.Equal(t, "upwork", rows[1].Platform)
	assert.Equal(t, int64(90_00), rows[1].NetCents)
	assert.Equal(t, int64(5_00), rows[1].CostCents)
}
