// Package ledger owns the append-only financial log and the aggregate
// projection it feeds onto workers. Entries are never updated or deleted;
// the worker counters are a cache that Rebuild can recompute from history
// at any time.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/repo"
	"gigledger/internal/telemetry"
)

type Ledger struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) *Ledger {
	return &Ledger{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (l *Ledger) nowRFC3339() string {
	if l.Now != nil {
		return l.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// EarningInput describes one settled payment. Net is derived, never supplied.
type EarningInput struct {
	WorkerID           string
	ContractID         *string
	Platform           *string
	GrossCents         int64
	PlatformFeeCents   int64
	ProcessingFeeCents int64
	Currency           string
	Description        string
	OccurredAt         string
}

// CostInput describes money going out: subscriptions, connects, tooling.
type CostInput struct {
	WorkerID    string
	ContractID  *string
	Platform    *string
	AmountCents int64
	Category    string
	Currency    string
	Description string
	OccurredAt  string
}

// RecordEarning appends an earning entry and folds it into the worker's
// counters in the same transaction. An earning whose net settles below zero
// is rejected before anything is written.
func (l *Ledger) RecordEarning(ctx context.Context, actorID string, in EarningInput) (domain.LedgerEntry, error) {
	net := in.GrossCents - in.PlatformFeeCents - in.ProcessingFeeCents
	if net < 0 {
		return domain.LedgerEntry{}, &domain.InvalidLedgerAmountError{NetCents: net}
	}
	now := l.nowRFC3339()
	occurred := in.OccurredAt
	if occurred == "" {
		occurred = now
	}
	entry := domain.LedgerEntry{
		ID:                 uuid.NewString(),
		Kind:               domain.LedgerEarning,
		WorkerID:           in.WorkerID,
		ContractID:         in.ContractID,
		Platform:           in.Platform,
		GrossCents:         in.GrossCents,
		PlatformFeeCents:   in.PlatformFeeCents,
		ProcessingFeeCents: in.ProcessingFeeCents,
		NetCents:           net,
		Currency:           in.Currency,
		Description:        in.Description,
		OccurredAt:         occurred,
		CreatedAt:          now,
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer tx.Rollback()

	w, err := l.Repo.GetWorkerTx(ctx, tx, in.WorkerID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := l.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	err = l.Repo.UpdateWorkerStatsTx(ctx, tx, w.ID,
		w.JobsCompleted, w.JobsFailed,
		w.TotalEarningsCents+net, w.NetProfitCents+net,
		occurred, now)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	err = l.Events.Append(ctx, tx, "ledger.earning_recorded", "ledger_entry", entry.ID, actorID, events.EventPayload{
		"worker_id": in.WorkerID,
		"net_cents": net,
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, err
	}
	telemetry.LedgerEntries.WithLabelValues(string(domain.LedgerEarning)).Inc()
	telemetry.LedgerNetCents.WithLabelValues(string(domain.LedgerEarning)).Add(float64(net))
	return entry, nil
}

// RecordCost appends a cost entry and reduces the worker's net profit.
func (l *Ledger) RecordCost(ctx context.Context, actorID string, in CostInput) (domain.LedgerEntry, error) {
	if in.AmountCents < 0 {
		return domain.LedgerEntry{}, &domain.InvalidLedgerAmountError{NetCents: -in.AmountCents}
	}
	now := l.nowRFC3339()
	occurred := in.OccurredAt
	if occurred == "" {
		occurred = now
	}
	category := in.Category
	entry := domain.LedgerEntry{
		ID:          uuid.NewString(),
		Kind:        domain.LedgerCost,
		WorkerID:    in.WorkerID,
		ContractID:  in.ContractID,
		Platform:    in.Platform,
		AmountCents: in.AmountCents,
		Category:    &category,
		Currency:    in.Currency,
		Description: in.Description,
		OccurredAt:  occurred,
		CreatedAt:   now,
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer tx.Rollback()

	w, err := l.Repo.GetWorkerTx(ctx, tx, in.WorkerID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := l.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	err = l.Repo.UpdateWorkerStatsTx(ctx, tx, w.ID,
		w.JobsCompleted, w.JobsFailed,
		w.TotalEarningsCents, w.NetProfitCents-in.AmountCents,
		occurred, now)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	err = l.Events.Append(ctx, tx, "ledger.cost_recorded", "ledger_entry", entry.ID, actorID, events.EventPayload{
		"worker_id":    in.WorkerID,
		"amount_cents": in.AmountCents,
		"category":     in.Category,
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, err
	}
	telemetry.LedgerEntries.WithLabelValues(string(domain.LedgerCost)).Inc()
	telemetry.LedgerNetCents.WithLabelValues(string(domain.LedgerCost)).Add(float64(in.AmountCents))
	return entry, nil
}

// Rebuild discards a worker's aggregate counters and recomputes them by
// replaying ledger entries in occurred-at order plus the worker's terminal
// contract outcomes. It returns the rebuilt worker.
func (l *Ledger) Rebuild(ctx context.Context, actorID, workerID string) (domain.Worker, error) {
	now := l.nowRFC3339()
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()

	w, err := l.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		return domain.Worker{}, err
	}
	entries, err := l.Repo.ListLedgerEntriesTx(ctx, tx, workerID)
	if err != nil {
		return domain.Worker{}, err
	}

	var earnings, profit int64
	var lastActive string
	for _, e := range entries {
		switch e.Kind {
		case domain.LedgerEarning:
			earnings += e.NetCents
			profit += e.NetCents
		case domain.LedgerCost:
			profit -= e.AmountCents
		}
		if e.OccurredAt > lastActive {
			lastActive = e.OccurredAt
		}
	}
	completed, failed, err := l.Repo.CountWorkerContractOutcomesTx(ctx, tx, workerID)
	if err != nil {
		return domain.Worker{}, err
	}

	if err := l.Repo.UpdateWorkerStatsTx(ctx, tx, workerID, completed, failed, earnings, profit, lastActive, now); err != nil {
		return domain.Worker{}, err
	}
	err = l.Events.Append(ctx, tx, "ledger.rebuilt", "worker", workerID, actorID, events.EventPayload{
		"entries":        len(entries),
		"earnings_cents": earnings,
		"profit_cents":   profit,
	})
	if err != nil {
		return domain.Worker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Worker{}, err
	}

	w.JobsCompleted = completed
	w.JobsFailed = failed
	w.TotalEarningsCents = earnings
	w.NetProfitCents = profit
	if completed+failed > 0 {
		w.SuccessRate = float64(completed) / float64(completed+failed)
	} else {
		w.SuccessRate = 0
	}
	if lastActive != "" {
		w.LastActiveAt = &lastActive
	}
	w.UpdatedAt = now
	return w, nil
}

// WorkerSummary is the settled financial position of one worker.
type WorkerSummary struct {
	WorkerID        string  `json:"worker_id"`
	EntryCount      int     `json:"entry_count"`
	GrossCents      int64   `json:"gross_cents"`
	FeeCents        int64   `json:"fee_cents"`
	EarningsCents   int64   `json:"earnings_cents"`
	CostCents       int64   `json:"cost_cents"`
	NetProfitCents  int64   `json:"net_profit_cents"`
	JobsCompleted   int     `json:"jobs_completed"`
	JobsFailed      int     `json:"jobs_failed"`
	SuccessRate     float64 `json:"success_rate"`
	HourlyRateCents int64   `json:"hourly_rate_cents"`
}

// Summary derives a worker's position straight from history, bypassing the
// cached counters so it can be used to audit them.
func (l *Ledger) Summary(ctx context.Context, workerID string) (WorkerSummary, error) {
	w, err := l.Repo.GetWorker(ctx, workerID)
	if err != nil {
		return WorkerSummary{}, err
	}
	entries, err := l.Repo.ListLedgerEntries(ctx, workerID)
	if err != nil {
		return WorkerSummary{}, err
	}
	s := WorkerSummary{
		WorkerID:        workerID,
		EntryCount:      len(entries),
		JobsCompleted:   w.JobsCompleted,
		JobsFailed:      w.JobsFailed,
		SuccessRate:     w.SuccessRate,
		HourlyRateCents: w.HourlyRateCents,
	}
	for _, e := range entries {
		switch e.Kind {
		case domain.LedgerEarning:
			s.GrossCents += e.GrossCents
			s.FeeCents += e.PlatformFeeCents + e.ProcessingFeeCents
			s.EarningsCents += e.NetCents
		case domain.LedgerCost:
			s.CostCents += e.AmountCents
		}
	}
	s.NetProfitCents = s.EarningsCents - s.CostCents
	return s, nil
}

// Reconciliation compares a worker's cached counters against the values a
// replay would produce.
type Reconciliation struct {
	WorkerID             string `json:"worker_id"`
	Consistent           bool   `json:"consistent"`
	CachedEarningsCents  int64  `json:"cached_earnings_cents"`
	DerivedEarningsCents int64  `json:"derived_earnings_cents"`
	CachedProfitCents    int64  `json:"cached_profit_cents"`
	DerivedProfitCents   int64  `json:"derived_profit_cents"`
	CachedJobsCompleted  int    `json:"cached_jobs_completed"`
	DerivedJobsCompleted int    `json:"derived_jobs_completed"`
	CachedJobsFailed     int    `json:"cached_jobs_failed"`
	DerivedJobsFailed    int    `json:"derived_jobs_failed"`
}

// Reconcile checks the cached counters without modifying anything. A false
// Consistent means the cache has drifted and Rebuild would change it.
func (l *Ledger) Reconcile(ctx context.Context, workerID string) (Reconciliation, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return Reconciliation{}, err
	}
	defer tx.Rollback()

	w, err := l.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		return Reconciliation{}, err
	}
	entries, err := l.Repo.ListLedgerEntriesTx(ctx, tx, workerID)
	if err != nil {
		return Reconciliation{}, err
	}
	var earnings, profit int64
	for _, e := range entries {
		switch e.Kind {
		case domain.LedgerEarning:
			earnings += e.NetCents
			profit += e.NetCents
		case domain.LedgerCost:
			profit -= e.AmountCents
		}
	}
	completed, failed, err := l.Repo.CountWorkerContractOutcomesTx(ctx, tx, workerID)
	if err != nil {
		return Reconciliation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Reconciliation{}, err
	}

	rec := Reconciliation{
		WorkerID:             workerID,
		CachedEarningsCents:  w.TotalEarningsCents,
		DerivedEarningsCents: earnings,
		CachedProfitCents:    w.NetProfitCents,
		DerivedProfitCents:   profit,
		CachedJobsCompleted:  w.JobsCompleted,
		DerivedJobsCompleted: completed,
		CachedJobsFailed:     w.JobsFailed,
		DerivedJobsFailed:    failed,
	}
	rec.Consistent = rec.CachedEarningsCents == rec.DerivedEarningsCents &&
		rec.CachedProfitCents == rec.DerivedProfitCents &&
		rec.CachedJobsCompleted == rec.DerivedJobsCompleted &&
		rec.CachedJobsFailed == rec.DerivedJobsFailed
	return rec, nil
}

// DailyEarnings reports per-day earning totals, newest first.
func (l *Ledger) DailyEarnings(ctx context.Context, workerID string, limit int) ([]repo.DailyEarningsRow, error) {
	return l.Repo.DailyEarnings(ctx, workerID, limit)
}

// PlatformBalances reports the settled position per platform.
func (l *Ledger) PlatformBalances(ctx context.Context, workerID string) ([]repo.PlatformBalanceRow, error) {
	return l.Repo.PlatformBalances(ctx, workerID)
}

// Entries lists a worker's ledger in replay order.
func (l *Ledger) Entries(ctx context.Context, workerID string) ([]domain.LedgerEntry, error) {
	return l.Repo.ListLedgerEntries(ctx, workerID)
}
