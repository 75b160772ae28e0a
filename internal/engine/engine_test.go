package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gigledger/internal/config"
	"gigledger/internal/db"
	"gigledger/internal/dispatch"
	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/migrate"
	"gigledger/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Queue  *dispatch.Queue
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	q := dispatch.New(conn)
	q.Now = eng.Now
	return testEnv{Engine: eng, Queue: q, Ctx: context.Background()}
}

func (env testEnv) worker(t *testing.T, name string) domain.Worker {
	t.Helper()
	w, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{
		Name:    name,
		Email:   name + "@example.com",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

func (env testEnv) item(t *testing.T, jobID string) domain.WorkItem {
	t.Helper()
	it, _, err := env.Queue.Ingest(env.Ctx, "scanner", domain.WorkItem{
		Platform:      "upwork",
		PlatformJobID: jobID,
		Title:         "job " + jobID,
		Currency:      "USD",
		DiscoveredAt:  "2025-06-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("ingest item: %v", err)
	}
	return it
}

func (env testEnv) submittedProposal(t *testing.T, itemID, workerID string) domain.Proposal {
	t.Helper()
	p, err := env.Engine.DraftProposal(env.Ctx, engine.ProposalDraftOptions{
		WorkItemID:     itemID,
		WorkerID:       workerID,
		BidAmountCents: 500_00,
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("draft proposal: %v", err)
	}
	p, err = env.Engine.SubmitProposal(env.Ctx, "tester", p.ID)
	if err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	return p
}

func TestWorkItemTransitions(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")

	it, err := env.Engine.TransitionWorkItem(env.Ctx, it.ID, domain.ItemQueued, engine.WorkItemTransitionOptions{ActorID: "tester"})
	if err != nil || it.Status != domain.ItemQueued {
		t.Fatalf("to queued: %v", err)
	}
	// discovered is behind queued; going back is not a legal move
	_, err = env.Engine.TransitionWorkItem(env.Ctx, it.ID, domain.ItemDiscovered, engine.WorkItemTransitionOptions{ActorID: "tester"})
	var bad *domain.InvalidTransitionError
	if !errors.As(err, &bad) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	// state unchanged after the rejected move
	got, err := env.Engine.Repo.GetWorkItem(env.Ctx, it.ID)
	if err != nil || got.Status != domain.ItemQueued {
		t.Fatalf("status changed after rejected transition: %v %s", err, got.Status)
	}
}

func TestWonRequiresWorker(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")
	env.submittedProposal(t, it.ID, w.ID)

	_, err := env.Engine.TransitionWorkItem(env.Ctx, it.ID, domain.ItemWon, engine.WorkItemTransitionOptions{ActorID: "tester"})
	if err == nil {
		t.Fatal("expected error moving to won without a worker")
	}
	got, err := env.Engine.TransitionWorkItem(env.Ctx, it.ID, domain.ItemWon, engine.WorkItemTransitionOptions{WorkerID: w.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("to won: %v", err)
	}
	if got.AssignedWorkerID == nil || *got.AssignedWorkerID != w.ID {
		t.Fatalf("worker not assigned: %+v", got.AssignedWorkerID)
	}
	if got.WonAt == nil {
		t.Fatal("won_at not set")
	}
}

func TestSubmitProposalMovesItemToApplied(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")

	p := env.submittedProposal(t, it.ID, w.ID)
	if p.Status != domain.ProposalSubmitted || p.SubmittedAt == nil {
		t.Fatalf("proposal not submitted: %+v", p)
	}
	got, err := env.Engine.Repo.GetWorkItem(env.Ctx, it.ID)
	if err != nil || got.Status != domain.ItemApplied {
		t.Fatalf("item not applied: %v %s", err, got.Status)
	}
	if got.AppliedAt == nil {
		t.Fatal("applied_at not set")
	}
}

func TestDuplicateProposalRejected(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")
	env.submittedProposal(t, it.ID, w.ID)

	_, err := env.Engine.DraftProposal(env.Ctx, engine.ProposalDraftOptions{
		WorkItemID:     it.ID,
		WorkerID:       w.ID,
		BidAmountCents: 400_00,
		ActorID:        "tester",
	})
	var dup *domain.DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
}

func TestSubmitProposalConsumesQuota(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "alpha")

	// upwork proposals: 1/minute in the default config
	p1 := env.item(t, "j1")
	env.submittedProposal(t, p1.ID, w.ID)

	p2 := env.item(t, "j2")
	draft, err := env.Engine.DraftProposal(env.Ctx, engine.ProposalDraftOptions{
		WorkItemID:     p2.ID,
		WorkerID:       w.ID,
		BidAmountCents: 300_00,
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	_, err = env.Engine.SubmitProposal(env.Ctx, "tester", draft.ID)
	var rle *domain.RateLimitExceededError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	// denial left the draft untouched
	got, err := env.Engine.Repo.GetProposal(env.Ctx, draft.ID)
	if err != nil || got.Status != domain.ProposalDraft {
		t.Fatalf("draft mutated after denial: %v %s", err, got.Status)
	}
}

func TestAcceptProposalCascade(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	alpha := env.worker(t, "alpha")
	beta := env.worker(t, "beta")
	pa := env.submittedProposal(t, it.ID, alpha.ID)
	pb := env.submittedProposal(t, it.ID, beta.ID)

	c, err := env.Engine.AcceptProposal(env.Ctx, pa.ID, engine.AcceptOptions{ActorID: "client"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if c.Status != domain.ContractInProgress || c.AgreedAmountCents != pa.BidAmountCents {
		t.Fatalf("bad contract: %+v", c)
	}

	got, _ := env.Engine.Repo.GetProposal(env.Ctx, pa.ID)
	if got.Status != domain.ProposalAccepted {
		t.Fatalf("winner status %s", got.Status)
	}
	sib, _ := env.Engine.Repo.GetProposal(env.Ctx, pb.ID)
	if sib.Status != domain.ProposalRejected {
		t.Fatalf("sibling status %s", sib.Status)
	}
	item, _ := env.Engine.Repo.GetWorkItem(env.Ctx, it.ID)
	if item.Status != domain.ItemWon || item.AssignedWorkerID == nil || *item.AssignedWorkerID != alpha.ID {
		t.Fatalf("item after accept: %+v", item)
	}
}

func TestAcceptProposalRaceProducesOneContract(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	alpha := env.worker(t, "alpha")
	beta := env.worker(t, "beta")
	pa := env.submittedProposal(t, it.ID, alpha.ID)
	pb := env.submittedProposal(t, it.ID, beta.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{pa.ID, pb.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = env.Engine.AcceptProposal(env.Ctx, id, engine.AcceptOptions{ActorID: "client"})
		}(i, id)
	}
	wg.Wait()

	var ok, failed int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		failed++
		var conflictErr *domain.ConcurrentConflictError
		var invalidErr *domain.InvalidTransitionError
		if !errors.As(err, &conflictErr) && !errors.As(err, &invalidErr) {
			t.Fatalf("unexpected race error: %v", err)
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("want exactly one winner, got ok=%d failed=%d", ok, failed)
	}
	contracts, err := env.Engine.Repo.ListContracts(env.Ctx, repo.ContractFilters{WorkItemID: it.ID})
	if err != nil {
		t.Fatalf("list contracts: %v", err)
	}
	if len(contracts) != 1 {
		t.Fatalf("want exactly one contract, got %d", len(contracts))
	}
}

func TestContractLifecycleMirrorsItem(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")
	p := env.submittedProposal(t, it.ID, w.ID)
	c, err := env.Engine.AcceptProposal(env.Ctx, p.ID, engine.AcceptOptions{ActorID: "client"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	c, err = env.Engine.TransitionContract(env.Ctx, "tester", c.ID, domain.ContractDelivered)
	if err != nil || c.Status != domain.ContractDelivered {
		t.Fatalf("deliver: %v", err)
	}
	if c.ProgressPct != 100 || c.DeliveredAt == nil {
		t.Fatalf("delivery fields: %+v", c)
	}
	item, _ := env.Engine.Repo.GetWorkItem(env.Ctx, it.ID)
	if item.Status != domain.ItemDelivered {
		t.Fatalf("item not mirrored: %s", item.Status)
	}

	c, err = env.Engine.TransitionContract(env.Ctx, "tester", c.ID, domain.ContractCompleted)
	if err != nil || c.Status != domain.ContractCompleted {
		t.Fatalf("complete: %v", err)
	}
	item, _ = env.Engine.Repo.GetWorkItem(env.Ctx, it.ID)
	if item.Status != domain.ItemCompleted || item.CompletedAt == nil {
		t.Fatalf("item after completion: %+v", item)
	}
	worker, _ := env.Engine.Repo.GetWorker(env.Ctx, w.ID)
	if worker.JobsCompleted != 1 || worker.JobsFailed != 0 {
		t.Fatalf("worker counters: %+v", worker)
	}
}

func TestCancelledContractCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")
	p := env.submittedProposal(t, it.ID, w.ID)
	c, err := env.Engine.AcceptProposal(env.Ctx, p.ID, engine.AcceptOptions{ActorID: "client"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.Engine.TransitionContract(env.Ctx, "tester", c.ID, domain.ContractCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	worker, _ := env.Engine.Repo.GetWorker(env.Ctx, w.ID)
	if worker.JobsFailed != 1 || worker.JobsCompleted != 0 {
		t.Fatalf("worker counters: %+v", worker)
	}
	item, _ := env.Engine.Repo.GetWorkItem(env.Ctx, it.ID)
	if item.Status != domain.ItemCancelled {
		t.Fatalf("item not mirrored: %s", item.Status)
	}
}

func TestProgressRegressionRejected(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")
	p := env.submittedProposal(t, it.ID, w.ID)
	c, err := env.Engine.AcceptProposal(env.Ctx, p.ID, engine.AcceptOptions{ActorID: "client"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	c, err = env.Engine.UpdateProgress(env.Ctx, c.ID, engine.ProgressOptions{ProgressPct: 60, HoursDelta: 4.5, ActorID: "alpha"})
	if err != nil || c.ProgressPct != 60 {
		t.Fatalf("progress: %v", err)
	}
	_, err = env.Engine.UpdateProgress(env.Ctx, c.ID, engine.ProgressOptions{ProgressPct: 40, ActorID: "alpha"})
	var reg *domain.RegressionNotAllowedError
	if !errors.As(err, &reg) {
		t.Fatalf("expected RegressionNotAllowedError, got %v", err)
	}
	if reg.Current != 60 || reg.Requested != 40 {
		t.Fatalf("regression detail: %+v", reg)
	}
}

func TestRevisionResetsProgress(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")
	p := env.submittedProposal(t, it.ID, w.ID)
	c, err := env.Engine.AcceptProposal(env.Ctx, p.ID, engine.AcceptOptions{ActorID: "client"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := env.Engine.TransitionContract(env.Ctx, "alpha", c.ID, domain.ContractDelivered); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	c, err = env.Engine.RequestRevision(env.Ctx, "client", c.ID, "redo the intro")
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if c.ProgressPct != 0 {
		t.Fatalf("progress not reset after revision: %d", c.ProgressPct)
	}

	// rework progress starts over below the delivered 100
	c, err = env.Engine.UpdateProgress(env.Ctx, c.ID, engine.ProgressOptions{ProgressPct: 60, HoursDelta: 2, ActorID: "alpha"})
	if err != nil {
		t.Fatalf("post-revision progress: %v", err)
	}
	if c.ProgressPct != 60 {
		t.Fatalf("progress: %d", c.ProgressPct)
	}
}

func TestRevisionFlowAndLimit(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")
	p := env.submittedProposal(t, it.ID, w.ID)
	c, err := env.Engine.AcceptProposal(env.Ctx, p.ID, engine.AcceptOptions{ActorID: "client"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	// default cap is 3 revisions
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.TransitionContract(env.Ctx, "tester", c.ID, domain.ContractDelivered); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
		got, err := env.Engine.RequestRevision(env.Ctx, "client", c.ID, "tweak")
		if err != nil {
			t.Fatalf("revision %d: %v", i, err)
		}
		if got.Status != domain.ContractInProgress || got.RevisionCount != i+1 {
			t.Fatalf("after revision %d: %+v", i, got)
		}
		item, _ := env.Engine.Repo.GetWorkItem(env.Ctx, it.ID)
		if item.Status != domain.ItemInProgress {
			t.Fatalf("item not back in progress: %s", item.Status)
		}
	}

	if _, err := env.Engine.TransitionContract(env.Ctx, "tester", c.ID, domain.ContractDelivered); err != nil {
		t.Fatalf("final deliver: %v", err)
	}
	_, err = env.Engine.RequestRevision(env.Ctx, "client", c.ID, "one more")
	var lim *domain.RevisionLimitExceededError
	if !errors.As(err, &lim) {
		t.Fatalf("expected RevisionLimitExceededError, got %v", err)
	}
}

func TestItemDeathRejectsOpenProposals(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, "j1")
	w := env.worker(t, "alpha")
	p := env.submittedProposal(t, it.ID, w.ID)

	if _, err := env.Engine.TransitionWorkItem(env.Ctx, it.ID, domain.ItemExpired, engine.WorkItemTransitionOptions{ActorID: "scanner"}); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, err := env.Engine.Repo.GetProposal(env.Ctx, p.ID)
	if err != nil || got.Status != domain.ProposalRejected {
		t.Fatalf("proposal after expiry: %v %s", err, got.Status)
	}
}

func TestVariantAssignmentIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "alpha")

	seen := map[string]bool{}
	for _, jobID := range []string{"j1", "j2", "j3", "j4", "j5", "j6"} {
		it := env.item(t, jobID)
		p, err := env.Engine.DraftProposal(env.Ctx, engine.ProposalDraftOptions{
			WorkItemID:     it.ID,
			WorkerID:       w.ID,
			BidAmountCents: 100_00,
			Experiment:     "proposal-tone",
			ActorID:        "tester",
		})
		if err != nil {
			t.Fatalf("draft %s: %v", jobID, err)
		}
		if p.VariantID == nil {
			t.Fatalf("no variant assigned for %s", jobID)
		}
		seen[*p.VariantID] = true
	}
	for v := range seen {
		switch v {
		case "direct", "consultative", "portfolio-led":
		default:
			t.Fatalf("unknown variant %s", v)
		}
	}
}
