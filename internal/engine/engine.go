// Package engine is the transactional core: every state change runs through
// it, inside a single transaction that also carries the audit event and any
// cascaded writes. Callers never mutate rows directly.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"

	"gigledger/internal/config"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ratelimit"
	"gigledger/internal/repo"
	"gigledger/internal/telemetry"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Limiter *ratelimit.Limiter
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Limiter: ratelimit.New(db),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) maxRevisions() int {
	if e.Config != nil && e.Config.Ledger.MaxRevisions > 0 {
		return e.Config.Ledger.MaxRevisions
	}
	return 3
}

// conflict translates a lock timeout into the typed conflict error callers
// retry on.
func conflict(entity, id string, err error) error {
	if repo.IsBusy(err) {
		return &domain.ConcurrentConflictError{Entity: entity, ID: id}
	}
	return err
}

// WorkerCreateOptions are parameters for registering a worker.
type WorkerCreateOptions struct {
	Name            string
	Email           string
	Capabilities    []string
	HourlyRateCents int64
	MinProjectCents int64
	ActorID         string
}

func (e Engine) CreateWorker(ctx context.Context, opts WorkerCreateOptions) (domain.Worker, error) {
	if opts.Name == "" {
		return domain.Worker{}, errors.New("name is required")
	}
	if opts.Email == "" {
		return domain.Worker{}, errors.New("email is required")
	}
	now := e.nowStr()
	w := domain.Worker{
		ID:              uuid.NewString(),
		Name:            opts.Name,
		Email:           opts.Email,
		Capabilities:    opts.Capabilities,
		HourlyRateCents: opts.HourlyRateCents,
		MinProjectCents: opts.MinProjectCents,
		Status:          "active",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertWorker(ctx, w); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

// ProposalDraftOptions are parameters for drafting a bid.
type ProposalDraftOptions struct {
	WorkItemID     string
	WorkerID       string
	CoverLetter    string
	BidAmountCents int64
	// Experiment, when set, assigns a variant from that experiment's
	// traffic weights. VariantID overrides the assignment.
	Experiment string
	VariantID  string
	ActorID    string
}

// DraftProposal creates a draft bid against an item still open for bidding.
func (e Engine) DraftProposal(ctx context.Context, opts ProposalDraftOptions) (domain.Proposal, error) {
	if opts.BidAmountCents <= 0 {
		return domain.Proposal{}, errors.New("bid amount must be positive")
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetWorkItemTx(ctx, tx, opts.WorkItemID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if !item.Status.Eligible() {
		return domain.Proposal{}, &domain.InvalidTransitionError{Entity: "work_item", From: string(item.Status), To: string(domain.ItemApplied)}
	}
	if _, err := e.Repo.GetWorkerTx(ctx, tx, opts.WorkerID); err != nil {
		return domain.Proposal{}, err
	}

	p := domain.Proposal{
		ID:             uuid.NewString(),
		WorkItemID:     opts.WorkItemID,
		WorkerID:       opts.WorkerID,
		CoverLetter:    opts.CoverLetter,
		BidAmountCents: opts.BidAmountCents,
		Status:         domain.ProposalDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch {
	case opts.VariantID != "":
		p.VariantID = &opts.VariantID
	case opts.Experiment != "":
		variant, err := e.assignVariant(opts.Experiment, opts.WorkItemID, opts.WorkerID)
		if err != nil {
			return domain.Proposal{}, err
		}
		p.VariantID = &variant
	}

	if err := e.Repo.InsertProposalTx(ctx, tx, p); err != nil {
		return domain.Proposal{}, err
	}
	err = e.Events.Append(ctx, tx, "proposal.drafted", "proposal", p.ID, opts.ActorID, events.EventPayload{
		"work_item_id":     p.WorkItemID,
		"worker_id":        p.WorkerID,
		"bid_amount_cents": p.BidAmountCents,
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, conflict("proposal", p.ID, err)
	}
	return p, nil
}

// assignVariant picks a variant by traffic weight, deterministic per
// (item, worker) pair so re-drafting does not reshuffle assignments.
func (e Engine) assignVariant(experiment, workItemID, workerID string) (string, error) {
	if e.Config == nil {
		return "", fmt.Errorf("experiment %s: no config loaded", experiment)
	}
	spec, ok := e.Config.Experiments[experiment]
	if !ok {
		return "", fmt.Errorf("experiment %s not configured", experiment)
	}
	ids := make([]string, 0, len(spec.Variants))
	total := 0
	for id, weight := range spec.Variants {
		ids = append(ids, id)
		total += weight
	}
	sort.Strings(ids)

	h := fnv.New32a()
	h.Write([]byte(workItemID))
	h.Write([]byte{0})
	h.Write([]byte(workerID))
	pick := int(h.Sum32()) % total
	if pick < 0 {
		pick += total
	}
	for _, id := range ids {
		pick -= spec.Variants[id]
		if pick < 0 {
			return id, nil
		}
	}
	return ids[len(ids)-1], nil
}

// SubmitProposal moves a draft to submitted, consuming proposal quota for
// the item's platform and moving the item to applied if it has not applied
// yet. The quota check runs before any mutation.
func (e Engine) SubmitProposal(ctx context.Context, actorID, proposalID string) (domain.Proposal, error) {
	p, err := e.Repo.GetProposal(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	item, err := e.Repo.GetWorkItem(ctx, p.WorkItemID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if e.Config != nil && e.Limiter != nil {
		if _, err := e.Limiter.Allow(ctx, e.Config, item.Platform, p.WorkerID, "proposals"); err != nil {
			return domain.Proposal{}, err
		}
	}

	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, err = e.Repo.GetProposalTx(ctx, tx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if !p.Status.CanTransition(domain.ProposalSubmitted) {
		return domain.Proposal{}, &domain.InvalidTransitionError{Entity: "proposal", From: string(p.Status), To: string(domain.ProposalSubmitted)}
	}
	p.Status = domain.ProposalSubmitted
	p.SubmittedAt = &now
	p.UpdatedAt = now
	if err := e.Repo.UpdateProposalTx(ctx, tx, p); err != nil {
		return domain.Proposal{}, err
	}

	item, err = e.Repo.GetWorkItemTx(ctx, tx, p.WorkItemID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if item.Status.Eligible() {
		item.Status = domain.ItemApplied
		item.AppliedAt = &now
		item.UpdatedAt = now
		if err := e.Repo.UpdateWorkItemTx(ctx, tx, item); err != nil {
			return domain.Proposal{}, err
		}
	}

	err = e.Events.Append(ctx, tx, "proposal.submitted", "proposal", p.ID, actorID, events.EventPayload{
		"work_item_id": p.WorkItemID,
		"worker_id":    p.WorkerID,
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, conflict("proposal", p.ID, err)
	}
	return p, nil
}

// TransitionProposal applies one legal proposal status move. Accepting goes
// through AcceptProposal so rejection of siblings and contract creation
// stay in one transaction.
func (e Engine) TransitionProposal(ctx context.Context, actorID, proposalID string, to domain.ProposalStatus) (domain.Proposal, error) {
	if to == domain.ProposalAccepted {
		return domain.Proposal{}, errors.New("accepting a proposal requires the accept operation")
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposalTx(ctx, tx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if !p.Status.CanTransition(to) {
		telemetry.TransitionRejections.WithLabelValues("proposal").Inc()
		return domain.Proposal{}, &domain.InvalidTransitionError{Entity: "proposal", From: string(p.Status), To: string(to)}
	}
	from := p.Status
	p.Status = to
	p.UpdatedAt = now
	if err := e.Repo.UpdateProposalTx(ctx, tx, p); err != nil {
		return domain.Proposal{}, err
	}
	err = e.Events.Append(ctx, tx, "proposal.transitioned", "proposal", p.ID, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(to),
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, conflict("proposal", p.ID, err)
	}
	telemetry.Transitions.WithLabelValues("proposal", string(to)).Inc()
	return p, nil
}

// WorkItemTransitionOptions carry side inputs for specific moves.
type WorkItemTransitionOptions struct {
	// WorkerID is required when moving to won without a contract cascade.
	WorkerID string
	ActorID  string
}

// TransitionWorkItem applies one legal work item status move. Moving to a
// status that implies an assignment requires a worker. Moving to a
// terminal pre-contract status rejects the item's open proposals in the
// same transaction.
func (e Engine) TransitionWorkItem(ctx context.Context, itemID string, to domain.WorkItemStatus, opts WorkItemTransitionOptions) (domain.WorkItem, error) {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	item, err := e.transitionWorkItemTx(ctx, tx, itemID, to, opts.WorkerID, opts.ActorID, now)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, conflict("work_item", itemID, err)
	}
	telemetry.Transitions.WithLabelValues("work_item", string(to)).Inc()
	return item, nil
}

func (e Engine) transitionWorkItemTx(ctx context.Context, tx *sql.Tx, itemID string, to domain.WorkItemStatus, workerID, actorID, now string) (domain.WorkItem, error) {
	item, err := e.Repo.GetWorkItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !item.Status.CanTransition(to) {
		telemetry.TransitionRejections.WithLabelValues("work_item").Inc()
		return domain.WorkItem{}, &domain.InvalidTransitionError{Entity: "work_item", From: string(item.Status), To: string(to)}
	}
	from := item.Status
	item.Status = to
	item.UpdatedAt = now

	switch to {
	case domain.ItemApplied:
		item.AppliedAt = &now
	case domain.ItemWon:
		if workerID == "" {
			return domain.WorkItem{}, fmt.Errorf("work item %s: moving to won requires a worker", itemID)
		}
		item.AssignedWorkerID = &workerID
		item.WonAt = &now
	case domain.ItemCompleted:
		item.CompletedAt = &now
	}
	if to.AssignmentRequired() && item.AssignedWorkerID == nil {
		return domain.WorkItem{}, fmt.Errorf("work item %s: status %s requires an assigned worker", itemID, to)
	}

	if err := e.Repo.UpdateWorkItemTx(ctx, tx, item); err != nil {
		return domain.WorkItem{}, err
	}

	// An item that dies before a contract takes its open bids with it.
	if (to == domain.ItemRejected || to == domain.ItemExpired || to == domain.ItemCancelled) && from != domain.ItemWon {
		open, err := e.Repo.ListOpenProposalsForItemTx(ctx, tx, itemID, "")
		if err != nil {
			return domain.WorkItem{}, err
		}
		for _, p := range open {
			p.Status = domain.ProposalRejected
			p.UpdatedAt = now
			if err := e.Repo.UpdateProposalTx(ctx, tx, p); err != nil {
				return domain.WorkItem{}, err
			}
		}
	}

	err = e.Events.Append(ctx, tx, "item.transitioned", "work_item", item.ID, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(to),
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// AcceptOptions are parameters for accepting a proposal.
type AcceptOptions struct {
	// AgreedAmountCents overrides the bid amount. Zero keeps the bid.
	AgreedAmountCents int64
	DeadlineAt        *string
	ActorID           string
}

// AcceptProposal is the win cascade, all in one transaction: the proposal
// moves to accepted, every other open proposal on the item moves to
// rejected, the item moves to won with the proposal's worker assigned, and
// a contract is opened in in_progress. If any step fails nothing is
// committed, so two racing accepts produce exactly one contract.
func (e Engine) AcceptProposal(ctx context.Context, proposalID string, opts AcceptOptions) (domain.Contract, error) {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposalTx(ctx, tx, proposalID)
	if err != nil {
		return domain.Contract{}, err
	}
	if !p.Status.CanTransition(domain.ProposalAccepted) {
		return domain.Contract{}, &domain.InvalidTransitionError{Entity: "proposal", From: string(p.Status), To: string(domain.ProposalAccepted)}
	}
	if n, err := e.Repo.CountAcceptedForItemTx(ctx, tx, p.WorkItemID); err != nil {
		return domain.Contract{}, err
	} else if n > 0 {
		return domain.Contract{}, &domain.ConcurrentConflictError{Entity: "work_item", ID: p.WorkItemID}
	}

	p.Status = domain.ProposalAccepted
	p.UpdatedAt = now
	if err := e.Repo.UpdateProposalTx(ctx, tx, p); err != nil {
		return domain.Contract{}, err
	}

	siblings, err := e.Repo.ListOpenProposalsForItemTx(ctx, tx, p.WorkItemID, p.ID)
	if err != nil {
		return domain.Contract{}, err
	}
	for _, sib := range siblings {
		sib.Status = domain.ProposalRejected
		sib.UpdatedAt = now
		if err := e.Repo.UpdateProposalTx(ctx, tx, sib); err != nil {
			return domain.Contract{}, err
		}
	}

	if _, err := e.transitionWorkItemTx(ctx, tx, p.WorkItemID, domain.ItemWon, p.WorkerID, opts.ActorID, now); err != nil {
		return domain.Contract{}, err
	}

	amount := opts.AgreedAmountCents
	if amount == 0 {
		amount = p.BidAmountCents
	}
	c := domain.Contract{
		ID:                uuid.NewString(),
		WorkItemID:        p.WorkItemID,
		WorkerID:          p.WorkerID,
		ProposalID:        p.ID,
		AgreedAmountCents: amount,
		MaxRevisions:      e.maxRevisions(),
		Status:            domain.ContractInProgress,
		StartedAt:         now,
		DeadlineAt:        opts.DeadlineAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertContractTx(ctx, tx, c); err != nil {
		return domain.Contract{}, err
	}

	err = e.Events.Append(ctx, tx, "proposal.accepted", "contract", c.ID, opts.ActorID, events.EventPayload{
		"proposal_id":         p.ID,
		"work_item_id":        p.WorkItemID,
		"worker_id":           p.WorkerID,
		"agreed_amount_cents": amount,
		"rejected_siblings":   len(siblings),
	})
	if err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, conflict("work_item", p.WorkItemID, err)
	}
	telemetry.Transitions.WithLabelValues("proposal", string(domain.ProposalAccepted)).Inc()
	telemetry.Transitions.WithLabelValues("work_item", string(domain.ItemWon)).Inc()
	return c, nil
}

// TransitionContract applies one legal contract status move and mirrors it
// onto the work item. A terminal move also folds the outcome into the
// worker's counters, all in the same transaction.
func (e Engine) TransitionContract(ctx context.Context, actorID, contractID string, to domain.ContractStatus) (domain.Contract, error) {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetContractTx(ctx, tx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if !c.Status.CanTransition(to) {
		telemetry.TransitionRejections.WithLabelValues("contract").Inc()
		return domain.Contract{}, &domain.InvalidTransitionError{Entity: "contract", From: string(c.Status), To: string(to)}
	}
	from := c.Status
	c.Status = to
	c.UpdatedAt = now
	switch to {
	case domain.ContractDelivered:
		c.DeliveredAt = &now
		c.ProgressPct = 100
	case domain.ContractCompleted:
		c.CompletedAt = &now
	}
	if err := e.Repo.UpdateContractTx(ctx, tx, c); err != nil {
		return domain.Contract{}, err
	}

	if err := e.mirrorContractStatusTx(ctx, tx, c, now); err != nil {
		return domain.Contract{}, err
	}

	if to.IsTerminal() {
		w, err := e.Repo.GetWorkerTx(ctx, tx, c.WorkerID)
		if err != nil {
			return domain.Contract{}, err
		}
		completed, failed := w.JobsCompleted, w.JobsFailed
		if to == domain.ContractCompleted {
			completed++
		} else {
			failed++
		}
		err = e.Repo.UpdateWorkerStatsTx(ctx, tx, w.ID, completed, failed,
			w.TotalEarningsCents, w.NetProfitCents, now, now)
		if err != nil {
			return domain.Contract{}, err
		}
	}

	err = e.Events.Append(ctx, tx, "contract.transitioned", "contract", c.ID, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(to),
	})
	if err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, conflict("contract", c.ID, err)
	}
	telemetry.Transitions.WithLabelValues("contract", string(to)).Inc()
	return c, nil
}

// mirrorContractStatusTx keeps the work item's status in step with its
// contract.
func (e Engine) mirrorContractStatusTx(ctx context.Context, tx *sql.Tx, c domain.Contract, now string) error {
	item, err := e.Repo.GetWorkItemTx(ctx, tx, c.WorkItemID)
	if err != nil {
		return err
	}
	mirrored := domain.WorkItemStatusFor(c.Status)
	if item.Status == mirrored {
		return nil
	}
	if !item.Status.CanTransition(mirrored) {
		// A contract event on a still-won item implies the in-progress hop.
		if !(item.Status == domain.ItemWon && domain.ItemInProgress.CanTransition(mirrored)) {
			return &domain.InvalidTransitionError{Entity: "work_item", From: string(item.Status), To: string(mirrored)}
		}
	}
	item.Status = mirrored
	item.UpdatedAt = now
	if mirrored == domain.ItemCompleted {
		item.CompletedAt = &now
	}
	return e.Repo.UpdateWorkItemTx(ctx, tx, item)
}

// ProgressOptions are parameters for a progress update.
type ProgressOptions struct {
	ProgressPct int
	HoursDelta  float64
	ActorID     string
}

// UpdateProgress records execution progress on an in-progress contract.
// Progress only moves forward; a lower value is rejected and the caller is
// pointed at RequestRevision.
func (e Engine) UpdateProgress(ctx context.Context, contractID string, opts ProgressOptions) (domain.Contract, error) {
	if opts.ProgressPct < 0 || opts.ProgressPct > 100 {
		return domain.Contract{}, fmt.Errorf("progress must be between 0 and 100, got %d", opts.ProgressPct)
	}
	if opts.HoursDelta < 0 {
		return domain.Contract{}, fmt.Errorf("hours delta must be >= 0")
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetContractTx(ctx, tx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractInProgress {
		return domain.Contract{}, &domain.InvalidTransitionError{Entity: "contract", From: string(c.Status), To: string(domain.ContractInProgress)}
	}
	if opts.ProgressPct < c.ProgressPct {
		return domain.Contract{}, &domain.RegressionNotAllowedError{ContractID: c.ID, Current: c.ProgressPct, Requested: opts.ProgressPct}
	}
	c.ProgressPct = opts.ProgressPct
	c.HoursLogged += opts.HoursDelta
	c.UpdatedAt = now
	if err := e.Repo.UpdateContractTx(ctx, tx, c); err != nil {
		return domain.Contract{}, err
	}
	err = e.Events.Append(ctx, tx, "contract.progress", "contract", c.ID, opts.ActorID, events.EventPayload{
		"progress_pct": c.ProgressPct,
		"hours_logged": c.HoursLogged,
	})
	if err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, conflict("contract", c.ID, err)
	}
	return c, nil
}

// RequestRevision sends a delivered contract back to in_progress, counting
// against the revision cap. The cap rejects the request before any state
// changes. Delivery pins progress at 100, so the revision resets it to zero;
// rework progress is then tracked from the top without tripping the
// regression guard.
func (e Engine) RequestRevision(ctx context.Context, actorID, contractID, note string) (domain.Contract, error) {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetContractTx(ctx, tx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractDelivered {
		return domain.Contract{}, &domain.InvalidTransitionError{Entity: "contract", From: string(c.Status), To: string(domain.ContractInProgress)}
	}
	if c.RevisionCount >= c.MaxRevisions {
		return domain.Contract{}, &domain.RevisionLimitExceededError{ContractID: c.ID, Max: c.MaxRevisions}
	}
	c.RevisionCount++
	c.Status = domain.ContractInProgress
	c.ProgressPct = 0
	c.UpdatedAt = now
	if err := e.Repo.UpdateContractTx(ctx, tx, c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.mirrorContractStatusTx(ctx, tx, c, now); err != nil {
		return domain.Contract{}, err
	}
	err = e.Events.Append(ctx, tx, "contract.revision_requested", "contract", c.ID, actorID, events.EventPayload{
		"revision_count": c.RevisionCount,
		"max_revisions":  c.MaxRevisions,
		"note":           note,
	})
	if err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, conflict("contract", c.ID, err)
	}
	return c, nil
}
