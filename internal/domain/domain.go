package domain

// Worker is an autonomous agent that bids on and executes work items.
// Aggregate counters (JobsCompleted, JobsFailed, TotalEarningsCents,
// NetProfitCents) are owned by the ledger aggregator; nothing else writes them.
type Worker struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Email              string   `json:"email"`
	Capabilities       []string `json:"capabilities"`
	HourlyRateCents    int64    `json:"hourly_rate_cents"`
	MinProjectCents    int64    `json:"min_project_cents"`
	JobsCompleted      int      `json:"jobs_completed"`
	JobsFailed         int      `json:"jobs_failed"`
	TotalEarningsCents int64    `json:"total_earnings_cents"`
	NetProfitCents     int64    `json:"net_profit_cents"`
	SuccessRate        float64  `json:"success_rate"`
	Status             string   `json:"status" enum:"active,paused,retired"`
	LastActiveAt       *string  `json:"last_active_at,omitempty" format:"date-time"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
	DeletedAt          *string  `json:"deleted_at,omitempty" format:"date-time"`
}

// WorkItem is a candidate unit of work discovered on an external platform.
// (Platform, PlatformJobID) is the deduplication key.
type WorkItem struct {
	ID                 string         `json:"id"`
	Platform           string         `json:"platform"`
	PlatformJobID      string         `json:"platform_job_id"`
	SourceURL          *string        `json:"source_url,omitempty"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	BudgetMinCents     *int64         `json:"budget_min_cents,omitempty"`
	BudgetMaxCents     *int64         `json:"budget_max_cents,omitempty"`
	Currency           string         `json:"currency"`
	SkillsRequired     []string       `json:"skills_required,omitempty"`
	ClientName         *string        `json:"client_name,omitempty"`
	ClientCountry      *string        `json:"client_country,omitempty"`
	ClientRating       *float64       `json:"client_rating,omitempty"`
	ApplicantCount     int            `json:"applicant_count"`
	Score              *float64       `json:"score,omitempty"`
	ScoreBreakdownJSON *string        `json:"score_breakdown_json,omitempty"`
	Status             WorkItemStatus `json:"status"`
	AssignedWorkerID   *string        `json:"assigned_worker_id,omitempty"`
	DiscoveredAt       string         `json:"discovered_at" format:"date-time"`
	PostedAt           *string        `json:"posted_at,omitempty" format:"date-time"`
	ExpiresAt          *string        `json:"expires_at,omitempty" format:"date-time"`
	AppliedAt          *string        `json:"applied_at,omitempty" format:"date-time"`
	WonAt              *string        `json:"won_at,omitempty" format:"date-time"`
	CompletedAt        *string        `json:"completed_at,omitempty" format:"date-time"`
	RawJSON            *string        `json:"raw_json,omitempty"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
	UpdatedAt          string         `json:"updated_at" format:"date-time"`
}

// Proposal is a worker's bid against a work item. At most one proposal may
// exist per (WorkItemID, WorkerID) pair.
type Proposal struct {
	ID             string         `json:"id"`
	WorkItemID     string         `json:"work_item_id"`
	WorkerID       string         `json:"worker_id"`
	CoverLetter    string         `json:"cover_letter,omitempty"`
	BidAmountCents int64          `json:"bid_amount_cents"`
	VariantID      *string        `json:"variant_id,omitempty"`
	Status         ProposalStatus `json:"status"`
	SubmittedAt    *string        `json:"submitted_at,omitempty" format:"date-time"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

// Contract is a won work item under execution. It denormalizes the work item
// and worker so its lifetime does not depend on proposal mutation.
type Contract struct {
	ID                string         `json:"id"`
	WorkItemID        string         `json:"work_item_id"`
	WorkerID          string         `json:"worker_id"`
	ProposalID        string         `json:"proposal_id"`
	AgreedAmountCents int64          `json:"agreed_amount_cents"`
	ProgressPct       int            `json:"progress_pct"`
	MilestonesJSON    *string        `json:"milestones_json,omitempty"`
	DeliverablesJSON  *string        `json:"deliverables_json,omitempty"`
	HoursLogged       float64        `json:"hours_logged"`
	RevisionCount     int            `json:"revision_count"`
	MaxRevisions      int            `json:"max_revisions"`
	Status            ContractStatus `json:"status"`
	StartedAt         string         `json:"started_at" format:"date-time"`
	DeadlineAt        *string        `json:"deadline_at,omitempty" format:"date-time"`
	DeliveredAt       *string        `json:"delivered_at,omitempty" format:"date-time"`
	CompletedAt       *string        `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
}

type LedgerKind string

const (
	LedgerEarning LedgerKind = "earning"
	LedgerCost    LedgerKind = "cost"
)

// LedgerEntry is an immutable financial record. Earning entries carry the
// gross/fee/net split; cost entries carry AmountCents and a Category.
type LedgerEntry struct {
	ID                 string     `json:"id"`
	Kind               LedgerKind `json:"kind" enum:"earning,cost"`
	WorkerID           string     `json:"worker_id"`
	ContractID         *string    `json:"contract_id,omitempty"`
	Platform           *string    `json:"platform,omitempty"`
	Category           *string    `json:"category,omitempty"`
	GrossCents         int64      `json:"gross_cents,omitempty"`
	PlatformFeeCents   int64      `json:"platform_fee_cents,omitempty"`
	ProcessingFeeCents int64      `json:"processing_fee_cents,omitempty"`
	NetCents           int64      `json:"net_cents,omitempty"`
	AmountCents        int64      `json:"amount_cents,omitempty"`
	Currency           string     `json:"currency"`
	Description        string     `json:"description,omitempty"`
	OccurredAt         string     `json:"occurred_at" format:"date-time"`
	CreatedAt          string     `json:"created_at" format:"date-time"`
}

// RateLimitCounter is one fixed-window counter row. At most one row exists
// per (ScopeType, ScopeID, LimitType, WindowStart).
type RateLimitCounter struct {
	ScopeType     string `json:"scope_type" enum:"worker,platform,global"`
	ScopeID       string `json:"scope_id"`
	LimitType     string `json:"limit_type"`
	WindowStart   string `json:"window_start" format:"date-time"`
	WindowSeconds int    `json:"window_seconds"`
	Count         int    `json:"count"`
}

// Experiment is a named set of proposal variants with traffic weights.
type Experiment struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Status    string              `json:"status" enum:"active,paused"`
	Variants  []ExperimentVariant `json:"variants"`
	CreatedAt string              `json:"created_at" format:"date-time"`
	UpdatedAt string              `json:"updated_at" format:"date-time"`
}

type ExperimentVariant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// ExperimentResult is a derived per-variant rollup, recomputable from
// proposal and ledger history. It is a cache, not a source of truth.
type ExperimentResult struct {
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	Impressions  int    `json:"impressions"`
	Conversions  int    `json:"conversions"`
	RevenueCents int64  `json:"revenue_cents"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Event is one append-only audit log record.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
