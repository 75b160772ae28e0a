package server

import "gigledger/internal/domain"

// Request payloads

type CreateWorkerRequest struct {
	Name            string   `json:"name"`
	Email           string   `json:"email" format:"email"`
	Capabilities    []string `json:"capabilities,omitempty"`
	HourlyRateCents int64    `json:"hourly_rate_cents,omitempty"`
	MinProjectCents int64    `json:"min_project_cents,omitempty"`
}

type IngestItemRequest struct {
	Platform       string   `json:"platform"`
	PlatformJobID  string   `json:"platform_job_id"`
	SourceURL      *string  `json:"source_url,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	BudgetMinCents *int64   `json:"budget_min_cents,omitempty"`
	BudgetMaxCents *int64   `json:"budget_max_cents,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	SkillsRequired []string `json:"skills_required,omitempty"`
	ClientName     *string  `json:"client_name,omitempty"`
	ClientCountry  *string  `json:"client_country,omitempty"`
	ClientRating   *float64 `json:"client_rating,omitempty"`
	ApplicantCount int      `json:"applicant_count,omitempty"`
	DiscoveredAt   string   `json:"discovered_at,omitempty" format:"date-time"`
	PostedAt       *string  `json:"posted_at,omitempty" format:"date-time"`
	ExpiresAt      *string  `json:"expires_at,omitempty" format:"date-time"`
	RawJSON        *string  `json:"raw_json,omitempty"`
}

type ScoreItemRequest struct {
	Score         float64 `json:"score"`
	BreakdownJSON *string `json:"breakdown_json,omitempty"`
}

type TransitionItemRequest struct {
	Status   string  `json:"status" enum:"discovered,scored,queued,applied,interviewing,won,in_progress,delivered,completed,rejected,expired,cancelled,disputed"`
	WorkerID *string `json:"worker_id,omitempty"`
}

type DraftProposalRequest struct {
	WorkItemID     string  `json:"work_item_id"`
	WorkerID       string  `json:"worker_id"`
	CoverLetter    string  `json:"cover_letter,omitempty"`
	BidAmountCents int64   `json:"bid_amount_cents"`
	Experiment     *string `json:"experiment,omitempty"`
	VariantID      *string `json:"variant_id,omitempty"`
}

type TransitionProposalRequest struct {
	Status string `json:"status" enum:"draft,submitted,viewed,shortlisted,accepted,rejected,withdrawn"`
}

type AcceptProposalRequest struct {
	AgreedAmountCents int64   `json:"agreed_amount_cents,omitempty"`
	DeadlineAt        *string `json:"deadline_at,omitempty" format:"date-time"`
}

type TransitionContractRequest struct {
	Status string `json:"status" enum:"in_progress,delivered,completed,cancelled,disputed"`
}

type ProgressRequest struct {
	ProgressPct int     `json:"progress_pct" minimum:"0" maximum:"100"`
	HoursDelta  float64 `json:"hours_delta,omitempty" minimum:"0"`
}

type RevisionRequest struct {
	Note string `json:"note,omitempty"`
}

type RecordEarningRequest struct {
	WorkerID           string  `json:"worker_id"`
	ContractID         *string `json:"contract_id,omitempty"`
	Platform           *string `json:"platform,omitempty"`
	GrossCents         int64   `json:"gross_cents"`
	PlatformFeeCents   int64   `json:"platform_fee_cents,omitempty"`
	ProcessingFeeCents int64   `json:"processing_fee_cents,omitempty"`
	Currency           string  `json:"currency,omitempty"`
	Description        string  `json:"description,omitempty"`
	OccurredAt         string  `json:"occurred_at,omitempty" format:"date-time"`
}

type RecordCostRequest struct {
	WorkerID    string  `json:"worker_id"`
	ContractID  *string `json:"contract_id,omitempty"`
	Platform    *string `json:"platform,omitempty"`
	AmountCents int64   `json:"amount_cents"`
	Category    string  `json:"category"`
	Currency    string  `json:"currency,omitempty"`
	Description string  `json:"description,omitempty"`
	OccurredAt  string  `json:"occurred_at,omitempty" format:"date-time"`
}

type LimitCheckRequest struct {
	Platform string `json:"platform"`
	WorkerID string `json:"worker_id"`
	Action   string `json:"action"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type IngestItemResponse struct {
	Item    domain.WorkItem `json:"item"`
	Outcome string          `json:"outcome" enum:"created,updated,unchanged"`
}

type StatusResponse struct {
	ItemsByStatus map[string]int `json:"items_by_status"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}
