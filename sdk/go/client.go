package gigledgersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigledger HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID            string   `json:"id"`
	Platform      string   `json:"platform"`
	PlatformJobID string   `json:"platform_job_id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	Score         *float64 `json:"score,omitempty"`
	DiscoveredAt  string   `json:"discovered_at"`
}

// Proposal represents a bid on a work item.
type Proposal struct {
	ID             string  `json:"id"`
	WorkItemID     string  `json:"work_item_id"`
	WorkerID       string  `json:"worker_id"`
	Status         string  `json:"status"`
	BidAmountCents int64   `json:"bid_amount_cents"`
	VariantID      *string `json:"variant_id,omitempty"`
}

// Contract represents accepted work in execution.
type Contract struct {
	ID                string `json:"id"`
	WorkItemID        string `json:"work_item_id"`
	WorkerID          string `json:"worker_id"`
	ProposalID        string `json:"proposal_id"`
	Status            string `json:"status"`
	AgreedAmountCents int64  `json:"agreed_amount_cents"`
	ProgressPct       int    `json:"progress_pct"`
	RevisionCount     int    `json:"revision_count"`
}

// Worker represents a bidding agent (partial).
type Worker struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	JobsCompleted      int     `json:"jobs_completed"`
	JobsFailed         int     `json:"jobs_failed"`
	TotalEarningsCents int64   `json:"total_earnings_cents"`
	NetProfitCents     int64   `json:"net_profit_cents"`
	SuccessRate        float64 `json:"success_rate"`
}

// LedgerEntry represents one immutable financial record.
type LedgerEntry struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	WorkerID   string `json:"worker_id"`
	GrossCents int64  `json:"gross_cents,omitempty"`
	NetCents   int64  `json:"net_cents,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// IngestResult pairs an item with the dedup outcome.
type IngestResult struct {
	Item    WorkItem `json:"item"`
	Outcome string   `json:"outcome"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// IngestItem submits a discovered job. Re-posting the same platform job id
// refreshes rather than duplicates.
func (c *Client) IngestItem(ctx context.Context, item map[string]any) (IngestResult, error) {
	var resp IngestResult
	err := c.do(ctx, http.MethodPost, "v0/items", item, &resp)
	return resp, err
}

// Eligible returns bid candidates in dispatch order.
func (c *Client) Eligible(ctx context.Context, limit int) ([]WorkItem, error) {
	endpoint := "v0/dispatch/eligible"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp listResponse[WorkItem]
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// ScoreItem attaches a fit score to a discovered item.
func (c *Client) ScoreItem(ctx context.Context, itemID string, score float64) (WorkItem, error) {
	var resp WorkItem
	endpoint := fmt.Sprintf("v0/items/%s/score", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"score": score}, &resp)
	return resp, err
}

// DraftProposal drafts a bid.
func (c *Client) DraftProposal(ctx context.Context, itemID, workerID string, bidCents int64) (Proposal, error) {
	body := map[string]any{
		"work_item_id":     itemID,
		"worker_id":        workerID,
		"bid_amount_cents": bidCents,
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "v0/proposals", body, &resp)
	return resp, err
}

// SubmitProposal submits a drafted bid, consuming rate-limit quota.
func (c *Client) SubmitProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var resp Proposal
	endpoint := fmt.Sprintf("v0/proposals/%s/submit", url.PathEscape(proposalID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AcceptProposal accepts a bid and returns the opened contract.
func (c *Client) AcceptProposal(ctx context.Context, proposalID string) (Contract, error) {
	var resp Contract
	endpoint := fmt.Sprintf("v0/proposals/%s/accept", url.PathEscape(proposalID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// UpdateProgress reports contract progress.
func (c *Client) UpdateProgress(ctx context.Context, contractID string, pct int, hours float64) (Contract, error) {
	body := map[string]any{"progress_pct": pct, "hours_delta": hours}
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/progress", url.PathEscape(contractID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TransitionContract moves a contract to a new status.
func (c *Client) TransitionContract(ctx context.Context, contractID, status string) (Contract, error) {
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/transition", url.PathEscape(contractID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// RecordEarning appends a settled earning to the ledger.
func (c *Client) RecordEarning(ctx context.Context, workerID string, grossCents, platformFeeCents int64) (LedgerEntry, error) {
	body := map[string]any{
		"worker_id":          workerID,
		"gross_cents":        grossCents,
		"platform_fee_cents": platformFeeCents,
	}
	var resp LedgerEntry
	err := c.do(ctx, http.MethodPost, "v0/ledger/earnings", body, &resp)
	return resp, err
}

// RebuildWorker recomputes worker counters from ledger history.
func (c *Client) RebuildWorker(ctx context.Context, workerID string) (Worker, error) {
	var resp Worker
	endpoint := fmt.Sprintf("v0/workers/%s/rebuild", url.PathEscape(workerID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent audit events after the cursor.
func (c *Client) Events(ctx context.Context, limit int, cursor int64) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%d", endpoint, sep, cursor)
	}
	var resp listResponse[Event]
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
