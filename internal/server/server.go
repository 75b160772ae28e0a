// Package server exposes the HTTP API. All mutations are delegated to the
// engine, queue and ledger services; handlers only translate payloads and
// map domain errors onto the error envelope.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gigledger/internal/dispatch"
	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/ledger"
	"gigledger/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Queue    *dispatch.Queue
	Ledger   *ledger.Ledger
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid contract transition completed -> in_progress"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the gigledger API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Gigledger API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Queue)
	registerWorkers(group, cfg.Engine)
	registerItems(group, cfg.Engine, cfg.Queue)
	registerProposals(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerLedger(group, cfg.Ledger)
	registerLimits(group, cfg.Engine)
	registerExperiments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors onto the envelope. Anything unrecognized
// is an internal error.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var invalid *domain.InvalidTransitionError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"entity": invalid.Entity, "from": invalid.From, "to": invalid.To,
		})
	}
	var regression *domain.RegressionNotAllowedError
	if errors.As(err, &regression) {
		return newAPIError(http.StatusConflict, "regression_not_allowed", err.Error(), map[string]any{
			"current": regression.Current, "requested": regression.Requested,
		})
	}
	var revisions *domain.RevisionLimitExceededError
	if errors.As(err, &revisions) {
		return newAPIError(http.StatusUnprocessableEntity, "revision_limit_exceeded", err.Error(), map[string]any{
			"max_revisions": revisions.Max,
		})
	}
	var limited *domain.RateLimitExceededError
	if errors.As(err, &limited) {
		return newAPIError(http.StatusTooManyRequests, "rate_limit_exceeded", err.Error(), map[string]any{
			"limit_type": limited.LimitType, "window": limited.Window, "limit": limited.Limit,
		})
	}
	var dup *domain.DuplicateKeyError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusConflict, "duplicate_key", err.Error(), map[string]any{
			"entity": dup.Entity, "key": dup.Key,
		})
	}
	var amount *domain.InvalidLedgerAmountError
	if errors.As(err, &amount) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_ledger_amount", err.Error(), map[string]any{
			"net_cents": amount.NetCents,
		})
	}
	var conflict *domain.ConcurrentConflictError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, "concurrent_conflict", err.Error(), map[string]any{
			"entity": conflict.Entity, "id": conflict.ID,
		})
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "required") || strings.Contains(msg, "must be") {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			}
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerStatus(api huma.API, q *dispatch.Queue) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Queue depth by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse
	}, error) {
		counts, err := q.StatusCounts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body StatusResponse }{Body: StatusResponse{ItemsByStatus: counts}}, nil
	})
}

func registerWorkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-worker",
		Method:        http.MethodPost,
		Path:          "/workers",
		Summary:       "Register worker",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateWorkerRequest
	}) (*struct {
		Body domain.Worker
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWorker(ctx, engine.WorkerCreateOptions{
			Name:            input.Body.Name,
			Email:           input.Body.Email,
			Capabilities:    input.Body.Capabilities,
			HourlyRateCents: input.Body.HourlyRateCents,
			MinProjectCents: input.Body.MinProjectCents,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Worker }{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
	}, func(ctx context.Context, input *struct {
		IncludeDeleted bool `query:"include_deleted"`
	}) (*struct {
		Body ListResponse[domain.Worker]
	}, error) {
		workers, err := e.Repo.ListWorkers(ctx, input.IncludeDeleted)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.Worker] }{Body: ListResponse[domain.Worker]{Items: workers}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}",
		Summary:     "Get worker",
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body domain.Worker
	}, error) {
		w, err := e.Repo.GetWorker(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Worker }{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-worker",
		Method:        http.MethodDelete,
		Path:          "/workers/{worker_id}",
		Summary:       "Retire worker",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct{}, error) {
		now := time.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.SoftDeleteWorker(ctx, input.WorkerID, now); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerItems(api huma.API, e engine.Engine, q *dispatch.Queue) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Ingest discovered work item",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body IngestItemRequest
	}) (*struct {
		Body IngestItemResponse
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Platform == "" || input.Body.PlatformJobID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "platform and platform_job_id are required", nil)
		}
		item, outcome, err := q.Ingest(ctx, actorID, domain.WorkItem{
			Platform:       input.Body.Platform,
			PlatformJobID:  input.Body.PlatformJobID,
			SourceURL:      input.Body.SourceURL,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			BudgetMinCents: input.Body.BudgetMinCents,
			BudgetMaxCents: input.Body.BudgetMaxCents,
			Currency:       input.Body.Currency,
			SkillsRequired: input.Body.SkillsRequired,
			ClientName:     input.Body.ClientName,
			ClientCountry:  input.Body.ClientCountry,
			ClientRating:   input.Body.ClientRating,
			ApplicantCount: input.Body.ApplicantCount,
			DiscoveredAt:   input.Body.DiscoveredAt,
			PostedAt:       input.Body.PostedAt,
			ExpiresAt:      input.Body.ExpiresAt,
			RawJSON:        input.Body.RawJSON,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body IngestItemResponse }{Body: IngestItemResponse{Item: item, Outcome: string(outcome)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List work items",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Platform string `query:"platform"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body ListResponse[domain.WorkItem]
	}, error) {
		items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{
			Status:   input.Status,
			Platform: input.Platform,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.WorkItem] }{Body: ListResponse[domain.WorkItem]{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Get work item",
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body domain.WorkItem
	}, error) {
		item, err := e.Repo.GetWorkItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.WorkItem }{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "score-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/score",
		Summary:     "Attach score to work item",
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   ScoreItemRequest
	}) (*struct {
		Body domain.WorkItem
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := q.ApplyScore(ctx, actorID, input.ItemID, input.Body.Score, input.Body.BreakdownJSON)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.WorkItem }{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/transition",
		Summary:     "Transition work item status",
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   TransitionItemRequest
	}) (*struct {
		Body domain.WorkItem
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkItemTransitionOptions{ActorID: actorID}
		if input.Body.WorkerID != nil {
			opts.WorkerID = *input.Body.WorkerID
		}
		item, err := e.TransitionWorkItem(ctx, input.ItemID, domain.WorkItemStatus(input.Body.Status), opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.WorkItem }{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-eligible",
		Method:      http.MethodGet,
		Path:        "/dispatch/eligible",
		Summary:     "List bid candidates in dispatch order",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body ListResponse[domain.WorkItem]
	}, error) {
		items, err := q.ListEligible(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.WorkItem] }{Body: ListResponse[domain.WorkItem]{Items: items}}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "draft-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals",
		Summary:       "Draft a proposal",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body DraftProposalRequest
	}) (*struct {
		Body domain.Proposal
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProposalDraftOptions{
			WorkItemID:     input.Body.WorkItemID,
			WorkerID:       input.Body.WorkerID,
			CoverLetter:    input.Body.CoverLetter,
			BidAmountCents: input.Body.BidAmountCents,
			ActorID:        actorID,
		}
		if input.Body.Experiment != nil {
			opts.Experiment = *input.Body.Experiment
		}
		if input.Body.VariantID != nil {
			opts.VariantID = *input.Body.VariantID
		}
		p, err := e.DraftProposal(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Proposal }{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "List proposals",
	}, func(ctx context.Context, input *struct {
		WorkItemID string `query:"work_item_id"`
		WorkerID   string `query:"worker_id"`
		Status     string `query:"status"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body ListResponse[domain.Proposal]
	}, error) {
		proposals, err := e.Repo.ListProposals(ctx, repo.ProposalFilters{
			WorkItemID: input.WorkItemID,
			WorkerID:   input.WorkerID,
			Status:     input.Status,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.Proposal] }{Body: ListResponse[domain.Proposal]{Items: proposals}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/submit",
		Summary:     "Submit a drafted proposal",
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body domain.Proposal
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitProposal(ctx, actorID, input.ProposalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Proposal }{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/transition",
		Summary:     "Transition proposal status",
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
		Body       TransitionProposalRequest
	}) (*struct {
		Body domain.Proposal
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.TransitionProposal(ctx, actorID, input.ProposalID, domain.ProposalStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Proposal }{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "accept-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals/{proposal_id}/accept",
		Summary:       "Accept proposal and open contract",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
		Body       AcceptProposalRequest
	}) (*struct {
		Body domain.Contract
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AcceptProposal(ctx, input.ProposalID, engine.AcceptOptions{
			AgreedAmountCents: input.Body.AgreedAmountCents,
			DeadlineAt:        input.Body.DeadlineAt,
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Contract }{Body: c}, nil
	})
}

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List contracts",
	}, func(ctx context.Context, input *struct {
		WorkerID   string `query:"worker_id"`
		WorkItemID string `query:"work_item_id"`
		Status     string `query:"status"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body ListResponse[domain.Contract]
	}, error) {
		contracts, err := e.Repo.ListContracts(ctx, repo.ContractFilters{
			WorkerID:   input.WorkerID,
			WorkItemID: input.WorkItemID,
			Status:     input.Status,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.Contract] }{Body: ListResponse[domain.Contract]{Items: contracts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-overdue-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts/overdue",
		Summary:     "In-progress contracts past their deadline",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.Contract]
	}, error) {
		now := time.Now().UTC().Format(time.RFC3339)
		contracts, err := e.Repo.ListOverdueContracts(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.Contract] }{Body: ListResponse[domain.Contract]{Items: contracts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Get contract",
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id"`
	}) (*struct {
		Body domain.Contract
	}, error) {
		c, err := e.Repo.GetContract(ctx, input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Contract }{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/transition",
		Summary:     "Transition contract status",
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id"`
		Body       TransitionContractRequest
	}) (*struct {
		Body domain.Contract
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.TransitionContract(ctx, actorID, input.ContractID, domain.ContractStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Contract }{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-progress",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/progress",
		Summary:     "Update contract progress",
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id"`
		Body       ProgressRequest
	}) (*struct {
		Body domain.Contract
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateProgress(ctx, input.ContractID, engine.ProgressOptions{
			ProgressPct: input.Body.ProgressPct,
			HoursDelta:  input.Body.HoursDelta,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Contract }{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-revision",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/revision",
		Summary:     "Request a revision on a delivered contract",
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id"`
		Body       RevisionRequest
	}) (*struct {
		Body domain.Contract
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RequestRevision(ctx, actorID, input.ContractID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Contract }{Body: c}, nil
	})
}

func registerLedger(api huma.API, l *ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-earning",
		Method:        http.MethodPost,
		Path:          "/ledger/earnings",
		Summary:       "Record a settled earning",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body RecordEarningRequest
	}) (*struct {
		Body domain.LedgerEntry
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		currency := input.Body.Currency
		if currency == "" {
			currency = "USD"
		}
		entry, err := l.RecordEarning(ctx, actorID, ledger.EarningInput{
			WorkerID:           input.Body.WorkerID,
			ContractID:         input.Body.ContractID,
			Platform:           input.Body.Platform,
			GrossCents:         input.Body.GrossCents,
			PlatformFeeCents:   input.Body.PlatformFeeCents,
			ProcessingFeeCents: input.Body.ProcessingFeeCents,
			Currency:           currency,
			Description:        input.Body.Description,
			OccurredAt:         input.Body.OccurredAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.LedgerEntry }{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-cost",
		Method:        http.MethodPost,
		Path:          "/ledger/costs",
		Summary:       "Record a cost",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body RecordCostRequest
	}) (*struct {
		Body domain.LedgerEntry
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		currency := input.Body.Currency
		if currency == "" {
			currency = "USD"
		}
		entry, err := l.RecordCost(ctx, actorID, ledger.CostInput{
			WorkerID:    input.Body.WorkerID,
			ContractID:  input.Body.ContractID,
			Platform:    input.Body.Platform,
			AmountCents: input.Body.AmountCents,
			Category:    input.Body.Category,
			Currency:    currency,
			Description: input.Body.Description,
			OccurredAt:  input.Body.OccurredAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.LedgerEntry }{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-ledger",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/ledger",
		Summary:     "List a worker's ledger entries",
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body ListResponse[domain.LedgerEntry]
	}, error) {
		entries, err := l.Entries(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.LedgerEntry] }{Body: ListResponse[domain.LedgerEntry]{Items: entries}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-summary",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/summary",
		Summary:     "Financial summary derived from ledger history",
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body ledger.WorkerSummary
	}, error) {
		s, err := l.Summary(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ledger.WorkerSummary }{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rebuild-worker",
		Method:      http.MethodPost,
		Path:        "/workers/{worker_id}/rebuild",
		Summary:     "Rebuild worker counters from ledger history",
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body domain.Worker
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := l.Rebuild(ctx, actorID, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Worker }{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/reconcile",
		Summary:     "Compare cached worker counters against a replay",
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body ledger.Reconciliation
	}, error) {
		rec, err := l.Reconcile(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ledger.Reconciliation }{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "daily-earnings",
		Method:      http.MethodGet,
		Path:        "/ledger/daily",
		Summary:     "Daily earning totals",
	}, func(ctx context.Context, input *struct {
		WorkerID string `query:"worker_id"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body ListResponse[repo.DailyEarningsRow]
	}, error) {
		rows, err := l.DailyEarnings(ctx, input.WorkerID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[repo.DailyEarningsRow] }{Body: ListResponse[repo.DailyEarningsRow]{Items: rows}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "platform-balances",
		Method:      http.MethodGet,
		Path:        "/ledger/platforms",
		Summary:     "Settled position per platform",
	}, func(ctx context.Context, input *struct {
		WorkerID string `query:"worker_id"`
	}) (*struct {
		Body ListResponse[repo.PlatformBalanceRow]
	}, error) {
		rows, err := l.PlatformBalances(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[repo.PlatformBalanceRow] }{Body: ListResponse[repo.PlatformBalanceRow]{Items: rows}}, nil
	})
}

func registerLimits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "limit-check",
		Method:      http.MethodPost,
		Path:        "/limits/check",
		Summary:     "Consume one unit of rate-limit quota",
	}, func(ctx context.Context, input *struct {
		Body LimitCheckRequest
	}) (*struct {
		Body struct {
			Allowed   bool `json:"allowed"`
			Remaining int  `json:"remaining" doc:"Smallest quota left across the enforced windows, -1 when unbounded"`
		}
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		remaining, err := e.Limiter.Allow(ctx, e.Config, input.Body.Platform, input.Body.WorkerID, input.Body.Action)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Allowed   bool `json:"allowed"`
				Remaining int  `json:"remaining" doc:"Smallest quota left across the enforced windows, -1 when unbounded"`
			}
		}{}
		resp.Body.Allowed = true
		resp.Body.Remaining = remaining
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "limit-usage",
		Method:      http.MethodGet,
		Path:        "/limits/{scope_type}/{scope_id}",
		Summary:     "Current counter windows for a scope",
	}, func(ctx context.Context, input *struct {
		ScopeType string `path:"scope_type" enum:"worker,platform,global"`
		ScopeID   string `path:"scope_id"`
	}) (*struct {
		Body ListResponse[domain.RateLimitCounter]
	}, error) {
		counters, err := e.Limiter.Usage(ctx, input.ScopeType, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.RateLimitCounter] }{Body: ListResponse[domain.RateLimitCounter]{Items: counters}}, nil
	})
}

func registerExperiments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-experiments",
		Method:      http.MethodPost,
		Path:        "/experiments/sync",
		Summary:     "Reconcile experiments with config",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.Experiment]
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exps, err := e.SyncExperiments(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.Experiment] }{Body: ListResponse[domain.Experiment]{Items: exps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-experiments",
		Method:      http.MethodGet,
		Path:        "/experiments",
		Summary:     "List experiments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.Experiment]
	}, error) {
		exps, err := e.Repo.ListExperiments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.Experiment] }{Body: ListResponse[domain.Experiment]{Items: exps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "experiment-report",
		Method:      http.MethodGet,
		Path:        "/experiments/{name}",
		Summary:     "Experiment with per-variant rollups",
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body engine.ExperimentReport
	}, error) {
		report, err := e.ExperimentReport(ctx, input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body engine.ExperimentReport }{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-experiment",
		Method:      http.MethodPost,
		Path:        "/experiments/{name}/recompute",
		Summary:     "Rebuild experiment rollups from history",
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body ListResponse[domain.ExperimentResult]
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		results, err := e.RecomputeExperiment(ctx, actorID, input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.ExperimentResult] }{Body: ListResponse[domain.ExperimentResult]{Items: results}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Cursor     int64  `query:"cursor"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body ListResponse[domain.Event]
	}, error) {
		evts, err := e.Repo.LatestEventsFrom(ctx, input.Limit, input.Cursor, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body ListResponse[domain.Event] }{Body: ListResponse[domain.Event]{Items: evts}}, nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token",
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*struct {
		Body DevLoginResponse
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := IssueToken(cfg.JWTSecret, input.Body.ActorID, 24*time.Hour, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct{ Body DevLoginResponse }{Body: DevLoginResponse{Token: token}}, nil
	})
}
