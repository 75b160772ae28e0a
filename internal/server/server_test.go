package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"gigledger/internal/config"
	"gigledger/internal/db"
	"gigledger/internal/dispatch"
	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/ledger"
	"gigledger/internal/migrate"
)

const testSecret = "server-test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		Queue:    dispatch.New(conn),
		Ledger:   ledger.New(conn),
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func actorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "tester"}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "operator",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected non-empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authed list status %d: %s", res.StatusCode, string(data))
	}
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/items", map[string]any{
		"platform":        "upwork",
		"platform_job_id": "job-http-1",
		"title":           "Build a scraper",
		"discovered_at":   "2025-06-01T10:00:00Z",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var ingested IngestItemResponse
	if err := json.Unmarshal(data, &ingested); err != nil {
		t.Fatalf("unmarshal ingest: %v", err)
	}
	if ingested.Outcome != "created" {
		t.Fatalf("expected created, got %s", ingested.Outcome)
	}
	itemID := ingested.Item.ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+itemID+"/score", map[string]any{
		"score": 0.8,
	}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("score status %d: %s", res.StatusCode, string(data))
	}
	var scored domain.WorkItem
	_ = json.Unmarshal(data, &scored)
	if scored.Status != domain.ItemScored {
		t.Fatalf("expected scored, got %s", scored.Status)
	}

	// Re-ingest with the same key refreshes rather than duplicates.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items", map[string]any{
		"platform":        "upwork",
		"platform_job_id": "job-http-1",
		"title":           "Build a scraper (reposted)",
		"discovered_at":   "2025-06-01T11:00:00Z",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("re-ingest status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &ingested)
	if ingested.Outcome != "updated" {
		t.Fatalf("expected updated, got %s", ingested.Outcome)
	}
	if ingested.Item.ID != itemID {
		t.Fatalf("expected same item id, got %s", ingested.Item.ID)
	}
}

func TestProposalAcceptOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workers", map[string]any{
		"name":  "Bid Bot",
		"email": "bot@example.com",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create worker status %d: %s", res.StatusCode, string(data))
	}
	var worker domain.Worker
	_ = json.Unmarshal(data, &worker)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items", map[string]any{
		"platform":        "freelancer",
		"platform_job_id": "job-http-2",
		"title":           "Data pipeline",
		"discovered_at":   "2025-06-01T10:00:00Z",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var ingested IngestItemResponse
	_ = json.Unmarshal(data, &ingested)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals", map[string]any{
		"work_item_id":     ingested.Item.ID,
		"worker_id":        worker.ID,
		"bid_amount_cents": 50000,
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("draft status %d: %s", res.StatusCode, string(data))
	}
	var proposal domain.Proposal
	_ = json.Unmarshal(data, &proposal)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals/"+proposal.ID+"/submit", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals/"+proposal.ID+"/accept", map[string]any{}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var contract domain.Contract
	_ = json.Unmarshal(data, &contract)
	if contract.Status != domain.ContractInProgress {
		t.Fatalf("expected in_progress contract, got %s", contract.Status)
	}
	if contract.AgreedAmountCents != 50000 {
		t.Fatalf("expected agreed amount to default to bid, got %d", contract.AgreedAmountCents)
	}

	// Accepting again conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals/"+proposal.ID+"/accept", map[string]any{}, actorHeaders())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second accept, got %d: %s", res.StatusCode, string(data))
	}
}

func TestInvalidTransitionReturnsConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/items", map[string]any{
		"platform":        "upwork",
		"platform_job_id": "job-http-3",
		"title":           "Illegal move",
		"discovered_at":   "2025-06-01T10:00:00Z",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var ingested IngestItemResponse
	_ = json.Unmarshal(data, &ingested)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+ingested.Item.ID+"/transition", map[string]any{
		"status": "completed",
	}, actorHeaders())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", envelope.Error.Code)
	}
}

func TestEarningValidationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workers", map[string]any{
		"name":  "Ledger Bot",
		"email": "ledger@example.com",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create worker status %d: %s", res.StatusCode, string(data))
	}
	var worker domain.Worker
	_ = json.Unmarshal(data, &worker)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/ledger/earnings", map[string]any{
		"worker_id":          worker.ID,
		"gross_cents":        1000,
		"platform_fee_cents": 2000,
	}, actorHeaders())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for negative net, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/ledger/earnings", map[string]any{
		"worker_id":   worker.ID,
		"gross_cents": 10000,
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record earning status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workers/"+worker.ID+"/summary", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(data))
	}
	var summary ledger.WorkerSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.EarningsCents != 10000 {
		t.Fatalf("expected 10000 earned, got %d", summary.EarningsCents)
	}
}
