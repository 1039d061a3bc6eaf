package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/internal/runner"
	"github.com/gateway-fm/contender/internal/storage"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

type stubHealth struct{ err error }

func (s stubHealth) CheckRPC(ctx context.Context) error { return s.err }

func newTestServer(t *testing.T, health HealthChecker) (*Server, storage.DbOps, *runner.Tracker) {
	t.Helper()
	store := storage.NewMemoryStore()
	tracker := runner.NewTracker(store)
	return NewServer(tracker, store, health, nil), store, tracker
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status field = %v, want healthy", body["status"])
	}
}

func TestHandleReadyReportsRPCFailure(t *testing.T) {
	srv, _, _ := newTestServer(t, stubHealth{err: errors.New("dial tcp: connection refused")})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["ready"] != false {
		t.Fatalf("ready = %v, want false", body["ready"])
	}
}

func TestHandleReadyOKWithoutHealthChecker(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleRunStatusNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/runs/42", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleRunStatusInvalidID(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/runs/not-a-number", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRunStatusFallsBackToStore(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	ctx := context.Background()
	run := &txtypes.Run{RunID: 7, ScenarioName: "eth-transfer", ScenarioLabel: "default", StartBlock: 100, EndBlock: 200}
	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if err := store.InsertReceipts(ctx, []*txtypes.Receipt{
		{RunID: 7, Hash: fakeHash(1), Status: txtypes.StatusSuccess},
	}); err != nil {
		t.Fatalf("InsertReceipts: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/runs/7", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp runStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != 7 || resp.ScenarioName != "eth-transfer" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Landed != 1 {
		t.Fatalf("Landed = %d, want 1", resp.Landed)
	}
}

func TestHandleListRunsFiltersByCampaign(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	ctx := context.Background()
	store.InsertRun(ctx, &txtypes.Run{RunID: 1, ScenarioName: "a", CampaignName: "load"})
	store.InsertRun(ctx, &txtypes.Run{RunID: 2, ScenarioName: "b", CampaignName: "other"})

	req := httptest.NewRequest(http.MethodGet, "/runs?campaign=load", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var entries []runListEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != 1 {
		t.Fatalf("entries = %+v, want just run 1", entries)
	}
}

func TestHandleCampaignStatusNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/campaigns/unknown", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/runs/1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func fakeHash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}
