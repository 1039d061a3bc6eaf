// Package transport exposes contenderd's run/campaign status over
// HTTP, the surface internal/mcp's Client polls — adapted from the
// teacher's internal/transport.Server (same mux-per-route layout, same
// health/ready/metrics endpoints) down to the read-only status API
// spec.md §7 calls for: contenderd never starts or stops a run through
// this server, it only reports on runs the runner has already
// recorded.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/contender/internal/rpcclient"
	"github.com/gateway-fm/contender/internal/runner"
	"github.com/gateway-fm/contender/internal/storage"
)

// HealthChecker reports whether the RPC endpoint a Scenario Runner
// depends on is reachable.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// rpcHealthChecker adapts an rpcclient.Client into a HealthChecker by
// calling GetBlockNumber, the cheapest call every client implements.
type rpcHealthChecker struct {
	client rpcclient.Client
}

func (h rpcHealthChecker) CheckRPC(ctx context.Context) error {
	_, err := h.client.GetBlockNumber(ctx)
	return err
}

// NewRPCHealthChecker builds a HealthChecker backed by client.
func NewRPCHealthChecker(client rpcclient.Client) HealthChecker {
	return rpcHealthChecker{client: client}
}

// Server handles HTTP requests for contenderd's status surface.
type Server struct {
	tracker *runner.Tracker
	store   storage.DbOps
	health  HealthChecker
	logger  *slog.Logger

	startTime time.Time
}

// NewServer builds a status Server. tracker holds live run/campaign
// state; store backs historical lookups (runs a restarted process no
// longer tracks live) and the /runs list.
func NewServer(tracker *runner.Tracker, store storage.DbOps, health HealthChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{tracker: tracker, store: store, health: health, logger: logger, startTime: time.Now()}
}

// Handler returns an http.Handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/runs", s.handleListRuns)
	mux.HandleFunc("/runs/", s.handleRunStatus)
	mux.HandleFunc("/campaigns/", s.handleCampaignStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("transport: encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// runStatusResponse is the wire shape internal/mcp's formatRunStatus
// decodes: every field it reads has the same camelCase name here;
// campaignName and stageName are extra and not read by it.
type runStatusResponse struct {
	RunID         uint64 `json:"runId"`
	ScenarioName  string `json:"scenarioName"`
	ScenarioLabel string `json:"scenarioLabel"`
	CampaignName  string `json:"campaignName,omitempty"`
	StageName     string `json:"stageName,omitempty"`
	StartBlock    uint64 `json:"startBlock"`
	EndBlock      uint64 `json:"endBlock"`
	PendingCount  int    `json:"pendingCount"`
	ReceiptCount  int    `json:"receiptCount"`
	Landed        int    `json:"landed"`
	Reverted      int    `json:"reverted"`
	TimedOut      int    `json:"timedOut"`
}

func statusToResponse(st *runner.Status) runStatusResponse {
	return runStatusResponse{
		RunID: st.RunID, ScenarioName: st.ScenarioName, ScenarioLabel: st.ScenarioLabel,
		CampaignName: st.CampaignName, StageName: st.StageName,
		StartBlock: st.StartBlock, EndBlock: st.EndBlock, PendingCount: st.PendingCount,
		ReceiptCount: st.ReceiptCount, Landed: st.Landed, Reverted: st.Reverted, TimedOut: st.TimedOut,
	}
}

// handleRunStatus handles GET /runs/{id}.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/runs/")
	runID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	if st, ok := s.tracker.Status(r.Context(), runID); ok {
		s.writeJSON(w, http.StatusOK, statusToResponse(st))
		return
	}

	// Not tracked live (a prior process's run): fall back to the DB
	// row plus receipt counts, with zero pending (no live TxActor).
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup run: "+err.Error())
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	resp := runStatusResponse{
		RunID: run.RunID, ScenarioName: run.ScenarioName, ScenarioLabel: run.ScenarioLabel,
		CampaignName: run.CampaignName, StageName: run.StageName,
		StartBlock: run.StartBlock, EndBlock: run.EndBlock,
	}
	if n, err := s.store.CountReceipts(r.Context(), runID); err == nil {
		resp.ReceiptCount = n
	}
	if landed, reverted, timedOut, err := s.store.CountReceiptsByStatus(r.Context(), runID); err == nil {
		resp.Landed, resp.Reverted, resp.TimedOut = landed, reverted, timedOut
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type runListEntry struct {
	RunID        uint64 `json:"runId"`
	ScenarioName string `json:"scenarioName"`
	CampaignName string `json:"campaignName,omitempty"`
	StageName    string `json:"stageName,omitempty"`
}

// handleListRuns handles GET /runs?campaign=name&limit=n.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	campaign := r.URL.Query().Get("campaign")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), campaign, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list runs: "+err.Error())
		return
	}

	out := make([]runListEntry, 0, len(runs))
	for _, run := range runs {
		out = append(out, runListEntry{
			RunID: run.RunID, ScenarioName: run.ScenarioName,
			CampaignName: run.CampaignName, StageName: run.StageName,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type stageStatusResponse struct {
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	RunIDs []uint64 `json:"runIds"`
}

type campaignStatusResponse struct {
	Name   string                 `json:"name"`
	Stages []stageStatusResponse `json:"stages"`
}

// handleCampaignStatus handles GET /campaigns/{name}.
func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/campaigns/")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "missing campaign name")
		return
	}

	cs, ok := s.tracker.CampaignStatus(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	resp := campaignStatusResponse{Name: cs.Name}
	for _, st := range cs.Stages {
		resp.Stages = append(resp.Stages, stageStatusResponse{Name: st.Name, Active: st.Active, RunIDs: st.RunIDs})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}

	start := time.Now()
	err := s.health.CheckRPC(r.Context())
	latency := time.Since(start).Milliseconds()

	check := map[string]any{"name": "rpc", "latencyMs": latency}
	ready := err == nil
	if err != nil {
		check["status"] = "failed"
		check["error"] = err.Error()
	} else {
		check["status"] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{"ready": ready, "checks": []any{check}})
}
