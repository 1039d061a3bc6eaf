package runner

import (
	"context"
	"sync"

	"github.com/gateway-fm/contender/internal/storage"
)

// Status is a snapshot of one run's live state — the shape the
// contenderd HTTP surface serializes for internal/mcp's
// contender_run_status tool, and the completion summary spec.md §7
// calls for ("N sent, M landed, K reverted, R timed-out").
type Status struct {
	RunID         uint64
	ScenarioName  string
	ScenarioLabel string
	CampaignName  string
	StageName     string
	State         State
	StartBlock    uint64
	EndBlock      uint64
	PendingCount  int
	ReceiptCount  int
	Landed        int
	Reverted      int
	TimedOut      int
}

// StageStatus is one campaign stage's live state.
type StageStatus struct {
	Name   string
	Active bool
	RunIDs []uint64
}

// CampaignStatus is one campaign's live state across its stages.
type CampaignStatus struct {
	Name   string
	Stages []StageStatus
}

type runEntry struct {
	runID         uint64
	scenarioName  string
	scenarioLabel string
	campaignName  string
	stageName     string
	startBlock    uint64

	runner *Runner
}

// Tracker holds the live state of every run and campaign a
// contenderd process is driving, independent of storage.DbOps — a
// run's Status reads its State/PendingCount from here and its
// receipt counts from the DB, since the latter only exist once the
// TxActor has flushed. cmd/contenderd constructs one Tracker and
// shares it across every Runner/CampaignRunner it starts.
type Tracker struct {
	store storage.DbOps

	mu        sync.RWMutex
	runs      map[uint64]*runEntry
	campaigns map[string]*CampaignStatus
}

// NewTracker builds a Tracker backed by store for receipt-count
// lookups. store may be nil in tests that only care about live state.
func NewTracker(store storage.DbOps) *Tracker {
	return &Tracker{
		store:     store,
		runs:      make(map[uint64]*runEntry),
		campaigns: make(map[string]*CampaignStatus),
	}
}

func (t *Tracker) register(r *Runner, runID uint64, scenarioName, scenarioLabel, campaignName, stageName string, startBlock uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[runID] = &runEntry{
		runID: runID, scenarioName: scenarioName, scenarioLabel: scenarioLabel,
		campaignName: campaignName, stageName: stageName, startBlock: startBlock,
		runner: r,
	}
}

// RunIDs returns every tracked run ID.
func (t *Tracker) RunIDs() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint64, 0, len(t.runs))
	for id := range t.runs {
		out = append(out, id)
	}
	return out
}

// Status builds a point-in-time Status for runID, combining live
// Runner/TxActor state with DB-backed receipt counts.
func (t *Tracker) Status(ctx context.Context, runID uint64) (*Status, bool) {
	t.mu.RLock()
	entry, ok := t.runs[runID]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}

	st := &Status{
		RunID: entry.runID, ScenarioName: entry.scenarioName, ScenarioLabel: entry.scenarioLabel,
		CampaignName: entry.campaignName, StageName: entry.stageName, StartBlock: entry.startBlock,
	}
	// A campaign stage's run_id is shared by several concurrently
	// running Runners (one per mix entry), so no single Runner owns its
	// live state — PendingCount/State there come from the stage's
	// active flag and the DB alone.
	if entry.runner != nil {
		st.State = entry.runner.State()
		st.EndBlock = entry.runner.endBlock()
		if actor := entry.runner.activeActor(); actor != nil {
			st.PendingCount = actor.PendingCount()
		}
	}
	if t.store != nil {
		if n, err := t.store.CountReceipts(ctx, runID); err == nil {
			st.ReceiptCount = n
		}
		if landed, reverted, timedOut, err := t.store.CountReceiptsByStatus(ctx, runID); err == nil {
			st.Landed, st.Reverted, st.TimedOut = landed, reverted, timedOut
		}
	}
	return st, true
}

func (t *Tracker) registerCampaign(name string, stages []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := &CampaignStatus{Name: name}
	for _, s := range stages {
		cs.Stages = append(cs.Stages, StageStatus{Name: s})
	}
	t.campaigns[name] = cs
}

func (t *Tracker) setStageActive(campaign, stage string, active bool, runIDs []uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, ok := t.campaigns[campaign]
	if !ok {
		return
	}
	for i := range cs.Stages {
		if cs.Stages[i].Name == stage {
			cs.Stages[i].Active = active
			if runIDs != nil {
				cs.Stages[i].RunIDs = runIDs
			}
		}
	}
}

// CampaignStatus returns the live status of a tracked campaign.
func (t *Tracker) CampaignStatus(name string) (*CampaignStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cs, ok := t.campaigns[name]
	if !ok {
		return nil, false
	}
	out := *cs
	out.Stages = append([]StageStatus(nil), cs.Stages...)
	return &out, true
}
