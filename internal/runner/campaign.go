package runner

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

// MixEntry is one `[[spam.stage.mix]]` directive: a scenario and the
// percentage of the stage's total rate it should receive.
type MixEntry struct {
	Scenario *ScenarioDefinition
	SharePct float64
}

// Stage is one ordered campaign stage: a mix of scenarios sharing one
// run_id, run concurrently for Duration (spec.md §4.6).
type Stage struct {
	Name     string
	Mode     Mode
	Duration uint64 // batches dispatched (ModeTPS) or blocks (ModeTPB)
	Mix      []MixEntry
}

// CampaignDefinition is a fully-parsed campaign file: the boundary
// artifact TOML parsing (out of scope) hands the Campaign Runner.
type CampaignDefinition struct {
	Name           string
	SetupScenarios []*ScenarioDefinition
	Stages         []Stage
}

// CampaignParams carries the rate and sender knobs that apply across
// every stage of one campaign invocation.
type CampaignParams struct {
	TotalRate       uint64
	OverrideSenders common.Address
	EnvOverrides    map[string]string
}

// RunIDGenerator allocates unique run IDs for a process's lifetime.
// cmd/contenderd seeds it from the DB's highest known run_id + 1 at
// startup.
type RunIDGenerator struct {
	next atomic.Uint64
}

// NewRunIDGenerator builds a generator whose first Next() call returns start.
func NewRunIDGenerator(start uint64) *RunIDGenerator {
	g := &RunIDGenerator{}
	g.next.Store(start - 1)
	return g
}

// Next returns the next unused run ID.
func (g *RunIDGenerator) Next() uint64 { return g.next.Add(1) }

// CampaignRunner drives the Campaign Runner lifecycle: run every
// setup.scenarios entry once, then run each stage's mix concurrently
// in order, per spec.md §4.6.
type CampaignRunner struct {
	cfg   Config
	runID *RunIDGenerator
}

// NewCampaign builds a CampaignRunner sharing cfg with the per-scenario
// Runner it constructs internally, allocating run IDs from ids.
func NewCampaign(cfg Config, ids *RunIDGenerator) *CampaignRunner {
	return &CampaignRunner{cfg: cfg, runID: ids}
}

// Run executes campaign end to end: setup scenarios in order, then
// every stage in order, blocking until the last stage's duration
// elapses or a step fails.
func (c *CampaignRunner) Run(ctx context.Context, campaign *CampaignDefinition, params CampaignParams) error {
	for _, sc := range campaign.SetupScenarios {
		r := New(c.cfg)
		setupParams := RunParams{RunID: c.runID.Next(), CampaignName: campaign.Name, EnvOverrides: params.EnvOverrides}
		if _, err := r.Run(ctx, sc, setupParams); err != nil {
			return fmt.Errorf("campaign %s: setup scenario %s: %w", campaign.Name, sc.Name, err)
		}
	}

	if c.cfg.Tracker != nil {
		names := make([]string, len(campaign.Stages))
		for i, s := range campaign.Stages {
			names[i] = s.Name
		}
		c.cfg.Tracker.registerCampaign(campaign.Name, names)
	}

	for _, stage := range campaign.Stages {
		if err := c.runStage(ctx, campaign.Name, stage, params); err != nil {
			return fmt.Errorf("campaign %s: stage %s: %w", campaign.Name, stage.Name, err)
		}
	}
	return nil
}

func (c *CampaignRunner) runStage(ctx context.Context, campaignName string, stage Stage, params CampaignParams) error {
	if len(stage.Mix) > 1 && params.OverrideSenders != (common.Address{}) {
		return cerrors.ConfigError("campaign: stage "+stage.Name, fmt.Errorf(
			"stage has %d mix entries but --override-senders names a single address: nonce conflicts would be unavoidable", len(stage.Mix)))
	}

	shares := normalizeShares(stage.Mix)
	rates := scenarioRates(params.TotalRate, shares)

	runID := c.runID.Next()
	startBlock, err := c.cfg.Client.GetBlockNumber(ctx)
	if err != nil {
		return cerrors.RPCError("campaign: fetch start block", err)
	}

	run := &txtypes.Run{
		RunID: runID, CampaignName: campaignName, StageName: stage.Name,
		StartBlock: startBlock, TxsPerDuration: params.TotalRate, Duration: stage.Duration,
		RPCURL: c.cfg.RPCURL,
	}
	if err := c.cfg.Store.InsertRun(ctx, run); err != nil {
		return err
	}
	if c.cfg.Tracker != nil {
		c.cfg.Tracker.register(nil, runID, "", "", campaignName, stage.Name, startBlock)
		c.cfg.Tracker.setStageActive(campaignName, stage.Name, true, []uint64{runID})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range stage.Mix {
		entry := entry
		rate := rates[i]
		g.Go(func() error {
			r := New(c.cfg)
			stageParams := RunParams{
				RunID: runID, CampaignName: campaignName, StageName: stage.Name,
				Mode: stage.Mode, Rate: rate, Duration: stage.Duration,
				EnvOverrides: params.EnvOverrides, OverrideSenders: params.OverrideSenders,
			}
			return r.RunStage(gctx, entry.Scenario, stageParams)
		})
	}
	runErr := g.Wait()

	endBlock, blockErr := c.cfg.Client.GetBlockNumber(ctx)
	if blockErr == nil {
		run.EndBlock = endBlock
	}
	if err := c.cfg.Store.UpdateRun(ctx, run); err != nil && runErr == nil {
		runErr = err
	}
	if c.cfg.Tracker != nil {
		c.cfg.Tracker.setStageActive(campaignName, stage.Name, false, nil)
	}
	return runErr
}

// normalizeShares rescales mix's SharePct values to sum to exactly
// 100, the last entry absorbing whatever rounding drift the others
// leave behind (spec.md §4.6).
func normalizeShares(mix []MixEntry) []float64 {
	if len(mix) == 0 {
		return nil
	}
	sum := 0.0
	for _, m := range mix {
		sum += m.SharePct
	}
	if sum == 0 {
		// An all-zero mix splits evenly rather than dividing by zero.
		shares := make([]float64, len(mix))
		running := 0.0
		for i := 0; i < len(mix)-1; i++ {
			shares[i] = 100 / float64(len(mix))
			running += shares[i]
		}
		shares[len(mix)-1] = 100 - running
		return shares
	}

	shares := make([]float64, len(mix))
	running := 0.0
	for i := 0; i < len(mix)-1; i++ {
		shares[i] = mix[i].SharePct / sum * 100
		running += shares[i]
	}
	shares[len(mix)-1] = 100 - running
	return shares
}

// scenarioRates computes scenario_rate = round(total_rate*share/100)
// per entry, with the last entry adjusted so the sum equals totalRate
// exactly (spec.md §4.6).
func scenarioRates(totalRate uint64, shares []float64) []uint64 {
	if len(shares) == 0 {
		return nil
	}
	rates := make([]uint64, len(shares))
	var assigned uint64
	for i := 0; i < len(shares)-1; i++ {
		rates[i] = uint64(math.Round(float64(totalRate) * shares[i] / 100))
		assigned += rates[i]
	}
	last := len(shares) - 1
	if assigned > totalRate {
		rates[last] = 0
	} else {
		rates[last] = totalRate - assigned
	}
	return rates
}
