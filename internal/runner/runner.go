package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/internal/contract"
	"github.com/gateway-fm/contender/internal/envstore"
	"github.com/gateway-fm/contender/internal/generator"
	"github.com/gateway-fm/contender/internal/metrics"
	"github.com/gateway-fm/contender/internal/registry"
	"github.com/gateway-fm/contender/internal/rpcclient"
	"github.com/gateway-fm/contender/internal/seed"
	"github.com/gateway-fm/contender/internal/sender"
	"github.com/gateway-fm/contender/internal/signer"
	"github.com/gateway-fm/contender/internal/spammer"
	"github.com/gateway-fm/contender/internal/storage"
	"github.com/gateway-fm/contender/internal/template"
	"github.com/gateway-fm/contender/internal/txactor"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

// State is a Scenario Runner's position in its lifecycle, per spec.md
// §4.3/§4.5's state machine.
type State string

const (
	StateIdle       State = "idle"
	StateDeploying  State = "deploying"
	StateSettingUp  State = "setting_up"
	StateSpamming   State = "spamming"
	StateDraining   State = "draining"
	StateDone       State = "done"
	StateCancelled  State = "cancelled"
)

// Mode selects whether Rate/Duration are interpreted as
// transactions-per-second-for-N-seconds or transactions-per-block-for-N-blocks.
type Mode string

const (
	ModeTPS Mode = "tps"
	ModeTPB Mode = "tpb"
)

// RunParams carries the per-invocation knobs a Scenario Runner needs
// beyond the scenario file itself: rate, duration, and the identity
// this run should record under (spec.md §4.6's campaign/stage tagging
// applies even to a standalone run, just with empty CampaignName).
type RunParams struct {
	RunID        uint64
	CampaignName string
	StageName    string

	Mode           Mode
	Rate           uint64 // tx/s (ModeTPS) or tx/block (ModeTPB)
	Duration       uint64 // batches dispatched (ModeTPS) or blocks (ModeTPB)
	TicksPerSecond int    // ModeTPS batch granularity; 0 means spammer default

	RPCBatchSize    int
	EnvOverrides    map[string]string // -e KEY=VALUE
	OverrideSenders common.Address    // zero value means "use derived pools"
}

// Config is a Runner's fixed dependencies, shared across every run it
// drives in a process lifetime.
type Config struct {
	Client  rpcclient.Client
	Store   storage.DbOps
	Metrics *metrics.Collector
	Tracker *Tracker

	Seed    seed.RandSeed
	Funder  *signer.Signer
	ChainID *big.Int
	RPCURL  string

	SetupConcurrencyLimit int
	SenderConcurrency     int
	GasRefreshEvery       int
	FixedGasPrice         *big.Int // nil selects dynamic-fee gas pricing
	Legacy                bool

	PendingTimeout   time.Duration
	FlushEveryBlocks int
	DrainTimeout     time.Duration

	// BlockPollInterval is how often runSpam polls for a new chain head
	// to feed the TxActor via UpdateTargetBlock. Zero selects a 500ms
	// default; it applies regardless of which spam Mode is active.
	BlockPollInterval time.Duration

	Logger *slog.Logger
}

// Runner drives one Scenario Runner lifecycle at a time: Load, Fund,
// Deploy, Setup, Spam, Finalize (spec.md §4.5). A fresh Runner is
// cheap; cmd/contenderd constructs one per concurrent run rather than
// reusing a single Runner across runs.
type Runner struct {
	cfg Config

	mu            sync.Mutex
	state         State
	actor         *txactor.Actor
	active        spammer.Spammer
	endBlk        uint64
	trackerCancel context.CancelFunc
}

// New builds a Runner from cfg. cfg.Logger defaults to slog.Default().
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{cfg: cfg, state: StateIdle}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) activeActor() *txactor.Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actor
}

func (r *Runner) endBlock() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endBlk
}

// stopTracking cancels the block-head poller started in runSpam, if
// one is running. Safe to call more than once.
func (r *Runner) stopTracking() {
	r.mu.Lock()
	cancel := r.trackerCancel
	r.trackerCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes one full Scenario Runner lifecycle for scenario under
// params, blocking until the run reaches StateDone, StateCancelled, or
// a step fails.
func (r *Runner) Run(ctx context.Context, scenario *ScenarioDefinition, params RunParams) (*txtypes.Run, error) {
	logger := r.cfg.Logger.With(
		slog.Uint64("run_id", params.RunID),
		slog.String("scenario", scenario.Name),
	)

	env := envstore.New(scenario.Env, params.EnvOverrides)
	reg := registry.New(r.cfg.Store)
	planner := template.New(env, reg, r.cfg.Seed, r.cfg.RPCURL)

	idx, pools, err := r.buildPools(ctx, scenario, params)
	if err != nil {
		return nil, err
	}
	if r.cfg.Funder != nil {
		idx.AddSigner(r.cfg.Funder)
	}
	if errs := idx.ResyncAll(ctx, r.cfg.Client); len(errs) > 0 {
		return nil, cerrors.RPCError("runner: initial resync", errs[0])
	}

	startBlock, err := r.cfg.Client.GetBlockNumber(ctx)
	if err != nil {
		return nil, cerrors.RPCError("runner: fetch start block", err)
	}

	run := &txtypes.Run{
		RunID:          params.RunID,
		ScenarioName:   scenario.Name,
		ScenarioLabel:  scenario.Label,
		CampaignName:   params.CampaignName,
		StageName:      params.StageName,
		StartBlock:     startBlock,
		TxsPerDuration: params.Rate,
		Duration:       params.Duration,
		Timeout:        r.cfg.PendingTimeout,
		RPCURL:         r.cfg.RPCURL,
	}
	if err := r.cfg.Store.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	if r.cfg.Tracker != nil {
		r.cfg.Tracker.register(r, params.RunID, scenario.Name, scenario.Label, params.CampaignName, params.StageName, startBlock)
	}

	if scenario.MinBalance != nil {
		if err := r.fund(ctx, idx, scenario.MinBalance); err != nil {
			return nil, err
		}
	}

	r.setState(StateDeploying)
	if err := r.deploy(ctx, scenario, planner, reg); err != nil {
		return nil, err
	}

	r.setState(StateSettingUp)
	if err := r.setup(ctx, scenario, planner, pools); err != nil {
		return nil, err
	}

	if errs := idx.ResyncAll(ctx, r.cfg.Client); len(errs) > 0 {
		logger.Warn("post-setup nonce resync had errors", slog.Int("count", len(errs)))
	}

	if params.Rate == 0 {
		// spec.md §8 boundary behavior: rate=0 sends nothing, the run
		// ends immediately with end_block == start_block.
		run.EndBlock = startBlock
		r.mu.Lock()
		r.endBlk = startBlock
		r.mu.Unlock()
		r.setState(StateDone)
		return run, r.cfg.Store.UpdateRun(ctx, run)
	}

	r.setState(StateSpamming)
	if err := r.runSpam(ctx, scenario, planner, pools, params); err != nil {
		r.setState(StateCancelled)
		r.stopTracking()
		return nil, err
	}
	endBlock, err := r.cfg.Client.GetBlockNumber(ctx)
	if err != nil {
		return nil, cerrors.RPCError("runner: fetch end block", err)
	}
	r.mu.Lock()
	r.endBlk = endBlock
	r.mu.Unlock()

	r.setState(StateDraining)
	r.drain(ctx)

	run.EndBlock = endBlock
	r.setState(StateDone)
	if err := r.cfg.Store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// buildPools derives one signer.AgentPool per agent pool the
// scenario's spam steps reference, sized per spec.md §3's
// PoolSize(rate, numPools), and indexes them.
func (r *Runner) buildPools(ctx context.Context, scenario *ScenarioDefinition, params RunParams) (*signer.Index, map[string]*signer.AgentPool, error) {
	names := scenario.PoolNames()
	pools := make(map[string]*signer.AgentPool, len(names))
	idx := signer.NewIndex()

	if params.OverrideSenders != (common.Address{}) {
		// No pools are derived and the index is left empty, so a spam
		// step or setup directive that names a pool fails as an unknown
		// pool. The override address itself is not used or checked here.
		return idx, pools, nil
	}

	size := signer.PoolSize(int(params.Rate), max(len(names), 1))
	for _, name := range names {
		pool, err := signer.NewPool(r.cfg.Seed, name, size)
		if err != nil {
			return nil, nil, cerrors.SignerError("runner: derive pool "+name, err)
		}
		pools[name] = pool
		idx.Add(pool)
	}
	return idx, pools, nil
}

// deploy resolves and executes the scenario's [[create]] directives in
// declaration order, registering each into reg.
func (r *Runner) deploy(ctx context.Context, scenario *ScenarioDefinition, planner *template.Planner, reg *registry.Registry) error {
	if len(scenario.Creates) == 0 || r.cfg.Funder == nil {
		return nil
	}

	specs := make([]contract.Spec, 0, len(scenario.Creates))
	for i, tmpl := range scenario.Creates {
		planned, err := planner.Plan(ctx, tmpl, r.cfg.Funder.Address, i, 0, 0)
		if err != nil {
			return fmt.Errorf("runner: resolve create %s: %w", tmpl.ContractName, err)
		}
		specs = append(specs, contract.Spec{Name: tmpl.ContractName, Bytecode: planned.Data})
	}

	gasPrice := r.cfg.FixedGasPrice
	if gasPrice == nil {
		suggested, err := r.cfg.Client.GetGasPrice(ctx)
		if err != nil {
			return cerrors.RPCError("runner: fetch gas price for deploy", err)
		}
		gasPrice = new(big.Int).SetUint64(suggested)
	}

	deployer := contract.NewDeployer(r.cfg.Client, r.cfg.ChainID, gasPrice, r.cfg.Logger)
	addrs, err := deployer.DeployAllWithProgress(ctx, r.cfg.Funder, specs, func(name string, deployed, total int) {
		r.cfg.Logger.Info("deploy progress", slog.String("contract", name), slog.Int("deployed", deployed), slog.Int("total", total))
	})
	if err != nil {
		return err
	}

	for _, tmpl := range scenario.Creates {
		addr, ok := addrs[tmpl.ContractName]
		if !ok {
			continue
		}
		// DeployAllWithProgress surfaces only addresses, not the tx
		// hash of each creation — the registry records a zero hash
		// for deploy_tx_hash until the deployer is extended to return it.
		if err := reg.Assign(tmpl.ContractName, addr, common.Hash{}, r.cfg.RPCURL, tmpl.ScenarioLabel); err != nil {
			return err
		}
		if r.cfg.Store != nil {
			named := &txtypes.NamedTx{Name: tmpl.ContractName, Address: &addr, RPCURL: r.cfg.RPCURL, ScenarioLabel: tmpl.ScenarioLabel}
			if err := r.cfg.Store.UpsertNamedTx(ctx, named); err != nil {
				return err
			}
		}
	}
	return nil
}

// runSpam runs the configured discipline (timed for ModeTPS, blockwise
// for ModeTPB) until it finishes or the context is cancelled. The
// actor it starts is left running for drain to shut down.
func (r *Runner) runSpam(ctx context.Context, scenario *ScenarioDefinition, planner *template.Planner, pools map[string]*signer.AgentPool, params RunParams) error {
	gens := make([]*generator.Generator, 0, len(scenario.Spam))
	for i, step := range scenario.Spam {
		pool := pools[step.PoolName()]
		if pool == nil {
			return fmt.Errorf("runner: spam step %d references unknown pool %q", i, step.PoolName())
		}
		gens = append(gens, generator.New(generator.Step{
			StepIndex: i,
			Template:  step.Tx,
			Bundle:    step.Bundle,
			Pool:      pool,
		}, planner))
	}
	source := generator.Source(generator.NewMulti(gens...))

	idx := signer.NewIndex()
	for _, p := range pools {
		idx.Add(p)
	}

	actorCfg := txactor.Config{
		Client: r.cfg.Client, Store: r.cfg.Store, Metrics: r.cfg.Metrics,
		RunID: params.RunID, Scenario: scenario.Name,
		FlushEveryBlocks: r.cfg.FlushEveryBlocks, PendingTimeout: r.cfg.PendingTimeout,
		Logger: r.cfg.Logger,
	}
	actor := txactor.New(actorCfg)
	r.mu.Lock()
	r.actor = actor
	r.mu.Unlock()

	// actor.Run owns the pending cache for the remainder of the run;
	// drain() calls Shutdown on it once spamming finishes and waits
	// for this goroutine to exit.
	go actor.Run(context.Background())

	// The actor only collects receipts for blocks it's told about via
	// UpdateTargetBlock; this poller feeds it a steadily-advancing head
	// independent of whichever spam discipline is dispatching traffic,
	// and keeps running into drain() so in-flight txs still get a
	// chance to land during the grace period.
	trackerCtx, trackerCancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.trackerCancel = trackerCancel
	r.mu.Unlock()
	go r.trackBlocks(trackerCtx, actor)

	gasPricer := spammer.NewGasPricer(r.cfg.Client, r.cfg.FixedGasPrice, r.cfg.GasRefreshEvery)
	gasEstimator := spammer.NewGasEstimator(r.cfg.Client)
	snd := sender.New(sender.Config{
		Client: r.cfg.Client, Concurrency: r.senderConcurrency(params.Rate), Logger: r.cfg.Logger,
		Metrics: r.cfg.Metrics, Scenario: scenario.Name,
	})

	dispatcher := &spammer.Dispatcher{
		Client: r.cfg.Client, Signers: idx, ChainID: r.cfg.ChainID,
		GasPricer: gasPricer, GasEstimate: gasEstimator, Sender: snd,
		Metrics: r.cfg.Metrics, Scenario: scenario.Name, Legacy: r.cfg.Legacy,
		RPCBatchSize: params.RPCBatchSize, Logger: r.cfg.Logger,
	}

	batchSize := int(params.Rate)
	if batchSize <= 0 {
		batchSize = 1
	}

	switch params.Mode {
	case ModeTPB:
		bw := spammer.NewBlockwiseSpammer(r.cfg.Client, dispatcher, r.cfg.Metrics, scenario.Name, r.cfg.Logger)
		r.mu.Lock()
		r.active = bw
		r.mu.Unlock()
		return bw.RunForBlocks(ctx, params.RunID, source, batchSize, int(params.Duration), actor.Submit)
	default:
		ticks := params.TicksPerSecond
		if ticks <= 0 {
			ticks = 1
		}
		ts := spammer.NewTimedSpammer(dispatcher, r.cfg.Metrics, scenario.Name, r.cfg.Logger)
		r.mu.Lock()
		r.active = ts
		r.mu.Unlock()
		return ts.RunAt(ctx, params.RunID, source, batchSize, float64(ticks), int(params.Duration), actor.Submit)
	}
}

// senderConcurrency returns cfg.SenderConcurrency, or twice the run's
// target rate (the documented max_in_flight default) when it's unset.
func (r *Runner) senderConcurrency(rate uint64) int {
	if r.cfg.SenderConcurrency > 0 {
		return r.cfg.SenderConcurrency
	}
	if c := int(2 * rate); c > 0 {
		return c
	}
	return 1
}

// trackBlocks polls the chain head and forwards every new block number
// to actor.UpdateTargetBlock, driving the TxActor's receipt collection
// for the run's duration. It returns once ctx is cancelled.
func (r *Runner) trackBlocks(ctx context.Context, actor *txactor.Actor) {
	interval := r.cfg.BlockPollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		head, err := r.cfg.Client.GetBlockNumber(ctx)
		if err != nil {
			r.cfg.Logger.Debug("runner: block tracker poll failed", slog.String("error", err.Error()))
			continue
		}
		if head <= last {
			continue
		}
		last = head
		actor.UpdateTargetBlock(ctx, head)
	}
}

// RunStage runs only scenario's Spam phase against state a prior Run
// (or the campaign's setup.scenarios pass) already provisioned — used
// by the Campaign Runner for every mix entry of a stage, per spec.md
// §4.6: stage scenarios share already-deployed contracts and
// already-landed setup directives, so Load/Fund/Deploy/Setup do not
// repeat per stage.
func (r *Runner) RunStage(ctx context.Context, scenario *ScenarioDefinition, params RunParams) error {
	env := envstore.New(scenario.Env, params.EnvOverrides)
	reg := registry.New(r.cfg.Store)
	planner := template.New(env, reg, r.cfg.Seed, r.cfg.RPCURL)

	idx, pools, err := r.buildPools(ctx, scenario, params)
	if err != nil {
		return err
	}
	if errs := idx.ResyncAll(ctx, r.cfg.Client); len(errs) > 0 {
		return cerrors.RPCError("runner: stage resync", errs[0])
	}
	if params.Rate == 0 {
		return nil
	}

	r.setState(StateSpamming)
	if err := r.runSpam(ctx, scenario, planner, pools, params); err != nil {
		r.setState(StateCancelled)
		r.stopTracking()
		return err
	}
	r.setState(StateDraining)
	r.drain(ctx)
	r.setState(StateDone)
	return nil
}

// drain shuts down the TxActor, waiting up to cfg.DrainTimeout for
// pending transactions to settle before discarding the remainder. The
// block tracker started in runSpam keeps feeding UpdateTargetBlock
// throughout the grace period so in-flight txs get a real chance to
// land before whatever's left is discarded.
func (r *Runner) drain(ctx context.Context) {
	actor := r.activeActor()
	if actor == nil {
		return
	}

	if r.cfg.DrainTimeout > 0 && actor.PendingCount() > 0 {
		graceCtx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
		r.waitForPending(graceCtx, actor)
		cancel()
	}

	r.stopTracking()

	// Shutdown's own context is derived from Background, not the
	// caller's ctx, so a cancelled run (e.g. SIGTERM) still gets a
	// chance to flush what landed before discarding the rest.
	shutdownCtx := context.Background()
	if r.cfg.DrainTimeout > 0 {
		var shutdownCancel context.CancelFunc
		shutdownCtx, shutdownCancel = context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
		defer shutdownCancel()
	}
	discarded := actor.Shutdown(shutdownCtx)
	if discarded > 0 {
		r.cfg.Logger.Warn("discarded pending txs at drain", slog.Int("count", discarded))
	}
}

// waitForPending blocks until actor's pending cache empties or ctx's
// grace-period deadline passes, polling at a fixed interval.
func (r *Runner) waitForPending(ctx context.Context, actor *txactor.Actor) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for actor.PendingCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
