// contenderd is the spamming engine's composition root: it wires
// config, seed, signer, RPC client, storage, and the Scenario Runner
// together, then runs one example scenario while serving the status
// HTTP surface internal/mcp polls. A real CLI that parses scenario/
// campaign TOML files is out of scope (spec.md §1); this binary
// stands in for it, the way cmd/loadgen/main.go wires the teacher's
// pipeline for a single configured test.
package main

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/contender/internal/config"
	"github.com/gateway-fm/contender/internal/engineauth"
	"github.com/gateway-fm/contender/internal/execnode"
	"github.com/gateway-fm/contender/internal/metrics"
	"github.com/gateway-fm/contender/internal/rpc"
	"github.com/gateway-fm/contender/internal/rpcclient"
	"github.com/gateway-fm/contender/internal/runner"
	"github.com/gateway-fm/contender/internal/signer"
	"github.com/gateway-fm/contender/internal/storage"
	"github.com/gateway-fm/contender/internal/transport"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("contenderd exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	sd, err := cfg.LoadOrCreateSeed()
	if err != nil {
		return err
	}

	funder, err := signer.FromHex(cfg.PrivateKeyHex)
	if err != nil {
		return err
	}
	logger.Info("contenderd starting", slog.String("funder", funder.Address.Hex()), slog.String("rpc_url", cfg.RPCURL))

	httpRPC := rpc.NewHTTPClient(rpc.DefaultClientConfig(cfg.RPCURL))
	client := rpcclient.Wrap(httpRPC, "")

	caps := execnode.DefaultRegistry().Get(cfg.ExecutionLayer)
	if caps == nil {
		caps = &execnode.ExecutionLayerCapabilities{Name: "unknown"}
	}
	logger.Info("execution layer capabilities", slog.String("layer", caps.String()), slog.Bool("legacy_tx", caps.RequiresLegacyTx))

	if cfg.AuthRPCURL != "" && cfg.JWTSecretPath != "" {
		if err := probeEngineAPI(cfg, caps, logger); err != nil {
			logger.Warn("engine API probe failed", slog.String("error", err.Error()))
		}
	}

	dbPath := filepath.Join(cfg.DataDir, config.DBFileName)
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	mcol := metrics.NewCollector(prometheus.DefaultRegisterer)

	tracker := runner.NewTracker(store)
	ids, err := nextRunID(store)
	if err != nil {
		return err
	}

	srv := transport.NewServer(tracker, store, transport.NewRPCHealthChecker(client), logger)
	httpAddr := os.Getenv("CONTENDERD_ADDR")
	if httpAddr == "" {
		httpAddr = ":13001"
	}
	httpServer := &http.Server{Addr: httpAddr, Handler: srv.Handler()}
	go func() {
		logger.Info("status server listening", slog.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server failed", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runnerCfg := runner.Config{
		Client: client, Store: store, Metrics: mcol, Tracker: tracker,
		Seed: sd, Funder: funder, ChainID: cfg.ChainID, RPCURL: cfg.RPCURL,
		SetupConcurrencyLimit: cfg.SetupConcurrencyLimit,
		GasRefreshEvery:       20,
		Legacy:                caps.RequiresLegacyTx,
		PendingTimeout:        2 * time.Minute,
		FlushEveryBlocks:      1,
		DrainTimeout:          30 * time.Second,
		Logger:                logger,
		// SenderConcurrency left at zero: Runner derives max_in_flight
		// as 2x the run's rate when unset.
	}

	scenario := exampleScenario()
	r := runner.New(runnerCfg)
	params := runner.RunParams{
		RunID: ids.Next(), Mode: runner.ModeTPS, Rate: 5, Duration: 20, TicksPerSecond: 1,
	}

	result, err := r.Run(ctx, scenario, params)
	if err != nil {
		return err
	}
	logger.Info("example run complete",
		slog.Uint64("run_id", result.RunID), slog.Uint64("start_block", result.StartBlock), slog.Uint64("end_block", result.EndBlock))

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// nextRunID seeds a RunIDGenerator from the highest run_id already
// recorded, so a restarted process never reuses an old run's ID.
func nextRunID(store storage.DbOps) (*runner.RunIDGenerator, error) {
	runs, err := store.ListRuns(context.Background(), "", 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return runner.NewRunIDGenerator(1), nil
	}
	return runner.NewRunIDGenerator(runs[0].RunID + 1), nil
}

// probeEngineAPI exercises the Engine API JWT transport against the
// configured auth endpoint with a no-op forkchoiceUpdated call,
// confirming the secret and endpoint are wired correctly before any
// scenario that depends on block production timing runs.
func probeEngineAPI(cfg *config.Config, caps *execnode.ExecutionLayerCapabilities, logger *slog.Logger) error {
	secretHex, err := os.ReadFile(cfg.JWTSecretPath)
	if err != nil {
		return err
	}
	secret, err := engineauth.ParseSecretHex(string(secretHex))
	if err != nil {
		return err
	}
	ec := engineauth.New(engineauth.Config{AuthURL: cfg.AuthRPCURL, Secret: secret, Caps: caps, Logger: logger})
	_, err = ec.ForkchoiceUpdated(context.Background(), engineauth.ForkchoiceState{}, nil)
	return err
}

// exampleScenario is the single hardcoded scenario contenderd drives:
// a plain ETH transfer, funded from a derived agent pool, against the
// {recipient} address the scenario's own [env] defaults supply.
func exampleScenario() *runner.ScenarioDefinition {
	return &runner.ScenarioDefinition{
		Name:       "eth-transfer",
		Label:      "default",
		Env:        map[string]string{"recipient": "0x000000000000000000000000000000000000dEaD"},
		MinBalance: big.NewInt(1e17), // 0.1 ETH floor per agent signer
		Spam: []runner.SpamStepDef{
			{
				Tx: &txtypes.TxTemplate{
					Kind:     txtypes.KindCall,
					To:       "{recipient}",
					FromPool: "senders",
					Value:    "1000000000000000", // 0.001 ETH
					TxType:   txtypes.TxTypeDynamicFee,
				},
			},
		},
	}
}
