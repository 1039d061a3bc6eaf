package runner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/internal/config"
	"github.com/gateway-fm/contender/internal/signer"
	"github.com/gateway-fm/contender/internal/template"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

// setup executes a scenario's [[setup]] directives in fixed-size
// concurrency windows, each window fully landing before the next
// begins (spec.md §4.5 step 4), checkpointing progress after every
// window so a restarted run resumes instead of re-sending directives
// that already landed (SPEC_FULL §4 supplement).
func (r *Runner) setup(ctx context.Context, scenario *ScenarioDefinition, planner *template.Planner, pools map[string]*signer.AgentPool) error {
	total := len(scenario.Setups)
	if total == 0 {
		return nil
	}

	hash := scenario.ScenarioHash()
	completed := 0
	if r.cfg.Store != nil {
		c, err := r.cfg.Store.GetSetupProgress(ctx, hash)
		if err != nil {
			return cerrors.DBError("runner: setup: load progress", err)
		}
		completed = c
	}
	if completed >= total {
		return nil
	}

	gasPrice, err := r.dynamicFeeGasPrice(ctx)
	if err != nil {
		return err
	}

	limit := r.cfg.SetupConcurrencyLimit
	if limit <= 0 {
		limit = config.DefaultSetupConcurrencyLimit
	}

	for start := completed; start < total; start += limit {
		end := min(start+limit, total)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				return r.runSetupDirective(gctx, scenario.Setups[i], i, planner, pools, gasPrice)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		completed = end
		if r.cfg.Store != nil {
			if err := r.cfg.Store.UpdateSetupProgress(ctx, hash, completed); err != nil {
				return cerrors.DBError("runner: setup: checkpoint", err)
			}
		}
	}
	return nil
}

// runSetupDirective resolves the directive's sender, plans it, and
// sends it to completion synchronously.
func (r *Runner) runSetupDirective(ctx context.Context, tmpl txtypes.TxTemplate, index int, planner *template.Planner, pools map[string]*signer.AgentPool, gasPrice *big.Int) error {
	sg, err := r.resolveDirectiveSigner(tmpl, pools)
	if err != nil {
		return err
	}

	planned, err := planner.Plan(ctx, tmpl, sg.Address, index, 0, 0)
	if err != nil {
		return fmt.Errorf("runner: setup %d: resolve: %w", index, err)
	}

	gasLimit := planned.GasLimit
	if gasLimit == 0 {
		gasLimit = 500_000 // setup calls have no dispatcher-side gas estimator; a generous fixed ceiling avoids an extra RPC round trip per directive
	}

	return r.sendAndConfirm(ctx, sg, planned.To, valueOrZero(planned.Value), planned.Data, gasLimit, gasPrice)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// resolveDirectiveSigner picks the *signer.Signer a [[setup]] (or
// [[create]]) directive sends from: round-robin from its FromPool, or
// the funder if From names the funder's own address.
func (r *Runner) resolveDirectiveSigner(tmpl txtypes.TxTemplate, pools map[string]*signer.AgentPool) (*signer.Signer, error) {
	if tmpl.FromPool != "" {
		pool, ok := pools[tmpl.FromPool]
		if !ok {
			return nil, fmt.Errorf("runner: setup directive references unknown pool %q", tmpl.FromPool)
		}
		return pool.At(pool.Next()), nil
	}
	if tmpl.From != "" && r.cfg.Funder != nil && common.HexToAddress(tmpl.From) == r.cfg.Funder.Address {
		return r.cfg.Funder, nil
	}
	return nil, fmt.Errorf("runner: setup directive names sender %q which is not a known pool or the funder", tmpl.From)
}
