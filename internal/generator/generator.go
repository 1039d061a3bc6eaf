// Package generator implements the Generator component: a lazy,
// restartable sequence of PlannedTx (or Bundle) per spam step,
// assigning signers from the step's pool in round-robin order, per
// spec.md §4.2.
package generator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gateway-fm/contender/internal/signer"
	"github.com/gateway-fm/contender/internal/template"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

// Step is one materialized [[spam]] directive: either a single
// TxTemplate or a Bundle of them, bound to an agent pool.
type Step struct {
	StepIndex int
	Template  *txtypes.TxTemplate // nil if Bundle is set
	Bundle    *txtypes.Bundle     // nil if Template is set
	Pool      *signer.AgentPool
}

// Generator emits PlannedTx batches for one Step. Each Generator owns
// an independent sequence counter so that reproducibility (spec.md
// §4.2: "given the same (run_seed, scenario, rate, duration), the
// generator emits byte-identical PlannedTx sequences") does not depend
// on how dispatch happens to interleave with other concurrent steps
// sharing the same pool — only the pool's round-robin signer
// assignment is shared and therefore order-sensitive across steps.
type Generator struct {
	step    Step
	planner *template.Planner
	seq     atomic.Uint64
}

// New creates a Generator for one step.
func New(step Step, planner *template.Planner) *Generator {
	return &Generator{step: step, planner: planner}
}

// NextBatch pulls the next n PlannedTx (for a plain-tx step) or the
// next n Bundles, each expanded into its member PlannedTx tagged with
// a shared bundle_id (for a bundle step), per spec.md §4.3 batch
// dispatch step 1 and §9's bundle design note.
func (g *Generator) NextBatch(ctx context.Context, n int) ([]*txtypes.PlannedTx, error) {
	if g.step.Bundle != nil {
		return g.nextBundleBatch(ctx, n)
	}
	return g.nextTxBatch(ctx, n)
}

func (g *Generator) nextTxBatch(ctx context.Context, n int) ([]*txtypes.PlannedTx, error) {
	out := make([]*txtypes.PlannedTx, 0, n)
	for i := 0; i < n; i++ {
		tx, err := g.nextOne(ctx, *g.step.Template)
		if err != nil {
			return out, fmt.Errorf("generator: step %d tx %d: %w", g.step.StepIndex, i, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (g *Generator) nextBundleBatch(ctx context.Context, n int) ([]*txtypes.PlannedTx, error) {
	out := make([]*txtypes.PlannedTx, 0, n*len(g.step.Bundle.Txs))
	for i := 0; i < n; i++ {
		bundleID := uuid.NewString()
		for j, tmpl := range g.step.Bundle.Txs {
			tx, err := g.nextOne(ctx, tmpl)
			if err != nil {
				return out, fmt.Errorf("generator: step %d bundle %d tx %d: %w", g.step.StepIndex, i, j, err)
			}
			tx.BundleID = bundleID
			out = append(out, tx)
		}
	}
	return out, nil
}

func (g *Generator) nextOne(ctx context.Context, tmpl txtypes.TxTemplate) (*txtypes.PlannedTx, error) {
	k := g.step.Pool.Next()
	sg := g.step.Pool.At(k)
	txIndex := int(g.seq.Add(1) - 1)
	return g.planner.Plan(ctx, tmpl, sg.Address, g.step.StepIndex, txIndex, 0)
}

// Source is what a Spammer pulls batches from: a single Generator, or
// a Multi combining every [[spam]] step of a scenario.
type Source interface {
	NextBatch(ctx context.Context, n int) ([]*txtypes.PlannedTx, error)
}

// Multi round-robins NextBatch across every step's Generator so a
// scenario with more than one [[spam]] step still commits to one
// rate-sized batch per period, with each step contributing a
// proportional share (spec.md §4.3 batch dispatch step 1).
type Multi struct {
	gens []*Generator
	next atomic.Uint64
}

// NewMulti builds a Multi over every step's Generator, in declaration order.
func NewMulti(gens ...*Generator) *Multi {
	return &Multi{gens: gens}
}

// NextBatch pulls n PlannedTx total, distributed round-robin across
// the underlying generators one tx at a time so no single step
// monopolizes a partially-full batch.
func (m *Multi) NextBatch(ctx context.Context, n int) ([]*txtypes.PlannedTx, error) {
	if len(m.gens) == 0 {
		return nil, fmt.Errorf("generator: Multi has no steps")
	}
	if len(m.gens) == 1 {
		return m.gens[0].NextBatch(ctx, n)
	}
	out := make([]*txtypes.PlannedTx, 0, n)
	for len(out) < n {
		idx := int(m.next.Add(1)-1) % len(m.gens)
		one, err := m.gens[idx].NextBatch(ctx, 1)
		if err != nil {
			return out, err
		}
		out = append(out, one...)
	}
	return out, nil
}

var _ Source = (*Generator)(nil)
var _ Source = (*Multi)(nil)
