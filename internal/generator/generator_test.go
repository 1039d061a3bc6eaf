package generator

import (
	"context"
	"testing"

	"github.com/gateway-fm/contender/internal/envstore"
	"github.com/gateway-fm/contender/internal/seed"
	"github.com/gateway-fm/contender/internal/signer"
	"github.com/gateway-fm/contender/internal/template"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

func testPlanner(t *testing.T) *template.Planner {
	t.Helper()
	s := seed.New(make([]byte, 32))
	return template.New(envstore.New(nil, nil), nil, s, "")
}

func testPool(t *testing.T, name string, size int) *signer.AgentPool {
	t.Helper()
	s := seed.New(make([]byte, 32))
	pool, err := signer.NewPool(s, name, size)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return pool
}

func callTemplate() txtypes.TxTemplate {
	addr := "0x000000000000000000000000000000000000dEaD"
	return txtypes.TxTemplate{Kind: txtypes.KindCall, To: addr}
}

func TestGeneratorReproducibility(t *testing.T) {
	// Two pools derived from the same seed, so each Generator starts its
	// round-robin at k=0 instead of sharing one pool counter.
	pool1 := testPool(t, "spam", 4)
	pool2 := testPool(t, "spam", 4)
	tmpl := callTemplate()

	g1 := New(Step{StepIndex: 0, Template: &tmpl, Pool: pool1}, testPlanner(t))
	g2 := New(Step{StepIndex: 0, Template: &tmpl, Pool: pool2}, testPlanner(t))

	batch1, err := g1.NextBatch(context.Background(), 6)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	batch2, err := g2.NextBatch(context.Background(), 6)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}

	if len(batch1) != len(batch2) {
		t.Fatalf("batch lengths differ: %d vs %d", len(batch1), len(batch2))
	}
	for i := range batch1 {
		if batch1[i].Signer != batch2[i].Signer {
			t.Errorf("tx %d: signer %s != %s", i, batch1[i].Signer, batch2[i].Signer)
		}
		if batch1[i].TxIndex != batch2[i].TxIndex {
			t.Errorf("tx %d: txIndex %d != %d", i, batch1[i].TxIndex, batch2[i].TxIndex)
		}
	}
}

func TestGeneratorRoundRobinAssignment(t *testing.T) {
	pool := testPool(t, "spam", 3)
	tmpl := callTemplate()
	g := New(Step{StepIndex: 0, Template: &tmpl, Pool: pool}, testPlanner(t))

	batch, err := g.NextBatch(context.Background(), 6)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if len(batch) != 6 {
		t.Fatalf("len(batch) = %d, want 6", len(batch))
	}
	for i, tx := range batch {
		want := pool.Signers[i%3].Address
		if tx.Signer != want {
			t.Errorf("tx %d: signer = %s, want %s (k mod N rule)", i, tx.Signer, want)
		}
	}
}

func TestGeneratorBundleSharesBundleID(t *testing.T) {
	pool := testPool(t, "spam", 2)
	tmpl := callTemplate()
	bundle := &txtypes.Bundle{Txs: []txtypes.TxTemplate{tmpl, tmpl}}

	g := New(Step{StepIndex: 0, Bundle: bundle, Pool: pool}, testPlanner(t))
	batch, err := g.NextBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if len(batch) != 4 {
		t.Fatalf("len(batch) = %d, want 4 (2 bundles x 2 txs)", len(batch))
	}
	if batch[0].BundleID == "" || batch[0].BundleID != batch[1].BundleID {
		t.Errorf("first bundle's members do not share a bundle_id: %q vs %q", batch[0].BundleID, batch[1].BundleID)
	}
	if batch[2].BundleID == "" || batch[2].BundleID != batch[3].BundleID {
		t.Errorf("second bundle's members do not share a bundle_id: %q vs %q", batch[2].BundleID, batch[3].BundleID)
	}
	if batch[0].BundleID == batch[2].BundleID {
		t.Errorf("distinct bundles got the same bundle_id: %q", batch[0].BundleID)
	}
}

func TestMultiRoundRobinsAcrossSteps(t *testing.T) {
	pool := testPool(t, "spam", 2)
	tmplA := callTemplate()
	tmplB := callTemplate()

	gA := New(Step{StepIndex: 0, Template: &tmplA, Pool: pool}, testPlanner(t))
	gB := New(Step{StepIndex: 1, Template: &tmplB, Pool: pool}, testPlanner(t))
	m := NewMulti(gA, gB)

	batch, err := m.NextBatch(context.Background(), 4)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if len(batch) != 4 {
		t.Fatalf("len(batch) = %d, want 4", len(batch))
	}
	for i, tx := range batch {
		wantStep := i % 2
		if tx.StepIndex != wantStep {
			t.Errorf("tx %d: stepIndex = %d, want %d", i, tx.StepIndex, wantStep)
		}
	}
}

func TestMultiNoStepsErrors(t *testing.T) {
	m := NewMulti()
	if _, err := m.NextBatch(context.Background(), 1); err == nil {
		t.Error("NextBatch() on empty Multi should error")
	}
}
