package runner

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/internal/storage"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

func TestTrackerStatusUnknownRun(t *testing.T) {
	tr := NewTracker(nil)
	if _, ok := tr.Status(context.Background(), 999); ok {
		t.Fatal("Status should report false for an untracked run")
	}
}

func TestTrackerStatusCombinesLiveAndDBState(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	run := &txtypes.Run{RunID: 1, ScenarioName: "eth-transfer", StartBlock: 10}
	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if err := store.InsertReceipts(ctx, []*txtypes.Receipt{
		{RunID: 1, Hash: fakeHash(1), Status: txtypes.StatusSuccess},
		{RunID: 1, Hash: fakeHash(2), Status: txtypes.StatusReverted},
		{RunID: 1, Hash: fakeHash(3), Status: txtypes.StatusTimeout},
	}); err != nil {
		t.Fatalf("InsertReceipts: %v", err)
	}

	tr := NewTracker(store)
	tr.register(nil, 1, "eth-transfer", "default", "", "", 10)

	st, ok := tr.Status(ctx, 1)
	if !ok {
		t.Fatal("Status should report true for a registered run")
	}
	if st.ScenarioName != "eth-transfer" || st.StartBlock != 10 {
		t.Fatalf("unexpected live fields: %+v", st)
	}
	if st.ReceiptCount != 3 {
		t.Fatalf("ReceiptCount = %d, want 3", st.ReceiptCount)
	}
	if st.Landed != 1 || st.Reverted != 1 || st.TimedOut != 1 {
		t.Fatalf("status breakdown = %+v, want 1/1/1", st)
	}
}

func TestTrackerRunIDs(t *testing.T) {
	tr := NewTracker(nil)
	tr.register(nil, 1, "a", "", "", "", 0)
	tr.register(nil, 2, "b", "", "", "", 0)

	ids := tr.RunIDs()
	if len(ids) != 2 {
		t.Fatalf("RunIDs() = %v, want 2 entries", ids)
	}
}

func TestTrackerCampaignLifecycle(t *testing.T) {
	tr := NewTracker(nil)
	tr.registerCampaign("load-test", []string{"warmup", "burst"})

	if _, ok := tr.CampaignStatus("missing"); ok {
		t.Fatal("CampaignStatus should report false for an unregistered campaign")
	}

	cs, ok := tr.CampaignStatus("load-test")
	if !ok {
		t.Fatal("CampaignStatus should report true right after registerCampaign")
	}
	if len(cs.Stages) != 2 || cs.Stages[0].Active {
		t.Fatalf("fresh campaign stages = %+v, want 2 inactive stages", cs.Stages)
	}

	tr.setStageActive("load-test", "warmup", true, []uint64{7})
	cs, _ = tr.CampaignStatus("load-test")
	if !cs.Stages[0].Active || cs.Stages[0].RunIDs[0] != 7 {
		t.Fatalf("stage after setStageActive(true) = %+v", cs.Stages[0])
	}

	tr.setStageActive("load-test", "warmup", false, nil)
	cs, _ = tr.CampaignStatus("load-test")
	if cs.Stages[0].Active {
		t.Fatal("stage should be inactive after setStageActive(false)")
	}
	if cs.Stages[0].RunIDs[0] != 7 {
		t.Fatal("setStageActive(nil runIDs) should leave the previous RunIDs in place")
	}
}

func fakeHash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}
