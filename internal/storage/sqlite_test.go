package storage

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/pkg/txtypes"
)

func createTestStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "storage_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create store: %v", err)
	}
	return store, func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	ctx := context.Background()
	run := &txtypes.Run{
		RunID:          1,
		ScenarioName:   "fill-block",
		StartBlock:     10,
		EndBlock:       10,
		TxsPerDuration: 50,
		Duration:       3,
		Timeout:        12 * time.Second,
		RPCURL:         "http://localhost:8545",
	}
	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	got, err := store.GetRun(ctx, 1)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil || got.ScenarioName != "fill-block" {
		t.Fatalf("GetRun returned %+v", got)
	}
	if got.Timeout != 12*time.Second {
		t.Errorf("Timeout = %v, want 12s", got.Timeout)
	}

	run.EndBlock = 13
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, _ = store.GetRun(ctx, 1)
	if got.EndBlock != 13 {
		t.Errorf("EndBlock after update = %d, want 13", got.EndBlock)
	}
}

func TestSQLiteStoreNamedTx(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := common.HexToAddress("0xabc0000000000000000000000000000000000a")
	nt := &txtypes.NamedTx{
		Name:    "weth",
		Address: &addr,
		RPCURL:  "http://localhost:8545",
	}
	if err := store.UpsertNamedTx(ctx, nt); err != nil {
		t.Fatalf("UpsertNamedTx: %v", err)
	}

	got, err := store.GetNamedTx(ctx, "weth", "http://localhost:8545")
	if err != nil {
		t.Fatalf("GetNamedTx: %v", err)
	}
	if got == nil || got.Address == nil || *got.Address != addr {
		t.Fatalf("GetNamedTx returned %+v", got)
	}

	miss, err := store.GetNamedTx(ctx, "nope", "http://localhost:8545")
	if err != nil {
		t.Fatalf("GetNamedTx miss: %v", err)
	}
	if miss != nil {
		t.Errorf("expected nil for unknown name, got %+v", miss)
	}
}

func TestSQLiteStorePendingAndReceipts(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	ctx := context.Background()
	const runID = uint64(7)

	pending := make([]*txtypes.PendingTx, 0, 5)
	for i := 0; i < 5; i++ {
		pending = append(pending, &txtypes.PendingTx{
			Hash:   common.BigToHash(big.NewInt(int64(i + 1))),
			Signer: common.HexToAddress("0x1"),
			SentAt: time.Now(),
			RunID:  runID,
			Kind:   txtypes.KindCall,
		})
	}
	if err := store.InsertPendingTxs(ctx, pending); err != nil {
		t.Fatalf("InsertPendingTxs: %v", err)
	}
	n, err := store.CountPendingTxs(ctx, runID)
	if err != nil {
		t.Fatalf("CountPendingTxs: %v", err)
	}
	if n != 5 {
		t.Fatalf("CountPendingTxs = %d, want 5", n)
	}

	receipts := []*txtypes.Receipt{
		{RunID: runID, Hash: pending[0].Hash, Status: txtypes.StatusSuccess, LandedAt: time.Now()},
		{RunID: runID, Hash: pending[1].Hash, Status: txtypes.StatusReverted, Error: "execution reverted", LandedAt: time.Now()},
	}
	if err := store.InsertReceipts(ctx, receipts); err != nil {
		t.Fatalf("InsertReceipts: %v", err)
	}
	// Duplicate insert of the same (run_id, hash) must not error and
	// must not create a second row.
	if err := store.InsertReceipts(ctx, receipts); err != nil {
		t.Fatalf("InsertReceipts (dup): %v", err)
	}
	count, err := store.CountReceipts(ctx, runID)
	if err != nil {
		t.Fatalf("CountReceipts: %v", err)
	}
	if count != 2 {
		t.Fatalf("CountReceipts = %d, want 2", count)
	}

	got, err := store.GetReceipt(ctx, runID, pending[1].Hash.Hex())
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if got == nil || got.Status != txtypes.StatusReverted || got.Error != "execution reverted" {
		t.Fatalf("GetReceipt returned %+v", got)
	}
}

func TestSQLiteStoreSetupProgress(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	ctx := context.Background()
	n, err := store.GetSetupProgress(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetSetupProgress: %v", err)
	}
	if n != 0 {
		t.Fatalf("GetSetupProgress initial = %d, want 0", n)
	}

	if err := store.UpdateSetupProgress(ctx, "abc123", 3); err != nil {
		t.Fatalf("UpdateSetupProgress: %v", err)
	}
	n, _ = store.GetSetupProgress(ctx, "abc123")
	if n != 3 {
		t.Fatalf("GetSetupProgress after update = %d, want 3", n)
	}
}

func TestSQLiteStoreSchemaVersion(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	v, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != CurrentSchemaVersion {
		t.Fatalf("SchemaVersion = %d, want %d", v, CurrentSchemaVersion)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	ctx := context.Background()
	runs := []*txtypes.Run{
		{RunID: 1, ScenarioName: "a", CampaignName: "load", RPCURL: "http://localhost:8545"},
		{RunID: 2, ScenarioName: "b", CampaignName: "load", RPCURL: "http://localhost:8545"},
		{RunID: 3, ScenarioName: "c", CampaignName: "other", RPCURL: "http://localhost:8545"},
	}
	for _, r := range runs {
		if err := store.InsertRun(ctx, r); err != nil {
			t.Fatalf("InsertRun(%d): %v", r.RunID, err)
		}
	}

	all, err := store.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRuns(all) returned %d runs, want 3", len(all))
	}
	if all[0].RunID != 3 {
		t.Fatalf("ListRuns(all)[0].RunID = %d, want 3 (newest first)", all[0].RunID)
	}

	scoped, err := store.ListRuns(ctx, "load", 10)
	if err != nil {
		t.Fatalf("ListRuns(campaign=load): %v", err)
	}
	if len(scoped) != 2 {
		t.Fatalf("ListRuns(campaign=load) returned %d runs, want 2", len(scoped))
	}
	for _, r := range scoped {
		if r.CampaignName != "load" {
			t.Fatalf("ListRuns(campaign=load) returned run with campaign %q", r.CampaignName)
		}
	}

	limited, err := store.ListRuns(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListRuns(limit=1): %v", err)
	}
	if len(limited) != 1 || limited[0].RunID != 3 {
		t.Fatalf("ListRuns(limit=1) = %+v, want just run 3", limited)
	}
}
