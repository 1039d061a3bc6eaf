package txactor

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/internal/storage"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

func TestDecodeReceiptStatus(t *testing.T) {
	raw := []byte(`{"status":"0x0","gasUsed":"0x5208","blockNumber":"0x2a","blockHash":"0xfeed"}`)
	status, gasUsed, blockNumber, blockHash, ok := decodeReceiptStatus(raw)
	if !ok {
		t.Fatal("decodeReceiptStatus() ok = false, want true")
	}
	if status != 0 {
		t.Errorf("status = %d, want 0", status)
	}
	if gasUsed != 0x5208 {
		t.Errorf("gasUsed = %d, want %d", gasUsed, 0x5208)
	}
	if blockNumber != 0x2a {
		t.Errorf("blockNumber = %d, want %d", blockNumber, 0x2a)
	}
	if blockHash != "0xfeed" {
		t.Errorf("blockHash = %q, want %q", blockHash, "0xfeed")
	}
}

func TestDecodeReceiptStatusMalformed(t *testing.T) {
	if _, _, _, _, ok := decodeReceiptStatus([]byte("not json")); ok {
		t.Error("decodeReceiptStatus() on malformed input should report ok=false")
	}
}

func TestRecordLandedRevertedSetsErrorAndBlockHash(t *testing.T) {
	a := New(Config{RunID: 1})
	hash := common.HexToHash("0xabc")
	a.pending.Store(hash, &txtypes.PendingTx{Hash: hash, RunID: 1, SentAt: time.Now()})
	a.pendingN.Add(1)

	a.recordLanded(hash, 42, "0xfeedfeed", 0, 21000)

	if len(a.toFlush) != 1 {
		t.Fatalf("len(toFlush) = %d, want 1", len(a.toFlush))
	}
	r := a.toFlush[0]
	if r.Status != txtypes.StatusReverted {
		t.Errorf("Status = %q, want %q", r.Status, txtypes.StatusReverted)
	}
	if r.Error != "execution reverted" {
		t.Errorf("Error = %q, want %q", r.Error, "execution reverted")
	}
	if r.BlockHash != common.HexToHash("0xfeedfeed") {
		t.Errorf("BlockHash = %s, want %s", r.BlockHash.Hex(), common.HexToHash("0xfeedfeed").Hex())
	}
	if r.BlockNumber != 42 {
		t.Errorf("BlockNumber = %d, want 42", r.BlockNumber)
	}
	if _, stillPending := a.pending.Load(hash); stillPending {
		t.Error("recordLanded should remove the tx from the pending cache")
	}
}

func TestRecordLandedSuccessHasNoError(t *testing.T) {
	a := New(Config{RunID: 1})
	hash := common.HexToHash("0xdef")
	a.pending.Store(hash, &txtypes.PendingTx{Hash: hash, RunID: 1, SentAt: time.Now()})
	a.pendingN.Add(1)

	a.recordLanded(hash, 7, "0x1234", 1, 21000)

	r := a.toFlush[0]
	if r.Status != txtypes.StatusSuccess {
		t.Errorf("Status = %q, want %q", r.Status, txtypes.StatusSuccess)
	}
	if r.Error != "" {
		t.Errorf("Error = %q, want empty", r.Error)
	}
	if r.BlockHash != common.HexToHash("0x1234") {
		t.Errorf("BlockHash = %s, want %s", r.BlockHash.Hex(), common.HexToHash("0x1234").Hex())
	}
}

func TestRecordLandedUnknownHashIsNoop(t *testing.T) {
	a := New(Config{RunID: 1})
	a.recordLanded(common.HexToHash("0x999"), 1, "0x1", 1, 21000)
	if len(a.toFlush) != 0 {
		t.Errorf("len(toFlush) = %d, want 0 for an untracked hash", len(a.toFlush))
	}
}

func TestEvictTimedOutMarksExpiredPending(t *testing.T) {
	a := New(Config{RunID: 1, PendingTimeout: time.Millisecond})
	hash := common.HexToHash("0x111")
	a.pending.Store(hash, &txtypes.PendingTx{Hash: hash, RunID: 1, SentAt: time.Now().Add(-time.Hour)})
	a.pendingN.Add(1)

	a.evictTimedOut()

	if a.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after eviction", a.PendingCount())
	}
	if len(a.toFlush) != 1 {
		t.Fatalf("len(toFlush) = %d, want 1", len(a.toFlush))
	}
	if a.toFlush[0].Status != txtypes.StatusTimeout {
		t.Errorf("Status = %q, want %q", a.toFlush[0].Status, txtypes.StatusTimeout)
	}
}

func TestEvictTimedOutLeavesFreshPending(t *testing.T) {
	a := New(Config{RunID: 1, PendingTimeout: time.Hour})
	hash := common.HexToHash("0x222")
	a.pending.Store(hash, &txtypes.PendingTx{Hash: hash, RunID: 1, SentAt: time.Now()})
	a.pendingN.Add(1)

	a.evictTimedOut()

	if a.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1 (not yet expired)", a.PendingCount())
	}
}

func TestActorSubmitAndShutdownDiscardsPending(t *testing.T) {
	store := storage.NewMemoryStore()
	a := New(Config{RunID: 1, Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	tx := &txtypes.PendingTx{Hash: common.HexToHash("0x333"), RunID: 1, SentAt: time.Now()}
	a.Submit(ctx, tx)

	discarded := a.Shutdown(context.Background())
	if discarded != 1 {
		t.Errorf("Shutdown() discarded = %d, want 1", discarded)
	}
}
