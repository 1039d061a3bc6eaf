// Package txactor implements the TxActor component: a single
// goroutine that owns the pending-transaction cache and turns
// dispatched transactions into terminal receipts, per spec.md §4.4.
// The cache itself is a sync.Map keyed by tx hash, grounded on the
// teacher's cmd/loadgen pendingTxs field ("[32]byte key, avoids hex
// string alloc"); everything else — block-driven polling, periodic
// flush, timeout eviction — is owned by a single command-processing
// loop so no additional locking is needed around actor state.
package txactor

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/internal/metrics"
	"github.com/gateway-fm/contender/internal/rpcclient"
	"github.com/gateway-fm/contender/internal/storage"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

type cmdKind int

const (
	cmdSubmit cmdKind = iota
	cmdUpdateTargetBlock
	cmdFlush
	cmdShutdown
)

type command struct {
	kind  cmdKind
	tx    *txtypes.PendingTx
	block uint64
	reply chan struct{} // closed once this command (and any flush it triggers) is fully processed
}

// Config configures one Actor.
type Config struct {
	Client   rpcclient.Client
	Store    storage.DbOps
	Metrics  *metrics.Collector
	RunID    uint64
	Scenario string

	// FlushEveryBlocks is how many processed blocks accumulate before
	// matched receipts are flushed to Store (spec.md §4.4: "flush the
	// cache to storage every cache_flush_interval blocks").
	FlushEveryBlocks int
	// PendingTimeout evicts a pending tx with no receipt after this
	// long, recording it as a timeout (spec.md §4.4's pending_timeout).
	PendingTimeout time.Duration
	// MaxFlushAttempts bounds the flush retry loop; default 3.
	MaxFlushAttempts int

	Logger *slog.Logger
}

// Actor is the running TxActor for one Run. Submit/UpdateTargetBlock/
// Shutdown are the external command surface (spec.md §4.4's
// submit/update_target_block/done_flushing/shutdown messages); all
// four are serialized through a single command channel processed by
// the goroutine started in Run.
type Actor struct {
	cfg Config

	pending    sync.Map // common.Hash -> *txtypes.PendingTx
	pendingN   atomic.Int64
	lastBlock  uint64
	sinceFlush int
	toFlush    []*txtypes.Receipt

	discardedAtShutdown atomic.Int64

	cmds    chan command
	stopped chan struct{}
}

// New builds an Actor. Call Run in its own goroutine before issuing
// any commands.
func New(cfg Config) *Actor {
	if cfg.FlushEveryBlocks <= 0 {
		cfg.FlushEveryBlocks = 1
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 2 * time.Minute
	}
	if cfg.MaxFlushAttempts <= 0 {
		cfg.MaxFlushAttempts = 3
	}
	return &Actor{cfg: cfg, cmds: make(chan command, 1024), stopped: make(chan struct{})}
}

func (a *Actor) logger() *slog.Logger {
	if a.cfg.Logger == nil {
		return slog.Default()
	}
	return a.cfg.Logger
}

// Run processes commands until Shutdown is issued. Call it in its own
// goroutine; it returns once Shutdown has fully drained the cache.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.stopped)
	for cmd := range a.cmds {
		switch cmd.kind {
		case cmdSubmit:
			a.handleSubmit(cmd.tx)
		case cmdUpdateTargetBlock:
			a.handleUpdateTargetBlock(ctx, cmd.block)
		case cmdFlush:
			a.flush(ctx)
		case cmdShutdown:
			a.handleShutdown(ctx)
			if cmd.reply != nil {
				close(cmd.reply)
			}
			return
		}
		if cmd.reply != nil {
			close(cmd.reply)
		}
	}
}

// Submit records a newly-dispatched transaction, per spec.md §4.4's
// submit message. It returns once the command is queued, blocking only
// while the 1024-entry command buffer is full (or until ctx is done);
// the dispatcher's per-tx callback calls this directly.
func (a *Actor) Submit(ctx context.Context, tx *txtypes.PendingTx) {
	select {
	case a.cmds <- command{kind: cmdSubmit, tx: tx}:
	case <-ctx.Done():
	}
}

func (a *Actor) handleSubmit(tx *txtypes.PendingTx) {
	a.pending.Store(tx.Hash, tx)
	a.pendingN.Add(1)
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.SetPending(a.cfg.Scenario, int(a.pendingN.Load()))
	}
}

// UpdateTargetBlock advances the actor's view of the chain head,
// triggering receipt collection for every block between the last
// processed block and target, per spec.md §4.4's
// update_target_block message. Blocking until this block's processing
// (and any flush it triggers) completes.
func (a *Actor) UpdateTargetBlock(ctx context.Context, target uint64) {
	reply := make(chan struct{})
	select {
	case a.cmds <- command{kind: cmdUpdateTargetBlock, block: target, reply: reply}:
	case <-ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

func (a *Actor) handleUpdateTargetBlock(ctx context.Context, target uint64) {
	if target <= a.lastBlock {
		return
	}
	for b := a.lastBlock + 1; b <= target; b++ {
		a.processBlock(ctx, b)
	}
	a.lastBlock = target
	a.evictTimedOut()

	a.sinceFlush++
	if a.sinceFlush >= a.cfg.FlushEveryBlocks {
		a.flush(ctx)
		a.sinceFlush = 0
	}
}

// processBlock matches one block's receipts against the pending
// cache, preferring eth_getBlockReceipts and falling back to
// per-hash eth_getTransactionReceipt for any pending hash the block
// call missed (a node that doesn't implement the batch call, or a
// block the batch call raced past), per spec.md §4.4.
func (a *Actor) processBlock(ctx context.Context, blockNum uint64) {
	receipts, err := a.cfg.Client.GetBlockReceiptsWithHash(ctx, blockNum)
	if err == nil {
		for _, r := range receipts {
			if _, ok := a.pending.Load(r.Hash); !ok {
				continue
			}
			a.recordLanded(r.Hash, blockNum, r.Receipt.BlockHash, r.Receipt.Status, r.Receipt.GasUsed)
		}
		return
	}

	a.logger().Debug("txactor: eth_getBlockReceipts unavailable, falling back to per-hash receipts",
		slog.Uint64("block", blockNum), slog.String("error", err.Error()))
	var hashes []common.Hash
	a.pending.Range(func(key, _ interface{}) bool {
		hashes = append(hashes, key.(common.Hash))
		return true
	})
	for _, h := range hashes {
		recv, err := a.cfg.Client.Call(ctx, "eth_getTransactionReceipt", []interface{}{h.Hex()})
		if err != nil || len(recv) == 0 || string(recv) == "null" {
			continue
		}
		status, gasUsed, landedBlock, blockHash, ok := decodeReceiptStatus(recv)
		if !ok {
			continue
		}
		a.recordLanded(h, landedBlock, blockHash, status, gasUsed)
	}
}

func (a *Actor) recordLanded(hash common.Hash, blockNum uint64, blockHash string, status, gasUsed uint64) {
	v, ok := a.pending.LoadAndDelete(hash)
	if !ok {
		return
	}
	tx := v.(*txtypes.PendingTx)
	a.pendingN.Add(-1)

	rstatus := txtypes.StatusSuccess
	receiptErr := ""
	if status == 0 {
		rstatus = txtypes.StatusReverted
		receiptErr = "execution reverted"
	}
	a.toFlush = append(a.toFlush, &txtypes.Receipt{
		RunID: tx.RunID, Hash: hash, BlockNumber: blockNum, BlockHash: common.HexToHash(blockHash),
		GasUsed: gasUsed, Status: rstatus, Error: receiptErr, LandedAt: time.Now(),
	})
	if a.cfg.Metrics != nil {
		if rstatus == txtypes.StatusSuccess {
			a.cfg.Metrics.RecordLanded(a.cfg.Scenario)
		} else {
			a.cfg.Metrics.RecordReverted(a.cfg.Scenario)
		}
		a.cfg.Metrics.ObserveLatencySeconds(a.cfg.Scenario, time.Since(tx.SentAt).Seconds())
		a.cfg.Metrics.SetPending(a.cfg.Scenario, int(a.pendingN.Load()))
	}
}

// evictTimedOut marks every pending tx older than PendingTimeout as
// timed out, per spec.md §4.4's pending_timeout eviction.
func (a *Actor) evictTimedOut() {
	deadline := time.Now().Add(-a.cfg.PendingTimeout)
	var expired []common.Hash
	a.pending.Range(func(key, value interface{}) bool {
		tx := value.(*txtypes.PendingTx)
		if tx.SentAt.Before(deadline) {
			expired = append(expired, key.(common.Hash))
		}
		return true
	})
	for _, h := range expired {
		v, ok := a.pending.LoadAndDelete(h)
		if !ok {
			continue
		}
		tx := v.(*txtypes.PendingTx)
		a.pendingN.Add(-1)
		a.toFlush = append(a.toFlush, &txtypes.Receipt{
			RunID: tx.RunID, Hash: h, Status: txtypes.StatusTimeout, Error: "timeout", LandedAt: time.Now(),
		})
		if a.cfg.Metrics != nil {
			a.cfg.Metrics.RecordTimeout(a.cfg.Scenario)
			a.cfg.Metrics.SetPending(a.cfg.Scenario, int(a.pendingN.Load()))
		}
	}
}

// flush writes toFlush to storage in up to MaxFlushAttempts attempts
// (default 3), backing off 100ms and doubling between them. After the
// last failed attempt the receipts are dropped and an error is logged;
// if ctx ends during a backoff they are dropped without a log. This is
// the actor's "done_flushing" point — callers blocked in
// UpdateTargetBlock/Shutdown only unblock once flush returns.
func (a *Actor) flush(ctx context.Context) {
	if len(a.toFlush) == 0 {
		return
	}
	batch := a.toFlush
	a.toFlush = nil

	delay := 100 * time.Millisecond
	var err error
	for attempt := 1; attempt <= a.cfg.MaxFlushAttempts; attempt++ {
		err = a.cfg.Store.InsertReceipts(ctx, batch)
		if err == nil {
			return
		}
		if attempt == a.cfg.MaxFlushAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
	}
	a.logger().Error("txactor: flush failed after retries, dropping receipts",
		slog.Int("count", len(batch)), slog.String("error", err.Error()))
}

// Flush forces an out-of-band flush (e.g. the scenario runner wants a
// clean DB read between steps), per spec.md §4.4's done_flushing.
func (a *Actor) Flush(ctx context.Context) {
	reply := make(chan struct{})
	select {
	case a.cmds <- command{kind: cmdFlush, reply: reply}:
	case <-ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

// Shutdown drains the pending cache: it records every transaction
// still pending as timed out ("discarded at shutdown") at once,
// without waiting for further blocks, flushes, and stops Run. Any wait
// for in-flight transactions to land happens in the caller, through
// UpdateTargetBlock calls made before Shutdown. It returns the number
// of transactions discarded without ever observing a receipt.
func (a *Actor) Shutdown(ctx context.Context) int {
	reply := make(chan struct{})
	select {
	case a.cmds <- command{kind: cmdShutdown, reply: reply}:
	case <-ctx.Done():
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
	<-a.stopped
	return int(a.discardedAtShutdown.Load())
}

func (a *Actor) handleShutdown(ctx context.Context) {
	var discarded int64
	a.pending.Range(func(key, value interface{}) bool {
		tx := value.(*txtypes.PendingTx)
		a.toFlush = append(a.toFlush, &txtypes.Receipt{
			RunID: tx.RunID, Hash: key.(common.Hash), Status: txtypes.StatusTimeout, Error: "discarded at shutdown", LandedAt: time.Now(),
		})
		a.pending.Delete(key)
		discarded++
		return true
	})
	a.pendingN.Store(0)
	a.discardedAtShutdown.Store(discarded)
	if a.cfg.Metrics != nil {
		for i := int64(0); i < discarded; i++ {
			a.cfg.Metrics.RecordTimeout(a.cfg.Scenario)
		}
		a.cfg.Metrics.SetPending(a.cfg.Scenario, 0)
	}
	a.flush(ctx)
}

// PendingCount returns the current pending-tx cache size.
func (a *Actor) PendingCount() int { return int(a.pendingN.Load()) }

// decodeReceiptStatus pulls status/gasUsed/blockNumber/blockHash out of
// a raw eth_getTransactionReceipt response without requiring the full
// rpc.TransactionReceipt decode path (fewer allocations on the
// per-hash fallback's hot path).
func decodeReceiptStatus(raw []byte) (status, gasUsed, blockNumber uint64, blockHash string, ok bool) {
	var r struct {
		Status      string `json:"status"`
		GasUsed     string `json:"gasUsed"`
		BlockNumber string `json:"blockNumber"`
		BlockHash   string `json:"blockHash"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return 0, 0, 0, "", false
	}
	return hexToUint64(r.Status), hexToUint64(r.GasUsed), hexToUint64(r.BlockNumber), r.BlockHash, true
}

func hexToUint64(s string) uint64 {
	if s == "" {
		return 0
	}
	v := new(big.Int)
	if len(s) > 2 && s[:2] == "0x" {
		v.SetString(s[2:], 16)
	}
	return v.Uint64()
}
