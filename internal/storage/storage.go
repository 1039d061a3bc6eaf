// Package storage defines the DbOps contract the core spamming engine
// depends on (spec.md §6): CRUD for runs, named_txs, pending_txs, and
// receipts. The core never imports a concrete backend directly — only
// this interface — so any implementation (in-memory, SQLite, ...) is
// valid so long as it satisfies DbOps. SQLiteStore, in sqlite.go, is
// the reference backend, kept and adapted from the teacher's
// internal/storage.SQLiteStorage.
package storage

import (
	"context"

	"github.com/gateway-fm/contender/pkg/txtypes"
)

// CurrentSchemaVersion is the schema version this build of DbOps
// expects. A mismatch between this and the DB's persisted version is
// a fatal startup error per spec.md §6.
const CurrentSchemaVersion = 1

// SetupProgress records how many [[setup]] directives of a given
// scenario hash have already landed on-chain, so a restarted run
// resumes setup instead of re-sending — the checkpointing behavior
// supplemented from original_source/ into SPEC_FULL §4.
type SetupProgress struct {
	ScenarioHash string
	Completed    int
}

// ErrSchemaMismatch is returned, wrapped in a DBError, by
// NewSQLiteStore when an existing database's
// schema_version does not match CurrentSchemaVersion.
type ErrSchemaMismatch struct {
	Got, Want int
}

func (e *ErrSchemaMismatch) Error() string {
	return "storage: schema version mismatch"
}

// DbOps is the persistence contract the core depends on. The core
// depends only on this interface (spec.md §6); everything downstream
// of a Run — pending_txs, receipts — is scoped by RunID.
type DbOps interface {
	SchemaVersion(ctx context.Context) (int, error)

	// InsertRun creates a new runs row.
	InsertRun(ctx context.Context, run *txtypes.Run) error
	// UpdateRun overwrites a runs row (e.g. to set EndBlock at
	// completion).
	UpdateRun(ctx context.Context, run *txtypes.Run) error
	GetRun(ctx context.Context, runID uint64) (*txtypes.Run, error)
	// ListRuns returns the most recent runs, newest first, optionally
	// scoped to a single campaign name (empty matches every run) —
	// backs the status surface's /runs listing.
	ListRuns(ctx context.Context, campaign string, limit int) ([]*txtypes.Run, error)

	// UpsertNamedTx records or overwrites a ContractRegistry entry's
	// durable backing, keyed by (name, rpc_url, scenario_label).
	UpsertNamedTx(ctx context.Context, tx *txtypes.NamedTx) error
	// GetNamedTx returns nil, nil if no matching row exists.
	GetNamedTx(ctx context.Context, name, rpcURL string) (*txtypes.NamedTx, error)

	// InsertPendingTxs records a batch of dispatched transactions.
	InsertPendingTxs(ctx context.Context, txs []*txtypes.PendingTx) error
	CountPendingTxs(ctx context.Context, runID uint64) (int, error)

	// InsertReceipts flushes a batch of completed receipts in one
	// transaction. Every (RunID, Hash) pair is written at most once;
	// a duplicate is silently ignored rather than erroring, since the
	// tx actor's flush may legitimately retry after a partial failure.
	InsertReceipts(ctx context.Context, receipts []*txtypes.Receipt) error
	GetReceipt(ctx context.Context, runID uint64, hash string) (*txtypes.Receipt, error)
	CountReceipts(ctx context.Context, runID uint64) (int, error)
	// CountReceiptsByStatus returns landed/reverted/timed-out counts for
	// a run's receipts, backing the run-status surface (spec.md §7's
	// "N sent, M landed, K reverted, R timed-out" summary).
	CountReceiptsByStatus(ctx context.Context, runID uint64) (landed, reverted, timedOut int, err error)

	// GetSetupProgress/UpdateSetupProgress back the Scenario Runner's
	// setup resume in Runner.setup (SPEC_FULL §4 supplement).
	GetSetupProgress(ctx context.Context, scenarioHash string) (int, error)
	UpdateSetupProgress(ctx context.Context, scenarioHash string, completed int) error

	// InsertReplayReport/GetReplayReport back replayed-run tracking
	// (SPEC_FULL §4 supplement).
	InsertReplayReport(ctx context.Context, report *txtypes.ReplayReport) (uint64, error)
	GetReplayReport(ctx context.Context, id uint64) (*txtypes.ReplayReport, error)

	Close() error
}
