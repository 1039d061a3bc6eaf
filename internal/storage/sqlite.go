package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

// SQLiteStore implements DbOps on SQLite, kept and adapted from the
// teacher's internal/storage.SQLiteStorage: same WAL-mode connection
// string, same migrate-on-open pattern, same context-scoped queries —
// applied to the runs/named_txs/pending_txs/receipts schema spec.md
// §6 actually calls for instead of the teacher's dashboard TestRun
// schema.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed DbOps.
// A schema_version mismatch against an existing database is a fatal
// startup error, per spec.md §6.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, cerrors.DBError("storage: create db directory", err)
			}
		}
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, cerrors.DBError("storage: open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, cerrors.DBError("storage: ping", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL);

	CREATE TABLE IF NOT EXISTS runs (
		run_id           INTEGER PRIMARY KEY,
		scenario_name    TEXT NOT NULL,
		scenario_label   TEXT,
		campaign_name    TEXT,
		stage_name       TEXT,
		start_block      INTEGER NOT NULL,
		end_block        INTEGER NOT NULL,
		txs_per_duration INTEGER NOT NULL,
		duration         INTEGER NOT NULL,
		timeout_ms       INTEGER NOT NULL,
		rpc_url          TEXT NOT NULL,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS named_txs (
		name           TEXT NOT NULL,
		rpc_url        TEXT NOT NULL,
		scenario_label TEXT NOT NULL DEFAULT '',
		address        TEXT,
		tx_hash        TEXT,
		PRIMARY KEY (name, rpc_url, scenario_label)
	);

	CREATE TABLE IF NOT EXISTS pending_txs (
		hash       TEXT NOT NULL,
		run_id     INTEGER NOT NULL,
		signer     TEXT NOT NULL,
		sent_at    DATETIME NOT NULL,
		request_id TEXT,
		kind       TEXT NOT NULL,
		bundle_id  TEXT,
		PRIMARY KEY (run_id, hash)
	);
	CREATE INDEX IF NOT EXISTS idx_pending_txs_run ON pending_txs(run_id);

	CREATE TABLE IF NOT EXISTS receipts (
		run_id       INTEGER NOT NULL,
		hash         TEXT NOT NULL,
		block_number INTEGER NOT NULL DEFAULT 0,
		block_hash   TEXT,
		gas_used     INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		error        TEXT,
		landed_at    DATETIME NOT NULL,
		PRIMARY KEY (run_id, hash)
	);

	CREATE TABLE IF NOT EXISTS setup_progress (
		scenario_hash TEXT PRIMARY KEY,
		completed     INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS replay_reports (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     INTEGER NOT NULL,
		rpc_url    TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return cerrors.DBError("storage: migrate", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_meta`).Scan(&count); err != nil {
		return cerrors.DBError("storage: read schema_meta", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
			return cerrors.DBError("storage: seed schema_meta", err)
		}
		return nil
	}

	got, err := s.SchemaVersion(context.Background())
	if err != nil {
		return err
	}
	if got != CurrentSchemaVersion {
		return cerrors.DBError("storage: schema version", &ErrSchemaMismatch{Got: got, Want: CurrentSchemaVersion})
	}
	return nil
}

func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_meta LIMIT 1`).Scan(&v)
	if err != nil {
		return 0, cerrors.DBError("storage: SchemaVersion", err)
	}
	return v, nil
}

func (s *SQLiteStore) InsertRun(ctx context.Context, run *txtypes.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, scenario_name, scenario_label, campaign_name, stage_name,
			start_block, end_block, txs_per_duration, duration, timeout_ms, rpc_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ScenarioName, run.ScenarioLabel, run.CampaignName, run.StageName,
		run.StartBlock, run.EndBlock, run.TxsPerDuration, run.Duration, run.Timeout.Milliseconds(), run.RPCURL,
	)
	if err != nil {
		return cerrors.DBError("storage: InsertRun", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *txtypes.Run) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET scenario_name=?, scenario_label=?, campaign_name=?, stage_name=?,
			start_block=?, end_block=?, txs_per_duration=?, duration=?, timeout_ms=?, rpc_url=?
		WHERE run_id=?`,
		run.ScenarioName, run.ScenarioLabel, run.CampaignName, run.StageName,
		run.StartBlock, run.EndBlock, run.TxsPerDuration, run.Duration, run.Timeout.Milliseconds(), run.RPCURL,
		run.RunID,
	)
	if err != nil {
		return cerrors.DBError("storage: UpdateRun", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID uint64) (*txtypes.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, scenario_name, scenario_label, campaign_name, stage_name,
			start_block, end_block, txs_per_duration, duration, timeout_ms, rpc_url
		FROM runs WHERE run_id=?`, runID)

	var r txtypes.Run
	var timeoutMs int64
	err := row.Scan(&r.RunID, &r.ScenarioName, &r.ScenarioLabel, &r.CampaignName, &r.StageName,
		&r.StartBlock, &r.EndBlock, &r.TxsPerDuration, &r.Duration, &timeoutMs, &r.RPCURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cerrors.DBError("storage: GetRun", err)
	}
	r.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, campaign string, limit int) ([]*txtypes.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT run_id, scenario_name, scenario_label, campaign_name, stage_name,
			start_block, end_block, txs_per_duration, duration, timeout_ms, rpc_url
		FROM runs`
	args := []any{}
	if campaign != "" {
		query += ` WHERE campaign_name = ?`
		args = append(args, campaign)
	}
	query += ` ORDER BY run_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cerrors.DBError("storage: ListRuns", err)
	}
	defer rows.Close()

	var out []*txtypes.Run
	for rows.Next() {
		var r txtypes.Run
		var timeoutMs int64
		if err := rows.Scan(&r.RunID, &r.ScenarioName, &r.ScenarioLabel, &r.CampaignName, &r.StageName,
			&r.StartBlock, &r.EndBlock, &r.TxsPerDuration, &r.Duration, &timeoutMs, &r.RPCURL); err != nil {
			return nil, cerrors.DBError("storage: ListRuns: scan", err)
		}
		r.Timeout = time.Duration(timeoutMs) * time.Millisecond
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.DBError("storage: ListRuns: iterate", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertNamedTx(ctx context.Context, tx *txtypes.NamedTx) error {
	var addr, hash string
	if tx.Address != nil {
		addr = tx.Address.Hex()
	}
	hash = tx.TxHash.Hex()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO named_txs (name, rpc_url, scenario_label, address, tx_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name, rpc_url, scenario_label) DO UPDATE SET address=excluded.address, tx_hash=excluded.tx_hash`,
		tx.Name, tx.RPCURL, tx.ScenarioLabel, addr, hash,
	)
	if err != nil {
		return cerrors.DBError("storage: UpsertNamedTx", err)
	}
	return nil
}

func (s *SQLiteStore) GetNamedTx(ctx context.Context, name, rpcURL string) (*txtypes.NamedTx, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, rpc_url, scenario_label, address, tx_hash FROM named_txs
		WHERE name=? AND rpc_url=? LIMIT 1`, name, rpcURL)

	var n txtypes.NamedTx
	var addr, hash string
	err := row.Scan(&n.Name, &n.RPCURL, &n.ScenarioLabel, &addr, &hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cerrors.DBError("storage: GetNamedTx", err)
	}
	if addr != "" {
		a := common.HexToAddress(addr)
		n.Address = &a
	}
	n.TxHash = common.HexToHash(hash)
	return &n, nil
}

func (s *SQLiteStore) InsertPendingTxs(ctx context.Context, txs []*txtypes.PendingTx) error {
	if len(txs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cerrors.DBError("storage: InsertPendingTxs begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO pending_txs (hash, run_id, signer, sent_at, request_id, kind, bundle_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return cerrors.DBError("storage: InsertPendingTxs prepare", err)
	}
	defer stmt.Close()

	for _, p := range txs {
		if _, err := stmt.ExecContext(ctx, p.Hash.Hex(), p.RunID, p.Signer.Hex(), p.SentAt, p.RequestID, string(p.Kind), p.BundleID); err != nil {
			return cerrors.DBError("storage: InsertPendingTxs exec", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return cerrors.DBError("storage: InsertPendingTxs commit", err)
	}
	return nil
}

func (s *SQLiteStore) CountPendingTxs(ctx context.Context, runID uint64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_txs WHERE run_id=?`, runID).Scan(&n)
	if err != nil {
		return 0, cerrors.DBError("storage: CountPendingTxs", err)
	}
	return n, nil
}

func (s *SQLiteStore) InsertReceipts(ctx context.Context, receipts []*txtypes.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cerrors.DBError("storage: InsertReceipts begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO receipts (run_id, hash, block_number, block_hash, gas_used, status, error, landed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return cerrors.DBError("storage: InsertReceipts prepare", err)
	}
	defer stmt.Close()

	for _, r := range receipts {
		if _, err := stmt.ExecContext(ctx, r.RunID, r.Hash.Hex(), r.BlockNumber, r.BlockHash.Hex(), r.GasUsed, string(r.Status), r.Error, r.LandedAt); err != nil {
			return cerrors.DBError("storage: InsertReceipts exec", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return cerrors.DBError("storage: InsertReceipts commit", err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipt(ctx context.Context, runID uint64, hash string) (*txtypes.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, hash, block_number, block_hash, gas_used, status, error, landed_at
		FROM receipts WHERE run_id=? AND hash=?`, runID, hash)

	var r txtypes.Receipt
	var h, bh, status, errStr string
	err := row.Scan(&r.RunID, &h, &r.BlockNumber, &bh, &r.GasUsed, &status, &errStr, &r.LandedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cerrors.DBError("storage: GetReceipt", err)
	}
	r.Hash = common.HexToHash(h)
	r.BlockHash = common.HexToHash(bh)
	r.Status = txtypes.ReceiptStatus(status)
	r.Error = errStr
	return &r, nil
}

func (s *SQLiteStore) CountReceipts(ctx context.Context, runID uint64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts WHERE run_id=?`, runID).Scan(&n)
	if err != nil {
		return 0, cerrors.DBError("storage: CountReceipts", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountReceiptsByStatus(ctx context.Context, runID uint64) (landed, reverted, timedOut int, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM receipts WHERE run_id=? GROUP BY status`, runID)
	if err != nil {
		return 0, 0, 0, cerrors.DBError("storage: CountReceiptsByStatus", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, cerrors.DBError("storage: CountReceiptsByStatus scan", err)
		}
		switch txtypes.ReceiptStatus(status) {
		case txtypes.StatusSuccess:
			landed = n
		case txtypes.StatusReverted:
			reverted = n
		case txtypes.StatusTimeout:
			timedOut = n
		}
	}
	return landed, reverted, timedOut, rows.Err()
}

func (s *SQLiteStore) GetSetupProgress(ctx context.Context, scenarioHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT completed FROM setup_progress WHERE scenario_hash=?`, scenarioHash).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, cerrors.DBError("storage: GetSetupProgress", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateSetupProgress(ctx context.Context, scenarioHash string, completed int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO setup_progress (scenario_hash, completed) VALUES (?, ?)
		ON CONFLICT(scenario_hash) DO UPDATE SET completed=excluded.completed`,
		scenarioHash, completed,
	)
	if err != nil {
		return cerrors.DBError("storage: UpdateSetupProgress", err)
	}
	return nil
}

func (s *SQLiteStore) InsertReplayReport(ctx context.Context, report *txtypes.ReplayReport) (uint64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO replay_reports (run_id, rpc_url, created_at) VALUES (?, ?, ?)`,
		report.RunID, report.RPCURL, report.CreatedAt,
	)
	if err != nil {
		return 0, cerrors.DBError("storage: InsertReplayReport", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, cerrors.DBError("storage: InsertReplayReport id", err)
	}
	return uint64(id), nil
}

func (s *SQLiteStore) GetReplayReport(ctx context.Context, id uint64) (*txtypes.ReplayReport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, run_id, rpc_url, created_at FROM replay_reports WHERE id=?`, id)
	var r txtypes.ReplayReport
	err := row.Scan(&r.ID, &r.RunID, &r.RPCURL, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cerrors.DBError("storage: GetReplayReport", err)
	}
	return &r, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ DbOps = (*SQLiteStore)(nil)
