package spammer

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/internal/metrics"
	"github.com/gateway-fm/contender/internal/rpc"
	"github.com/gateway-fm/contender/internal/rpcclient"
	"github.com/gateway-fm/contender/internal/sender"
	"github.com/gateway-fm/contender/internal/signer"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

// Callback receives every successfully dispatched transaction, per
// spec.md §4.3 batch dispatch step 5. Implementations log it to the
// DB (via the TxActor) or do nothing (no-op callback, e.g. in tests).
type Callback func(ctx context.Context, tx *txtypes.PendingTx)

// Dispatcher owns the per-batch build/sign/send pipeline shared by
// TimedSpammer and BlockwiseSpammer: nonce assignment from the
// signer's internal counter, envelope construction, signing, and
// bounded-concurrency submission, grounded on the teacher's
// internal/pipeline.Pipeline.Execute (reserve nonce -> build -> sign
// -> encode -> async send, commit/rollback the nonce from the send
// callback).
type Dispatcher struct {
	Client       rpcclient.Client
	Signers      *signer.Index
	ChainID      *big.Int
	GasPricer    *GasPricer
	GasEstimate  *GasEstimator
	Sender       *sender.Sender
	Metrics      *metrics.Collector
	Scenario     string // label for metrics
	Legacy       bool
	RPCBatchSize int // 0 (zero value) = one HTTP batch for the whole slice; 1 = individual calls; N>1 = grouped batches of N
	Logger       *slog.Logger
}

// Dispatch sends every tx in batch, grouping contiguous same-BundleID
// runs into a single eth_sendBundle call and everything else as
// individual (or grouped, per RPCBatchSize) eth_sendRawTransaction
// calls, per spec.md §4.3 steps 3-5. Per-tx failures, an unrecognized
// signer included, are logged and skipped; Dispatch always returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, runID uint64, batch []*txtypes.PlannedTx, cb Callback) error {
	logger := d.logger()
	groups := groupByBundle(batch)

	var individual []*txtypes.PlannedTx
	var wg sync.WaitGroup
	for _, grp := range groups {
		grp := grp
		if grp.bundleID != "" {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.dispatchBundle(ctx, runID, grp.txs, grp.bundleID, cb)
			}()
			continue
		}
		individual = append(individual, grp.txs...)
	}

	for _, chunk := range d.chunkIndividual(individual) {
		chunk := chunk
		wg.Add(1)
		go func() {
			defer wg.Done()
			if len(chunk) == 1 {
				d.dispatchOne(ctx, runID, chunk[0], cb)
				return
			}
			d.dispatchChunk(ctx, runID, chunk, cb)
		}()
	}
	wg.Wait()
	_ = logger
	return nil
}

// chunkIndividual splits txs (the non-bundle portion of a batch) into
// the groups Dispatch submits as one JSON-RPC call each, per
// RPCBatchSize: the zero value sends the whole slice as one HTTP
// batch, 1 dispatches every tx with its own eth_sendRawTransaction
// call, and any larger value groups txs into batches of that size.
func (d *Dispatcher) chunkIndividual(txs []*txtypes.PlannedTx) [][]*txtypes.PlannedTx {
	if len(txs) == 0 {
		return nil
	}
	size := d.RPCBatchSize
	if size == 0 {
		return [][]*txtypes.PlannedTx{txs}
	}
	if size <= 1 {
		chunks := make([][]*txtypes.PlannedTx, len(txs))
		for i, tx := range txs {
			chunks[i] = []*txtypes.PlannedTx{tx}
		}
		return chunks
	}
	var chunks [][]*txtypes.PlannedTx
	for i := 0; i < len(txs); i += size {
		chunks = append(chunks, txs[i:min(i+size, len(txs))])
	}
	return chunks
}

type bundleGroup struct {
	bundleID string
	txs      []*txtypes.PlannedTx
}

// groupByBundle splits batch into contiguous runs sharing a BundleID,
// preserving the generator's emission order (spec.md §9: "the
// callback and TxActor treat each bundle tx as an independent
// PendingTx but tag them with a shared bundle_id").
func groupByBundle(batch []*txtypes.PlannedTx) []bundleGroup {
	var groups []bundleGroup
	for _, tx := range batch {
		if len(groups) > 0 && groups[len(groups)-1].bundleID == tx.BundleID && tx.BundleID != "" {
			groups[len(groups)-1].txs = append(groups[len(groups)-1].txs, tx)
			continue
		}
		groups = append(groups, bundleGroup{bundleID: tx.BundleID, txs: []*txtypes.PlannedTx{tx}})
	}
	return groups
}

func (d *Dispatcher) dispatchOne(ctx context.Context, runID uint64, tx *txtypes.PlannedTx, cb Callback) {
	signed, nonceHandle, err := d.buildAndSign(ctx, tx)
	if err != nil {
		d.logger().Warn("spammer: build/sign failed, skipping tx", slog.String("error", err.Error()))
		return
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		nonceHandle.Rollback()
		d.logger().Warn("spammer: marshal failed, skipping tx", slog.String("error", err.Error()))
		return
	}

	sentAt := time.Now()
	hash := signed.Hash()
	queued := d.Sender.SendAsync(ctx, raw, func(sendErr error) {
		if sendErr != nil {
			if !rpc.AlreadyKnownOrUnderpriced(sendErr) {
				nonceHandle.Rollback()
				d.logger().Warn("spammer: send failed", slog.String("hash", hash.Hex()), slog.String("error", sendErr.Error()))
				return
			}
			// The node already holds this tx (or one at the same
			// nonce); the nonce was not wasted, so commit and track
			// it for a receipt like any other dispatched tx.
			d.logger().Debug("spammer: send reported already-known/underpriced, tracking anyway",
				slog.String("hash", hash.Hex()), slog.String("error", sendErr.Error()))
		}
		nonceHandle.Commit()
		if d.Metrics != nil {
			d.Metrics.RecordSent(d.Scenario)
		}
		cb(ctx, &txtypes.PendingTx{
			Hash:     hash,
			Signer:   tx.Signer,
			SentAt:   sentAt,
			RunID:    runID,
			Kind:     tx.Kind,
			BundleID: tx.BundleID,
		})
	})
	if !queued {
		nonceHandle.Rollback()
	}
}

// dispatchBundle builds and signs every member of a bundle, then
// submits them together via eth_sendBundle, per spec.md §4.3 step 4.
func (d *Dispatcher) dispatchBundle(ctx context.Context, runID uint64, txs []*txtypes.PlannedTx, bundleID string, cb Callback) {
	type prepared struct {
		tx     *txtypes.PlannedTx
		signed *types.Transaction
		nonce  *signer.Nonce
		raw    []byte
	}
	preparedTxs := make([]prepared, 0, len(txs))
	for _, tx := range txs {
		signed, nonceHandle, err := d.buildAndSign(ctx, tx)
		if err != nil {
			d.logger().Warn("spammer: bundle member build/sign failed, dropping bundle", slog.String("bundle", bundleID), slog.String("error", err.Error()))
			for _, p := range preparedTxs {
				p.nonce.Rollback()
			}
			return
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			nonceHandle.Rollback()
			for _, p := range preparedTxs {
				p.nonce.Rollback()
			}
			return
		}
		preparedTxs = append(preparedTxs, prepared{tx: tx, signed: signed, nonce: nonceHandle, raw: raw})
	}

	blockNum, err := d.Client.GetBlockNumber(ctx)
	if err != nil {
		for _, p := range preparedTxs {
			p.nonce.Rollback()
		}
		d.logger().Warn("spammer: bundle target block lookup failed", slog.String("error", err.Error()))
		return
	}

	rawTxs := make([][]byte, len(preparedTxs))
	for i, p := range preparedTxs {
		rawTxs[i] = p.raw
	}
	sentAt := time.Now()
	if _, err := d.Client.SendBundle(ctx, rawTxs, blockNum+1, nil); err != nil {
		for _, p := range preparedTxs {
			p.nonce.Rollback()
		}
		d.logger().Warn("spammer: eth_sendBundle failed", slog.String("bundle", bundleID), slog.String("error", err.Error()))
		return
	}

	for _, p := range preparedTxs {
		p.nonce.Commit()
		if d.Metrics != nil {
			d.Metrics.RecordSent(d.Scenario)
		}
		cb(ctx, &txtypes.PendingTx{
			Hash:     p.signed.Hash(),
			Signer:   p.tx.Signer,
			SentAt:   sentAt,
			RunID:    runID,
			Kind:     p.tx.Kind,
			BundleID: bundleID,
		})
	}
}

// dispatchChunk builds and signs every tx in chunk, then submits them
// as a single eth_sendRawTransaction JSON-RPC batch via BatchCall,
// honoring RPCBatchSize groupings. Each tx's nonce is committed or
// rolled back independently based on its own slot in the batch
// response, the same as dispatchOne does per-call.
func (d *Dispatcher) dispatchChunk(ctx context.Context, runID uint64, chunk []*txtypes.PlannedTx, cb Callback) {
	type prepared struct {
		tx     *txtypes.PlannedTx
		signed *types.Transaction
		nonce  *signer.Nonce
	}
	prepTxs := make([]prepared, 0, len(chunk))
	calls := make([]rpc.BatchRequest, 0, len(chunk))
	for _, tx := range chunk {
		signed, nonceHandle, err := d.buildAndSign(ctx, tx)
		if err != nil {
			d.logger().Warn("spammer: build/sign failed, skipping tx", slog.String("error", err.Error()))
			continue
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			nonceHandle.Rollback()
			d.logger().Warn("spammer: marshal failed, skipping tx", slog.String("error", err.Error()))
			continue
		}
		prepTxs = append(prepTxs, prepared{tx: tx, signed: signed, nonce: nonceHandle})
		calls = append(calls, rpc.BatchRequest{Method: "eth_sendRawTransaction", Params: []interface{}{hexutil.Encode(raw)}})
	}
	if len(prepTxs) == 0 {
		return
	}

	sentAt := time.Now()
	responses, err := d.Client.BatchCall(ctx, calls)
	if err != nil {
		for _, p := range prepTxs {
			p.nonce.Rollback()
		}
		d.logger().Warn("spammer: batch send failed", slog.Int("batchSize", len(prepTxs)), slog.String("error", err.Error()))
		return
	}

	for i, p := range prepTxs {
		resp := responses[i]
		if resp.Error != nil {
			if !rpc.AlreadyKnownOrUnderpriced(resp.Error) {
				p.nonce.Rollback()
				d.logger().Warn("spammer: batched send failed", slog.String("hash", p.signed.Hash().Hex()), slog.String("error", resp.Error.Error()))
				continue
			}
			d.logger().Debug("spammer: batched send reported already-known/underpriced, tracking anyway",
				slog.String("hash", p.signed.Hash().Hex()), slog.String("error", resp.Error.Error()))
		}
		p.nonce.Commit()
		if d.Metrics != nil {
			d.Metrics.RecordSent(d.Scenario)
		}
		cb(ctx, &txtypes.PendingTx{
			Hash:     p.signed.Hash(),
			Signer:   p.tx.Signer,
			SentAt:   sentAt,
			RunID:    runID,
			Kind:     p.tx.Kind,
			BundleID: p.tx.BundleID,
		})
	}
}

// buildAndSign reserves a nonce, resolves gas limit/price, and
// returns a signed transaction. The caller must Commit the returned
// nonce on successful submission or Rollback on any failure.
func (d *Dispatcher) buildAndSign(ctx context.Context, tx *txtypes.PlannedTx) (*types.Transaction, *signer.Nonce, error) {
	sg, ok := d.Signers.BySigner(tx.Signer)
	if !ok {
		return nil, nil, cerrors.SignerError("spammer: dispatch", errUnknownSigner(tx.Signer))
	}
	nonceHandle := sg.ReserveNonce()

	gasLimit := tx.GasLimit
	if gasLimit == 0 {
		est, err := d.GasEstimate.Estimate(ctx, estimateCall{From: tx.Signer, To: tx.To, Value: tx.Value, Data: tx.Data})
		if err != nil {
			nonceHandle.Rollback()
			return nil, nil, err
		}
		gasLimit = est
	}

	gas, err := d.GasPricer.Params(ctx)
	if err != nil {
		nonceHandle.Rollback()
		return nil, nil, err
	}
	txType := tx.TxType
	if d.Legacy && txType == "" {
		txType = txtypes.TxTypeLegacy
	}
	if txType == "" {
		txType = txtypes.TxTypeDynamicFee
	}
	built, err := buildTx(&txtypes.PlannedTx{
		Kind: tx.Kind, To: tx.To, Signer: tx.Signer, Data: tx.Data, Value: tx.Value,
		TxType: txType,
	}, nonceHandle.Value(), gasLimit, d.ChainID, gas)
	if err != nil {
		nonceHandle.Rollback()
		return nil, nil, err
	}

	ethSigner := types.LatestSignerForChainID(d.ChainID)
	signed, err := types.SignTx(built, ethSigner, sg.PrivateKey)
	if err != nil {
		nonceHandle.Rollback()
		return nil, nil, cerrors.SignerError("spammer: sign", err)
	}
	return signed, nonceHandle, nil
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

type unknownSignerErr struct{ addr common.Address }

func (e *unknownSignerErr) Error() string { return "unknown signer: " + e.addr.Hex() }

func errUnknownSigner(addr common.Address) error { return &unknownSignerErr{addr: addr} }
