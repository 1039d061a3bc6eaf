package runner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/internal/signer"
)

// fund tops up every agent signer in idx below minBalance from
// cfg.Funder, per spec.md §4.5 step 2: the aggregate shortfall is
// checked against the funder's balance before any send goes out, so a
// run fails fast rather than partially funding its agents.
func (r *Runner) fund(ctx context.Context, idx *signer.Index, minBalance *big.Int) error {
	if r.cfg.Funder == nil {
		return cerrors.FundingError("runner: fund", fmt.Errorf("scenario requires funding but no funder signer is configured"))
	}

	type shortfall struct {
		sg     *signer.Signer
		amount *big.Int
	}
	var shortfalls []shortfall
	total := new(big.Int)

	for _, sg := range idx.Signers() {
		if sg.Address == r.cfg.Funder.Address {
			continue
		}
		balance, err := r.cfg.Client.GetBalance(ctx, sg.Address.Hex())
		if err != nil {
			return cerrors.RPCError("runner: fund: check balance of "+sg.Address.Hex(), err)
		}
		if balance.Cmp(minBalance) >= 0 {
			continue
		}
		need := new(big.Int).Sub(minBalance, balance)
		shortfalls = append(shortfalls, shortfall{sg: sg, amount: need})
		total.Add(total, need)
	}
	if len(shortfalls) == 0 {
		return nil
	}

	funderBalance, err := r.cfg.Client.GetBalance(ctx, r.cfg.Funder.Address.Hex())
	if err != nil {
		return cerrors.RPCError("runner: fund: check funder balance", err)
	}
	if funderBalance.Cmp(total) < 0 {
		return cerrors.FundingError("runner: fund", fmt.Errorf(
			"funder %s has %s wei, need %s wei to cover %d signers below min_balance",
			r.cfg.Funder.Address.Hex(), funderBalance, total, len(shortfalls)))
	}

	gasPrice, err := r.dynamicFeeGasPrice(ctx)
	if err != nil {
		return err
	}

	limit := r.cfg.SetupConcurrencyLimit
	if limit <= 0 {
		limit = 25
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, sf := range shortfalls {
		sf := sf
		g.Go(func() error {
			return r.sendAndConfirm(gctx, r.cfg.Funder, &sf.sg.Address, sf.amount, nil, 21000, gasPrice)
		})
	}
	if err := g.Wait(); err != nil {
		return cerrors.FundingError("runner: fund", err)
	}
	return nil
}

// dynamicFeeGasPrice resolves the gas-fee-cap used by the funding and
// setup phases: a fixed price if configured, else the node's current
// suggestion.
func (r *Runner) dynamicFeeGasPrice(ctx context.Context) (*big.Int, error) {
	if r.cfg.FixedGasPrice != nil {
		return r.cfg.FixedGasPrice, nil
	}
	suggested, err := r.cfg.Client.GetGasPrice(ctx)
	if err != nil {
		return nil, cerrors.RPCError("runner: fetch gas price", err)
	}
	return new(big.Int).SetUint64(suggested), nil
}

// sendAndConfirm builds, signs, sends, and waits for the receipt of
// one dynamic-fee transaction from sg — the synchronous counterpart to
// the async spammer.Dispatcher, used by Fund and Setup where each
// directive must land before the next one in its window is considered
// complete (spec.md §4.5 steps 2 and 4).
func (r *Runner) sendAndConfirm(ctx context.Context, sg *signer.Signer, to *common.Address, value *big.Int, data []byte, gasLimit uint64, gasPrice *big.Int) error {
	nonceHandle := sg.ReserveNonce()

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.cfg.ChainID,
		Nonce:     nonceHandle.Value(),
		GasTipCap: big.NewInt(0),
		GasFeeCap: gasPrice,
		Gas:       gasLimit,
		To:        to,
		Value:     value,
		Data:      data,
	})

	ethSigner := types.LatestSignerForChainID(r.cfg.ChainID)
	signed, err := types.SignTx(tx, ethSigner, sg.PrivateKey)
	if err != nil {
		nonceHandle.Rollback()
		return cerrors.SignerError("runner: sign", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		nonceHandle.Rollback()
		return fmt.Errorf("runner: marshal tx: %w", err)
	}

	if err := r.cfg.Client.SendRawTransaction(ctx, raw); err != nil {
		nonceHandle.Rollback()
		return cerrors.RPCError("runner: send", err)
	}
	nonceHandle.Commit()

	return r.waitForReceipt(ctx, signed.Hash())
}

// waitForReceipt polls for hash's receipt with backoff until it lands,
// reverts, or cfg.PendingTimeout elapses — grounded on
// contract.Deployer.waitForDeployment's polling pattern, generalized
// to any transaction rather than a deployment's code-at-address check.
func (r *Runner) waitForReceipt(ctx context.Context, hash common.Hash) error {
	timeout := r.cfg.PendingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	backoff := 200 * time.Millisecond
	maxBackoff := 2 * time.Second
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		receipt, err := r.cfg.Client.GetTransactionReceipt(ctx, hash.Hex())
		if err != nil {
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		if receipt == nil {
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		if receipt.Status == 0 {
			return cerrors.ReceiptTimeoutError(fmt.Sprintf("runner: tx %s reverted", hash.Hex()))
		}
		return nil
	}
	return cerrors.ReceiptTimeoutError(fmt.Sprintf("runner: tx %s: no receipt after %s", hash.Hex(), timeout))
}
