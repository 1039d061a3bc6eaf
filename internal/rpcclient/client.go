// Package rpcclient extends the teacher's internal/rpc client with the
// calls the spamming engine needs that a dashboard backend never did:
// block receipts, gas estimation, bundle submission, and a
// newHeads subscription for the blockwise spammer and the tx actor's
// block-tip tracking (spec.md §6).
package rpcclient

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/internal/rpc"
)

// Client is the interface the spam pipeline depends on: the teacher's
// rpc.Client plus the methods spec.md §6 lists that a load-test
// dashboard never needed.
type Client interface {
	rpc.Client

	GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	GetBlockReceipts(ctx context.Context, blockNum uint64) ([]*rpc.TransactionReceipt, error)
	GetBlockReceiptsWithHash(ctx context.Context, blockNum uint64) ([]ReceiptWithHash, error)
	EstimateGas(ctx context.Context, call CallMsg) (uint64, error)
	SendBundle(ctx context.Context, txs [][]byte, blockNum uint64, allowRevert []common.Hash) (string, error)
	SuggestPriorityFee(ctx context.Context) (*big.Int, error)
	SubscribeNewHeads(ctx context.Context) (<-chan Header, func(), error)
}

// CallMsg mirrors go-ethereum's ethereum.CallMsg subset eth_estimateGas needs.
type CallMsg struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Data  []byte
}

// Header is the subset of a block header newHeads subscribers need.
type Header struct {
	Number common.Hash
	Hash   common.Hash
	Num    uint64
}

// client adapts rpc.Client (the teacher's HTTP client) to Client by
// adding the handful of calls a dashboard backend never issued.
type client struct {
	rpc.Client
	wsURL string
}

// Wrap adapts an existing rpc.Client. wsURL is used only by
// SubscribeNewHeads; pass "" if the blockwise spammer is unused.
func Wrap(c rpc.Client, wsURL string) Client {
	return &client{Client: c, wsURL: wsURL}
}

func (c *client) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.Client.GetNonce(ctx, addr.Hex())
	if err != nil {
		return 0, cerrors.RPCError("rpcclient: GetTransactionCount", err)
	}
	return n, nil
}

func (c *client) GetBlockReceipts(ctx context.Context, blockNum uint64) ([]*rpc.TransactionReceipt, error) {
	raw, err := c.Client.Call(ctx, "eth_getBlockReceipts", []interface{}{hexutil.EncodeUint64(blockNum)})
	if err != nil {
		// Not every node implements eth_getBlockReceipts; callers fall
		// back to per-hash eth_getTransactionReceipt per spec.md §4.4.
		return nil, cerrors.RPCError("rpcclient: GetBlockReceipts", err)
	}
	var out []*rawReceipt
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, cerrors.RPCError("rpcclient: GetBlockReceipts: decode", err)
	}
	receipts := make([]*rpc.TransactionReceipt, 0, len(out))
	for _, r := range out {
		receipts = append(receipts, r.toReceipt())
	}
	return receipts, nil
}

type rawReceipt struct {
	Status            string `json:"status"`
	GasUsed           string `json:"gasUsed"`
	ContractAddress   string `json:"contractAddress"`
	BlockNumber       string `json:"blockNumber"`
	BlockHash         string `json:"blockHash"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
	TransactionHash   string `json:"transactionHash"`
}

func (r *rawReceipt) toReceipt() *rpc.TransactionReceipt {
	return &rpc.TransactionReceipt{
		Status:            hexToUint64(r.Status),
		GasUsed:           hexToUint64(r.GasUsed),
		ContractAddress:   r.ContractAddress,
		BlockNumber:       hexToUint64(r.BlockNumber),
		BlockHash:         r.BlockHash,
		EffectiveGasPrice: hexToUint64(r.EffectiveGasPrice),
	}
}

// Hash exposes the originating tx hash for receipt-to-PendingTx
// matching; not part of rpc.TransactionReceipt, so callers needing it
// read rawReceipt directly via GetBlockReceiptsWithHash.
func (r *rawReceipt) Hash() common.Hash { return common.HexToHash(r.TransactionHash) }

// GetBlockReceiptsWithHash is GetBlockReceipts plus each entry's own
// tx hash, which the tx actor needs to match receipts against its
// pending-tx cache (the plain rpc.TransactionReceipt shape has none).
func (c *client) GetBlockReceiptsWithHash(ctx context.Context, blockNum uint64) ([]ReceiptWithHash, error) {
	raw, err := c.Client.Call(ctx, "eth_getBlockReceipts", []interface{}{hexutil.EncodeUint64(blockNum)})
	if err != nil {
		return nil, cerrors.RPCError("rpcclient: GetBlockReceipts", err)
	}
	var out []*rawReceipt
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, cerrors.RPCError("rpcclient: GetBlockReceipts: decode", err)
	}
	receipts := make([]ReceiptWithHash, 0, len(out))
	for _, r := range out {
		receipts = append(receipts, ReceiptWithHash{Hash: r.Hash(), Receipt: r.toReceipt()})
	}
	return receipts, nil
}

// ReceiptWithHash pairs a receipt with the transaction hash it belongs to.
type ReceiptWithHash struct {
	Hash    common.Hash
	Receipt *rpc.TransactionReceipt
}

func (c *client) EstimateGas(ctx context.Context, call CallMsg) (uint64, error) {
	params := map[string]interface{}{
		"from": call.From.Hex(),
	}
	if call.To != nil {
		params["to"] = call.To.Hex()
	}
	if call.Value != nil {
		params["value"] = hexutil.EncodeBig(call.Value)
	}
	if len(call.Data) > 0 {
		params["data"] = hexutil.Encode(call.Data)
	}
	raw, err := c.Client.Call(ctx, "eth_estimateGas", []interface{}{params})
	if err != nil {
		return 0, cerrors.RPCError("rpcclient: EstimateGas", err)
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return 0, cerrors.RPCError("rpcclient: EstimateGas: decode", err)
	}
	return hexToUint64(hexStr), nil
}

func (c *client) SendBundle(ctx context.Context, txs [][]byte, blockNum uint64, allowRevert []common.Hash) (string, error) {
	hexTxs := make([]string, len(txs))
	for i, t := range txs {
		hexTxs[i] = hexutil.Encode(t)
	}
	params := map[string]interface{}{
		"txs":         hexTxs,
		"blockNumber": hexutil.EncodeUint64(blockNum),
	}
	if len(allowRevert) > 0 {
		hashes := make([]string, len(allowRevert))
		for i, h := range allowRevert {
			hashes[i] = h.Hex()
		}
		params["revertingTxHashes"] = hashes
	}
	raw, err := c.Client.Call(ctx, "eth_sendBundle", []interface{}{params})
	if err != nil {
		return "", cerrors.RPCError("rpcclient: SendBundle", err)
	}
	var result struct {
		BundleHash string `json:"bundleHash"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		// Some relays return a bare hex string instead of an object.
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 == nil {
			return s, nil
		}
		return "", cerrors.RPCError("rpcclient: SendBundle: decode", err)
	}
	return result.BundleHash, nil
}

func (c *client) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	raw, err := c.Client.Call(ctx, "eth_maxPriorityFeePerGas", nil)
	if err != nil {
		return nil, cerrors.RPCError("rpcclient: SuggestPriorityFee", err)
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, cerrors.RPCError("rpcclient: SuggestPriorityFee: decode", err)
	}
	return new(big.Int).SetUint64(hexToUint64(hexStr)), nil
}

func hexToUint64(s string) uint64 {
	if s == "" {
		return 0
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0
	}
	return v
}
