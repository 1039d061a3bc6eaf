// Package engineauth implements a JWT-authenticated Engine API
// transport: forkchoiceUpdated/getPayload calls against an
// execution-layer node's auth port, per spec.md §6's "Engine API
// variants" line. It is independent of internal/rpcclient because the
// Engine API lives on its own authenticated port (typically 8551) and
// speaks a different method/payload vocabulary than the public eth_*
// surface internal/rpcclient wraps.
package engineauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/internal/execnode"
	"github.com/gateway-fm/contender/internal/rpc"
)

// ForkchoiceState mirrors the Engine API's ForkchoiceStateV1.
type ForkchoiceState struct {
	HeadBlockHash      string `json:"headBlockHash"`
	SafeBlockHash      string `json:"safeBlockHash"`
	FinalizedBlockHash string `json:"finalizedBlockHash"`
}

// PayloadAttributes mirrors PayloadAttributesV2/V3; Optimism's
// transactions/noTxPool/gasLimit extension fields are included since
// op-reth is one of the node families this spec targets (SPEC_FULL
// §0 lists op-reth among the example execution layers).
type PayloadAttributes struct {
	Timestamp             uint64   `json:"timestamp"`
	PrevRandao            string   `json:"prevRandao"`
	SuggestedFeeRecipient string   `json:"suggestedFeeRecipient"`
	Withdrawals           []any    `json:"withdrawals,omitempty"`
	ParentBeaconBlockRoot string   `json:"parentBeaconBlockRoot,omitempty"`
	Transactions          []string `json:"transactions,omitempty"` // Optimism: pre-seeded txs
	NoTxPool              bool     `json:"noTxPool,omitempty"`     // Optimism
	GasLimit              *uint64  `json:"gasLimit,omitempty"`      // Optimism
}

// ForkchoiceResponse mirrors ForkchoiceUpdatedResultV1.
type ForkchoiceResponse struct {
	PayloadStatus struct {
		Status          string  `json:"status"`
		LatestValidHash *string `json:"latestValidHash"`
		ValidationError *string `json:"validationError"`
	} `json:"payloadStatus"`
	PayloadID *string `json:"payloadId"`
}

// ExecutionPayloadResponse mirrors GetPayloadV2/V3Response loosely:
// only the fields the spammer's bundle/tpb bookkeeping needs are
// decoded; the rest passes through as raw JSON for a caller that
// needs the full payload shape (out of scope here — this module does
// not build or submit blocks).
type ExecutionPayloadResponse struct {
	ExecutionPayload json.RawMessage `json:"executionPayload"`
	BlockValue       string          `json:"blockValue,omitempty"`
}

// Client calls the Engine API with JWT bearer auth. Every call goes to
// the node's auth port (AuthURL); there is no block-builder routing.
// The target execution layer's capabilities (internal/execnode) are
// only consulted by RequiresLegacyTx.
type Client struct {
	authURL    string
	secret     Secret
	httpClient *http.Client
	caps       *execnode.ExecutionLayerCapabilities
	logger     *slog.Logger
}

// Config configures a Client.
type Config struct {
	// AuthURL is the node's authenticated Engine API endpoint
	// (typically :8551). Used for both getPayload and
	// forkchoiceUpdated, whatever Caps.HasExternalBlockBuilder says.
	AuthURL string
	Secret  Secret
	Caps    *execnode.ExecutionLayerCapabilities // nil defaults to no special-casing
	Timeout time.Duration
	Logger  *slog.Logger
}

// New builds a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	caps := cfg.Caps
	if caps == nil {
		caps = &execnode.ExecutionLayerCapabilities{Name: "unknown"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		authURL:    cfg.AuthURL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
		caps:       caps,
		logger:     logger,
	}
}

// RequiresLegacyTx reports whether the target execution layer rejects
// EIP-1559/7702/4844 envelopes, per execnode.ExecutionLayerCapabilities.
func (c *Client) RequiresLegacyTx() bool { return c.caps.RequiresLegacyTx }

// ForkchoiceUpdated calls engine_forkchoiceUpdatedV2 (or V3 when
// attrs carries a parentBeaconBlockRoot, i.e. post-Cancun).
func (c *Client) ForkchoiceUpdated(ctx context.Context, state ForkchoiceState, attrs *PayloadAttributes) (*ForkchoiceResponse, error) {
	method := "engine_forkchoiceUpdatedV2"
	if attrs != nil && attrs.ParentBeaconBlockRoot != "" {
		method = "engine_forkchoiceUpdatedV3"
	}
	params := []interface{}{state}
	if attrs != nil {
		params = append(params, attrs)
	} else {
		params = append(params, nil)
	}

	raw, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	var resp ForkchoiceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, cerrors.RPCError("engineauth: decode forkchoiceUpdated", err)
	}
	return &resp, nil
}

// GetPayload calls engine_getPayloadV2/V3 for a previously requested
// payloadID. Always targets AuthURL directly — a builder never
// authoritatively owns payload retrieval even when it owns block
// construction (SPEC_FULL §0's op-reth "external block-builder" note
// describes tx submission routing, not payload retrieval).
func (c *Client) GetPayload(ctx context.Context, payloadID string, cancunOrLater bool) (*ExecutionPayloadResponse, error) {
	method := "engine_getPayloadV2"
	if cancunOrLater {
		method = "engine_getPayloadV3"
	}
	raw, err := c.call(ctx, method, []interface{}{payloadID})
	if err != nil {
		return nil, err
	}
	var resp ExecutionPayloadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, cerrors.RPCError("engineauth: decode getPayload", err)
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	token, err := Token(c.secret)
	if err != nil {
		return nil, cerrors.RPCError("engineauth: mint jwt", err)
	}

	reqBody, err := json.Marshal(rpc.JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("engineauth: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("engineauth: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, cerrors.RPCError(fmt.Sprintf("engineauth: %s", method), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, cerrors.RPCError("engineauth: read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, cerrors.RPCError("engineauth: "+method, fmt.Errorf("http %d: %s", resp.StatusCode, string(body)))
	}

	var rpcResp rpc.JSONRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, cerrors.RPCError("engineauth: decode envelope", err)
	}
	if rpcResp.Error != nil {
		return nil, cerrors.RPCError(method, fmt.Errorf("%d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}
	c.logger.Debug("engineauth: call ok", slog.String("method", method))
	return rpcResp.Result, nil
}
