package rpcclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/gateway-fm/contender/internal/cerrors"
)

// SubscribeNewHeads opens an eth_subscribe("newHeads") stream over the
// client's wsURL, used by the blockwise spammer and the tx actor's
// block-tip tracking to learn when a new block lands (spec.md §4.3,
// §4.4). The returned channel is closed when the subscription ends;
// callers must invoke the returned cancel func to close the
// connection and unsubscribe.
func (c *client) SubscribeNewHeads(ctx context.Context) (<-chan Header, func(), error) {
	if c.wsURL == "" {
		return nil, nil, cerrors.RPCError("rpcclient: SubscribeNewHeads", fmt.Errorf("no websocket URL configured"))
	}

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, nil, cerrors.RPCError("rpcclient: SubscribeNewHeads: dial", err)
	}

	sub := wsRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, nil, cerrors.RPCError("rpcclient: SubscribeNewHeads: subscribe", err)
	}

	var ack wsSubscribeAck
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, nil, cerrors.RPCError("rpcclient: SubscribeNewHeads: ack", err)
	}
	if ack.Error != nil {
		conn.Close()
		return nil, nil, cerrors.RPCError("rpcclient: SubscribeNewHeads", fmt.Errorf("%s", ack.Error.Message))
	}
	subID := ack.Result

	out := make(chan Header, 16)
	closed := make(chan struct{})
	cancel := func() {
		select {
		case <-closed:
			return
		default:
			close(closed)
		}
		unsub := wsRequest{JSONRPC: "2.0", ID: 2, Method: "eth_unsubscribe", Params: []any{subID}}
		conn.WriteJSON(unsub)
		conn.Close()
	}

	go func() {
		defer close(out)
		for {
			var note wsNotification
			if err := conn.ReadJSON(&note); err != nil {
				return
			}
			if note.Method != "eth_subscription" || note.Params.Subscription != subID {
				continue
			}
			h := Header{
				Hash: common.HexToHash(note.Params.Result.Hash),
				Num:  hexToUint64(note.Params.Result.Number),
			}
			select {
			case out <- h:
			case <-closed:
				return
			}
		}
	}()

	return out, cancel, nil
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsRPCError struct {
	Message string `json:"message"`
}

type wsSubscribeAck struct {
	Result string      `json:"result"`
	Error  *wsRPCError `json:"error"`
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       wsHeaderPayload `json:"result"`
	} `json:"params"`
}

type wsHeaderPayload struct {
	Hash   string `json:"hash"`
	Number string `json:"number"`
}
