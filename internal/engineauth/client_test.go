package engineauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gateway-fm/contender/internal/execnode"
	"github.com/gateway-fm/contender/internal/rpc"
)

func TestParseSecretHex(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "plain hex", in: strings.Repeat("ab", 32)},
		{name: "0x prefixed", in: "0x" + strings.Repeat("cd", 32)},
		{name: "whitespace", in: "  " + strings.Repeat("ef", 32) + "\n"},
		{name: "wrong length", in: "abcd", wantErr: true},
		{name: "not hex", in: strings.Repeat("zz", 32), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSecretHex(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSecretHex(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestTokenIsValidHS256(t *testing.T) {
	secret, err := ParseSecretHex(strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("ParseSecretHex: %v", err)
	}

	tok, err := Token(secret)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("Token() has %d segments, want 3", len(parts))
	}

	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	var hdr jwtHeader
	if err := json.Unmarshal(header, &hdr); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if hdr.Alg != "HS256" || hdr.Typ != "JWT" {
		t.Fatalf("header = %+v, want HS256/JWT", hdr)
	}

	claims, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	var c jwtClaims
	if err := json.Unmarshal(claims, &c); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	if c.IAT == 0 {
		t.Fatal("claims.IAT is zero")
	}
}

func TestForkchoiceUpdatedSendsBearerToken(t *testing.T) {
	var gotAuth string
	var gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req rpc.JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotMethod = req.Method

		resp := rpc.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"payloadStatus":{"status":"VALID","latestValidHash":null,"validationError":null},"payloadId":null}`),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	secret, err := ParseSecretHex(strings.Repeat("22", 32))
	if err != nil {
		t.Fatalf("ParseSecretHex: %v", err)
	}
	caps := &execnode.ExecutionLayerCapabilities{Name: "op-reth"}
	client := New(Config{AuthURL: srv.URL, Secret: secret, Caps: caps})

	resp, err := client.ForkchoiceUpdated(context.Background(), ForkchoiceState{HeadBlockHash: "0xdead"}, nil)
	if err != nil {
		t.Fatalf("ForkchoiceUpdated: %v", err)
	}
	if resp.PayloadStatus.Status != "VALID" {
		t.Fatalf("PayloadStatus.Status = %q, want VALID", resp.PayloadStatus.Status)
	}
	if gotMethod != "engine_forkchoiceUpdatedV2" {
		t.Fatalf("method = %q, want engine_forkchoiceUpdatedV2", gotMethod)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("Authorization header = %q, want Bearer prefix", gotAuth)
	}
}

func TestForkchoiceUpdatedV3WhenPostCancun(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpc.JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		resp := rpc.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"payloadStatus":{"status":"VALID"}}`)}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	secret, _ := ParseSecretHex(strings.Repeat("33", 32))
	client := New(Config{AuthURL: srv.URL, Secret: secret})

	attrs := &PayloadAttributes{ParentBeaconBlockRoot: "0xbeac04"}
	if _, err := client.ForkchoiceUpdated(context.Background(), ForkchoiceState{}, attrs); err != nil {
		t.Fatalf("ForkchoiceUpdated: %v", err)
	}
	if gotMethod != "engine_forkchoiceUpdatedV3" {
		t.Fatalf("method = %q, want engine_forkchoiceUpdatedV3 for post-Cancun attrs", gotMethod)
	}
}

func TestForkchoiceUpdatedRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpc.JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := rpc.JSONRPCResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpc.JSONRPCError{Code: -38001, Message: "unknown payload"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	secret, _ := ParseSecretHex(strings.Repeat("44", 32))
	client := New(Config{AuthURL: srv.URL, Secret: secret})

	if _, err := client.ForkchoiceUpdated(context.Background(), ForkchoiceState{}, nil); err == nil {
		t.Fatal("expected an error from a JSON-RPC error response")
	}
}

func TestRequiresLegacyTx(t *testing.T) {
	caps := &execnode.ExecutionLayerCapabilities{Name: "cdk-erigon", RequiresLegacyTx: true}
	client := New(Config{AuthURL: "http://unused", Secret: Secret{}, Caps: caps})
	if !client.RequiresLegacyTx() {
		t.Fatal("RequiresLegacyTx() = false, want true for cdk-erigon")
	}
}
