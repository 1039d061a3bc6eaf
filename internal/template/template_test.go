package template

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/internal/abiutil"
	"github.com/gateway-fm/contender/internal/envstore"
	"github.com/gateway-fm/contender/internal/seed"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

func testSeed() seed.RandSeed {
	return seed.New(make([]byte, 32))
}

func TestResolveStringOrder(t *testing.T) {
	env := envstore.New(map[string]string{"token": "0x1111111111111111111111111111111111111111"}, nil)
	p := New(env, nil, testSeed(), "")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	got, err := p.resolveString(context.Background(), "{_sender}", sender, "")
	if err != nil {
		t.Fatalf("resolveString(_sender) error = %v", err)
	}
	if got != sender.Hex() {
		t.Errorf("{_sender} resolved to %q, want %q", got, sender.Hex())
	}

	got, err = p.resolveString(context.Background(), "{token}", sender, "")
	if err != nil {
		t.Fatalf("resolveString(token) error = %v", err)
	}
	if got != "0x1111111111111111111111111111111111111111" {
		t.Errorf("{token} resolved to %q, want the EnvStore value", got)
	}
}

func TestResolveStringUnknownPlaceholder(t *testing.T) {
	env := envstore.New(nil, nil)
	p := New(env, nil, testSeed(), "")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	if _, err := p.resolveString(context.Background(), "{nope}", sender, ""); err == nil {
		t.Error("resolveString on an unresolvable placeholder should error")
	}
}

func TestResolveIdempotentOnPlainStrings(t *testing.T) {
	p := New(envstore.New(nil, nil), nil, testSeed(), "")
	if !p.resolveIdempotentCheck("0xdeadbeef") {
		t.Error("a string with no placeholders should resolve idempotently")
	}
	if p.resolveIdempotentCheck("{foo}") {
		t.Error("a string with a placeholder should not be reported idempotent")
	}
}

func TestPlanCallRoundTripsWithoutPlaceholders(t *testing.T) {
	env := envstore.New(nil, nil)
	p := New(env, nil, testSeed(), "")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := "0x3333333333333333333333333333333333333333"

	tmpl := txtypes.TxTemplate{Kind: txtypes.KindCall, To: to, Value: "1 ether"}
	tx1, err := p.Plan(context.Background(), tmpl, sender, 0, 0, 0)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	tx2, err := p.Plan(context.Background(), tmpl, sender, 0, 0, 0)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if tx1.To.Hex() != tx2.To.Hex() {
		t.Errorf("Plan() not idempotent on To: %s vs %s", tx1.To.Hex(), tx2.To.Hex())
	}
	if tx1.Value.Cmp(tx2.Value) != 0 {
		t.Errorf("Plan() not idempotent on Value: %s vs %s", tx1.Value, tx2.Value)
	}
}

func TestApplyFuzzDeterministicForSameCoordinates(t *testing.T) {
	p := New(envstore.New(nil, nil), nil, testSeed(), "")
	tmpl := txtypes.TxTemplate{
		Fuzz: []txtypes.FuzzParam{{Param: "value", Min: big.NewInt(0), Max: big.NewInt(1_000_000)}},
	}

	v1 := "0"
	if err := p.applyFuzz(tmpl, abiutil.Signature{}, nil, &v1, 1, 2, 0); err != nil {
		t.Fatalf("applyFuzz() error = %v", err)
	}
	v2 := "0"
	if err := p.applyFuzz(tmpl, abiutil.Signature{}, nil, &v2, 1, 2, 0); err != nil {
		t.Fatalf("applyFuzz() error = %v", err)
	}
	if v1 != v2 {
		t.Errorf("applyFuzz() not deterministic for the same (step,tx,iteration): %q vs %q", v1, v2)
	}
}

func TestParseValueUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1000", "1000"},
		{"1 ether", "1000000000000000000"},
		{"1 gwei", "1000000000"},
		{"", "0"},
	}
	for _, tt := range tests {
		got, err := ParseValue(tt.in)
		if err != nil {
			t.Fatalf("ParseValue(%q) error = %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseValue(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseValueInvalid(t *testing.T) {
	if _, err := ParseValue("not a number"); err == nil {
		t.Error("ParseValue() on garbage input should error")
	}
}
