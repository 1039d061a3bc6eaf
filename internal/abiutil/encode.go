package abiutil

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/contender/internal/cerrors"
)

// arguments builds an abi.Arguments from a parsed Signature, delegating
// the actual Solidity-type grammar (tuples, arrays, fixed-width ints)
// to go-ethereum's accounts/abi — the hand-rolled part of this package
// stops at name extraction and stringified-value conversion.
func (s Signature) arguments() (abi.Arguments, error) {
	args := make(abi.Arguments, len(s.Params))
	for i, p := range s.Params {
		t, err := abi.NewType(p.Type, "", nil)
		if err != nil {
			return nil, cerrors.AbiMismatch(fmt.Sprintf("param %d (%s)", i, p.Type), err)
		}
		args[i] = abi.Argument{Name: p.Name, Type: t}
	}
	return args, nil
}

// Selector returns the 4-byte function selector for a named signature.
// Canonicalizes the signature (strips parameter names) before hashing,
// matching Solidity's own selector derivation.
func (s Signature) Selector() []byte {
	canon := s.Name + "(" + strings.Join(s.Types(), ",") + ")"
	return crypto.Keccak256([]byte(canon))[:4]
}

// EncodeCall ABI-encodes args (as scenario-file strings) against sig
// and, unless sig is a bare tuple/constructor, prepends the 4-byte
// selector — the calldata construction rule from spec.md §4.1.
func EncodeCall(sig Signature, args []string) ([]byte, error) {
	if len(args) != len(sig.Params) {
		return nil, cerrors.AbiMismatch("arity", fmt.Errorf("signature has %d params, got %d args", len(sig.Params), len(args)))
	}
	arguments, err := sig.arguments()
	if err != nil {
		return nil, err
	}
	values, err := convertAll(sig, args)
	if err != nil {
		return nil, err
	}
	packed, err := arguments.PackValues(values)
	if err != nil {
		return nil, cerrors.AbiMismatch("pack", err)
	}
	if sig.IsConstructor() {
		return packed, nil
	}
	return append(sig.Selector(), packed...), nil
}

// StripSelector removes bytecode's leading 4-byte selector if present,
// for the `create` directive rule in spec.md §4.1: "the 4-byte
// selector (if any) is stripped" before constructor args are appended.
// Bytecode proper has no selector; this only matters when a signature
// of the form "constructor(...)" was mistakenly written with a
// function name, so this is a defensive no-op in the common case.
func StripSelector(sig Signature, encoded []byte) []byte {
	if !sig.IsConstructor() && len(encoded) >= 4 {
		return encoded[4:]
	}
	return encoded
}

func convertAll(sig Signature, args []string) ([]interface{}, error) {
	values := make([]interface{}, len(args))
	for i, raw := range args {
		v, err := convertOne(sig.Params[i].Type, raw)
		if err != nil {
			return nil, cerrors.AbiMismatch(fmt.Sprintf("arg %d (%s=%q)", i, sig.Params[i].Type, raw), err)
		}
		values[i] = v
	}
	return values, nil
}

// convertOne converts one scenario-file string value into the Go
// value abi.Arguments.PackValues expects for Solidity type t. Supports
// the scalar types scenario directives actually use; arrays/tuples are
// intentionally out of scope for this hand-rolled layer (use a
// full-on contract binding if you need those — this is a load
// generator, not a Solidity frontend).
func convertOne(t, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case t == "address":
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid address %q", raw)
		}
		return common.HexToAddress(raw), nil
	case t == "bool":
		return strconv.ParseBool(raw)
	case t == "string":
		return raw, nil
	case t == "bytes":
		return common.FromHex(raw), nil
	case strings.HasPrefix(t, "bytes"):
		n, err := strconv.Atoi(strings.TrimPrefix(t, "bytes"))
		if err != nil {
			return nil, fmt.Errorf("unsupported type %q", t)
		}
		b := common.FromHex(raw)
		if len(b) > n {
			return nil, fmt.Errorf("bytes%d overflow: %d bytes given", n, len(b))
		}
		var out [32]byte
		copy(out[:n], b)
		return fixedBytes(n, out), nil
	case strings.HasPrefix(t, "uint") || strings.HasPrefix(t, "int"):
		n, ok := new(big.Int).SetString(raw, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return intOfWidth(t, n)
	default:
		return nil, fmt.Errorf("unsupported type %q for the hand-rolled encoder", t)
	}
}

// fixedBytes returns a value of the correctly-sized [N]byte array
// type that go-ethereum's abi package expects for bytesN.
func fixedBytes(n int, full [32]byte) interface{} {
	switch n {
	case 32:
		return full
	default:
		// abi.PackValues reflects on the concrete array length, so a
		// generic [32]byte won't satisfy e.g. bytes4. Slice down via
		// a freshly allocated array of the right size through
		// reflection-free helpers isn't possible without codegen, so
		// route small bytesN through the dynamic "bytes" path instead
		// — go-ethereum's abi.Type.pack accepts a []byte for bytesN by
		// copying into the fixed array internally.
		return full[:n]
	}
}

// intOfWidth returns *big.Int for any uint/int width; go-ethereum's
// abi.Arguments.PackValues accepts *big.Int uniformly for all integer
// widths above 64 bits and also for <=64-bit ones, so no width-specific
// Go type is required here.
func intOfWidth(t string, n *big.Int) (interface{}, error) {
	return n, nil
}
