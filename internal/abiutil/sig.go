// Package abiutil provides a small, purpose-built parser for
// Solidity-style function signatures with named parameters, plus an
// encode/decode layer on top of go-ethereum's accounts/abi package.
//
// SPEC_FULL §9 is explicit that the name extraction this package does
// is required for fuzz-by-name, and that a full Solidity frontend is
// not warranted — so this parser only understands the grammar scenario
// authors actually write: `name(type1 p1, type2 p2, ...)` or a bare
// tuple `(type1,type2,...)` / `constructor(type1,type2,...)`.
package abiutil

import (
	"fmt"
	"strings"

	"github.com/gateway-fm/contender/internal/cerrors"
)

// Param is one parsed parameter: its Solidity type and, if present,
// its name.
type Param struct {
	Type string
	Name string
}

// Signature is a parsed function or constructor signature.
type Signature struct {
	Name   string // empty for a bare tuple or "constructor"
	Params []Param
}

// IsConstructor reports whether this signature has no selector (a
// bare tuple `(T1,T2,...)`, or explicit `constructor(...)`).
func (s Signature) IsConstructor() bool {
	return s.Name == "" || s.Name == "constructor"
}

// IndexOf returns the position of the parameter with the given name,
// for fuzz-by-name substitution.
func (s Signature) IndexOf(name string) (int, bool) {
	for i, p := range s.Params {
		if p.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Types returns the Solidity type string of each parameter, in order.
func (s Signature) Types() []string {
	out := make([]string, len(s.Params))
	for i, p := range s.Params {
		out[i] = p.Type
	}
	return out
}

// Parse parses a Solidity-style signature. Accepts:
//
//	transfer(address to, uint256 amount)
//	(uint256,uint256)
//	constructor(address owner, uint256 supply)
func Parse(sig string) (Signature, error) {
	sig = strings.TrimSpace(sig)
	open := strings.IndexByte(sig, '(')
	if open < 0 || !strings.HasSuffix(sig, ")") {
		return Signature{}, cerrors.ConfigError("abiutil: parse signature", fmt.Errorf("%q: missing parentheses", sig))
	}
	name := strings.TrimSpace(sig[:open])
	body := sig[open+1 : len(sig)-1]

	params, err := parseParamList(body)
	if err != nil {
		return Signature{}, cerrors.ConfigError("abiutil: parse signature "+sig, err)
	}
	return Signature{Name: name, Params: params}, nil
}

// parseParamList splits a parameter list on top-level commas (commas
// inside nested parens, for tuple types, don't split) and parses each
// entry as "type" or "type name".
func parseParamList(body string) ([]Param, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}

	var parts []string
	depth := 0
	start := 0
	for i, r := range body {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, body[start:])

	params := make([]Param, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty parameter in %q", body)
		}
		fields := strings.Fields(part)
		switch len(fields) {
		case 1:
			params = append(params, Param{Type: fields[0]})
		case 2:
			params = append(params, Param{Type: fields[0], Name: fields[1]})
		default:
			// Tolerate Solidity storage-location keywords like
			// "calldata"/"memory" between type and name.
			params = append(params, Param{Type: fields[0], Name: fields[len(fields)-1]})
		}
	}
	return params, nil
}
