// Package template implements the Planner/Templater component:
// placeholder substitution and materialization of concrete transaction
// requests from a TxTemplate, per spec.md §4.1.
package template

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/internal/abiutil"
	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/internal/envstore"
	"github.com/gateway-fm/contender/internal/registry"
	"github.com/gateway-fm/contender/internal/seed"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

// placeholderRe matches `{name}` where name is [A-Za-z_][A-Za-z0-9_]*,
// per the placeholder grammar in spec.md §4.1.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Planner resolves placeholders against an EnvStore and
// ContractRegistry and materializes PlannedTx values, fuzzing
// arguments from a seeded PRNG.
type Planner struct {
	Env      *envstore.Store
	Registry *registry.Registry
	Seed     seed.RandSeed
	RPCURL   string
}

// New builds a Planner.
func New(env *envstore.Store, reg *registry.Registry, s seed.RandSeed, rpcURL string) *Planner {
	return &Planner{Env: env, Registry: reg, Seed: s, RPCURL: rpcURL}
}

// resolveString substitutes every `{name}` token in input, per the
// resolution order in spec.md §4.1: {_sender}, then EnvStore, then
// ContractRegistry. whole reports whether the 0x prefix should be kept
// (the placeholder is the entire cell) or stripped (embedded in a
// longer hex string, e.g. bytecode).
func (p *Planner) resolveString(ctx context.Context, input string, sender common.Address, scenarioLabel string) (string, error) {
	var resolveErr error
	out := placeholderRe.ReplaceAllStringFunc(input, func(tok string) string {
		if resolveErr != nil {
			return tok
		}
		name := tok[1 : len(tok)-1]
		whole := tok == input

		val, err := p.resolveOne(ctx, name, sender, scenarioLabel)
		if err != nil {
			resolveErr = err
			return tok
		}
		if !whole {
			val = strings.TrimPrefix(val, "0x")
		}
		return val
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return out, nil
}

func (p *Planner) resolveOne(ctx context.Context, name string, sender common.Address, scenarioLabel string) (string, error) {
	if name == "_sender" {
		return sender.Hex(), nil
	}
	if v, ok := p.Env.Lookup(name); ok {
		return v, nil
	}
	if p.Registry != nil {
		addr, err := p.Registry.Resolve(ctx, name, scenarioLabel, p.RPCURL)
		if err == nil {
			return addr.Hex(), nil
		}
	}
	return "", cerrors.UnknownPlaceholder(name)
}

// resolveIdempotentCheck reports that resolution is a no-op on strings with
// no placeholders, the round-trip property in spec.md §8.
func (p *Planner) resolveIdempotentCheck(s string) bool {
	return !placeholderRe.MatchString(s)
}

// applyFuzz mutates args/value in place according to tmpl.Fuzz,
// seeded per spec.md §4.1's rule: PRNG seeded from
// (run_seed, step_index, tx_index, iteration), the named param
// matched by position from the parsed signature.
func (p *Planner) applyFuzz(tmpl txtypes.TxTemplate, sig abiutil.Signature, args []string, value *string, stepIndex, txIndex, iteration int) error {
	if len(tmpl.Fuzz) == 0 {
		return nil
	}
	rng := p.Seed.Rand(stepIndex, txIndex, iteration)
	for _, f := range tmpl.Fuzz {
		v := randBigInt(rng, f.Min, f.Max)
		if f.Param == "value" {
			if value != nil {
				*value = v.String()
			}
			continue
		}
		idx, ok := sig.IndexOf(f.Param)
		if !ok {
			return cerrors.ConfigError("template: fuzz", fmt.Errorf("param %q not found in signature", f.Param))
		}
		if idx >= len(args) {
			return cerrors.ConfigError("template: fuzz", fmt.Errorf("param %q index %d out of range", f.Param, idx))
		}
		args[idx] = v.String()
	}
	return nil
}

// randBigInt returns a uniform random integer in [min, max].
func randBigInt(rng interface{ Int64() int64 }, min, max *big.Int) *big.Int {
	span := new(big.Int).Sub(max, min)
	span.Add(span, big.NewInt(1))
	if span.Sign() <= 0 {
		return new(big.Int).Set(min)
	}
	// span usually fits well within 63 bits for realistic fuzz ranges.
	// One Int64 draw is made, its absolute value reduced modulo span;
	// for a wider range the result only covers [min, min+2^63]. This is
	// load-shaping, not cryptographic, randomness.
	r := new(big.Int).SetInt64(rng.Int64())
	if r.Sign() < 0 {
		r.Neg(r)
	}
	r.Mod(r, span)
	return new(big.Int).Add(min, r)
}

// Plan materializes one PlannedTx from a TxTemplate. sender is the
// signer chosen for this tx by the generator; stepIndex/txIndex/
// iteration feed the fuzz PRNG.
func (p *Planner) Plan(ctx context.Context, tmpl txtypes.TxTemplate, sender common.Address, stepIndex, txIndex, iteration int) (*txtypes.PlannedTx, error) {
	switch tmpl.Kind {
	case txtypes.KindCreate:
		return p.planCreate(ctx, tmpl, sender, stepIndex, txIndex, iteration)
	default:
		return p.planCall(ctx, tmpl, sender, stepIndex, txIndex, iteration)
	}
}

func (p *Planner) planCall(ctx context.Context, tmpl txtypes.TxTemplate, sender common.Address, stepIndex, txIndex, iteration int) (*txtypes.PlannedTx, error) {
	toStr, err := p.resolveString(ctx, tmpl.To, sender, tmpl.ScenarioLabel)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(toStr) {
		return nil, cerrors.ConfigError("template: to", fmt.Errorf("%q is not a valid address after resolution", toStr))
	}
	to := common.HexToAddress(toStr)

	args := make([]string, len(tmpl.Args))
	for i, a := range tmpl.Args {
		rv, err := p.resolveString(ctx, a, sender, tmpl.ScenarioLabel)
		if err != nil {
			return nil, err
		}
		args[i] = rv
	}

	valueStr := tmpl.Value
	if valueStr != "" {
		valueStr, err = p.resolveString(ctx, valueStr, sender, tmpl.ScenarioLabel)
		if err != nil {
			return nil, err
		}
	}

	var sig abiutil.Signature
	var data []byte
	if tmpl.Signature != "" {
		sig, err = abiutil.Parse(tmpl.Signature)
		if err != nil {
			return nil, err
		}
		if err := p.applyFuzz(tmpl, sig, args, &valueStr, stepIndex, txIndex, iteration); err != nil {
			return nil, err
		}
		data, err = abiutil.EncodeCall(sig, args)
		if err != nil {
			return nil, err
		}
	} else if err := p.applyFuzz(tmpl, abiutil.Signature{}, nil, &valueStr, stepIndex, txIndex, iteration); err != nil {
		return nil, err
	}

	value, err := ParseValue(valueStr)
	if err != nil {
		return nil, err
	}

	gasLimit := uint64(0)
	if tmpl.GasLimit != nil {
		gasLimit = *tmpl.GasLimit
	}

	return &txtypes.PlannedTx{
		Kind:          txtypes.KindCall,
		To:            &to,
		Signer:        sender,
		Data:          data,
		Value:         value,
		GasLimit:      gasLimit,
		TxType:        tmpl.TxType,
		StepIndex:     stepIndex,
		TxIndex:       txIndex,
		ScenarioLabel: tmpl.ScenarioLabel,
	}, nil
}

func (p *Planner) planCreate(ctx context.Context, tmpl txtypes.TxTemplate, sender common.Address, stepIndex, txIndex, iteration int) (*txtypes.PlannedTx, error) {
	bytecode, err := p.resolveString(ctx, tmpl.Bytecode, sender, tmpl.ScenarioLabel)
	if err != nil {
		return nil, err
	}
	data := common.FromHex(bytecode)

	if tmpl.Signature != "" {
		sig, err := abiutil.Parse(tmpl.Signature)
		if err != nil {
			return nil, err
		}
		args := make([]string, len(tmpl.Args))
		for i, a := range tmpl.Args {
			rv, err := p.resolveString(ctx, a, sender, tmpl.ScenarioLabel)
			if err != nil {
				return nil, err
			}
			args[i] = rv
		}
		if err := p.applyFuzz(tmpl, sig, args, nil, stepIndex, txIndex, iteration); err != nil {
			return nil, err
		}
		encoded, err := abiutil.EncodeCall(sig, args)
		if err != nil {
			return nil, err
		}
		data = append(data, abiutil.StripSelector(sig, encoded)...)
	}

	gasLimit := uint64(0)
	if tmpl.GasLimit != nil {
		gasLimit = *tmpl.GasLimit
	}

	return &txtypes.PlannedTx{
		Kind:          txtypes.KindCreate,
		To:            nil,
		Signer:        sender,
		Data:          data,
		Value:         big.NewInt(0),
		GasLimit:      gasLimit,
		TxType:        tmpl.TxType,
		StepIndex:     stepIndex,
		TxIndex:       txIndex,
		Name:          tmpl.Name(),
		ScenarioLabel: tmpl.ScenarioLabel,
	}, nil
}
