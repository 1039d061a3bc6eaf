package template

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/gateway-fm/contender/internal/cerrors"
)

var weiPerUnit = map[string]*big.Int{
	"wei":   big.NewInt(1),
	"gwei":  new(big.Int).Exp(big.NewInt(10), big.NewInt(9), nil),
	"ether": new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
}

// ParseValue parses a scenario `value` cell: a bare integer (wei) or
// a unit-suffixed amount such as "1 ether" / "0.5 gwei", per
// spec.md §6.
func ParseValue(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	fields := strings.Fields(s)
	if len(fields) == 1 {
		n, ok := new(big.Int).SetString(fields[0], 0)
		if !ok {
			return nil, cerrors.ConfigError("template: value", errInvalidValue(s))
		}
		return n, nil
	}
	if len(fields) != 2 {
		return nil, cerrors.ConfigError("template: value", errInvalidValue(s))
	}
	unit, ok := weiPerUnit[strings.ToLower(fields[1])]
	if !ok {
		return nil, cerrors.ConfigError("template: value", errInvalidValue(s))
	}
	amount, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, cerrors.ConfigError("template: value", errInvalidValue(s))
	}
	// Scale by 1e9 first to keep fractional precision (gwei-level)
	// without pulling in a big.Float dependency chain.
	scaled := new(big.Int).SetInt64(int64(amount * 1e9))
	result := new(big.Int).Mul(scaled, unit)
	result.Div(result, big.NewInt(1e9))
	return result, nil
}

type valueErr string

func (e valueErr) Error() string { return string(e) }

func errInvalidValue(s string) error { return valueErr("invalid value " + strconv.Quote(s)) }
