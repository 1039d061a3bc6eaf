// Package cerrors defines the error taxonomy shared across the spamming
// engine, mirroring the split the teacher draws between application-level
// RPCError and transport-level HTTPStatusError in internal/rpc.
package cerrors

import "fmt"

// Kind identifies which branch of the taxonomy an error belongs to.
type Kind string

const (
	KindConfig         Kind = "config"
	KindSigner         Kind = "signer"
	KindRPC            Kind = "rpc"
	KindNonce          Kind = "nonce"
	KindFunding        Kind = "funding"
	KindReceiptTimeout Kind = "receipt_timeout"
	KindDB             Kind = "db"
	KindCancelled      Kind = "cancelled"
)

// Error is a structured error carrying its taxonomy Kind plus context,
// so user-visible failure can be reported as "kind + context + source
// chain" per the reporting contract.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, context string, err error) *Error {
	return &Error{Kind: kind, Context: context, Err: err}
}

// ConfigError: malformed scenario, unknown placeholder, ABI mismatch,
// invalid campaign shares.
func ConfigError(context string, err error) *Error { return newErr(KindConfig, context, err) }

// UnknownPlaceholder is the specific ConfigError raised when a
// `{name}` token cannot be resolved.
func UnknownPlaceholder(name string) *Error {
	return newErr(KindConfig, "unknown placeholder", fmt.Errorf("%q", name))
}

// AbiMismatch is the specific ConfigError raised on signature/args
// arity mismatch.
func AbiMismatch(context string, err error) *Error {
	return newErr(KindConfig, "abi mismatch: "+context, err)
}

// SignerError: key parse, HD derivation failure.
func SignerError(context string, err error) *Error { return newErr(KindSigner, context, err) }

// RPCError: transport failure, JSON-RPC error code, timeout.
func RPCError(context string, err error) *Error { return newErr(KindRPC, context, err) }

// NonceError: on-chain nonce moved backwards (external send detected).
func NonceError(context string, err error) *Error { return newErr(KindNonce, context, err) }

// FundingError: insufficient funder balance, checked before any
// funding tx is sent.
func FundingError(context string, err error) *Error { return newErr(KindFunding, context, err) }

// ReceiptTimeoutError: tx not mined within pending_timeout.
func ReceiptTimeoutError(context string) *Error {
	return newErr(KindReceiptTimeout, context, nil)
}

// DBError wraps a backend-specific DbOps error.
func DBError(context string, err error) *Error { return newErr(KindDB, context, err) }

// Cancelled marks cooperative cancellation; never surfaced as a
// failure in user-visible output.
var Cancelled = newErr(KindCancelled, "cancelled", nil)

// Is implements errors.Is-style matching for *Error by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
