// Package txtypes holds the public data model shared by the spamming
// engine and its external collaborators (a CLI, a report renderer, a
// DB backend). Types here are plain data; behavior lives in internal/.
package txtypes

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxKind distinguishes the directive a TxTemplate was parsed from.
type TxKind string

const (
	KindCreate TxKind = "create"
	KindCall   TxKind = "call"
)

// TxType selects the Ethereum transaction envelope to build.
type TxType string

const (
	TxTypeLegacy     TxType = "legacy"
	TxTypeDynamicFee TxType = "dynamic_fee"
	TxTypeSetCode    TxType = "setcode" // EIP-7702, see SPEC_FULL §4 supplement
	TxTypeBlob       TxType = "blob"    // EIP-4844, see SPEC_FULL §4 supplement
)

// FuzzParam is one `{param, min, max}` fuzz directive.
type FuzzParam struct {
	Param string
	Min   *big.Int
	Max   *big.Int
}

// TxTemplate is the parsed form of one transaction directive.
// Fields may still contain unresolved `{placeholder}` tokens.
type TxTemplate struct {
	Kind       TxKind
	To         string // placeholder-bearing; empty for create
	FromPool   string // signer pool name; mutually exclusive with From
	From       string // fixed sender address; mutually exclusive with FromPool
	Signature  string // e.g. "transfer(address to, uint256 amount)"
	Args       []string
	Value      string // bare wei integer, or unit-suffixed ("1 ether")
	GasLimit   *uint64
	TxType     TxType
	Bytecode   string // create only; placeholder-bearing
	Fuzz       []FuzzParam
	ScenarioLabel string
	ContractName  string // create only: name to register in ContractRegistry
}

// Name returns the ContractRegistry key for a create directive.
func (t TxTemplate) Name() string { return t.ContractName }

// Bundle is an ordered list of TxTemplates intended for atomic inclusion.
type Bundle struct {
	Txs         []TxTemplate
	AllowRevert bool // revert-bundle variant, SPEC_FULL §4 supplement
}

// PlannedTx is a fully-resolved transaction request: placeholders
// substituted, fuzzed arguments materialized, call data ABI-encoded,
// signer assigned — but not yet nonced or signed.
type PlannedTx struct {
	Kind      TxKind
	To        *common.Address // nil for create
	Signer    common.Address
	Data      []byte
	Value     *big.Int
	GasLimit  uint64 // 0 means "estimate"
	TxType    TxType
	BundleID  string // shared by every tx of one Bundle; empty otherwise
	StepIndex int
	TxIndex   int
	Name      string // assigned name for `create` directives, for ContractRegistry
	ScenarioLabel string
}

// SignedTx is a PlannedTx with a nonce, gas parameters, and signature applied.
type SignedTx struct {
	PlannedTx
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasPrice  *big.Int // legacy only
	RawTx     []byte   // RLP-encoded signed transaction
	Hash      common.Hash
}

// PendingTx is recorded at dispatch time.
type PendingTx struct {
	Hash      common.Hash
	Signer    common.Address
	SentAt    time.Time
	RequestID string
	RunID     uint64
	Kind      TxKind
	BundleID  string
}

// ReceiptStatus is the terminal state of a dispatched transaction.
type ReceiptStatus string

const (
	StatusSuccess  ReceiptStatus = "success"
	StatusReverted ReceiptStatus = "reverted"
	StatusTimeout  ReceiptStatus = "timeout"
)

// Receipt is the terminal record of a dispatched transaction. At most
// one Receipt exists per (RunID, Hash) pair, per spec.md §3.
type Receipt struct {
	RunID       uint64
	Hash        common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	GasUsed     uint64
	Status      ReceiptStatus
	Error       string
	LandedAt    time.Time
}

// Run describes one invocation of the spam pipeline.
type Run struct {
	RunID         uint64
	ScenarioName  string
	ScenarioLabel string
	CampaignName  string
	StageName     string
	StartBlock    uint64
	EndBlock      uint64
	TxsPerDuration uint64
	Duration      uint64 // batches dispatched (tps) or blocks (tpb)
	Timeout       time.Duration
	RPCURL        string
}

// NamedTx is a DB-persisted record resolving a user-assigned name to an
// address — the ContractRegistry's durable backing store.
type NamedTx struct {
	Name      string
	Address   *common.Address
	TxHash    common.Hash
	RPCURL    string
	ScenarioLabel string
}

// ReplayReport records a replayed run (same scenario, different target).
type ReplayReport struct {
	ID          uint64
	RunID       uint64
	RPCURL      string
	CreatedAt   time.Time
}
