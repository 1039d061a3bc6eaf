package execnode

import (
	"sync"
)

// Registry holds registered execution layer capability definitions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*ExecutionLayerCapabilities
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*ExecutionLayerCapabilities),
	}
}

// Register adds or updates an execution layer capability definition.
func (r *Registry) Register(caps *ExecutionLayerCapabilities) {
	if caps == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[caps.Name] = caps
}

// Get retrieves capabilities by name. Returns nil if not found.
func (r *Registry) Get(name string) *ExecutionLayerCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Names returns all registered execution layer names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry returns a registry pre-populated with every
// execution layer the spamming engine has been pointed at, spanning
// both the OP-stack block-builder pipeline and the wider
// Ethereum-family nodes §6's EXTERNAL INTERFACES targets directly.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(OpRethCapabilities())
	r.Register(GravityRethCapabilities())
	r.Register(CDKErigonCapabilities())
	r.Register(GethCapabilities())
	r.Register(ErigonCapabilities())
	r.Register(BesuCapabilities())
	r.Register(NethermindCapabilities())
	r.Register(AnvilCapabilities())
	// Legacy alias: "reth" maps to op-reth
	r.Register(RethCapabilities())
	return r
}

// OpRethCapabilities returns the capabilities for op-reth with external block-builder.
// Architecture: load-generator -> block-builder:13000 -> op-reth Engine API:8551
func OpRethCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                     "op-reth",
		HasExternalBlockBuilder:  true,
		SupportsPreconfirmations: true,
		SupportsBuilderStatusAPI: true,
		SupportsBlockMetricsWS:   true,
	}
}

// RethCapabilities returns capabilities for the "reth" alias (same as op-reth).
// This provides backwards compatibility with EXECUTION_LAYER=reth.
func RethCapabilities() *ExecutionLayerCapabilities {
	caps := OpRethCapabilities()
	caps.Name = "reth"
	return caps
}

// GravityRethCapabilities returns the capabilities for gravity-reth (standalone sequencer).
// Architecture: load-generator -> gravity-reth:8545 (direct sequencer)
func GravityRethCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                     "gravity-reth",
		HasExternalBlockBuilder:  false,
		SupportsPreconfirmations: false,
		SupportsBuilderStatusAPI: false,
		SupportsBlockMetricsWS:   false,
	}
}

// CDKErigonCapabilities returns the capabilities for cdk-erigon (standalone sequencer).
// Architecture: load-generator -> cdk-erigon:8545 (direct sequencer)
func CDKErigonCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                     "cdk-erigon",
		HasExternalBlockBuilder:  false,
		SupportsPreconfirmations: false,
		SupportsBuilderStatusAPI: false,
		SupportsBlockMetricsWS:   false,
		RequiresLegacyTx:         true,
	}
}

// GethCapabilities returns the capabilities for go-ethereum's geth,
// the reference client: direct RPC, no builder sidecar, no
// preconfirmation or block-metrics websockets, full EIP-1559/4844
// envelope support.
func GethCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                     "geth",
		HasExternalBlockBuilder:  false,
		SupportsPreconfirmations: false,
		SupportsBuilderStatusAPI: false,
		SupportsBlockMetricsWS:   false,
	}
}

// ErigonCapabilities returns the capabilities for standalone Erigon
// (not the cdk-erigon fork, which gets its own entry above).
func ErigonCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                     "erigon",
		HasExternalBlockBuilder:  false,
		SupportsPreconfirmations: false,
		SupportsBuilderStatusAPI: false,
		SupportsBlockMetricsWS:   false,
	}
}

// BesuCapabilities returns the capabilities for Hyperledger Besu.
func BesuCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                     "besu",
		HasExternalBlockBuilder:  false,
		SupportsPreconfirmations: false,
		SupportsBuilderStatusAPI: false,
		SupportsBlockMetricsWS:   false,
	}
}

// NethermindCapabilities returns the capabilities for Nethermind.
func NethermindCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                     "nethermind",
		HasExternalBlockBuilder:  false,
		SupportsPreconfirmations: false,
		SupportsBuilderStatusAPI: false,
		SupportsBlockMetricsWS:   false,
	}
}

// AnvilCapabilities returns the capabilities for Foundry's anvil, the
// in-memory dev node most scenario files are smoke-tested against.
// Anvil accepts both legacy and 1559 envelopes but has no builder
// sidecar or preconfirmation feed to exercise.
func AnvilCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                     "anvil",
		HasExternalBlockBuilder:  false,
		SupportsPreconfirmations: false,
		SupportsBuilderStatusAPI: false,
		SupportsBlockMetricsWS:   false,
	}
}
