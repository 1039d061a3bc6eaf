// Package runner implements the Scenario Runner and Campaign Runner:
// the per-run Load->Fund->Deploy->Setup->Spam->Finalize lifecycle
// (spec.md §4.5) and the staged, weighted composition of multiple
// runs (spec.md §4.6).
package runner

import (
	"math/big"

	"github.com/gateway-fm/contender/pkg/txtypes"
)

// ScenarioDefinition is a fully-parsed scenario: the boundary artifact
// TOML parsing (out of scope per spec.md §1) is expected to hand the
// Scenario Runner. Placeholders in its templates are resolved lazily
// by internal/template at plan time, not here.
type ScenarioDefinition struct {
	Name  string
	Label string
	Env   map[string]string // scenario-file [env] defaults

	Creates []txtypes.TxTemplate // [[create]], Kind must be KindCreate
	Setups  []txtypes.TxTemplate // [[setup]]
	Spam    []SpamStepDef        // [[spam]]

	// MinBalance is the funding floor every agent signer must meet
	// before Setup/Spam run (spec.md §4.5 step 2). Nil skips Fund
	// entirely — a scenario with no value-bearing steps need not
	// pre-fund its agents.
	MinBalance *big.Int
}

// SpamStepDef is one [[spam]] directive: either a lone tx template or
// a bundle, bound to the agent pool its members draw signers from.
type SpamStepDef struct {
	Tx     *txtypes.TxTemplate
	Bundle *txtypes.Bundle
}

// PoolName returns the agent pool this step draws signers from. Every
// member of a bundle step shares one FromPool, since generator.Step
// binds exactly one *signer.AgentPool per step.
func (s SpamStepDef) PoolName() string {
	if s.Tx != nil {
		return s.Tx.FromPool
	}
	if s.Bundle != nil && len(s.Bundle.Txs) > 0 {
		return s.Bundle.Txs[0].FromPool
	}
	return ""
}

// PoolNames returns the distinct agent pool names the scenario's spam
// steps reference, in first-seen order, used to size each pool via
// signer.PoolSize(rate, len(PoolNames())) per spec.md §3.
func (sc *ScenarioDefinition) PoolNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, step := range sc.Spam {
		name := step.PoolName()
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ScenarioHash identifies this scenario's setup directives for the
// resumable setup-progress checkpoint (SPEC_FULL §4 supplement).
// Label-qualified so the same scenario run under two labels resumes
// independently.
func (sc *ScenarioDefinition) ScenarioHash() string {
	return sc.Name + "\x00" + sc.Label
}
