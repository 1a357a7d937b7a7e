package core

import "testing"

func strPtr(s string) *string { return &s }

func TestMergeFallsBackToGlobal(t *testing.T) {
	lifetime10 := 10
	offchain := DecisionOffchain
	autoRenewFalse := false
	global := IndexingRule{
		Identifier:         GlobalIdentifier,
		ProtocolNetwork:    "eip155:1",
		AllocationLifetime: intPtr(15),
		MinAverageQueryFees: strPtr("1"),
	}
	deployment := IndexingRule{
		Identifier:         "Qmdeployment",
		ProtocolNetwork:    "eip155:1",
		AllocationLifetime: &lifetime10,
		DecisionBasis:      offchain,
		AutoRenewal:        &autoRenewFalse,
	}

	merged := Merge(deployment, global)

	if *merged.AllocationLifetime != 10 {
		t.Errorf("AllocationLifetime = %d, want 10", *merged.AllocationLifetime)
	}
	if *merged.MinAverageQueryFees != "1" {
		t.Errorf("MinAverageQueryFees = %q, want \"1\"", *merged.MinAverageQueryFees)
	}
	if merged.DecisionBasis != DecisionOffchain {
		t.Errorf("DecisionBasis = %q, want offchain", merged.DecisionBasis)
	}
	if merged.AutoRenewal == nil || *merged.AutoRenewal != false {
		t.Errorf("AutoRenewal = %v, want false", merged.AutoRenewal)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	global := DefaultIndexingRule("eip155:1")
	deployment := IndexingRule{Identifier: "Qmx", ProtocolNetwork: "eip155:1"}

	once := Merge(deployment, global)
	twice := Merge(once, global)

	if *once.AllocationAmount != *twice.AllocationAmount {
		t.Errorf("merge not idempotent on AllocationAmount")
	}
	if once.DecisionBasis != twice.DecisionBasis {
		t.Errorf("merge not idempotent on DecisionBasis")
	}
}

func TestDefaultIndexingRuleValues(t *testing.T) {
	d := DefaultIndexingRule("eip155:1")
	if d.DecisionBasis != DecisionRules {
		t.Errorf("default DecisionBasis = %q, want rules", d.DecisionBasis)
	}
	if d.AutoRenewal == nil || !*d.AutoRenewal {
		t.Errorf("default AutoRenewal should be true")
	}
}
