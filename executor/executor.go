// Package executor implements the batch executor of SPEC_FULL.md §4.7:
// composing one network's approved actions into a single atomic multicall,
// submitting it, and reconciling the receipt's events back to the actions
// that produced them.
package executor

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/graphprotocol/indexer-sub006/allocmgr"
	"github.com/graphprotocol/indexer-sub006/chain"
	"github.com/graphprotocol/indexer-sub006/core"
)

var tracer = otel.Tracer("github.com/graphprotocol/indexer-sub006/executor")

// Preparer is the subset of allocmgr.Manager the executor depends on.
type Preparer interface {
	Prepare(ctx context.Context, action core.Action) (allocmgr.PreparedTransaction, error)
}

// Submitter is the subset of chain.TransactionPrimitive the executor uses
// to submit the composed batch.
type Submitter interface {
	SubmitMulticall(ctx context.Context, calls [][]byte) (chain.Receipt, error)
}

// RuleStore is the subset of rules.Engine the executor uses to upsert a
// rule for a deployment that has none matching after a successful
// allocate/unallocate, per §4.7 step 5.
type RuleStore interface {
	UpsertDecisionBasis(network, deploymentID, decisionBasis string) error
}

// ActionResult is the per-action outcome of one batch submission.
type ActionResult struct {
	Action core.Action
	Status core.ActionStatus
	Reason string
}

// Executor submits one network's approved actions as a single batch.
type Executor struct {
	network   string
	prepare   Preparer
	submit    Submitter
	ruleStore RuleStore
}

// New constructs a batch executor for one network.
func New(network string, preparer Preparer, submitter Submitter, ruleStore RuleStore) *Executor {
	return &Executor{network: network, prepare: preparer, submit: submitter, ruleStore: ruleStore}
}

// Submit drives actions (already ordered by priority DESC, id ASC per
// §4.7/§8) through preparation, submits whatever survives as one
// multicall, and returns every action's final outcome.
func (e *Executor) Submit(ctx context.Context, actions []core.Action) ([]ActionResult, error) {
	ctx, span := tracer.Start(ctx, "executor.Submit", attribute.String("network", e.network))
	defer span.End()

	sorted := make([]core.Action, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	results := make([]ActionResult, 0, len(sorted))
	var prepared []allocmgr.PreparedTransaction
	for _, action := range sorted {
		tx, err := e.prepare.Prepare(ctx, action)
		if err != nil {
			results = append(results, ActionResult{Action: action, Status: core.ActionFailed, Reason: err.Error()})
			continue
		}
		prepared = append(prepared, tx)
	}

	if len(prepared) == 0 {
		return results, nil
	}

	calls := make([][]byte, len(prepared))
	for i, p := range prepared {
		calls[i] = p.CallData
	}
	receipt, err := e.submit.SubmitMulticall(ctx, calls)
	if err != nil {
		return failAll(results, prepared, "batch submission failed: "+err.Error()), nil
	}
	if receipt.Paused {
		return failAll(results, prepared, "transaction reverted: protocol paused"), nil
	}
	if receipt.Unauth {
		return failAll(results, prepared, "transaction reverted: indexer unauthorized"), nil
	}
	if receipt.Reverted {
		reason := receipt.RevertReason
		if reason == "" {
			reason = "unknown"
		}
		return failAll(results, prepared, "transaction reverted: "+reason), nil
	}

	for _, p := range prepared {
		result := e.matchReceipt(p, receipt)
		results = append(results, result)
		if result.Status != core.ActionSuccess {
			continue
		}
		switch p.Action.Type {
		case core.ActionAllocate, core.ActionReallocate:
			if e.ruleStore != nil {
				_ = e.ruleStore.UpsertDecisionBasis(e.network, p.Action.DeploymentID, "always")
			}
		case core.ActionUnallocate:
			if e.ruleStore != nil {
				_ = e.ruleStore.UpsertDecisionBasis(e.network, p.Action.DeploymentID, "offchain")
			}
		}
	}
	return results, nil
}

// matchReceipt finds the event expected for p's action type in receipt,
// matched by subgraphDeploymentID for allocate or allocationID for
// unallocate/reallocate. A missing event is that action's failure: it was
// included in the submitted calldata but never mined.
func (e *Executor) matchReceipt(p allocmgr.PreparedTransaction, receipt chain.Receipt) ActionResult {
	switch p.Action.Type {
	case core.ActionAllocate:
		for _, ev := range receipt.Events {
			if ev.Topic == "AllocationCreated" && ev.SubgraphDeploymentID == p.Action.DeploymentID {
				return ActionResult{Action: p.Action, Status: core.ActionSuccess}
			}
		}
		return ActionResult{Action: p.Action, Status: core.ActionFailed, Reason: "never mined: no AllocationCreated event for this action"}
	case core.ActionUnallocate:
		for _, ev := range receipt.Events {
			if ev.Topic == "AllocationClosed" && ev.AllocationID == p.CloseAllocationID {
				return ActionResult{Action: p.Action, Status: core.ActionSuccess}
			}
		}
		return ActionResult{Action: p.Action, Status: core.ActionFailed, Reason: "never mined: no AllocationClosed event for this action"}
	case core.ActionReallocate:
		closed, created := false, false
		for _, ev := range receipt.Events {
			if ev.Topic == "AllocationClosed" && ev.AllocationID == p.CloseAllocationID {
				closed = true
			}
			if ev.Topic == "AllocationCreated" && ev.SubgraphDeploymentID == p.Action.DeploymentID {
				created = true
			}
		}
		if closed && created {
			return ActionResult{Action: p.Action, Status: core.ActionSuccess}
		}
		return ActionResult{Action: p.Action, Status: core.ActionFailed, Reason: "never mined: missing close and/or create event for this action"}
	default:
		return ActionResult{Action: p.Action, Status: core.ActionFailed, Reason: fmt.Sprintf("unrecognized action type %s", p.Action.Type)}
	}
}

func failAll(results []ActionResult, prepared []allocmgr.PreparedTransaction, reason string) []ActionResult {
	for _, p := range prepared {
		results = append(results, ActionResult{Action: p.Action, Status: core.ActionFailed, Reason: reason})
	}
	return results
}
