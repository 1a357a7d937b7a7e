// Package reconciler implements the control loop of SPEC_FULL.md §4.8: one
// pass per network that reads rules and network state, partitions the
// deployment universe, diffs the target allocation set against actuals,
// and enqueues the actions needed to close the gap.
package reconciler

import (
	"context"
	"fmt"

	"github.com/graphprotocol/indexer-sub006/core"
)

// Phase names the observational phase-change events a pass emits to the
// status broadcaster (§2.3); purely informational, never read back.
type Phase string

const (
	PhaseStarted        Phase = "started"
	PhaseRulesRead       Phase = "rules-read"
	PhaseDiffed          Phase = "diffed"
	PhaseQueued          Phase = "queued"
	PhaseBatchSubmitted Phase = "batch-submitted"
	PhaseDone            Phase = "done"
)

// RuleProvider is the subset of rules.Engine the reconciler depends on.
type RuleProvider interface {
	List(network string) ([]core.IndexingRule, error)
}

// Monitor is the subset of networkmonitor.Monitor the reconciler reads
// active allocations from.
type Monitor interface {
	StartPass()
	CurrentEpoch(ctx context.Context) (number, startBlock, elapsedBlocks int64, err error)
	Allocations(ctx context.Context, status core.AllocationStatus) ([]core.Allocation, error)
}

// ActionQueue is the subset of actions.Queue the reconciler enqueues
// allocate/unallocate/reallocate actions onto.
type ActionQueue interface {
	Enqueue(action core.Action) (core.Action, error)
	Fetch(filter core.ActionFilter, orderBy string, orderDir core.OrderDirection) ([]core.Action, error)
}

// Broadcaster is the subset of the status broadcaster the reconciler
// reports phase-change events to. Optional: a nil Broadcaster simply
// skips event emission.
type Broadcaster interface {
	BroadcastPhase(network string, phase Phase, detail string)
}

// CapacityProvider reports the operator's declared capacity for a
// network: how many deployments it is willing to allocate to at once, and
// the default allocation amount for deployments with no explicit rule.
type CapacityProvider interface {
	DeclaredCapacity(network string) (maxParallelDeployments int, defaultAllocationAmount string)
}

// KnownDeployments enumerates every deployment this indexer could
// plausibly allocate to on network — typically sourced from the
// subgraph's deployment list or the operator's declared deployment set.
type KnownDeployments interface {
	Deployments(network string) ([]string, error)
}

// Reconciler runs reconciliation passes for one network.
type Reconciler struct {
	network     string
	rules       RuleProvider
	monitor     Monitor
	queue       ActionQueue
	broadcaster Broadcaster
	capacity    CapacityProvider
	deployments KnownDeployments
	worthy      func(rule core.IndexingRule, signal Signal) bool
}

// Signal has the shape of rules.Signal, declared here so reconciler does
// not need to import rules just for this one type. Pass does not call
// worthy and reads no signal: partitionDeployments manages every
// deployment whose basis is always, rules or dips, with no threshold check.
type Signal = struct {
	Signal           float64
	AverageQueryFees float64
	Stake            float64
}

// New constructs a reconciler for one network. worthy is rules.Worthy,
// injected so this package does not import rules directly (it already
// depends on RuleProvider, an interface over rules.Engine).
func New(network string, rules RuleProvider, monitor Monitor, queue ActionQueue, broadcaster Broadcaster, capacity CapacityProvider, deployments KnownDeployments, worthy func(core.IndexingRule, Signal) bool) *Reconciler {
	return &Reconciler{
		network: network, rules: rules, monitor: monitor, queue: queue,
		broadcaster: broadcaster, capacity: capacity, deployments: deployments, worthy: worthy,
	}
}

func (r *Reconciler) emit(phase Phase, detail string) {
	if r.broadcaster != nil {
		r.broadcaster.BroadcastPhase(r.network, phase, detail)
	}
}

// partition is the manage/offchain/never split of §4.8 step 2.
type partition struct {
	manage   []string
	offchain []string
}

// Pass runs a single reconciliation pass: read rules and state, partition
// deployments, diff target vs actual, enqueue the difference.
func (r *Reconciler) Pass(ctx context.Context) error {
	r.monitor.StartPass()
	r.emit(PhaseStarted, "")

	ruleList, err := r.rules.List(r.network)
	if err != nil {
		return fmt.Errorf("reconciler: list rules: %w", err)
	}
	ruleByDeployment := make(map[string]core.IndexingRule, len(ruleList))
	for _, rule := range ruleList {
		if rule.IdentifierType == core.IdentifierDeployment {
			ruleByDeployment[rule.Identifier] = rule
		}
	}
	var global core.IndexingRule
	for _, rule := range ruleList {
		if rule.Identifier == core.GlobalIdentifier {
			global = rule
		}
	}
	r.emit(PhaseRulesRead, fmt.Sprintf("%d rules", len(ruleList)))

	deploymentIDs, err := r.deployments.Deployments(r.network)
	if err != nil {
		return fmt.Errorf("reconciler: list deployments: %w", err)
	}
	part := r.partitionDeployments(deploymentIDs, ruleByDeployment, global)

	active, err := r.monitor.Allocations(ctx, core.AllocationActive)
	if err != nil {
		return fmt.Errorf("reconciler: read active allocations: %w", err)
	}
	epoch, _, _, err := r.monitor.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: read current epoch: %w", err)
	}

	actives := make(map[string][]core.Allocation)
	for _, a := range active {
		actives[a.SubgraphDeployment] = append(actives[a.SubgraphDeployment], a)
	}

	nonTerminal, err := r.nonTerminalByDeployment()
	if err != nil {
		return err
	}

	diffs := r.diff(part, ruleByDeployment, global, actives, epoch, nonTerminal)
	r.emit(PhaseDiffed, fmt.Sprintf("%d actions", len(diffs)))

	for _, action := range diffs {
		if _, err := r.queue.Enqueue(action); err != nil {
			if kind, ok := core.KindOf(err); ok && (kind == core.KindConstraint || kind == core.KindValidation) {
				continue // already has a non-terminal action, or fails validation: skip silently
			}
			return fmt.Errorf("reconciler: enqueue action: %w", err)
		}
	}
	r.emit(PhaseQueued, fmt.Sprintf("%d actions", len(diffs)))
	r.emit(PhaseDone, "")
	return nil
}

func (r *Reconciler) nonTerminalByDeployment() (map[string]bool, error) {
	actions, err := r.queue.Fetch(core.ActionFilter{ProtocolNetwork: r.network}, "", "")
	if err != nil {
		return nil, fmt.Errorf("reconciler: fetch in-flight actions: %w", err)
	}
	out := make(map[string]bool)
	for _, a := range actions {
		if a.Status.NonTerminal() {
			out[a.DeploymentID] = true
		}
	}
	return out, nil
}

func (r *Reconciler) partitionDeployments(deploymentIDs []string, ruleByDeployment map[string]core.IndexingRule, global core.IndexingRule) partition {
	var part partition
	for _, id := range deploymentIDs {
		rule, ok := ruleByDeployment[id]
		if !ok {
			rule = global
			rule.Identifier = id
		}
		basis := rule.DecisionBasis
		if basis == "" {
			basis = global.DecisionBasis
		}
		switch basis {
		case core.DecisionOffchain:
			part.offchain = append(part.offchain, id)
		case core.DecisionNever:
			// not managed, not synced: excluded entirely.
		case core.DecisionAlways, core.DecisionRules, core.DecisionDips:
			part.manage = append(part.manage, id)
		default:
			// no decision basis at all: treat as never.
		}
	}
	return part
}

// diff computes the allocate/unallocate/reallocate actions needed to move
// from the actual allocation set to the target set (§4.8 steps 3-5).
func (r *Reconciler) diff(part partition, ruleByDeployment map[string]core.IndexingRule, global core.IndexingRule, actives map[string][]core.Allocation, epoch int64, nonTerminal map[string]bool) []core.Action {
	var actions []core.Action
	managed := make(map[string]bool, len(part.manage))
	for _, id := range part.manage {
		managed[id] = true
	}

	for _, id := range part.manage {
		if nonTerminal[id] {
			continue
		}
		rule := resolvedRule(id, ruleByDeployment, global)
		parallel := 1
		if rule.ParallelAllocations != nil {
			parallel = *rule.ParallelAllocations
		}
		amount := "0"
		if rule.AllocationAmount != nil {
			amount = *rule.AllocationAmount
		}
		lifetime := -1
		if rule.AllocationLifetime != nil {
			lifetime = *rule.AllocationLifetime
		}
		autoRenewal := rule.AutoRenewal != nil && *rule.AutoRenewal

		current := actives[id]
		for len(current) < parallel {
			actions = append(actions, core.Action{
				Type: core.ActionAllocate, DeploymentID: id, Amount: strPtr(amount),
				ProtocolNetwork: r.network, Source: "reconciler",
			})
			current = append(current, core.Allocation{SubgraphDeployment: id})
			break // one allocate per pass per deployment; the next pass re-evaluates
		}
		if lifetime >= 0 {
			for _, alloc := range actives[id] {
				age := epoch - alloc.CreatedAtEpoch
				if age < int64(lifetime) {
					continue
				}
				allocID := alloc.ID
				if autoRenewal {
					actions = append(actions, core.Action{
						Type: core.ActionReallocate, DeploymentID: id, AllocationID: &allocID, Amount: strPtr(amount),
						ProtocolNetwork: r.network, Source: "reconciler",
					})
				} else {
					actions = append(actions, core.Action{
						Type: core.ActionUnallocate, DeploymentID: id, AllocationID: &allocID,
						ProtocolNetwork: r.network, Source: "reconciler",
					})
				}
			}
		}
	}

	for deploymentID, allocs := range actives {
		if managed[deploymentID] || nonTerminal[deploymentID] {
			continue
		}
		for _, alloc := range allocs {
			allocID := alloc.ID
			actions = append(actions, core.Action{
				Type: core.ActionUnallocate, DeploymentID: deploymentID, AllocationID: &allocID,
				ProtocolNetwork: r.network, Source: "reconciler", Reason: "deployment moved out of managed decision basis",
			})
		}
	}
	return actions
}

func resolvedRule(deploymentID string, byDeployment map[string]core.IndexingRule, global core.IndexingRule) core.IndexingRule {
	if rule, ok := byDeployment[deploymentID]; ok {
		return core.Merge(rule, global)
	}
	return global
}

func strPtr(s string) *string { return &s }
