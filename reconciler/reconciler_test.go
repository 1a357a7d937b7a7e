package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphprotocol/indexer-sub006/core"
)

type fakeRules struct{ rules []core.IndexingRule }

func (f *fakeRules) List(network string) ([]core.IndexingRule, error) { return f.rules, nil }

type fakeMonitor struct {
	epoch       int64
	allocations []core.Allocation
}

func (f *fakeMonitor) StartPass() {}
func (f *fakeMonitor) CurrentEpoch(ctx context.Context) (int64, int64, int64, error) {
	return f.epoch, 0, 0, nil
}
func (f *fakeMonitor) Allocations(ctx context.Context, status core.AllocationStatus) ([]core.Allocation, error) {
	var out []core.Allocation
	for _, a := range f.allocations {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeQueue struct {
	enqueued []core.Action
	existing []core.Action
}

func (f *fakeQueue) Enqueue(action core.Action) (core.Action, error) {
	f.enqueued = append(f.enqueued, action)
	return action, nil
}
func (f *fakeQueue) Fetch(filter core.ActionFilter, orderBy string, orderDir core.OrderDirection) ([]core.Action, error) {
	return f.existing, nil
}

type fakeDeployments struct{ ids []string }

func (f *fakeDeployments) Deployments(network string) ([]string, error) { return f.ids, nil }

func intp(i int) *int       { return &i }
func strp(s string) *string { return &s }

func newTestReconciler(rules []core.IndexingRule, monitor *fakeMonitor, queue *fakeQueue, deployments []string) *Reconciler {
	return New("eip155:1", &fakeRules{rules: rules}, monitor, queue, nil, nil, &fakeDeployments{ids: deployments}, nil)
}

func TestPassAllocatesForManagedDeploymentWithNoCurrentAllocation(t *testing.T) {
	rules := []core.IndexingRule{
		{Identifier: "Qm1", IdentifierType: core.IdentifierDeployment, ProtocolNetwork: "eip155:1",
			DecisionBasis: core.DecisionAlways, ParallelAllocations: intp(1), AllocationAmount: strp("100")},
	}
	monitor := &fakeMonitor{epoch: 10}
	queue := &fakeQueue{}
	r := newTestReconciler(rules, monitor, queue, []string{"Qm1"})

	err := r.Pass(context.Background())
	require.NoError(t, err)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, core.ActionAllocate, queue.enqueued[0].Type)
	assert.Equal(t, "Qm1", queue.enqueued[0].DeploymentID)
}

func TestPassSkipsDeploymentWithNonTerminalActionInFlight(t *testing.T) {
	rules := []core.IndexingRule{
		{Identifier: "Qm1", IdentifierType: core.IdentifierDeployment, ProtocolNetwork: "eip155:1",
			DecisionBasis: core.DecisionAlways, ParallelAllocations: intp(1), AllocationAmount: strp("100")},
	}
	monitor := &fakeMonitor{epoch: 10}
	queue := &fakeQueue{existing: []core.Action{
		{DeploymentID: "Qm1", Status: core.ActionQueued, ProtocolNetwork: "eip155:1"},
	}}
	r := newTestReconciler(rules, monitor, queue, []string{"Qm1"})

	err := r.Pass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queue.enqueued)
}

func TestPassUnallocatesDeploymentsMovedOutOfManagedBasis(t *testing.T) {
	rules := []core.IndexingRule{
		{Identifier: "Qm1", IdentifierType: core.IdentifierDeployment, ProtocolNetwork: "eip155:1", DecisionBasis: core.DecisionNever},
	}
	monitor := &fakeMonitor{epoch: 10, allocations: []core.Allocation{
		{ID: "0xabc", SubgraphDeployment: "Qm1", Status: core.AllocationActive, CreatedAtEpoch: 1},
	}}
	queue := &fakeQueue{}
	r := newTestReconciler(rules, monitor, queue, []string{"Qm1"})

	err := r.Pass(context.Background())
	require.NoError(t, err)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, core.ActionUnallocate, queue.enqueued[0].Type)
	assert.Equal(t, "0xabc", *queue.enqueued[0].AllocationID)
}

func TestPassReallocatesAgedOutAllocationsWithAutoRenewal(t *testing.T) {
	rules := []core.IndexingRule{
		{Identifier: "Qm1", IdentifierType: core.IdentifierDeployment, ProtocolNetwork: "eip155:1",
			DecisionBasis: core.DecisionAlways, ParallelAllocations: intp(1), AllocationAmount: strp("100"),
			AllocationLifetime: intp(5), AutoRenewal: boolp(true)},
	}
	monitor := &fakeMonitor{epoch: 20, allocations: []core.Allocation{
		{ID: "0xabc", SubgraphDeployment: "Qm1", Status: core.AllocationActive, CreatedAtEpoch: 10},
	}}
	queue := &fakeQueue{}
	r := newTestReconciler(rules, monitor, queue, []string{"Qm1"})

	err := r.Pass(context.Background())
	require.NoError(t, err)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, core.ActionReallocate, queue.enqueued[0].Type)
}

func boolp(b bool) *bool { return &b }
