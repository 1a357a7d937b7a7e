package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphprotocol/indexer-sub006/allocmgr"
	"github.com/graphprotocol/indexer-sub006/chain"
	"github.com/graphprotocol/indexer-sub006/core"
)

type fakePreparer struct {
	fail map[string]bool
}

func (p *fakePreparer) Prepare(ctx context.Context, action core.Action) (allocmgr.PreparedTransaction, error) {
	if p.fail[action.DeploymentID] {
		return allocmgr.PreparedTransaction{}, core.NewPreparationError("deliberately failing " + action.DeploymentID)
	}
	tx := allocmgr.PreparedTransaction{Action: action, CallData: []byte("call:" + action.DeploymentID)}
	switch action.Type {
	case core.ActionAllocate:
		tx.NewAllocationID = "0x" + action.DeploymentID
	case core.ActionUnallocate:
		tx.CloseAllocationID = *action.AllocationID
	case core.ActionReallocate:
		tx.CloseAllocationID = *action.AllocationID
		tx.NewAllocationID = "0x" + action.DeploymentID
	}
	return tx, nil
}

type fakeSubmitter struct {
	receipt chain.Receipt
	err     error
}

func (s *fakeSubmitter) SubmitMulticall(ctx context.Context, calls [][]byte) (chain.Receipt, error) {
	return s.receipt, s.err
}

type fakeRuleStore struct {
	calls []string
}

func (r *fakeRuleStore) UpsertDecisionBasis(network, deploymentID, decisionBasis string) error {
	r.calls = append(r.calls, network+":"+deploymentID+":"+decisionBasis)
	return nil
}

func strp(s string) *string { return &s }

func TestSubmitReturnsEarlyWhenEveryActionFailsPreparation(t *testing.T) {
	preparer := &fakePreparer{fail: map[string]bool{"Qm1": true}}
	submitter := &fakeSubmitter{}
	e := New("eip155:1", preparer, submitter, &fakeRuleStore{})

	results, err := e.Submit(context.Background(), []core.Action{{Type: core.ActionAllocate, DeploymentID: "Qm1"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ActionFailed, results[0].Status)
}

func TestSubmitMarksAllocateSuccessOnMatchingEvent(t *testing.T) {
	preparer := &fakePreparer{}
	submitter := &fakeSubmitter{receipt: chain.Receipt{Events: []chain.EventLog{
		{Topic: "AllocationCreated", SubgraphDeploymentID: "Qm1"},
	}}}
	rules := &fakeRuleStore{}
	e := New("eip155:1", preparer, submitter, rules)

	results, err := e.Submit(context.Background(), []core.Action{{Type: core.ActionAllocate, DeploymentID: "Qm1"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ActionSuccess, results[0].Status)
	assert.Equal(t, []string{"eip155:1:Qm1:always"}, rules.calls)
}

func TestSubmitMarksAllocateFailedWhenEventNeverMined(t *testing.T) {
	preparer := &fakePreparer{}
	submitter := &fakeSubmitter{receipt: chain.Receipt{}}
	e := New("eip155:1", preparer, submitter, &fakeRuleStore{})

	results, err := e.Submit(context.Background(), []core.Action{{Type: core.ActionAllocate, DeploymentID: "Qm1"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ActionFailed, results[0].Status)
	assert.Contains(t, results[0].Reason, "never mined")
}

func TestSubmitFailsEveryPreparedActionWhenPaused(t *testing.T) {
	preparer := &fakePreparer{}
	submitter := &fakeSubmitter{receipt: chain.Receipt{Paused: true}}
	e := New("eip155:1", preparer, submitter, &fakeRuleStore{})

	results, err := e.Submit(context.Background(), []core.Action{
		{Type: core.ActionAllocate, DeploymentID: "Qm1"},
		{Type: core.ActionAllocate, DeploymentID: "Qm2"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, core.ActionFailed, r.Status)
		assert.Contains(t, r.Reason, "protocol paused")
	}
}

func TestSubmitOrdersByPriorityThenID(t *testing.T) {
	preparer := &fakePreparer{}
	submitter := &fakeSubmitter{receipt: chain.Receipt{Events: []chain.EventLog{
		{Topic: "AllocationCreated", SubgraphDeploymentID: "Qm-low"},
		{Topic: "AllocationCreated", SubgraphDeploymentID: "Qm-high"},
	}}}
	e := New("eip155:1", preparer, submitter, &fakeRuleStore{})

	results, err := e.Submit(context.Background(), []core.Action{
		{ID: 2, Type: core.ActionAllocate, DeploymentID: "Qm-low", Priority: 0},
		{ID: 1, Type: core.ActionAllocate, DeploymentID: "Qm-high", Priority: 10},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Qm-high", results[0].Action.DeploymentID)
	assert.Equal(t, "Qm-low", results[1].Action.DeploymentID)
}

func TestSubmitReallocateRequiresBothCloseAndCreateEvents(t *testing.T) {
	preparer := &fakePreparer{}
	submitter := &fakeSubmitter{receipt: chain.Receipt{Events: []chain.EventLog{
		{Topic: "AllocationClosed", AllocationID: "0xold"},
	}}}
	e := New("eip155:1", preparer, submitter, &fakeRuleStore{})

	results, err := e.Submit(context.Background(), []core.Action{
		{Type: core.ActionReallocate, DeploymentID: "Qm1", AllocationID: strp("0xold")},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ActionFailed, results[0].Status)
}
