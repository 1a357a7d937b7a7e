package allocmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphprotocol/indexer-sub006/chain"
	"github.com/graphprotocol/indexer-sub006/core"
	"github.com/graphprotocol/indexer-sub006/deploymentnode"
)

type fakeMonitor struct {
	epoch       int64
	freeStake   string
	active      []core.Allocation
	byID        map[string]core.Allocation
	poi         string
	poiErr      error
}

func (m *fakeMonitor) CurrentEpoch(ctx context.Context) (int64, int64, int64, error) {
	return m.epoch, 0, 0, nil
}
func (m *fakeMonitor) FreeStake(ctx context.Context) (string, error) { return m.freeStake, nil }
func (m *fakeMonitor) Allocations(ctx context.Context, status core.AllocationStatus) ([]core.Allocation, error) {
	return m.active, nil
}
func (m *fakeMonitor) Allocation(ctx context.Context, id string) (core.Allocation, bool, error) {
	a, ok := m.byID[id]
	return a, ok, nil
}
func (m *fakeMonitor) ResolvePOI(ctx context.Context, deploymentID string, closedAtEpoch int64, supplied *string, force bool) (string, error) {
	return m.poi, m.poiErr
}

type fakeTxPrimitive struct{}

func (f *fakeTxPrimitive) EncodeAllocateFrom(indexer, allocationID, deploymentID, amount string, proof []byte) ([]byte, error) {
	return []byte("allocateFrom:" + allocationID), nil
}
func (f *fakeTxPrimitive) EncodeCloseAllocation(allocationID string, poi []byte) ([]byte, error) {
	return []byte("closeAllocation:" + allocationID), nil
}
func (f *fakeTxPrimitive) EncodeCloseAndAllocate(closeAllocationID string, closePoI []byte, newAllocationID, deploymentID, amount string, proof []byte) ([]byte, error) {
	return []byte("closeAndAllocate:" + closeAllocationID + ":" + newAllocationID), nil
}
func (f *fakeTxPrimitive) SubmitMulticall(ctx context.Context, calls [][]byte) (chain.Receipt, error) {
	return chain.Receipt{}, nil
}

type fakeNode struct{}

func (f *fakeNode) Create(ctx context.Context, deploymentID string) error         { return nil }
func (f *fakeNode) Deploy(ctx context.Context, deploymentID, nodeID string) error { return nil }
func (f *fakeNode) Reassign(ctx context.Context, deploymentID, nodeID string) error {
	return nil
}
func (f *fakeNode) Remove(ctx context.Context, deploymentID string) error { return nil }
func (f *fakeNode) POI(ctx context.Context, deploymentID string, blockNumber int64) (string, error) {
	return "", nil
}

type fakeCache struct{ done map[string]bool }

func (c *fakeCache) Done(key string) (bool, error) { return c.done[key], nil }
func (c *fakeCache) MarkDone(key string) error {
	if c.done == nil {
		c.done = map[string]bool{}
	}
	c.done[key] = true
	return nil
}

func strp(s string) *string { return &s }

func TestPrepareAllocateRejectsMissingAmount(t *testing.T) {
	mgr := newTestManager(&fakeMonitor{})
	_, err := mgr.PrepareAllocate(context.Background(), core.Action{Type: core.ActionAllocate, DeploymentID: "Qm1"})
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindPreparation, kind)
}

func TestPrepareAllocateRejectsExistingActiveAllocation(t *testing.T) {
	monitor := &fakeMonitor{
		active: []core.Allocation{{ID: "0xabc", SubgraphDeployment: "Qm1", Status: core.AllocationActive}},
	}
	mgr := newTestManager(monitor)
	_, err := mgr.PrepareAllocate(context.Background(), core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qm1", Amount: strp("100"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has an active allocation")
}

func TestPrepareAllocateRejectsInsufficientCapacity(t *testing.T) {
	monitor := &fakeMonitor{freeStake: "10", byID: map[string]core.Allocation{}}
	mgr := newTestManager(monitor)
	_, err := mgr.PrepareAllocate(context.Background(), core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qm1", Amount: strp("100"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient-capacity")
}

func TestPrepareAllocateSucceeds(t *testing.T) {
	monitor := &fakeMonitor{freeStake: "1000", byID: map[string]core.Allocation{}, epoch: 5}
	mgr := newTestManager(monitor)
	tx, err := mgr.PrepareAllocate(context.Background(), core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qm1", Amount: strp("100"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.NewAllocationID)
	assert.NotEmpty(t, tx.CallData)
}

func TestPrepareUnallocateRejectsSameEpochClose(t *testing.T) {
	monitor := &fakeMonitor{
		epoch: 5,
		byID: map[string]core.Allocation{
			"0xabc": {ID: "0xabc", Status: core.AllocationActive, CreatedAtEpoch: 5},
		},
	}
	mgr := newTestManager(monitor)
	_, err := mgr.PrepareUnallocate(context.Background(), core.Action{
		Type: core.ActionUnallocate, DeploymentID: "Qm1", AllocationID: strp("0xabc"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opened this epoch")
}

func TestPrepareUnallocateSucceeds(t *testing.T) {
	monitor := &fakeMonitor{
		epoch: 5, poi: "0xpoi",
		byID: map[string]core.Allocation{
			"0xabc": {ID: "0xabc", Status: core.AllocationActive, CreatedAtEpoch: 3},
		},
	}
	mgr := newTestManager(monitor)
	tx, err := mgr.PrepareUnallocate(context.Background(), core.Action{
		Type: core.ActionUnallocate, DeploymentID: "Qm1", AllocationID: strp("0xabc"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", tx.CloseAllocationID)
}

func newTestManager(monitor Monitor) *Manager {
	client := deploymentnode.NewIdempotentClient(&fakeNode{}, &fakeCache{})
	return New("eip155:1", "0xindexer", monitor, &fakeTxPrimitive{}, client, NewWallet("test-seed"), "node-1")
}
