package networkmonitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphprotocol/indexer-sub006/chain"
	"github.com/graphprotocol/indexer-sub006/core"
	"github.com/graphprotocol/indexer-sub006/subgraph"
)

type fakeChain struct {
	epoch       chain.Epoch
	maxEpochs   int64
	epochLength int64
	freeStake   string
	loads       int
	states      map[string]chain.AllocationState
}

func (f *fakeChain) GetAllocationState(ctx context.Context, allocationID string) (chain.AllocationState, error) {
	return f.states[allocationID], nil
}
func (f *fakeChain) GetIndexerCapacity(ctx context.Context, indexer string) (string, error) {
	f.loads++
	return f.freeStake, nil
}
func (f *fakeChain) MaxAllocationEpochs(ctx context.Context) (int64, error) { return f.maxEpochs, nil }
func (f *fakeChain) CurrentEpoch(ctx context.Context) (chain.Epoch, error)  { return f.epoch, nil }
func (f *fakeChain) EpochLength(ctx context.Context) (int64, error)        { return f.epochLength, nil }

type fakeSubgraph struct {
	allocations []subgraph.Allocation
	metas       map[string]subgraph.DeploymentMeta
}

func (f *fakeSubgraph) AllocationsForIndexer(ctx context.Context, indexer, network string) ([]subgraph.Allocation, error) {
	return f.allocations, nil
}
func (f *fakeSubgraph) DeploymentMetadata(ctx context.Context, deploymentID, network string) (subgraph.DeploymentMeta, bool, error) {
	meta, ok := f.metas[deploymentID]
	return meta, ok, nil
}

type fakeNode struct{ poi string }

func (f *fakeNode) Create(ctx context.Context, deploymentID string) error         { return nil }
func (f *fakeNode) Deploy(ctx context.Context, deploymentID, nodeID string) error { return nil }
func (f *fakeNode) Reassign(ctx context.Context, deploymentID, nodeID string) error {
	return nil
}
func (f *fakeNode) Remove(ctx context.Context, deploymentID string) error { return nil }
func (f *fakeNode) POI(ctx context.Context, deploymentID string, blockNumber int64) (string, error) {
	return f.poi, nil
}

func TestLoadIsCachedForOnePass(t *testing.T) {
	c := &fakeChain{freeStake: "500", epoch: chain.Epoch{Number: 10, StartBlock: 100, CurrentBlock: 110}}
	m := New("eip155:1", "0xindexer", c, &fakeSubgraph{}, &fakeNode{})

	_, err := m.FreeStake(context.Background())
	require.NoError(t, err)
	_, err = m.FreeStake(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, c.loads, "second FreeStake call within the same pass must not re-hit the chain")
}

func TestStartPassInvalidatesCache(t *testing.T) {
	c := &fakeChain{freeStake: "500", epoch: chain.Epoch{Number: 10, StartBlock: 100, CurrentBlock: 110}}
	m := New("eip155:1", "0xindexer", c, &fakeSubgraph{}, &fakeNode{})

	_, _ = m.FreeStake(context.Background())
	m.StartPass()
	_, _ = m.FreeStake(context.Background())
	assert.Equal(t, 2, c.loads, "StartPass must force a reload on next access")
}

func TestCurrentEpochComputesElapsedBlocks(t *testing.T) {
	c := &fakeChain{epoch: chain.Epoch{Number: 10, StartBlock: 100, CurrentBlock: 142}}
	m := New("eip155:1", "0xindexer", c, &fakeSubgraph{}, &fakeNode{})
	number, start, elapsed, err := m.CurrentEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), number)
	assert.Equal(t, int64(100), start)
	assert.Equal(t, int64(42), elapsed)
}

func TestAllocationsFiltersByStatus(t *testing.T) {
	sub := &fakeSubgraph{allocations: []subgraph.Allocation{
		{ID: "0x1", Status: "active", SubgraphDeployment: "Qm1"},
		{ID: "0x2", Status: "closed", SubgraphDeployment: "Qm2"},
	}}
	m := New("eip155:1", "0xindexer", &fakeChain{}, sub, &fakeNode{})
	active, err := m.Allocations(context.Background(), core.AllocationActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "0x1", active[0].ID)
}

func TestKnowsDeploymentRequiresMatchingNetwork(t *testing.T) {
	sub := &fakeSubgraph{metas: map[string]subgraph.DeploymentMeta{"Qm1": {ID: "Qm1"}}}
	m := New("eip155:1", "0xindexer", &fakeChain{}, sub, &fakeNode{})
	assert.True(t, m.KnowsDeployment("Qm1", "eip155:1"))
	assert.False(t, m.KnowsDeployment("Qm1", "eip155:42161"))
	assert.False(t, m.KnowsDeployment("Qm-unknown", "eip155:1"))
}

func TestResolvePOIReturnsSuppliedWhenForced(t *testing.T) {
	m := New("eip155:1", "0xindexer", &fakeChain{epoch: chain.Epoch{Number: 5, StartBlock: 500}}, &fakeSubgraph{}, &fakeNode{poi: "0xcomputed"})
	supplied := "0xsupplied"
	poi, err := m.ResolvePOI(context.Background(), "Qm1", 4, &supplied, true)
	require.NoError(t, err)
	assert.Equal(t, "0xsupplied", poi)
}

func TestResolvePOIRejectsMismatch(t *testing.T) {
	m := New("eip155:1", "0xindexer", &fakeChain{epoch: chain.Epoch{Number: 5, StartBlock: 500}, epochLength: 100}, &fakeSubgraph{}, &fakeNode{poi: "0xcomputed"})
	supplied := "0xsupplied"
	_, err := m.ResolvePOI(context.Background(), "Qm1", 4, &supplied, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestResolvePOIFailsWithNoPOI(t *testing.T) {
	m := New("eip155:1", "0xindexer", &fakeChain{epoch: chain.Epoch{Number: 5, StartBlock: 500}, epochLength: 100}, &fakeSubgraph{}, &fakeNode{poi: ""})
	_, err := m.ResolvePOI(context.Background(), "Qm1", 4, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-POI")
}
