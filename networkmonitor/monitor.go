// Package networkmonitor implements the read-only network monitor of
// SPEC_FULL.md §4.4: current epoch, indexer free stake, chain allocations,
// subgraph deployment metadata, and proof-of-indexing resolution. Results
// are cached strictly per-network for the span of one reconciler pass and
// invalidated at the start of the next (an in-process map, distinct from
// lock.NetworkPassLock's cross-process Redis lock).
package networkmonitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/graphprotocol/indexer-sub006/chain"
	"github.com/graphprotocol/indexer-sub006/core"
	"github.com/graphprotocol/indexer-sub006/deploymentnode"
	"github.com/graphprotocol/indexer-sub006/subgraph"
)

// passCache holds everything a single reconciler pass reads from the
// network monitor more than once, so repeated calls within the same pass
// never re-hit the chain or subgraph.
type passCache struct {
	epoch               chain.Epoch
	maxAllocationEpochs int64
	epochLength         int64
	freeStake           string
	allocations         []core.Allocation
	loaded              bool
}

// Monitor is the network monitor for a single protocol network.
type Monitor struct {
	network  string
	indexer  string
	chain    chain.StakingContract
	subgraph subgraph.Client
	node     deploymentnode.Client

	mu    sync.RWMutex
	cache passCache
}

// New constructs a network monitor for one (network, indexer) pair.
func New(network, indexer string, stakingContract chain.StakingContract, subgraphClient subgraph.Client, node deploymentnode.Client) *Monitor {
	return &Monitor{network: network, indexer: indexer, chain: stakingContract, subgraph: subgraphClient, node: node}
}

// StartPass discards any cached reads from a previous pass, so the next
// call to any read method re-queries the chain/subgraph exactly once and
// caches the result for the rest of this pass.
func (m *Monitor) StartPass() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = passCache{}
}

func (m *Monitor) load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache.loaded {
		return nil
	}
	epoch, err := m.chain.CurrentEpoch(ctx)
	if err != nil {
		return core.WrapExternalReadError("read current epoch", err)
	}
	maxEpochs, err := m.chain.MaxAllocationEpochs(ctx)
	if err != nil {
		return core.WrapExternalReadError("read maxAllocationEpochs", err)
	}
	epochLength, err := m.chain.EpochLength(ctx)
	if err != nil {
		return core.WrapExternalReadError("read epochLength", err)
	}
	freeStake, err := m.chain.GetIndexerCapacity(ctx, m.indexer)
	if err != nil {
		return core.WrapExternalReadError("read indexer capacity", err)
	}
	subAllocs, err := m.subgraph.AllocationsForIndexer(ctx, m.indexer, m.network)
	if err != nil {
		return core.WrapExternalReadError("read allocations", err)
	}
	allocations := make([]core.Allocation, 0, len(subAllocs))
	for _, a := range subAllocs {
		allocations = append(allocations, core.Allocation{
			ID:                 a.ID,
			Status:             core.AllocationStatus(a.Status),
			SubgraphDeployment: a.SubgraphDeployment,
			Indexer:            a.Indexer,
			AllocatedTokens:    a.AllocatedTokens,
			CreatedAtEpoch:     a.CreatedAtEpoch,
			ClosedAtEpoch:      a.ClosedAtEpoch,
		})
	}
	m.cache = passCache{
		epoch:               epoch,
		maxAllocationEpochs: maxEpochs,
		epochLength:         epochLength,
		freeStake:           freeStake,
		allocations:         allocations,
		loaded:              true,
	}
	return nil
}

// CurrentEpoch returns the current epoch number, its start block, and the
// number of blocks elapsed since it started.
func (m *Monitor) CurrentEpoch(ctx context.Context) (number, startBlock, elapsedBlocks int64, err error) {
	if err := m.load(ctx); err != nil {
		return 0, 0, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.cache.epoch
	return e.Number, e.StartBlock, e.CurrentBlock - e.StartBlock, nil
}

// MaxAllocationEpochs returns the protocol's maxAllocationEpochs constant.
func (m *Monitor) MaxAllocationEpochs(ctx context.Context) (int64, error) {
	if err := m.load(ctx); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.maxAllocationEpochs, nil
}

// EpochLength returns the protocol's epochLength constant, in blocks.
func (m *Monitor) EpochLength(ctx context.Context) (int64, error) {
	if err := m.load(ctx); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.epochLength, nil
}

// FreeStake returns the indexer's currently unallocated stake.
func (m *Monitor) FreeStake(ctx context.Context) (string, error) {
	if err := m.load(ctx); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.freeStake, nil
}

// Allocations returns the indexer's allocations, optionally filtered to a
// single status; pass "" for every status.
func (m *Monitor) Allocations(ctx context.Context, status core.AllocationStatus) ([]core.Allocation, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if status == "" {
		out := make([]core.Allocation, len(m.cache.allocations))
		copy(out, m.cache.allocations)
		return out, nil
	}
	var out []core.Allocation
	for _, a := range m.cache.allocations {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

// Allocation returns a single allocation by id, or ok=false if unknown.
func (m *Monitor) Allocation(ctx context.Context, id string) (allocation core.Allocation, ok bool, err error) {
	if err := m.load(ctx); err != nil {
		return core.Allocation{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.cache.allocations {
		if a.ID == id {
			return a, true, nil
		}
	}
	return core.Allocation{}, false, nil
}

// DeploymentMetadata returns the subgraph's view of a deployment.
func (m *Monitor) DeploymentMetadata(ctx context.Context, deploymentID string) (subgraph.DeploymentMeta, bool, error) {
	meta, ok, err := m.subgraph.DeploymentMetadata(ctx, deploymentID, m.network)
	if err != nil {
		return subgraph.DeploymentMeta{}, false, core.WrapExternalReadError("read deployment metadata", err)
	}
	return meta, ok, nil
}

// KnowsDeployment satisfies actions.Monitor: a deployment is known to the
// network monitor when the subgraph has indexed its metadata.
func (m *Monitor) KnowsDeployment(deploymentID, network string) bool {
	if network != m.network {
		return false
	}
	_, ok, err := m.subgraph.DeploymentMetadata(context.Background(), deploymentID, network)
	return err == nil && ok
}

// AllocationActive satisfies actions.Monitor: an allocation is active when
// a direct chain read (getAllocationState) reports it Active; the pass
// cache is not consulted. An unallocate/reallocate action may only target
// an active allocation.
func (m *Monitor) AllocationActive(allocationID, network string) bool {
	if network != m.network {
		return false
	}
	state, err := m.chain.GetAllocationState(context.Background(), allocationID)
	return err == nil && state == chain.StateActive
}

// ResolvePOI implements the 4-step proof-of-indexing algorithm of §4.4:
//  1. if the caller supplied poi and force, return it unchanged;
//  2. otherwise query the local deployment node at closedAtEpoch's start
//     block;
//  3. if both a supplied and a computed POI exist, they must be equal or
//     this is a fatal per-action error;
//  4. if neither is available, fail with code "no-POI".
func (m *Monitor) ResolvePOI(ctx context.Context, deploymentID string, closedAtEpoch int64, supplied *string, force bool) (string, error) {
	if supplied != nil && force {
		return *supplied, nil
	}
	_, startBlock, _, err := m.CurrentEpoch(ctx)
	if err != nil {
		return "", err
	}
	// closedAtEpoch's own start block, not the current epoch's: the node
	// computes POI as of the block the allocation's epoch began.
	epochStart := startBlock - (m.cache.epoch.Number-closedAtEpoch)*m.cache.epochLength
	computed, nodeErr := m.node.POI(ctx, deploymentID, epochStart)
	if nodeErr != nil {
		computed = ""
	}
	switch {
	case supplied != nil && computed != "":
		if *supplied != computed {
			return "", core.NewPreparationError(
				fmt.Sprintf("supplied POI %s does not match node-computed POI %s for deployment %s", *supplied, computed, deploymentID))
		}
		return computed, nil
	case supplied != nil:
		return *supplied, nil
	case computed != "":
		return computed, nil
	default:
		return "", core.NewPreparationError(fmt.Sprintf("no-POI: could not compute or resolve a POI for deployment %s", deploymentID))
	}
}
