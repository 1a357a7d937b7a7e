// Package allocmgr implements the allocation manager of SPEC_FULL.md §4.6:
// pure value-object preparation of allocate/unallocate/reallocate actions.
// Nothing in this package has a side effect beyond the idempotent
// ensure-deployed step; every other check only reads monitor state and
// either returns a PreparedTransaction or a core.Error classified
// KindPreparation, leaving the batch executor (§4.7) to submit it.
package allocmgr

import (
	"context"
	"fmt"
	"math/big"

	"github.com/graphprotocol/indexer-sub006/chain"
	"github.com/graphprotocol/indexer-sub006/core"
	"github.com/graphprotocol/indexer-sub006/deploymentnode"
)

// Monitor is the subset of networkmonitor.Monitor allocmgr reads from.
type Monitor interface {
	CurrentEpoch(ctx context.Context) (number, startBlock, elapsedBlocks int64, err error)
	FreeStake(ctx context.Context) (string, error)
	Allocations(ctx context.Context, status core.AllocationStatus) ([]core.Allocation, error)
	Allocation(ctx context.Context, id string) (core.Allocation, bool, error)
	ResolvePOI(ctx context.Context, deploymentID string, closedAtEpoch int64, supplied *string, force bool) (string, error)
}

// PreparedTransaction is the output of every Prepare* call: an
// already-ABI-encoded call ready for the batch executor's multicall, plus
// the bookkeeping the executor needs to match receipt events back to the
// originating action.
type PreparedTransaction struct {
	Action         core.Action
	CallData       []byte
	NewAllocationID string // set for allocate/reallocate
	CloseAllocationID string // set for unallocate/reallocate
}

// Manager prepares allocation transactions for a single (network, indexer).
type Manager struct {
	network  string
	indexer  string
	monitor  Monitor
	chain    chain.TransactionPrimitive
	node     *deploymentnode.IdempotentClient
	wallet   *Wallet
	nodeID   string
}

// New constructs an allocation manager.
func New(network, indexer string, monitor Monitor, txPrimitive chain.TransactionPrimitive, node *deploymentnode.IdempotentClient, wallet *Wallet, nodeID string) *Manager {
	return &Manager{network: network, indexer: indexer, monitor: monitor, chain: txPrimitive, node: node, wallet: wallet, nodeID: nodeID}
}

// PrepareAllocate implements the allocate guard sequence of §4.6.
func (m *Manager) PrepareAllocate(ctx context.Context, action core.Action) (PreparedTransaction, error) {
	if action.Amount == nil {
		return PreparedTransaction{}, core.NewPreparationError("allocate requires an amount")
	}
	amount, ok := new(big.Int).SetString(*action.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return PreparedTransaction{}, core.NewPreparationError(fmt.Sprintf("allocate amount %q must be a positive integer", *action.Amount))
	}

	active, err := m.monitor.Allocations(ctx, core.AllocationActive)
	if err != nil {
		return PreparedTransaction{}, err
	}
	existingIDs := make(map[string]bool, len(active))
	for _, a := range active {
		existingIDs[a.ID] = true
		if a.SubgraphDeployment == action.DeploymentID {
			return PreparedTransaction{}, core.NewPreparationError(
				fmt.Sprintf("deployment %s already has an active allocation %s", action.DeploymentID, a.ID))
		}
	}

	freeStakeStr, err := m.monitor.FreeStake(ctx)
	if err != nil {
		return PreparedTransaction{}, err
	}
	freeStake, ok := new(big.Int).SetString(freeStakeStr, 10)
	if !ok {
		return PreparedTransaction{}, core.NewPreparationError("could not parse indexer free stake")
	}
	if freeStake.Cmp(amount) < 0 {
		return PreparedTransaction{}, core.NewPreparationError(
			fmt.Sprintf("insufficient-capacity: free stake %s is less than requested amount %s", freeStake, amount))
	}

	if err := m.node.EnsureDeployed(ctx, action.DeploymentID, m.nodeID); err != nil {
		return PreparedTransaction{}, core.NewPreparationError("ensure deployment on node: " + err.Error())
	}

	epoch, _, _, err := m.monitor.CurrentEpoch(ctx)
	if err != nil {
		return PreparedTransaction{}, err
	}
	allocationID, attempt, err := m.deriveUniqueAllocationID(ctx, epoch, action.DeploymentID, existingIDs)
	if err != nil {
		return PreparedTransaction{}, err
	}

	proof, err := m.wallet.SignAllocationProof(epoch, action.DeploymentID, attempt, m.indexer, allocationID)
	if err != nil {
		return PreparedTransaction{}, core.NewPreparationError(err.Error())
	}
	callData, err := m.chain.EncodeAllocateFrom(m.indexer, allocationID, action.DeploymentID, amount.String(), proof)
	if err != nil {
		return PreparedTransaction{}, core.NewPreparationError("encode allocateFrom: " + err.Error())
	}
	return PreparedTransaction{Action: action, CallData: callData, NewAllocationID: allocationID}, nil
}

// deriveUniqueAllocationID tries successive attempt counters until the
// wallet-derived id collides with neither an already-active local
// allocation nor an id that already carries on-chain state.
func (m *Manager) deriveUniqueAllocationID(ctx context.Context, epoch int64, deploymentID string, existing map[string]bool) (id string, attempt int, err error) {
	const maxAttempts = 16
	for attempt = 0; attempt < maxAttempts; attempt++ {
		candidate := m.wallet.AllocationID(epoch, deploymentID, attempt)
		if existing[candidate] {
			continue
		}
		allocation, found, lookupErr := m.monitor.Allocation(ctx, candidate)
		if lookupErr != nil {
			return "", 0, lookupErr
		}
		if found && allocation.Status != core.AllocationNull {
			continue
		}
		return candidate, attempt, nil
	}
	return "", 0, core.NewPreparationError(fmt.Sprintf("could not derive a collision-free allocation id for deployment %s after %d attempts", deploymentID, maxAttempts))
}

// PrepareUnallocate implements the unallocate guard sequence of §4.6.
func (m *Manager) PrepareUnallocate(ctx context.Context, action core.Action) (PreparedTransaction, error) {
	if action.AllocationID == nil {
		return PreparedTransaction{}, core.NewPreparationError("unallocate requires an allocationID")
	}
	allocation, found, err := m.monitor.Allocation(ctx, *action.AllocationID)
	if err != nil {
		return PreparedTransaction{}, err
	}
	if !found || allocation.Status != core.AllocationActive {
		return PreparedTransaction{}, core.NewPreparationError(fmt.Sprintf("allocation %s is not active", *action.AllocationID))
	}
	epoch, _, _, err := m.monitor.CurrentEpoch(ctx)
	if err != nil {
		return PreparedTransaction{}, err
	}
	if allocation.CreatedAtEpoch == epoch {
		return PreparedTransaction{}, core.NewPreparationError(
			fmt.Sprintf("allocation %s was opened this epoch; may not close before epoch %d", *action.AllocationID, epoch+1))
	}
	poi, err := m.monitor.ResolvePOI(ctx, action.DeploymentID, epoch, action.PoI, action.Force)
	if err != nil {
		return PreparedTransaction{}, err
	}
	callData, err := m.chain.EncodeCloseAllocation(*action.AllocationID, []byte(poi))
	if err != nil {
		return PreparedTransaction{}, core.NewPreparationError("encode closeAllocation: " + err.Error())
	}
	return PreparedTransaction{Action: action, CallData: callData, CloseAllocationID: *action.AllocationID}, nil
}

// PrepareReallocate implements §4.6's reallocate: the unallocate checks,
// plus the allocate checks evaluated against the free stake the chain
// would show right after the close (freeStake + the closing allocation's
// tokens), and a second allocation id drawn from the same collision set
// as the one being closed.
func (m *Manager) PrepareReallocate(ctx context.Context, action core.Action) (PreparedTransaction, error) {
	if action.AllocationID == nil || action.Amount == nil {
		return PreparedTransaction{}, core.NewPreparationError("reallocate requires an allocationID and amount")
	}
	allocation, found, err := m.monitor.Allocation(ctx, *action.AllocationID)
	if err != nil {
		return PreparedTransaction{}, err
	}
	if !found || allocation.Status != core.AllocationActive {
		return PreparedTransaction{}, core.NewPreparationError(fmt.Sprintf("allocation %s is not active", *action.AllocationID))
	}
	epoch, _, _, err := m.monitor.CurrentEpoch(ctx)
	if err != nil {
		return PreparedTransaction{}, err
	}
	if allocation.CreatedAtEpoch == epoch {
		return PreparedTransaction{}, core.NewPreparationError(
			fmt.Sprintf("allocation %s was opened this epoch; may not close before epoch %d", *action.AllocationID, epoch+1))
	}

	amount, ok := new(big.Int).SetString(*action.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return PreparedTransaction{}, core.NewPreparationError(fmt.Sprintf("reallocate amount %q must be a positive integer", *action.Amount))
	}
	freeStakeStr, err := m.monitor.FreeStake(ctx)
	if err != nil {
		return PreparedTransaction{}, err
	}
	freeStake, ok := new(big.Int).SetString(freeStakeStr, 10)
	if !ok {
		return PreparedTransaction{}, core.NewPreparationError("could not parse indexer free stake")
	}
	allocated, ok := new(big.Int).SetString(allocation.AllocatedTokens, 10)
	if !ok {
		return PreparedTransaction{}, core.NewPreparationError("could not parse allocation's allocated tokens")
	}
	postCloseFreeStake := new(big.Int).Add(freeStake, allocated)
	if postCloseFreeStake.Cmp(amount) < 0 {
		return PreparedTransaction{}, core.NewPreparationError(
			fmt.Sprintf("insufficient-capacity: post-close free stake %s is less than requested amount %s", postCloseFreeStake, amount))
	}

	poi, err := m.monitor.ResolvePOI(ctx, action.DeploymentID, epoch, action.PoI, action.Force)
	if err != nil {
		return PreparedTransaction{}, err
	}

	active, err := m.monitor.Allocations(ctx, core.AllocationActive)
	if err != nil {
		return PreparedTransaction{}, err
	}
	existingIDs := make(map[string]bool, len(active))
	for _, a := range active {
		existingIDs[a.ID] = true
	}
	newAllocationID, attempt, err := m.deriveUniqueAllocationID(ctx, epoch, action.DeploymentID, existingIDs)
	if err != nil {
		return PreparedTransaction{}, err
	}
	proof, err := m.wallet.SignAllocationProof(epoch, action.DeploymentID, attempt, m.indexer, newAllocationID)
	if err != nil {
		return PreparedTransaction{}, core.NewPreparationError(err.Error())
	}
	callData, err := m.chain.EncodeCloseAndAllocate(*action.AllocationID, []byte(poi), newAllocationID, action.DeploymentID, amount.String(), proof)
	if err != nil {
		return PreparedTransaction{}, core.NewPreparationError("encode closeAndAllocate: " + err.Error())
	}
	return PreparedTransaction{
		Action: action, CallData: callData,
		NewAllocationID: newAllocationID, CloseAllocationID: *action.AllocationID,
	}, nil
}

// Prepare dispatches action to the matching Prepare* method by its type.
func (m *Manager) Prepare(ctx context.Context, action core.Action) (PreparedTransaction, error) {
	switch action.Type {
	case core.ActionAllocate:
		return m.PrepareAllocate(ctx, action)
	case core.ActionUnallocate:
		return m.PrepareUnallocate(ctx, action)
	case core.ActionReallocate:
		return m.PrepareReallocate(ctx, action)
	default:
		return PreparedTransaction{}, core.NewPreparationError("unrecognized action type: " + string(action.Type))
	}
}
