// Package chain defines the narrow contract (SPEC_FULL.md §6) this module
// consumes from the staking contract, plus a reference JSON-RPC
// implementation built on the same net/http client wrapper idiom used
// elsewhere (http/client.go + request.go).
package chain

import "context"

// AllocationState mirrors core.AllocationStatus on the wire, kept as a
// distinct type since the chain's encoding (a small uint8) is not the same
// shape as the domain's string enum; networkmonitor is responsible for the
// translation.
type AllocationState uint8

const (
	StateNull AllocationState = iota
	StateActive
	StateClosed
	StateFinalized
	StateClaimed
)

// Epoch is the chain's current epoch, as read by getEpoch-equivalent
// calls; networkmonitor derives elapsed blocks from CurrentBlock-StartBlock.
type Epoch struct {
	Number       int64
	StartBlock   int64
	CurrentBlock int64
}

// EventLog is a decoded staking-contract event, identified by topic name
// (one of AllocationCreated, AllocationClosed, RewardsAssigned,
// ProvisionIncreased, ProvisionThawed, ThawRequestCreated,
// TokensDeprovisioned per §6).
type EventLog struct {
	Topic               string
	AllocationID        string
	SubgraphDeploymentID string
	Tokens              string
}

// Receipt is the outcome of a submitted transaction: either a set of
// decoded events, or a transaction-level failure reason (paused,
// unauthorized, reverted) that applies to every action in the call.
type Receipt struct {
	TxHash  string
	Events  []EventLog
	Paused  bool
	Unauth  bool
	Reverted bool
	RevertReason string
}

// StakingContract is the read side of the chain contract: the subset
// networkmonitor and allocmgr need to check capacity, epoch, and
// allocation state before preparing any transaction.
type StakingContract interface {
	GetAllocationState(ctx context.Context, allocationID string) (AllocationState, error)
	GetIndexerCapacity(ctx context.Context, indexer string) (freeStake string, err error)
	MaxAllocationEpochs(ctx context.Context) (int64, error)
	CurrentEpoch(ctx context.Context) (Epoch, error)
	EpochLength(ctx context.Context) (int64, error)
}

// TransactionPrimitive is the write side: encoding and submitting the
// multicall batch executor (§4.7) composes from prepared allocmgr values.
type TransactionPrimitive interface {
	EncodeAllocateFrom(indexer, allocationID, deploymentID, amount string, proof []byte) ([]byte, error)
	EncodeCloseAllocation(allocationID string, poi []byte) ([]byte, error)
	EncodeCloseAndAllocate(closeAllocationID string, closePoI []byte, newAllocationID, deploymentID, amount string, proof []byte) ([]byte, error)
	SubmitMulticall(ctx context.Context, calls [][]byte) (Receipt, error)
}
