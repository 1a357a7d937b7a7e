package core

// AllocationStatus mirrors the on-chain allocation lifecycle. It is a
// read-only projection: allocations live on chain and are only cached here.
type AllocationStatus string

const (
	AllocationNull      AllocationStatus = "null"
	AllocationActive    AllocationStatus = "active"
	AllocationClosed    AllocationStatus = "closed"
	AllocationFinalized AllocationStatus = "finalized"
	AllocationClaimed   AllocationStatus = "claimed"
)

// Allocation is the read-only chain projection described in §3. It is never
// persisted by this module's own store; the network monitor (§4.4) is the
// only component that produces values of this type.
type Allocation struct {
	ID                 string
	Status             AllocationStatus
	SubgraphDeployment string
	Indexer            string
	AllocatedTokens    string
	CreatedAtEpoch     int64
	ClosedAtEpoch      int64
	PoI                *string
}
