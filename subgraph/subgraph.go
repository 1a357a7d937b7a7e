// Package subgraph provides the narrow contract (SPEC_FULL.md §6) this
// module consumes from the protocol indexing subgraph, plus a reference
// GraphQL implementation built on the shared HTTP client wrapper.
package subgraph

import "context"

// Allocation is the subgraph's projection of a chain allocation, as
// returned by the paginated allocations query. networkmonitor is the
// only consumer; it translates these into core.Allocation values.
type Allocation struct {
	ID                 string `json:"id"`
	Indexer             string `json:"indexer"`
	SubgraphDeployment string `json:"subgraphDeployment"`
	AllocatedTokens    string `json:"allocatedTokens"`
	Status             string `json:"status"`
	CreatedAtEpoch     int64  `json:"createdAtEpoch"`
	ClosedAtEpoch      int64  `json:"closedAtEpoch,omitempty"`
}

// DeploymentMeta is the subgraph's projection of a subgraph deployment's
// metadata (id, network, deniedAt) used by networkmonitor's
// KnowsDeployment check.
type DeploymentMeta struct {
	ID              string `json:"id"`
	Network         string `json:"network"`
	DeniedAt        int64  `json:"deniedAt"`
}

// Client is the read-only subset of the protocol indexing subgraph this
// module depends on.
type Client interface {
	// AllocationsForIndexer returns every allocation belonging to indexer,
	// paginated internally by id > lastId at page size 1000 until a short
	// page is returned (§6).
	AllocationsForIndexer(ctx context.Context, indexer, network string) ([]Allocation, error)
	// DeploymentMetadata returns the subgraph's view of a deployment, or
	// ok=false if the subgraph has never indexed it.
	DeploymentMetadata(ctx context.Context, deploymentID, network string) (meta DeploymentMeta, ok bool, err error)
}
