package subgraph

import (
	"context"
	"encoding/json"
	"fmt"

	ehttp "github.com/graphprotocol/indexer-sub006/http"
)

const pageSize = 1000

// GraphQLClient is the reference Client implementation, querying a
// protocol indexing subgraph deployment over HTTP using the shared
// request/retry wrapper.
type GraphQLClient struct {
	Endpoint   string
	RetryCount int
}

// NewGraphQLClient constructs a client against a subgraph query endpoint.
func NewGraphQLClient(endpoint string) *GraphQLClient {
	return &GraphQLClient{Endpoint: endpoint, RetryCount: 2}
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type gqlErr struct {
	Message string `json:"message"`
}

func (c *GraphQLClient) query(ctx context.Context, gql string, vars map[string]interface{}, into interface{}) error {
	body, err := json.Marshal(gqlRequest{Query: gql, Variables: vars})
	if err != nil {
		return fmt.Errorf("subgraph: encode query: %w", err)
	}
	req := ehttp.NewRequest("POST", c.Endpoint)
	req.RawBody = body
	req.RetryCount = c.RetryCount
	resp, err := ehttp.Execute(req)
	if err != nil {
		return fmt.Errorf("subgraph: query failed: %w", err)
	}
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlErr        `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return fmt.Errorf("subgraph: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("subgraph: graphql error: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, into)
}

const allocationsQuery = `
query Allocations($indexer: String!, $network: String!, $lastId: String!, $pageSize: Int!) {
  allocations(
    where: { indexer: $indexer, protocolNetwork: $network, id_gt: $lastId }
    orderBy: id
    orderDirection: asc
    first: $pageSize
  ) {
    id
    indexer
    subgraphDeployment
    allocatedTokens
    status
    createdAtEpoch
    closedAtEpoch
  }
}`

// AllocationsForIndexer walks the full result set page by page, id_gt
// lastId ascending, stopping at the first short page (§6).
func (c *GraphQLClient) AllocationsForIndexer(ctx context.Context, indexer, network string) ([]Allocation, error) {
	var all []Allocation
	lastID := ""
	for {
		var page struct {
			Allocations []Allocation `json:"allocations"`
		}
		err := c.query(ctx, allocationsQuery, map[string]interface{}{
			"indexer": indexer, "network": network, "lastId": lastID, "pageSize": pageSize,
		}, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Allocations...)
		if len(page.Allocations) < pageSize {
			return all, nil
		}
		lastID = page.Allocations[len(page.Allocations)-1].ID
	}
}

const deploymentQuery = `
query Deployment($id: String!, $network: String!) {
  subgraphDeployment(id: $id, protocolNetwork: $network) {
    id
    network
    deniedAt
  }
}`

// DeploymentMetadata returns the subgraph's record of a deployment.
func (c *GraphQLClient) DeploymentMetadata(ctx context.Context, deploymentID, network string) (DeploymentMeta, bool, error) {
	var result struct {
		Deployment *DeploymentMeta `json:"subgraphDeployment"`
	}
	if err := c.query(ctx, deploymentQuery, map[string]interface{}{"id": deploymentID, "network": network}, &result); err != nil {
		return DeploymentMeta{}, false, err
	}
	if result.Deployment == nil {
		return DeploymentMeta{}, false, nil
	}
	return *result.Deployment, true, nil
}
