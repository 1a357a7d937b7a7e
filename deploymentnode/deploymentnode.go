// Package deploymentnode provides the narrow contract (SPEC_FULL.md §6)
// this module consumes from a local graph-node deployment manager, plus a
// reference JSON-RPC implementation and an idempotency-cache-backed
// wrapper so the create-and-deploy step runs at most once per deployment.
package deploymentnode

import (
	"context"
	"encoding/json"
	"fmt"

	ehttp "github.com/graphprotocol/indexer-sub006/http"
)

// removedSentinel is the special node_id value that unassigns a
// deployment from every indexing node and, on older protocol versions,
// marks it "virtually paused" (SPEC_FULL.md §9 open question b).
const removedSentinel = "removed"

// Client is the subset of a local deployment node's JSON-RPC surface this
// module depends on.
type Client interface {
	// Create registers a new subgraph deployment with the node, a no-op
	// if it is already known.
	Create(ctx context.Context, deploymentID string) error
	// Deploy assigns deploymentID to the indexing node named nodeID.
	Deploy(ctx context.Context, deploymentID, nodeID string) error
	// Reassign moves deploymentID to a different node, or removes it from
	// indexing entirely when nodeID is the removed sentinel.
	Reassign(ctx context.Context, deploymentID, nodeID string) error
	// Remove is a convenience wrapper for Reassign(deploymentID, removed).
	Remove(ctx context.Context, deploymentID string) error
	// POI resolves the proof of indexing the node computed for
	// deploymentID at the start block of closedAtEpoch.
	POI(ctx context.Context, deploymentID string, blockNumber int64) (string, error)
}

type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonrpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// JSONRPCClient is the reference Client implementation, talking to a
// graph-node admin JSON-RPC endpoint over the shared HTTP wrapper.
type JSONRPCClient struct {
	Endpoint   string
	RetryCount int
}

// NewJSONRPCClient constructs a client against a graph-node admin endpoint.
func NewJSONRPCClient(endpoint string) *JSONRPCClient {
	return &JSONRPCClient{Endpoint: endpoint, RetryCount: 2}
}

func (c *JSONRPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("deploymentnode: encode request: %w", err)
	}
	req := ehttp.NewRequest("POST", c.Endpoint)
	req.RawBody = body
	req.RetryCount = c.RetryCount
	resp, err := ehttp.Execute(req)
	if err != nil {
		return nil, fmt.Errorf("deploymentnode: rpc call %s: %w", method, err)
	}
	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(resp.Body, &rpcResp); err != nil {
		return nil, fmt.Errorf("deploymentnode: decode response for %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("deploymentnode: rpc error for %s: %s", method, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// Create calls subgraph_create.
func (c *JSONRPCClient) Create(ctx context.Context, deploymentID string) error {
	_, err := c.call(ctx, "subgraph_create", map[string]string{"name": deploymentID})
	return err
}

// Deploy calls subgraph_deploy(name, ipfs_hash, node_id).
func (c *JSONRPCClient) Deploy(ctx context.Context, deploymentID, nodeID string) error {
	_, err := c.call(ctx, "subgraph_deploy", map[string]string{
		"name": deploymentID, "ipfs_hash": deploymentID, "node_id": nodeID,
	})
	return err
}

// Reassign calls subgraph_reassign(node_id, ipfs_hash).
func (c *JSONRPCClient) Reassign(ctx context.Context, deploymentID, nodeID string) error {
	_, err := c.call(ctx, "subgraph_reassign", map[string]string{
		"node_id": nodeID, "ipfs_hash": deploymentID,
	})
	return err
}

// Remove reassigns deploymentID to the removed sentinel.
func (c *JSONRPCClient) Remove(ctx context.Context, deploymentID string) error {
	return c.Reassign(ctx, deploymentID, removedSentinel)
}

// POI calls the node's proof-of-indexing RPC at a specific block.
func (c *JSONRPCClient) POI(ctx context.Context, deploymentID string, blockNumber int64) (string, error) {
	raw, err := c.call(ctx, "subgraph_proofOfIndexing", map[string]interface{}{
		"deployment": deploymentID, "blockNumber": blockNumber,
	})
	if err != nil {
		return "", err
	}
	var poi string
	if err := json.Unmarshal(raw, &poi); err != nil {
		return "", fmt.Errorf("deploymentnode: decode poi: %w", err)
	}
	return poi, nil
}
