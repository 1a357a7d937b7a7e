package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	ehttp "github.com/graphprotocol/indexer-sub006/http"
)

// rpcRequest/rpcResponse mirror the minimal JSON-RPC 2.0 envelope the
// staking contract's read methods and eth_call/eth_sendTransaction
// endpoints expect.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// JSONRPCClient is the reference StakingContract+TransactionPrimitive
// implementation, speaking Ethereum JSON-RPC over the generic HTTP
// request/retry wrapper (http/client.go).
type JSONRPCClient struct {
	Endpoint         string
	ContractAddress  string
	RetryCount       int
}

// NewJSONRPCClient constructs a client against a staking contract deployed
// at contractAddress, reachable via an Ethereum JSON-RPC endpoint.
func NewJSONRPCClient(endpoint, contractAddress string) *JSONRPCClient {
	return &JSONRPCClient{Endpoint: endpoint, ContractAddress: contractAddress, RetryCount: 2}
}

func (c *JSONRPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("chain: encode request: %w", err)
	}
	req := ehttp.NewRequest("POST", c.Endpoint)
	req.RawBody = body
	req.RetryCount = c.RetryCount
	resp, err := ehttp.Execute(req)
	if err != nil {
		return nil, fmt.Errorf("chain: rpc call %s: %w", method, err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(resp.Body, &rpcResp); err != nil {
		return nil, fmt.Errorf("chain: decode rpc response for %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("chain: rpc error for %s: %s", method, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (c *JSONRPCClient) ethCall(ctx context.Context, data string) (string, error) {
	raw, err := c.call(ctx, "eth_call", map[string]string{"to": c.ContractAddress, "data": data}, "latest")
	if err != nil {
		return "", err
	}
	var hexResult string
	if err := json.Unmarshal(raw, &hexResult); err != nil {
		return "", fmt.Errorf("chain: decode eth_call result: %w", err)
	}
	return hexResult, nil
}

// GetAllocationState calls the contract's read-only getAllocationState.
func (c *JSONRPCClient) GetAllocationState(ctx context.Context, allocationID string) (AllocationState, error) {
	result, err := c.ethCall(ctx, encodeCallData("getAllocationState(address)", allocationID))
	if err != nil {
		return StateNull, err
	}
	return decodeAllocationState(result)
}

// GetIndexerCapacity calls the contract's read-only getIndexerCapacity,
// returning the indexer's free (unallocated) stake as a decimal string.
func (c *JSONRPCClient) GetIndexerCapacity(ctx context.Context, indexer string) (string, error) {
	result, err := c.ethCall(ctx, encodeCallData("getIndexerCapacity(address)", indexer))
	if err != nil {
		return "", err
	}
	return decodeUint256(result)
}

// MaxAllocationEpochs calls the contract's read-only maxAllocationEpochs.
func (c *JSONRPCClient) MaxAllocationEpochs(ctx context.Context) (int64, error) {
	result, err := c.ethCall(ctx, encodeCallData("maxAllocationEpochs()"))
	if err != nil {
		return 0, err
	}
	return decodeInt64(result)
}

// CurrentEpoch returns the current epoch number and the block at which it
// started, plus the chain's current block (used by networkmonitor to
// compute elapsed blocks in the epoch).
func (c *JSONRPCClient) CurrentEpoch(ctx context.Context) (Epoch, error) {
	numberHex, err := c.ethCall(ctx, encodeCallData("currentEpoch()"))
	if err != nil {
		return Epoch{}, err
	}
	number, err := decodeInt64(numberHex)
	if err != nil {
		return Epoch{}, err
	}
	startHex, err := c.ethCall(ctx, encodeCallData("currentEpochBlock()"))
	if err != nil {
		return Epoch{}, err
	}
	start, err := decodeInt64(startHex)
	if err != nil {
		return Epoch{}, err
	}
	blockHex, err := c.call(ctx, "eth_blockNumber")
	if err != nil {
		return Epoch{}, err
	}
	var blockHexStr string
	if err := json.Unmarshal(blockHex, &blockHexStr); err != nil {
		return Epoch{}, fmt.Errorf("chain: decode eth_blockNumber: %w", err)
	}
	current, err := decodeInt64(blockHexStr)
	if err != nil {
		return Epoch{}, err
	}
	return Epoch{Number: number, StartBlock: start, CurrentBlock: current}, nil
}

// EpochLength calls the contract's read-only epochLength.
func (c *JSONRPCClient) EpochLength(ctx context.Context) (int64, error) {
	result, err := c.ethCall(ctx, encodeCallData("epochLength()"))
	if err != nil {
		return 0, err
	}
	return decodeInt64(result)
}

// EncodeAllocateFrom ABI-encodes a call to allocateFrom(indexer,
// allocationID, subgraphDeploymentID, tokens, proof), in that order.
func (c *JSONRPCClient) EncodeAllocateFrom(indexer, allocationID, deploymentID, amount string, proof []byte) ([]byte, error) {
	return encodeCall("allocateFrom", indexer, allocationID, deploymentID, amount, hex.EncodeToString(proof)), nil
}

// EncodeCloseAllocation ABI-encodes a call to closeAllocation(allocationID, poi).
func (c *JSONRPCClient) EncodeCloseAllocation(allocationID string, poi []byte) ([]byte, error) {
	return encodeCall("closeAllocation", allocationID, hex.EncodeToString(poi)), nil
}

// EncodeCloseAndAllocate ABI-encodes a call to closeAndAllocate, the
// combined close+open primitive reallocate actions submit.
func (c *JSONRPCClient) EncodeCloseAndAllocate(closeAllocationID string, closePoI []byte, newAllocationID, deploymentID, amount string, proof []byte) ([]byte, error) {
	return encodeCall("closeAndAllocate", closeAllocationID, hex.EncodeToString(closePoI), newAllocationID, deploymentID, amount, hex.EncodeToString(proof)), nil
}

// SubmitMulticall encodes calls as multicall(bytes[]) and submits via
// eth_sendTransaction, interpreting the receipt's logs into EventLogs or
// a transaction-level paused/unauthorized/reverted outcome.
func (c *JSONRPCClient) SubmitMulticall(ctx context.Context, calls [][]byte) (Receipt, error) {
	data := encodeMulticall(calls)
	raw, err := c.call(ctx, "eth_sendTransaction", map[string]string{
		"to":   c.ContractAddress,
		"data": "0x" + hex.EncodeToString(data),
	})
	if err != nil {
		return Receipt{}, err
	}
	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return Receipt{}, fmt.Errorf("chain: decode tx hash: %w", err)
	}
	receiptRaw, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return Receipt{}, err
	}
	return decodeReceipt(txHash, receiptRaw)
}
