package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// eventTopics maps the Keccak-256 topic0 hash of each staking-contract
// event signature named in §6 to its human name; networkmonitor and the
// batch executor match receipt logs back to actions by this name.
var eventTopics = buildEventTopics()

func buildEventTopics() map[string]string {
	names := []string{
		"AllocationCreated(address,bytes32,uint256,uint256,address,bytes32)",
		"AllocationClosed(address,bytes32,uint256,uint256,address,bytes32,address,bool)",
		"RewardsAssigned(address,bytes32,uint256)",
		"ProvisionIncreased(address,address,uint256)",
		"ProvisionThawed(address,address,uint256)",
		"ThawRequestCreated(address,address,uint256,uint256)",
		"TokensDeprovisioned(address,address,uint256)",
	}
	out := make(map[string]string, len(names))
	for _, sig := range names {
		topic := "0x" + hex.EncodeToString(selector256(sig))
		name := sig[:strings.Index(sig, "(")]
		out[topic] = name
	}
	return out
}

func selector256(signature string) []byte {
	// Event topics are the full 32-byte Keccak-256 hash, unlike the
	// 4-byte function selector used for call data.
	h := newKeccak()
	h.Write([]byte(signature))
	return h.Sum(nil)
}

type rpcLog struct {
	Topics []string `json:"topics"`
	Data   string   `json:"data"`
}

type rpcReceipt struct {
	Status string   `json:"status"`
	Logs   []rpcLog `json:"logs"`
}

// decodeReceipt interprets a raw eth_getTransactionReceipt result into a
// Receipt. A failed status is always Reverted; when a log's data on that
// failed receipt contains a known sentinel string, it is also reported as
// Paused/Unauth per §4.7 step 6.
func decodeReceipt(txHash string, raw json.RawMessage) (Receipt, error) {
	var rr rpcReceipt
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Receipt{}, fmt.Errorf("chain: decode receipt: %w", err)
	}
	receipt := Receipt{TxHash: txHash}
	if rr.Status == "0x0" {
		receipt.Reverted = true
		receipt.RevertReason = classifyRevert(rr.Logs)
		switch receipt.RevertReason {
		case "paused":
			receipt.Paused = true
		case "unauthorized":
			receipt.Unauth = true
		}
		return receipt, nil
	}
	for _, log := range rr.Logs {
		if len(log.Topics) == 0 {
			continue
		}
		name, known := eventTopics[log.Topics[0]]
		if !known {
			continue
		}
		event := EventLog{Topic: name}
		if len(log.Topics) > 1 {
			event.AllocationID = strings.TrimPrefix(log.Topics[1], "0x")
		}
		if len(log.Topics) > 2 {
			event.SubgraphDeploymentID = strings.TrimPrefix(log.Topics[2], "0x")
		}
		receipt.Events = append(receipt.Events, event)
	}
	return receipt, nil
}

// classifyRevert has no standard encoding to rely on across protocol
// versions, so it degrades to "unknown" when the revert reason cannot be
// distinguished; callers treat "unknown" the same as a generic Reverted.
func classifyRevert(logs []rpcLog) string {
	for _, log := range logs {
		if strings.Contains(strings.ToLower(log.Data), "paused") {
			return "paused"
		}
		if strings.Contains(strings.ToLower(log.Data), "unauthorized") || strings.Contains(strings.ToLower(log.Data), "not authorized") {
			return "unauthorized"
		}
	}
	return "unknown"
}
