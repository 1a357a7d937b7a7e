package config

import (
	"strings"
	"time"
)

// NetworkConfig is the per-network wiring the daemon needs: one staking
// contract, one subgraph, one deployment node, addressed by a CAIP-2
// network identifier (SPEC_FULL.md §1).
type NetworkConfig struct {
	Network                string
	RPCEndpoint            string
	StakingContractAddress string
	SubgraphEndpoint       string
	DeploymentNodeEndpoint string
}

// AgentConfig is the full configuration surface of the indexer-agent
// daemon: identity, persistence, coordination, and the set of networks it
// manages allocations on.
type AgentConfig struct {
	Indexer    string
	WalletSeed string
	NodeID     string

	PostgresURL string
	RedisURL    string
	BoltPath    string

	EventsQueueURL  string
	EventsQueueName string

	AdminAddr      string
	AdminJWTSecret string

	DashboardURL string

	PassLockTTL          time.Duration
	ReconcileInterval    time.Duration
	BatchInterval        time.Duration
	ActionThrottleWindow time.Duration

	OTELEnabled bool

	Networks []NetworkConfig
}

// networkEnvKey turns a CAIP-2 network identifier ("eip155:1") into the
// env-var-safe segment used to namespace that network's settings
// ("EIP155_1").
func networkEnvKey(network string) string {
	key := strings.ToUpper(network)
	key = strings.ReplaceAll(key, ":", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}

// LoadAgentConfig loads the daemon's full configuration from the
// environment, the same EnvConfig-with-prefix idiom the rest of this
// package uses. INDEXER_AGENT_NETWORKS lists the managed networks as a
// comma-separated list of CAIP-2 identifiers; every other per-network
// setting is namespaced under NETWORK_<networkEnvKey>_*.
func LoadAgentConfig() (AgentConfig, error) {
	env := NewEnvConfig("INDEXER_AGENT")

	cfg := AgentConfig{
		Indexer:    env.MustGetString("INDEXER_ADDRESS"),
		WalletSeed: env.MustGetString("WALLET_SEED"),
		NodeID:     env.GetString("NODE_ID", "default"),

		PostgresURL: env.GetString("POSTGRES_URL", "postgres://localhost:5432/indexer_agent"),
		RedisURL:    env.GetString("REDIS_URL", "redis://localhost:6379/0"),
		BoltPath:    env.GetString("BOLT_PATH", "indexer-agent.db"),

		EventsQueueURL:  env.GetString("EVENTS_QUEUE_URL", ""),
		EventsQueueName: env.GetString("EVENTS_QUEUE_NAME", "action-events"),

		AdminAddr:      env.GetString("ADMIN_ADDR", ":7600"),
		AdminJWTSecret: env.GetString("ADMIN_JWT_SECRET", ""),

		DashboardURL: env.GetString("DASHBOARD_URL", ""),

		PassLockTTL:          env.GetDuration("PASS_LOCK_TTL", 5*time.Minute),
		ReconcileInterval:    env.GetDuration("RECONCILE_INTERVAL", 2*time.Minute),
		BatchInterval:        env.GetDuration("BATCH_INTERVAL", 30*time.Second),
		ActionThrottleWindow: env.GetDuration("ACTION_THROTTLE_WINDOW", 20*time.Minute),

		OTELEnabled: env.GetBool("OTEL_ENABLED", false),
	}

	networks := env.GetStringSlice("NETWORKS", nil)
	validator := NewValidator()
	validator.RequireString("INDEXER_AGENT_NETWORKS", strings.Join(networks, ","))

	for _, network := range networks {
		netEnv := NewEnvConfig("NETWORK_" + networkEnvKey(network))
		nc := NetworkConfig{
			Network:                network,
			RPCEndpoint:            netEnv.MustGetString("RPC_ENDPOINT"),
			StakingContractAddress: netEnv.MustGetString("STAKING_CONTRACT_ADDRESS"),
			SubgraphEndpoint:       netEnv.MustGetString("SUBGRAPH_ENDPOINT"),
			DeploymentNodeEndpoint: netEnv.MustGetString("DEPLOYMENT_NODE_ENDPOINT"),
		}
		cfg.Networks = append(cfg.Networks, nc)
	}

	if err := validator.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}
