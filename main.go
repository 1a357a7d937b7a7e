// Package main is the entry point for the indexer-agent daemon: the
// Indexer Management Core of SPEC_FULL.md. It wires persistence, the
// per-network monitor/allocation-manager/executor/reconciler stack
// (§4.4-§4.9), the reconciler scheduler (§2.3), the batch executor loop
// (§4.7), and the admin HTTP surface (§2.1), then runs until
// SIGINT/SIGTERM.
//
// Startup Sequence:
//  1. Load configuration from the environment
//  2. Open the Postgres store, bbolt idempotency cache, and Redis clients
//  3. Build one monitor/allocation-manager/executor/reconciler per
//     configured network, fanned out and cross-checked via fanout.Set
//  4. Start the reconciler scheduler, the per-network batch-submit loop,
//     and the admin HTTP server
//  5. Wait for SIGINT/SIGTERM, then shut everything down with a bounded
//     timeout
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/graphprotocol/indexer-sub006/actions"
	"github.com/graphprotocol/indexer-sub006/allocmgr"
	"github.com/graphprotocol/indexer-sub006/api"
	"github.com/graphprotocol/indexer-sub006/broadcaster"
	"github.com/graphprotocol/indexer-sub006/chain"
	"github.com/graphprotocol/indexer-sub006/common"
	"github.com/graphprotocol/indexer-sub006/config"
	"github.com/graphprotocol/indexer-sub006/core"
	"github.com/graphprotocol/indexer-sub006/db"
	"github.com/graphprotocol/indexer-sub006/db/bolt"
	"github.com/graphprotocol/indexer-sub006/deploymentnode"
	"github.com/graphprotocol/indexer-sub006/executor"
	"github.com/graphprotocol/indexer-sub006/fanout"
	"github.com/graphprotocol/indexer-sub006/lock"
	"github.com/graphprotocol/indexer-sub006/networkmonitor"
	"github.com/graphprotocol/indexer-sub006/otel"
	eventqueue "github.com/graphprotocol/indexer-sub006/queue"
	redisqueue "github.com/graphprotocol/indexer-sub006/queue/redis"
	"github.com/graphprotocol/indexer-sub006/reconciler"
	"github.com/graphprotocol/indexer-sub006/rules"
	"github.com/graphprotocol/indexer-sub006/scheduler"
	"github.com/graphprotocol/indexer-sub006/statemanager"
	"github.com/graphprotocol/indexer-sub006/subgraph"
	"github.com/graphprotocol/indexer-sub006/version"
)

// RootCmd is the daemon's single command: run. A dedicated subcommand
// tree is not warranted yet, but cobra stays the entrypoint so operators
// get the same --help/flag conventions as the rest of this ecosystem.
var RootCmd = &cobra.Command{
	Use:   "indexer-agent",
	Short: "Indexer management core: allocation reconciliation daemon",
	Long: `indexer-agent manages an indexer's allocations across one or more
blockchain networks: it reads indexing rules, compares them against
on-chain and subgraph state, and submits allocate/unallocate/reallocate
transactions to close the gap, on an interval, per network.`,
	RunE: runDaemon,
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// ruleDeployments implements reconciler.KnownDeployments over the rule
// engine: the deployment universe a network's reconciler considers is
// exactly the set of deployments with an explicit rule on that network.
// A deployment with no rule at all is never synced (§4.8's partition
// step falls back to the global rule only for deployments that do
// appear here).
type ruleDeployments struct {
	engine *rules.Engine
}

func (d *ruleDeployments) Deployments(network string) ([]string, error) {
	ruleList, err := d.engine.List(network)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(ruleList))
	for _, rule := range ruleList {
		if rule.IdentifierType == core.IdentifierDeployment {
			ids = append(ids, rule.Identifier)
		}
	}
	return ids, nil
}

// networkStack is everything one configured network needs: the
// reconciler that produces actions, the monitor it reads state through,
// and the batch executor that submits approved actions on-chain.
type networkStack struct {
	network    string
	reconciler *reconciler.Reconciler
	monitor    *networkmonitor.Monitor
	executor   *executor.Executor
}

// monitorHandle and reconcilerHandle let fanout.Set join a network's
// monitor to its reconciler by networkIdentifier (§4.9): a defensive
// consistency check that every monitor built has exactly one matching
// reconciler, run once at startup before the scheduler ever dispatches a
// pass.
type monitorHandle struct {
	network string
	monitor *networkmonitor.Monitor
}

func (h monitorHandle) NetworkIdentifier() string { return h.network }

type reconcilerHandle struct {
	network    string
	reconciler *reconciler.Reconciler
}

func (h reconcilerHandle) NetworkIdentifier() string { return h.network }

// monitorRouter implements actions.Monitor by dispatching to the
// per-network monitor named in each call's network argument: the action
// queue is a single cross-network component, but networkmonitor.Monitor
// instances are scoped to the one network they were built for.
type monitorRouter struct {
	monitors map[string]*networkmonitor.Monitor
}

func (r *monitorRouter) KnowsDeployment(deploymentID, network string) bool {
	m, ok := r.monitors[network]
	if !ok {
		return false
	}
	return m.KnowsDeployment(deploymentID, network)
}

func (r *monitorRouter) AllocationActive(allocationID, network string) bool {
	m, ok := r.monitors[network]
	if !ok {
		return false
	}
	return m.AllocationActive(allocationID, network)
}

// trackedRunner wraps a scheduler.Runner so every reconciler pass shows
// up in the operation tracker (§2.1's /stats surface), keyed by network
// so concurrent passes across networks don't collide.
type trackedRunner struct {
	network string
	inner   scheduler.Runner
	tracker *statemanager.Tracker
}

func (t *trackedRunner) Pass(ctx context.Context) error {
	opID := "reconciler-pass:" + t.network + ":" + time.Now().UTC().Format(time.RFC3339Nano)
	t.tracker.StartOperation(opID, "reconciler-pass", map[string]interface{}{"network": t.network})
	err := t.inner.Pass(ctx)
	t.tracker.CompleteOperation(opID, err)
	return err
}

// buildNetworkStack wires one network's full monitor -> allocation
// manager -> executor -> reconciler chain, per SPEC_FULL.md §4.4-§4.8.
func buildNetworkStack(cfg config.AgentConfig, nc config.NetworkConfig, boltDB *bolt.DB, actionQueue *actions.Queue, ruleEngine *rules.Engine, statusBroadcaster *broadcaster.Broadcaster, log *logrus.Entry) (*networkStack, error) {
	chainClient := chain.NewJSONRPCClient(nc.RPCEndpoint, nc.StakingContractAddress)
	subgraphClient := subgraph.NewGraphQLClient(nc.SubgraphEndpoint)
	nodeClient := deploymentnode.NewJSONRPCClient(nc.DeploymentNodeEndpoint)

	idempotency, err := bolt.NewIdempotencyCache(boltDB)
	if err != nil {
		return nil, fmt.Errorf("network %s: idempotency cache: %w", nc.Network, err)
	}
	idempotentNode := deploymentnode.NewIdempotentClient(nodeClient, idempotency)

	monitor := networkmonitor.New(nc.Network, cfg.Indexer, chainClient, subgraphClient, nodeClient)
	wallet := allocmgr.NewWallet(cfg.WalletSeed)
	manager := allocmgr.New(nc.Network, cfg.Indexer, monitor, chainClient, idempotentNode, wallet, cfg.NodeID)
	exec := executor.New(nc.Network, manager, chainClient, ruleEngine)

	worthy := func(rule core.IndexingRule, signal reconciler.Signal) bool { return rules.Worthy(rule, rules.Signal(signal)) }
	var rb reconciler.Broadcaster
	if statusBroadcaster != nil {
		rb = statusBroadcaster
	}
	r := reconciler.New(nc.Network, ruleEngine, monitor, actionQueue, rb, nil, &ruleDeployments{engine: ruleEngine}, worthy)

	log.WithField("network", nc.Network).Info("network stack ready")
	return &networkStack{network: nc.Network, reconciler: r, monitor: monitor, executor: exec}, nil
}

// runBatchLoop periodically pulls a network's approved actions and
// submits them as one batch (§4.7), persisting the outcome of every
// action back to the store. It stops when ctx is canceled.
func runBatchLoop(ctx context.Context, stack *networkStack, actionQueue *actions.Queue, store *db.Store, tracker *statemanager.Tracker, interval time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runBatchOnce(ctx, stack, actionQueue, store, tracker, log)
		}
	}
}

func runBatchOnce(ctx context.Context, stack *networkStack, actionQueue *actions.Queue, store *db.Store, tracker *statemanager.Tracker, log *logrus.Entry) {
	approved, err := actionQueue.ApprovedForBatch(stack.network)
	if err != nil {
		log.WithError(err).WithField("network", stack.network).Warn("fetch approved actions failed")
		return
	}
	if len(approved) == 0 {
		return
	}
	opID := "batch-submit:" + stack.network + ":" + time.Now().UTC().Format(time.RFC3339Nano)
	tracker.StartOperation(opID, "batch-submit", map[string]interface{}{"network": stack.network, "actions": len(approved)})
	results, err := stack.executor.Submit(ctx, approved)
	tracker.CompleteOperation(opID, err)
	if err != nil {
		log.WithError(err).WithField("network", stack.network).Warn("batch submit failed")
		return
	}
	for _, result := range results {
		action := result.Action
		action.Status = result.Status
		if result.Reason != "" {
			action.FailureReason = &result.Reason
		}
		saved, err := store.UpsertAction(action)
		if err != nil {
			log.WithError(err).WithField("action_id", action.ID).Warn("persist batch result failed")
			continue
		}
		actionQueue.NotifyResult(saved)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:      common.LogLevelInfo,
		Format:     "json",
		Service:    "indexer-agent",
		Version:    version.GetBuildInfo().MainVersion,
		TimeFormat: time.RFC3339,
	})
	entry := logrus.NewEntry(logger)

	entry.WithFields(logrus.Fields{
		"indexer":      cfg.Indexer,
		"wallet_seed":  common.MaskSecret(cfg.WalletSeed),
		"admin_secret": common.MaskSecret(cfg.AdminJWTSecret),
		"networks":     len(cfg.Networks),
	}).Info("loaded agent configuration")

	if cfg.OTELEnabled {
		if provider := otel.Init("indexer-agent", version.GetBuildInfo().MainVersion); provider != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := provider.Shutdown(shutdownCtx); err != nil {
					entry.WithError(err).Warn("otel shutdown failed")
				}
			}()
		}
	}

	pgConfig := db.DefaultConfig(cfg.PostgresURL)
	store, err := db.Open(pgConfig, entry)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	boltDB, err := bolt.Open(cfg.BoltPath)
	if err != nil {
		return fmt.Errorf("open bolt db: %w", err)
	}
	defer boltDB.Close()

	passLock, err := lock.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect pass lock redis: %w", err)
	}
	defer passLock.Close()

	queueCtx, cancelQueue := context.WithTimeout(context.Background(), 10*time.Second)
	schedulerQueue, err := redisqueue.NewQueue(queueCtx, redisqueue.Config{RedisURL: cfg.RedisURL, KeyPrefix: "indexer-agent:"})
	cancelQueue()
	if err != nil {
		return fmt.Errorf("connect scheduler queue: %w", err)
	}
	defer schedulerQueue.Close()

	ruleEngine := rules.New(store)
	router := &monitorRouter{monitors: make(map[string]*networkmonitor.Monitor, len(cfg.Networks))}
	actionQueue := actions.New(store, router, cfg.ActionThrottleWindow)
	tracker := statemanager.New(statemanager.Config{ServiceName: "indexer-agent"})

	if cfg.EventsQueueURL != "" {
		publisher, err := eventqueue.NewEventPublisher(eventqueue.EventPublisherConfig{
			URL: cfg.EventsQueueURL, QueueName: cfg.EventsQueueName,
		})
		if err != nil {
			return fmt.Errorf("connect event publisher: %w", err)
		}
		defer publisher.Close()
		actionQueue.WithPublisher(publisher)
	}

	var statusBroadcaster *broadcaster.Broadcaster
	if cfg.DashboardURL != "" {
		networks := make([]string, len(cfg.Networks))
		for i, nc := range cfg.Networks {
			networks[i] = nc.Network
		}
		bcfg := broadcaster.DefaultConfig()
		bcfg.DashboardURL = cfg.DashboardURL
		bcfg.Indexer = cfg.Indexer
		bcfg.Networks = networks
		bcfg.Version = version.GetBuildInfo().MainVersion
		bcfg.Logger = entry
		statusBroadcaster = broadcaster.New(bcfg)
		statusBroadcaster.Connect()
		defer statusBroadcaster.Close()
	}

	var monitorHandles []monitorHandle
	var reconcilerHandles []reconcilerHandle
	var stacks []*networkStack
	for _, nc := range cfg.Networks {
		stack, err := buildNetworkStack(cfg, nc, boltDB, actionQueue, ruleEngine, statusBroadcaster, entry)
		if err != nil {
			return err
		}
		stacks = append(stacks, stack)
		router.monitors[stack.network] = stack.monitor
		monitorHandles = append(monitorHandles, monitorHandle{network: stack.network, monitor: stack.monitor})
		reconcilerHandles = append(reconcilerHandles, reconcilerHandle{network: stack.network, reconciler: stack.reconciler})
	}

	networkSet, err := fanout.New[monitorHandle, reconcilerHandle](monitorHandles, reconcilerHandles)
	if err != nil {
		return fmt.Errorf("network/reconciler fan-out mismatch: %w", err)
	}
	runners := make(map[string]scheduler.Runner, len(networkSet.NetworkIdentifiers()))
	for _, network := range networkSet.NetworkIdentifiers() {
		handle, _ := networkSet.Operator(network)
		runners[network] = &trackedRunner{network: network, inner: handle.reconciler, tracker: tracker}
	}

	sched := scheduler.New(schedulerQueue, runners, passLock, cfg.ReconcileInterval, entry)
	sched.Start()

	batchCtx, cancelBatch := context.WithCancel(context.Background())
	var batchWG sync.WaitGroup
	for _, stack := range stacks {
		batchWG.Add(1)
		go func(s *networkStack) {
			defer batchWG.Done()
			runBatchLoop(batchCtx, s, actionQueue, store, tracker, cfg.BatchInterval, entry)
		}(stack)
	}

	admin := api.NewServer(ruleEngine, tracker, cfg.AdminJWTSecret)
	go func() {
		if err := admin.Start(cfg.AdminAddr); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Warn("admin server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	entry.Info("shutting down")
	sched.Stop()
	cancelBatch()
	batchWG.Wait()

	if err := admin.Shutdown(); err != nil {
		entry.WithError(err).Error("admin server shutdown error")
	}
	return nil
}
