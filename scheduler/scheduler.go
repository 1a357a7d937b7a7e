// Package scheduler implements the reconciler scheduler supplemented
// feature of SPEC_FULL.md §2.3: it calls each network's reconciler pass
// (§4.8) on an interval, enforcing the "one pass in flight per network"
// rule of §5. It is built on the generic job-queue worker pool
// (worker/pool.go), one queue per network so that passes within a
// network run strictly sequentially while networks themselves run in
// parallel — exactly the concurrency shape fanout.Set's pairs need.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	redisqueue "github.com/graphprotocol/indexer-sub006/queue/redis"
	"github.com/graphprotocol/indexer-sub006/worker"
)

// Runner is the subset of reconciler.Reconciler the scheduler drives.
type Runner interface {
	Pass(ctx context.Context) error
}

// PassLock is the subset of lock.NetworkPassLock the scheduler uses to
// additionally enforce the cross-process "one pass in flight" invariant,
// on top of the single-worker-per-queue serialization within a process.
type PassLock interface {
	Acquire(ctx context.Context, network string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, network string) error
}

// Scheduler runs reconciliation passes for a fixed set of networks on an
// interval, via the worker pool idiom worker/pool.go already establishes.
type Scheduler struct {
	pool     *worker.Pool
	queue    *redisqueue.Queue
	networks []string
	interval time.Duration
	stop     chan struct{}
	log      *logrus.Entry
}

// New constructs a scheduler over runners, one per network, all sharing a
// Redis-backed job queue (one logical queue name per network).
func New(queue *redisqueue.Queue, runners map[string]Runner, lock PassLock, interval time.Duration, log *logrus.Entry) *Scheduler {
	processor := &passProcessor{runners: runners, lock: lock, log: log}
	queues := make(map[string]int, len(runners))
	networks := make([]string, 0, len(runners))
	for network := range runners {
		queues[network] = 1 // one worker: passes within a network run sequentially.
		networks = append(networks, network)
	}
	pool := worker.NewPool(&queueAdapter{queue}, processor, worker.Config{Queues: queues})
	return &Scheduler{pool: pool, queue: queue, networks: networks, interval: interval, stop: make(chan struct{}), log: log}
}

// Start starts the worker pool and the interval ticker that enqueues one
// pass job per network.
func (s *Scheduler) Start() {
	s.pool.Start()
	go s.tickLoop()
}

// Stop stops the interval ticker and the worker pool.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.pool.Stop()
}

func (s *Scheduler) tickLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.enqueueAll()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.enqueueAll()
		}
	}
}

func (s *Scheduler) enqueueAll() {
	for _, network := range s.networks {
		job := redisqueue.Job{ActionID: network, QueueName: network, EnqueuedAt: time.Now()}
		if err := s.queue.Enqueue(job); err != nil {
			s.log.WithError(err).WithField("network", network).Warn("failed to enqueue reconciler pass")
		}
	}
}

// passProcessor adapts a per-network Runner to worker.JobProcessor.
type passProcessor struct {
	runners map[string]Runner
	lock    PassLock
	log     *logrus.Entry
}

func (p *passProcessor) Process(ctx context.Context, job interface{}) error {
	network := p.GetJobID(job)
	runner, ok := p.runners[network]
	if !ok {
		return fmt.Errorf("scheduler: no reconciler registered for network %s", network)
	}
	if p.lock != nil {
		acquired, err := p.lock.Acquire(ctx, network, p.GetTimeout(job))
		if err != nil {
			return fmt.Errorf("scheduler: acquire pass lock: %w", err)
		}
		if !acquired {
			p.log.WithField("network", network).Debug("pass already in flight on another process, skipping")
			return nil
		}
		defer p.lock.Release(ctx, network)
	}
	return runner.Pass(ctx)
}

func (p *passProcessor) GetJobID(job interface{}) string {
	if j, ok := job.(*redisqueue.Job); ok {
		return j.QueueName
	}
	return ""
}

func (p *passProcessor) GetTimeout(job interface{}) time.Duration {
	return 5 * time.Minute
}

// queueAdapter adapts redisqueue.Queue's typed Job API to worker.Queue's
// interface{}-shaped one.
type queueAdapter struct {
	q *redisqueue.Queue
}

func (a *queueAdapter) Dequeue(queueName string, timeout time.Duration) (interface{}, error) {
	job, err := a.q.Dequeue(queueName, timeout)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	return job, nil
}

func (a *queueAdapter) Enqueue(job interface{}) error {
	j, ok := job.(redisqueue.Job)
	if !ok {
		return fmt.Errorf("scheduler: enqueue: unexpected job type %T", job)
	}
	return a.q.Enqueue(j)
}

func (a *queueAdapter) MarkProcessing(jobID string, deadline time.Time) error {
	return a.q.MarkProcessing(jobID, deadline)
}

func (a *queueAdapter) CompleteJob(jobID string) error {
	return a.q.CompleteJob(jobID)
}

func (a *queueAdapter) FailJob(jobID string, requeue bool, queueName string, retryCount int) error {
	return a.q.FailJob(jobID, requeue, queueName, retryCount)
}

var _ = json.Marshal // retained: job payloads round-trip through redisqueue's own JSON encoding.
