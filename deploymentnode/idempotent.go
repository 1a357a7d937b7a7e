package deploymentnode

import (
	"context"
	"fmt"
)

// IdempotencyCache is the subset of db/bolt's IdempotencyCache this
// wrapper depends on, kept as an interface so tests can substitute an
// in-memory fake instead of opening a real bbolt file.
type IdempotencyCache interface {
	Done(key string) (bool, error)
	MarkDone(key string) error
}

// IdempotentClient wraps a Client so that Create+Deploy for a given
// deployment ID runs at most once even across process restarts or
// repeated reconciler passes targeting the same deployment
// (SPEC_FULL.md §4.6's "ensure deployment exists on the local node" step).
type IdempotentClient struct {
	Client
	cache IdempotencyCache
}

// NewIdempotentClient wraps client with a durable once-only guard backed
// by cache.
func NewIdempotentClient(client Client, cache IdempotencyCache) *IdempotentClient {
	return &IdempotentClient{Client: client, cache: cache}
}

// EnsureDeployed runs Create then Deploy against nodeID exactly once per
// deploymentID, returning immediately without calling the node again if a
// prior call already completed.
func (c *IdempotentClient) EnsureDeployed(ctx context.Context, deploymentID, nodeID string) error {
	key := "deploy:" + deploymentID
	done, err := c.cache.Done(key)
	if err != nil {
		return fmt.Errorf("deploymentnode: check idempotency cache: %w", err)
	}
	if done {
		return nil
	}
	if err := c.Create(ctx, deploymentID); err != nil {
		return err
	}
	if err := c.Deploy(ctx, deploymentID, nodeID); err != nil {
		return err
	}
	return c.cache.MarkDone(key)
}
