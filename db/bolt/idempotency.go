package bolt

import "time"

const deployBucket = "idempotent-deploys"

// deployRecord is what IdempotencyCache stores per tracked operation: the
// time it first completed, kept so a TODO'd future GC pass can expire very
// old entries without needing a separate index.
type deployRecord struct {
	CompletedAt time.Time `json:"completed_at"`
}

// IdempotencyCache tracks deployment-node operations that must run at
// most once, keyed by an operation-specific string; its caller is
// deploymentnode.IdempotentClient, which records each deployment's
// create-and-deploy step here so a retry does not repeat it.
type IdempotencyCache struct {
	db *DB
}

// NewIdempotencyCache opens (creating if necessary) the bucket used to
// track completed once-only operations.
func NewIdempotencyCache(db *DB) (*IdempotencyCache, error) {
	if err := db.CreateBucket(deployBucket); err != nil {
		return nil, err
	}
	return &IdempotencyCache{db: db}, nil
}

// Done reports whether the operation keyed by key has already completed.
func (c *IdempotencyCache) Done(key string) (bool, error) {
	var rec deployRecord
	err := c.db.GetJSON(deployBucket, key, &rec)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// MarkDone records that the operation keyed by key has completed, so
// future calls to Done report true and the caller never repeats it.
func (c *IdempotencyCache) MarkDone(key string) error {
	return c.db.PutJSON(deployBucket, key, deployRecord{CompletedAt: time.Now()})
}
