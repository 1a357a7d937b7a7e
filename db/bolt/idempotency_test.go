package bolt

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestCache(t *testing.T) *IdempotencyCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idempotency.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})
	cache, err := NewIdempotencyCache(db)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return cache
}

func TestIdempotencyCacheMarksDone(t *testing.T) {
	c := newTestCache(t)

	done, err := c.Done("legacy-pause:Qmx")
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if done {
		t.Fatal("expected not done before MarkDone")
	}

	if err := c.MarkDone("legacy-pause:Qmx"); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	done, err = c.Done("legacy-pause:Qmx")
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if !done {
		t.Fatal("expected done after MarkDone")
	}
}
