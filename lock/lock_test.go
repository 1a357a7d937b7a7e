package lock

import "testing"

func TestLockKeyNamespacesByNetwork(t *testing.T) {
	if got, want := lockKey("eip155:1"), "reconciler-pass-lock:eip155:1"; got != want {
		t.Errorf("lockKey = %q, want %q", got, want)
	}
}
