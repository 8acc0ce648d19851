package replacer_test

import (
	"testing"

	"diskhash/pkg/replacer"
)

// victim wraps LRU.Victim with a must-succeed check.
func victim(t *testing.T, r *replacer.LRU) int {
	t.Helper()
	frameID, ok := r.Victim()
	if !ok {
		t.Fatal("expected a victim, replacer is empty")
	}
	return frameID
}

func TestVictimOrder(t *testing.T) {
	t.Parallel()
	r := replacer.New()
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	if r.Size() != 3 {
		t.Fatalf("expected size 3, got %d", r.Size())
	}
	if got := victim(t, r); got != 1 {
		t.Errorf("expected least-recently-unpinned frame 1, got %d", got)
	}
	if got := victim(t, r); got != 2 {
		t.Errorf("expected frame 2 next, got %d", got)
	}
	if got := victim(t, r); got != 3 {
		t.Errorf("expected frame 3 last, got %d", got)
	}
	if _, ok := r.Victim(); ok {
		t.Error("expected Victim to fail on an empty replacer")
	}
}

func TestDoubleUnpinKeepsPosition(t *testing.T) {
	t.Parallel()
	r := replacer.New()
	r.Unpin(1)
	r.Unpin(2)
	// Re-unpinning 1 must not move it to the MRU end.
	r.Unpin(1)
	if r.Size() != 2 {
		t.Fatalf("expected size 2 after double unpin, got %d", r.Size())
	}
	if got := victim(t, r); got != 1 {
		t.Errorf("double unpin moved frame 1; victim was %d", got)
	}
}

func TestPinRemovesCandidate(t *testing.T) {
	t.Parallel()
	r := replacer.New()
	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)
	if r.Size() != 1 {
		t.Fatalf("expected size 1 after pin, got %d", r.Size())
	}
	if got := victim(t, r); got != 2 {
		t.Errorf("expected frame 2 after pinning 1, got %d", got)
	}
	// Pinning an untracked frame is a no-op.
	r.Pin(42)
	if r.Size() != 0 {
		t.Errorf("expected size 0, got %d", r.Size())
	}
}
