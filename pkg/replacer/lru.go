// Package replacer implements the frame replacement policy consulted
// by the buffer pool once its free list is exhausted.
package replacer

import (
	"sync"

	"diskhash/pkg/list"
)

// LRU tracks unpinned frames in least-recently-unpinned order. All
// operations are O(1) and serialized by an internal mutex; LRU never
// calls back into the buffer pool, so it may be locked while the pool
// latch is held without risking a lock-ordering inversion.
type LRU struct {
	mu    sync.Mutex
	order *list.List
	nodes map[int]*list.Link
}

// New constructs an empty LRU replacer.
func New() *LRU {
	return &LRU{
		order: list.NewList(),
		nodes: make(map[int]*list.Link),
	}
}

// Victim removes and returns the least-recently-unpinned frame, or
// false if no frame is currently a candidate.
func (r *LRU) Victim() (frameID int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head := r.order.PeekHead()
	if head == nil {
		return 0, false
	}
	frameID = head.GetValue().(int)
	head.PopSelf()
	delete(r.nodes, frameID)
	return frameID, true
}

// Pin removes frameID from the candidate set. No-op if frameID isn't
// currently tracked.
func (r *LRU) Pin(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.nodes[frameID]
	if !ok {
		return
	}
	link.PopSelf()
	delete(r.nodes, frameID)
}

// Unpin adds frameID as the most-recently-unpinned candidate. No-op
// (and position-preserving) if frameID is already tracked.
func (r *LRU) Unpin(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[frameID]; ok {
		return
	}
	r.nodes[frameID] = r.order.PushTail(frameID)
}

// Size returns the number of frames currently tracked as candidates.
func (r *LRU) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}
