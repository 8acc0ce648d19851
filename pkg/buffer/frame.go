package buffer

import (
	"sync"
	"sync/atomic"

	"diskhash/pkg/disk"
)

// PageID identifies a page by its stable on-disk handle.
type PageID = disk.PageID

// InvalidPageID is the sentinel meaning "no page".
const InvalidPageID = disk.InvalidPageID

// Frame is one in-memory slot of the buffer pool: a page-sized byte
// buffer plus the metadata the pool uses to decide when it's safe to
// evict.
type Frame struct {
	pageID   PageID
	pinCount atomic.Int64
	dirty    bool
	rwlock   sync.RWMutex
	data     []byte
}

// GetPageID returns the id of the page currently held by this frame.
func (f *Frame) GetPageID() PageID {
	return f.pageID
}

// IsDirty reports whether this frame's bytes have been marked changed
// since its page was loaded. FlushPage writes the bytes out but leaves
// the flag set.
func (f *Frame) IsDirty() bool {
	return f.dirty
}

// SetDirty marks (or clears) the frame's dirty flag.
func (f *Frame) SetDirty(dirty bool) {
	f.dirty = dirty
}

// GetData returns the frame's raw page bytes.
func (f *Frame) GetData() []byte {
	return f.data
}

// PinCount returns the number of outstanding logical borrows of this
// frame.
func (f *Frame) PinCount() int64 {
	return f.pinCount.Load()
}

// WLock acquires the frame's page-level write latch.
func (f *Frame) WLock() { f.rwlock.Lock() }

// WUnlock releases the frame's page-level write latch.
func (f *Frame) WUnlock() { f.rwlock.Unlock() }

// RLock acquires the frame's page-level read latch.
func (f *Frame) RLock() { f.rwlock.RLock() }

// RUnlock releases the frame's page-level read latch.
func (f *Frame) RUnlock() { f.rwlock.RUnlock() }
