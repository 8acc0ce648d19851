// Package buffer implements the fixed-capacity buffer pool that
// mediates all access between on-disk pages and in-memory frames,
// delegating eviction candidate tracking to an LRU replacer.
package buffer

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"diskhash/pkg/disk"
	"diskhash/pkg/list"
	"diskhash/pkg/logmgr"
	"diskhash/pkg/replacer"
)

// ErrPoolExhausted is returned by NewPage/FetchPage when every frame
// is pinned and the free list is empty.
var ErrPoolExhausted = errors.New("buffer: no available frames")

// Pool owns a fixed array of page frames and maps page identifiers to
// them. All public operations are serialized by the pool latch for
// their entire duration; the latch is released before the caller
// receives a frame pointer, so correctness beyond that point relies
// entirely on the pin keeping the frame out of eviction.
type Pool struct {
	disk      disk.Manager
	log       *logmgr.Manager // opaque log collaborator; never interpreted here
	frames    []*Frame
	pageTable map[PageID]int // pid -> frame index
	freeList  *list.List     // frame indices not yet assigned to any pid
	replacer  *replacer.LRU

	mu sync.Mutex // the pool latch

	nextPID       int64
	numInstances  int64
	instanceIndex int64
}

// New constructs a Pool of poolSize frames backed by d, with num as
// the pool's PID stride and idx as the PID this pool starts
// allocating from. A single-instance deployment should pass
// num=1, idx=0.
func New(d disk.Manager, log *logmgr.Manager, poolSize int, num, idx int64) *Pool {
	if num <= 0 {
		num = 1
	}
	p := &Pool{
		disk:          d,
		log:           log,
		frames:        make([]*Frame, poolSize),
		pageTable:     make(map[PageID]int, poolSize),
		freeList:      list.NewList(),
		replacer:      replacer.New(),
		nextPID:       idx,
		numInstances:  num,
		instanceIndex: idx,
	}
	// One aligned allocation sliced per frame, the same trick
	// pkg/pager uses: each slice's offset from the aligned base is a
	// multiple of PageSize, so every frame buffer stays block-aligned.
	block := disk.AlignedBlock(poolSize)
	for i := 0; i < poolSize; i++ {
		buf := block[i*int(disk.PageSize) : (i+1)*int(disk.PageSize)]
		p.frames[i] = &Frame{pageID: InvalidPageID, data: buf}
		p.freeList.PushTail(i)
	}
	return p
}

// victimFrame chooses a frame index to reuse: the free list first,
// then the replacer. Caller must hold mu.
func (p *Pool) victimFrame() (int, bool) {
	if link := p.freeList.PeekHead(); link != nil {
		idx := link.GetValue().(int)
		link.PopSelf()
		return idx, true
	}
	return p.replacer.Victim()
}

// evictIfMapped flushes (if dirty) and unmaps whatever page frame idx
// currently holds, if any. Caller must hold mu.
func (p *Pool) evictIfMapped(idx int) error {
	f := p.frames[idx]
	if f.pageID == InvalidPageID {
		return nil
	}
	if f.dirty {
		if err := p.disk.WritePage(f.pageID, f.data); err != nil {
			return err
		}
	}
	delete(p.pageTable, f.pageID)
	f.pageID = InvalidPageID
	f.dirty = false
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// allocatePID hands out the next page identifier this pool instance
// owns, per the stride scheme: every PID it allocates satisfies
// pid mod numInstances == instanceIndex.
func (p *Pool) allocatePID() PageID {
	pid := PageID(p.nextPID)
	p.nextPID += p.numInstances
	return pid
}

// SeedNextPID advances the pool's PID allocator to the smallest value
// congruent to instanceIndex mod numInstances that is >= n. Callers
// reopening a pool backed by a store that already has n pages
// resident use this so NewPage doesn't reissue a live PID.
func (p *Pool) SeedNextPID(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.nextPID < n {
		p.nextPID += p.numInstances
	}
}

// NewPage allocates a fresh page, pins it once, and returns its frame.
func (p *Pool) NewPage() (PageID, *Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.victimFrame()
	if !ok {
		return InvalidPageID, nil, ErrPoolExhausted
	}
	if err := p.evictIfMapped(idx); err != nil {
		return InvalidPageID, nil, err
	}
	f := p.frames[idx]
	pid := p.allocatePID()
	zero(f.data)
	f.pageID = pid
	f.pinCount.Store(1)
	f.dirty = false
	p.pageTable[pid] = idx
	p.replacer.Pin(idx)
	return pid, f, nil
}

// FetchPage returns the frame holding pid, pinning it, reading it in
// from disk first if it isn't already resident.
func (p *Pool) FetchPage(pid PageID) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.pageTable[pid]; ok {
		f := p.frames[idx]
		f.pinCount.Add(1)
		p.replacer.Pin(idx)
		return f, nil
	}
	idx, ok := p.victimFrame()
	if !ok {
		return nil, ErrPoolExhausted
	}
	if err := p.evictIfMapped(idx); err != nil {
		return nil, err
	}
	f := p.frames[idx]
	if err := p.disk.ReadPage(pid, f.data); err != nil {
		// Leave the frame free rather than mapped to a page we
		// couldn't actually read.
		p.freeList.PushTail(idx)
		return nil, err
	}
	f.pageID = pid
	f.pinCount.Store(1)
	f.dirty = false
	p.pageTable[pid] = idx
	p.replacer.Pin(idx)
	return f, nil
}

// UnpinPage releases one outstanding reference to pid, marking it
// dirty if dirty is true. Returns false if pid isn't currently
// resident.
func (p *Pool) UnpinPage(pid PageID, dirty bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.pageTable[pid]
	if !ok {
		return false
	}
	f := p.frames[idx]
	if dirty {
		f.dirty = true
	}
	newCount := f.pinCount.Add(-1)
	if newCount < 0 {
		panic("buffer: pin count underflow on UnpinPage")
	}
	if newCount == 0 {
		p.replacer.Unpin(idx)
	}
	return true
}

// FlushPage writes pid to disk if it is mapped and dirty. It does not
// clear the dirty flag; re-flushes are idempotent at the disk layer.
func (p *Pool) FlushPage(pid PageID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.pageTable[pid]
	if !ok {
		return false
	}
	f := p.frames[idx]
	if f.dirty {
		_ = p.disk.WritePage(pid, f.data)
	}
	return true
}

// FlushAllPages writes every mapped, dirty frame to disk. The writes
// themselves run concurrently (independent frames, independent file
// offsets) but the whole call still holds the pool latch for its
// entire duration.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var g errgroup.Group
	for _, idx := range p.pageTable {
		f := p.frames[idx]
		if !f.dirty {
			continue
		}
		frame := f
		g.Go(func() error {
			return p.disk.WritePage(frame.pageID, frame.data)
		})
	}
	return g.Wait()
}

// DeletePage reclaims pid's frame, failing if it is still pinned.
// Returns true if pid is now (or already was) not resident.
func (p *Pool) DeletePage(pid PageID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.pageTable[pid]
	if !ok {
		return true
	}
	f := p.frames[idx]
	if f.pinCount.Load() > 0 {
		return false
	}
	if f.dirty {
		_ = p.disk.WritePage(pid, f.data)
	}
	delete(p.pageTable, pid)
	f.pageID = InvalidPageID
	f.dirty = false
	zero(f.data)
	p.freeList.PushTail(idx)
	p.replacer.Pin(idx)
	return true
}

// Close flushes every dirty frame and closes the backing disk
// manager.
func (p *Pool) Close() error {
	if err := p.FlushAllPages(); err != nil {
		return err
	}
	return p.disk.Close()
}
