// Package hash implements a disk-resident extendible hash index: a
// directory page plus a dynamically growing and shrinking set of
// bucket pages, all accessed exclusively through a buffer pool.
package hash

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"diskhash/pkg/buffer"
	"diskhash/pkg/config"
	"diskhash/pkg/disk"
	"diskhash/pkg/logmgr"
	"diskhash/pkg/txn"
)

// Index is the extendible hash index. It routes every operation
// through its buffer pool: fetch directory, hash to a slot, fetch the
// slot's bucket, operate, unpin with the appropriate dirty flag.
type Index struct {
	pool     *buffer.Pool
	log      *logmgr.Manager // opaque log collaborator
	dirPID   buffer.PageID
	hasher   KeyHasher
	cmp      KeyComparator
	filename string
	rwlock   sync.RWMutex // the index table-latch
}

// NewIndex bootstraps a fresh index on pool: it allocates the
// directory page and a single bucket page, points slot 0 at the
// bucket with local depth 0, and unpins both dirty. The directory's
// page id is the recovery anchor a reopening caller passes to
// AttachIndex.
func NewIndex(pool *buffer.Pool, hasher KeyHasher, cmp KeyComparator) (*Index, error) {
	dirPID, dirFrame, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	bucketPID, bucketFrame, err := pool.NewPage()
	if err != nil {
		pool.UnpinPage(dirPID, false)
		return nil, err
	}
	newBucketPage(bucketFrame)
	newDirectoryPage(dirFrame, bucketPID)
	pool.UnpinPage(bucketPID, true)
	pool.UnpinPage(dirPID, true)
	return &Index{pool: pool, dirPID: dirPID, hasher: hasher, cmp: cmp}, nil
}

// AttachIndex opens an index whose directory page already exists in
// pool's backing store at dirPID.
func AttachIndex(pool *buffer.Pool, dirPID buffer.PageID, hasher KeyHasher, cmp KeyComparator) *Index {
	return &Index{pool: pool, dirPID: dirPID, hasher: hasher, cmp: cmp}
}

// OpenIndex opens (or creates) the index backed by filename with the
// default pool size, hasher, and comparator.
func OpenIndex(filename string) (*Index, error) {
	return OpenIndexWith(filename, config.DefaultPoolSize, XxHasher, Int64Comparator)
}

// OpenIndexWith opens (or creates) the index backed by filename with
// an explicit pool size, hasher, and comparator. The hasher must be
// the same pure function the index was created with, or routing of
// existing entries breaks.
func OpenIndexWith(filename string, poolSize int, hasher KeyHasher, cmp KeyComparator) (*Index, error) {
	d, err := disk.Open(filename)
	if err != nil {
		return nil, err
	}
	log, err := logmgr.Open(filename + config.LogSuffix)
	if err != nil {
		d.Close()
		return nil, err
	}
	pool := buffer.New(d, log, poolSize, 1, 0)
	size, err := d.Size()
	if err != nil {
		log.Close()
		d.Close()
		return nil, err
	}
	var index *Index
	if size == 0 {
		index, err = NewIndex(pool, hasher, cmp)
		if err != nil {
			log.Close()
			d.Close()
			return nil, err
		}
	} else {
		pool.SeedNextPID(size)
		// The directory is always the first page the bootstrap
		// allocated.
		index = AttachIndex(pool, 0, hasher, cmp)
	}
	index.log = log
	index.filename = filename
	if _, err := log.AppendRecord(fmt.Sprintf("< open %s >", filepath.Base(filename))); err != nil {
		index.Close()
		return nil, err
	}
	return index, nil
}

// GetName returns the base file name of the file backing this index.
func (i *Index) GetName() string {
	return filepath.Base(i.filename)
}

// GetPool returns the buffer pool backing this index.
func (i *Index) GetPool() *buffer.Pool {
	return i.pool
}

// Close flushes the index through the buffer pool and closes the
// backing disk and log files.
func (i *Index) Close() error {
	if i.log != nil {
		_, _ = i.log.AppendRecord(fmt.Sprintf("< close %s >", filepath.Base(i.filename)))
		defer i.log.Close()
	}
	return i.pool.Close()
}

// fetchDirectory fetches and decodes the directory page, leaving it
// pinned. Every caller must unpin i.dirPID exactly once afterwards.
func (i *Index) fetchDirectory() (*DirectoryPage, error) {
	frame, err := i.pool.FetchPage(i.dirPID)
	if err != nil {
		return nil, err
	}
	return decodeDirectory(frame), nil
}

// lockMode selects which side of a page's reader/writer latch
// getAndLockBucket acquires.
type lockMode int

const (
	readLock lockMode = iota
	writeLock
)

// getAndLockBucket fetches the bucket page pid, takes its page latch
// in the requested mode, and only then decodes the bitmaps: a view
// decoded before the latch could be stale against a writer that beat
// us to it. The bucket stays pinned and latched; the caller must
// release the latch and then unpin pid exactly once.
func (i *Index) getAndLockBucket(pid buffer.PageID, mode lockMode) (*BucketPage, error) {
	frame, err := i.pool.FetchPage(pid)
	if err != nil {
		return nil, err
	}
	if mode == writeLock {
		frame.WLock()
	} else {
		frame.RLock()
	}
	return decodeBucket(frame), nil
}

// GetValue returns every value currently stored under key. The
// transaction is accepted but not examined.
func (i *Index) GetValue(key int64, _ *txn.Transaction) ([]int64, error) {
	i.rwlock.RLock()
	defer i.rwlock.RUnlock()
	dir, err := i.fetchDirectory()
	if err != nil {
		return nil, err
	}
	defer i.pool.UnpinPage(i.dirPID, false)
	pid := dir.BucketPageID(dir.slotFor(i.hasher(key)))
	bucket, err := i.getAndLockBucket(pid, readLock)
	if err != nil {
		return nil, err
	}
	values := bucket.GetValue(key, i.cmp)
	bucket.frame.RUnlock()
	i.pool.UnpinPage(pid, false)
	return values, nil
}

// Insert adds (key, value) to the index, splitting buckets and
// growing the directory as needed. It reports false without error
// when the exact pair is already present.
func (i *Index) Insert(key, value int64, _ *txn.Transaction) (bool, error) {
	i.rwlock.RLock()
	dir, err := i.fetchDirectory()
	if err != nil {
		i.rwlock.RUnlock()
		return false, err
	}
	pid := dir.BucketPageID(dir.slotFor(i.hasher(key)))
	bucket, err := i.getAndLockBucket(pid, writeLock)
	if err != nil {
		i.pool.UnpinPage(i.dirPID, false)
		i.rwlock.RUnlock()
		return false, err
	}
	inserted := bucket.Insert(key, value, i.cmp)
	bucket.frame.WUnlock()
	i.pool.UnpinPage(i.dirPID, false)
	i.pool.UnpinPage(pid, inserted)
	i.rwlock.RUnlock()
	if inserted {
		return true, nil
	}
	// Full bucket or duplicate: both are resolved under the write
	// latch, which re-checks before splitting.
	return i.splitInsert(key, value)
}

// splitInsert is Insert's slow path: it re-routes and re-checks under
// the index write-latch (the target bucket may have changed while the
// latch was awaited), then splits the full bucket, growing the
// directory first when the bucket's local depth has caught up with
// the global depth. The loop replaces the tail recursion in the
// textbook algorithm: when every entry lands on the same side of a
// split, the still-full bucket is split again on the next pass.
func (i *Index) splitInsert(key, value int64) (bool, error) {
	i.rwlock.Lock()
	defer i.rwlock.Unlock()
	for {
		dir, err := i.fetchDirectory()
		if err != nil {
			return false, err
		}
		slot := dir.slotFor(i.hasher(key))
		pid := dir.BucketPageID(slot)
		bucket, err := i.getAndLockBucket(pid, writeLock)
		if err != nil {
			i.pool.UnpinPage(i.dirPID, false)
			return false, err
		}
		if bucket.contains(key, value, i.cmp) {
			bucket.frame.WUnlock()
			i.pool.UnpinPage(pid, false)
			i.pool.UnpinPage(i.dirPID, false)
			return false, nil
		}
		if !bucket.IsFull() {
			// Another writer drained the bucket while we waited for
			// the latch; no split needed after all.
			inserted := bucket.Insert(key, value, i.cmp)
			bucket.frame.WUnlock()
			i.pool.UnpinPage(pid, inserted)
			i.pool.UnpinPage(i.dirPID, false)
			return inserted, nil
		}

		localDepth := dir.LocalDepth(slot)
		if localDepth == dir.GlobalDepth() {
			if dir.GlobalDepth() >= MaxDepth {
				panic(fmt.Sprintf("hash: split would grow the directory past max depth %d", MaxDepth))
			}
			dir.grow()
		}

		newPID, newFrame, err := i.pool.NewPage()
		if err != nil {
			bucket.frame.WUnlock()
			i.pool.UnpinPage(pid, false)
			i.pool.UnpinPage(i.dirPID, false)
			return false, err
		}
		newFrame.WLock()
		newBucket := newBucketPage(newFrame)

		// Entries whose next hash bit matches the sibling's move to
		// the new bucket; the rest stay put.
		newMask := (1 << uint(localDepth+1)) - 1
		moveLow := (slot ^ (1 << uint(localDepth))) & newMask
		moved := false
		for s := 0; s < BucketArraySize; s++ {
			if !bucket.IsReadable(s) {
				continue
			}
			k := bucket.KeyAt(s)
			if int(i.hasher(k))&newMask == moveLow {
				newBucket.Insert(k, bucket.ValueAt(s), i.cmp)
				bucket.RemoveAt(s)
				moved = true
			}
		}

		// Fan the split out over every directory slot that aliased
		// the old bucket, not just the one we routed through.
		for j := 0; j < dir.size(); j++ {
			if dir.BucketPageID(j) != pid {
				continue
			}
			if j&newMask == moveLow {
				dir.setSlot(j, newPID, localDepth+1)
			} else {
				dir.setSlot(j, pid, localDepth+1)
			}
		}

		insertedOld, insertedNew := false, false
		if int(i.hasher(key))&newMask == moveLow {
			insertedNew = newBucket.Insert(key, value, i.cmp)
		} else {
			insertedOld = bucket.Insert(key, value, i.cmp)
		}
		dir.flush()

		newFrame.WUnlock()
		bucket.frame.WUnlock()
		// The new bucket is always flushed, even when empty: the pool's
		// pid allocator is reseeded from the file size on reopen, so an
		// allocated page that never reaches disk could be reissued.
		i.pool.UnpinPage(pid, moved || insertedOld)
		i.pool.UnpinPage(newPID, true)
		i.pool.UnpinPage(i.dirPID, true)
		if insertedOld || insertedNew {
			return true, nil
		}
	}
}

// Remove deletes the exact pair (key, value), reporting false without
// error when no such pair is live. A successful removal triggers a
// merge pass, which may cascade and shrink the directory.
func (i *Index) Remove(key, value int64, _ *txn.Transaction) (bool, error) {
	i.rwlock.Lock()
	defer i.rwlock.Unlock()
	dir, err := i.fetchDirectory()
	if err != nil {
		return false, err
	}
	pid := dir.BucketPageID(dir.slotFor(i.hasher(key)))
	bucket, err := i.getAndLockBucket(pid, writeLock)
	if err != nil {
		i.pool.UnpinPage(i.dirPID, false)
		return false, err
	}
	removed := bucket.Remove(key, value, i.cmp)
	bucket.frame.WUnlock()
	i.pool.UnpinPage(pid, removed)
	i.pool.UnpinPage(i.dirPID, false)
	if !removed {
		return false, nil
	}
	return true, i.merge(key)
}

// merge coalesces the (possibly now empty) bucket key routes to with
// its split image, looping because emptying one bucket can leave the
// merged result empty in turn. Caller must hold the index
// write-latch.
func (i *Index) merge(key int64) error {
	for {
		dir, err := i.fetchDirectory()
		if err != nil {
			return err
		}
		slot := dir.slotFor(i.hasher(key))
		localDepth := dir.LocalDepth(slot)
		if localDepth == 0 {
			i.pool.UnpinPage(i.dirPID, false)
			return nil
		}
		pid := dir.BucketPageID(slot)
		bucket, err := i.getAndLockBucket(pid, readLock)
		if err != nil {
			i.pool.UnpinPage(i.dirPID, false)
			return err
		}
		empty := bucket.IsEmpty()
		bucket.frame.RUnlock()
		partner := slot ^ (1 << uint(localDepth-1))
		if !empty || dir.LocalDepth(partner) != localDepth {
			i.pool.UnpinPage(pid, false)
			i.pool.UnpinPage(i.dirPID, false)
			return nil
		}
		partnerPID := dir.BucketPageID(partner)
		for j := 0; j < dir.size(); j++ {
			if p := dir.BucketPageID(j); p == pid || p == partnerPID {
				dir.setSlot(j, partnerPID, localDepth-1)
			}
		}
		i.pool.UnpinPage(pid, false)
		i.pool.DeletePage(pid)
		if dir.canShrink() {
			dir.shrink()
		}
		dir.flush()
		i.pool.UnpinPage(i.dirPID, true)
	}
}

// Update rewrites the value of the live pair (key, oldValue) to
// newValue in place, with no split or merge pass. It reports false
// when the old pair is absent or the new pair already exists.
func (i *Index) Update(key, oldValue, newValue int64, _ *txn.Transaction) (bool, error) {
	i.rwlock.RLock()
	defer i.rwlock.RUnlock()
	dir, err := i.fetchDirectory()
	if err != nil {
		return false, err
	}
	pid := dir.BucketPageID(dir.slotFor(i.hasher(key)))
	bucket, err := i.getAndLockBucket(pid, writeLock)
	if err != nil {
		i.pool.UnpinPage(i.dirPID, false)
		return false, err
	}
	updated := false
	if !bucket.contains(key, newValue, i.cmp) {
		for s := 0; s < BucketArraySize; s++ {
			if bucket.IsReadable(s) && i.cmp(bucket.KeyAt(s), key) == 0 && bucket.ValueAt(s) == oldValue {
				bucket.writeEntry(s, Entry{Key: key, Value: newValue})
				updated = true
				break
			}
		}
	}
	bucket.frame.WUnlock()
	i.pool.UnpinPage(pid, updated)
	i.pool.UnpinPage(i.dirPID, false)
	return updated, nil
}

// GetGlobalDepth returns the directory's current global depth.
func (i *Index) GetGlobalDepth() (int, error) {
	i.rwlock.RLock()
	defer i.rwlock.RUnlock()
	dir, err := i.fetchDirectory()
	if err != nil {
		return 0, err
	}
	depth := dir.GlobalDepth()
	i.pool.UnpinPage(i.dirPID, false)
	return depth, nil
}

// Select returns every live (key, value) pair in the index, walking
// each distinct bucket once in slot order.
func (i *Index) Select() ([]Entry, error) {
	i.rwlock.RLock()
	defer i.rwlock.RUnlock()
	dir, err := i.fetchDirectory()
	if err != nil {
		return nil, err
	}
	defer i.pool.UnpinPage(i.dirPID, false)
	var out []Entry
	seen := make(map[buffer.PageID]bool)
	for j := 0; j < dir.size(); j++ {
		pid := dir.BucketPageID(j)
		if seen[pid] {
			continue
		}
		seen[pid] = true
		bucket, err := i.getAndLockBucket(pid, readLock)
		if err != nil {
			return nil, err
		}
		out = append(out, bucket.Select()...)
		bucket.frame.RUnlock()
		i.pool.UnpinPage(pid, false)
	}
	return out, nil
}

// VerifyIntegrity checks the directory and bucket invariants: depth
// bounds, slot aliasing (slots congruent modulo 2^localDepth share a
// bucket and a depth), and that every live key still routes to the
// bucket holding it.
func (i *Index) VerifyIntegrity() error {
	i.rwlock.Lock()
	defer i.rwlock.Unlock()
	dir, err := i.fetchDirectory()
	if err != nil {
		return err
	}
	defer i.pool.UnpinPage(i.dirPID, false)
	gd := dir.GlobalDepth()
	if gd < 0 || gd > MaxDepth {
		return fmt.Errorf("global depth %d out of range [0, %d]", gd, MaxDepth)
	}
	for j := 0; j < dir.size(); j++ {
		ld := dir.LocalDepth(j)
		if ld > gd {
			return fmt.Errorf("slot %d: local depth %d exceeds global depth %d", j, ld, gd)
		}
		canonical := j & ((1 << uint(ld)) - 1)
		if dir.LocalDepth(canonical) != ld {
			return fmt.Errorf("slots %d and %d alias modulo 2^%d but disagree on local depth", j, canonical, ld)
		}
		if dir.BucketPageID(j) != dir.BucketPageID(canonical) {
			return fmt.Errorf("slots %d and %d alias modulo 2^%d but point at different buckets", j, canonical, ld)
		}
	}
	seen := make(map[buffer.PageID]bool)
	for j := 0; j < dir.size(); j++ {
		pid := dir.BucketPageID(j)
		if seen[pid] {
			continue
		}
		seen[pid] = true
		bucket, err := i.getAndLockBucket(pid, readLock)
		if err != nil {
			return err
		}
		for s := 0; s < BucketArraySize; s++ {
			if !bucket.IsReadable(s) {
				continue
			}
			k := bucket.KeyAt(s)
			if dir.BucketPageID(dir.slotFor(i.hasher(k))) != pid {
				bucket.frame.RUnlock()
				i.pool.UnpinPage(pid, false)
				return fmt.Errorf("key %d stored in bucket page %d no longer routes there", k, pid)
			}
		}
		bucket.frame.RUnlock()
		i.pool.UnpinPage(pid, false)
	}
	return nil
}

// Print writes a human-readable dump of the directory and every
// distinct bucket to w.
func (i *Index) Print(w io.Writer) {
	i.rwlock.RLock()
	defer i.rwlock.RUnlock()
	dir, err := i.fetchDirectory()
	if err != nil {
		fmt.Fprintf(w, "fetch directory: %s\n", err)
		return
	}
	defer i.pool.UnpinPage(i.dirPID, false)
	dir.Print(w)
	seen := make(map[buffer.PageID]bool)
	for j := 0; j < dir.size(); j++ {
		pid := dir.BucketPageID(j)
		if seen[pid] {
			continue
		}
		seen[pid] = true
		bucket, err := i.getAndLockBucket(pid, readLock)
		if err != nil {
			continue
		}
		bucket.Print(w)
		bucket.frame.RUnlock()
		i.pool.UnpinPage(pid, false)
	}
}

// PrintPageID writes a human-readable dump of the single bucket page
// pid to w.
func (i *Index) PrintPageID(pid buffer.PageID, w io.Writer) {
	i.rwlock.RLock()
	defer i.rwlock.RUnlock()
	bucket, err := i.getAndLockBucket(pid, readLock)
	if err != nil {
		fmt.Fprintf(w, "fetch bucket %d: %s\n", pid, err)
		return
	}
	bucket.Print(w)
	bucket.frame.RUnlock()
	i.pool.UnpinPage(pid, false)
}
