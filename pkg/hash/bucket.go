package hash

import (
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"

	"diskhash/pkg/buffer"
)

// BucketPage is a bit-packed associative slot array: an
// occupied bitmap (has this slot ever been used), a readable bitmap
// (does this slot currently hold a live entry), and a dense entries
// array. All three live inside one page frame's raw bytes.
type BucketPage struct {
	frame    *buffer.Frame
	occupied *bitset.BitSet
	readable *bitset.BitSet
}

// packBitmap serializes bs (whose valid length is exactly n bits)
// into n/8-rounded-up bytes, MSB-first within each byte: the bit for
// slot i lives at byte i/8, position 7-(i mod 8). This addressing is
// part of the on-disk format and must stay bit-for-bit stable.
func packBitmap(bs *bitset.BitSet, n int, out []byte) {
	for i := range out {
		out[i] = 0
	}
	for i := 0; i < n; i++ {
		if bs.Test(uint(i)) {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
}

// unpackBitmap is packBitmap's inverse.
func unpackBitmap(in []byte, n int) *bitset.BitSet {
	bs := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		if in[i/8]&(1<<(7-uint(i%8))) != 0 {
			bs.Set(uint(i))
		}
	}
	return bs
}

// decodeBucket builds a BucketPage view over frame's current bytes.
func decodeBucket(frame *buffer.Frame) *BucketPage {
	data := frame.GetData()
	return &BucketPage{
		frame:    frame,
		occupied: unpackBitmap(data[bucketOccupiedOffset:bucketReadableOffset], BucketArraySize),
		readable: unpackBitmap(data[bucketReadableOffset:bucketEntriesOffset], BucketArraySize),
	}
}

// newBucketPage initializes an empty bucket in a freshly allocated
// frame and writes its (empty) bitmaps out.
func newBucketPage(frame *buffer.Frame) *BucketPage {
	b := &BucketPage{
		frame:    frame,
		occupied: bitset.New(uint(BucketArraySize)),
		readable: bitset.New(uint(BucketArraySize)),
	}
	b.flushBitmaps()
	return b
}

// flushBitmaps re-packs the in-memory bitmaps back into the frame's
// raw bytes. Callers that mutate occupied/readable must call this
// before the frame is unpinned.
func (b *BucketPage) flushBitmaps() {
	data := b.frame.GetData()
	packBitmap(b.occupied, BucketArraySize, data[bucketOccupiedOffset:bucketReadableOffset])
	packBitmap(b.readable, BucketArraySize, data[bucketReadableOffset:bucketEntriesOffset])
}

func (b *BucketPage) entrySlice(i int) []byte {
	start := bucketEntriesOffset + i*entrySize
	return b.frame.GetData()[start : start+entrySize]
}

// KeyAt returns the key stored at slot i, regardless of occupancy.
func (b *BucketPage) KeyAt(i int) int64 {
	return unmarshalEntry(b.entrySlice(i)).Key
}

// ValueAt returns the value stored at slot i, regardless of occupancy.
func (b *BucketPage) ValueAt(i int) int64 {
	return unmarshalEntry(b.entrySlice(i)).Value
}

// IsOccupied reports whether slot i has ever held an entry.
func (b *BucketPage) IsOccupied(i int) bool {
	return b.occupied.Test(uint(i))
}

// IsReadable reports whether slot i currently holds a live entry.
func (b *BucketPage) IsReadable(i int) bool {
	return b.readable.Test(uint(i))
}

// SetOccupied marks slot i as having held an entry and re-packs the
// occupied bitmap into the frame.
func (b *BucketPage) SetOccupied(i int) {
	b.occupied.Set(uint(i))
	packBitmap(b.occupied, BucketArraySize, b.frame.GetData()[bucketOccupiedOffset:bucketReadableOffset])
}

// SetReadable marks slot i as currently live and re-packs the
// readable bitmap into the frame.
func (b *BucketPage) SetReadable(i int) {
	b.readable.Set(uint(i))
	packBitmap(b.readable, BucketArraySize, b.frame.GetData()[bucketReadableOffset:bucketEntriesOffset])
}

// clearReadable clears slot i's readable bit and re-packs. The
// occupied bit stays set.
func (b *BucketPage) clearReadable(i int) {
	b.readable.Clear(uint(i))
	packBitmap(b.readable, BucketArraySize, b.frame.GetData()[bucketReadableOffset:bucketEntriesOffset])
}

func (b *BucketPage) writeEntry(i int, e Entry) {
	marshalEntry(e, b.entrySlice(i))
}

// IsFull reports whether every slot is currently readable. Because
// readable is a bitset.BitSet with its exact valid length
// (BucketArraySize, not rounded up to a byte), Count() never sees the
// padding bits a raw "all bytes == 0xFF" check would have to mask.
func (b *BucketPage) IsFull() bool {
	return b.readable.Count() == uint(BucketArraySize)
}

// IsEmpty reports whether no slot is currently readable.
func (b *BucketPage) IsEmpty() bool {
	return b.readable.Count() == 0
}

// NumReadable returns the number of currently live entries.
func (b *BucketPage) NumReadable() int {
	return int(b.readable.Count())
}

// Insert adds (key, value) to the first free slot, refusing exact
// (key, value) duplicates and refusing to insert into a full bucket.
func (b *BucketPage) Insert(key, value int64, cmp KeyComparator) bool {
	freePos := -1
	for i := 0; i < BucketArraySize; i++ {
		if b.IsReadable(i) {
			e := unmarshalEntry(b.entrySlice(i))
			if cmp(e.Key, key) == 0 && e.Value == value {
				return false
			}
		} else if freePos == -1 {
			// Removed slots stay occupied but drop readable, and are
			// reusable for new entries.
			freePos = i
		}
	}
	if freePos == -1 {
		return false
	}
	b.writeEntry(freePos, Entry{Key: key, Value: value})
	b.SetOccupied(freePos)
	b.SetReadable(freePos)
	return true
}

// contains reports whether some live slot holds exactly (key, value).
func (b *BucketPage) contains(key, value int64, cmp KeyComparator) bool {
	for i := 0; i < BucketArraySize; i++ {
		if b.IsReadable(i) && cmp(b.KeyAt(i), key) == 0 && b.ValueAt(i) == value {
			return true
		}
	}
	return false
}

// GetValue returns every currently live value stored under key.
func (b *BucketPage) GetValue(key int64, cmp KeyComparator) []int64 {
	var values []int64
	for i := 0; i < BucketArraySize; i++ {
		if b.IsReadable(i) && cmp(b.KeyAt(i), key) == 0 {
			values = append(values, b.ValueAt(i))
		}
	}
	return values
}

// Remove clears every currently live slot matching (key, value),
// reporting whether anything was cleared.
func (b *BucketPage) Remove(key, value int64, cmp KeyComparator) bool {
	removed := false
	for i := 0; i < BucketArraySize; i++ {
		if b.IsReadable(i) && cmp(b.KeyAt(i), key) == 0 && b.ValueAt(i) == value {
			b.clearReadable(i)
			removed = true
		}
	}
	return removed
}

// RemoveAt clears slot i's readable bit directly.
func (b *BucketPage) RemoveAt(i int) {
	b.clearReadable(i)
}

// Select returns every currently live (key, value) pair in slot
// order.
func (b *BucketPage) Select() []Entry {
	var out []Entry
	for i := 0; i < BucketArraySize; i++ {
		if b.IsReadable(i) {
			out = append(out, unmarshalEntry(b.entrySlice(i)))
		}
	}
	return out
}

// Print writes a human-readable dump of the bucket's live entries to
// w.
func (b *BucketPage) Print(w io.Writer) {
	fmt.Fprintf(w, "bucket (page %d): %d/%d entries\n", b.frame.GetPageID(), b.NumReadable(), BucketArraySize)
	for i := 0; i < BucketArraySize; i++ {
		if b.IsReadable(i) {
			unmarshalEntry(b.entrySlice(i)).Print(w)
			fmt.Fprint(w, " ")
		}
	}
	fmt.Fprintln(w)
}
