package hash

import (
	"encoding/binary"
	"fmt"
	"io"

	"diskhash/pkg/buffer"
)

// DirectoryPage holds the index's routing state: a global depth and,
// for each of DirSize slots, a bucket page id and a local depth. Only
// the first 2^globalDepth entries are live.
type DirectoryPage struct {
	frame       *buffer.Frame
	globalDepth int32
	localDepth  [DirSize]uint8
	bucketPID   [DirSize]buffer.PageID
}

func decodeDirectory(frame *buffer.Frame) *DirectoryPage {
	data := frame.GetData()
	d := &DirectoryPage{
		frame:       frame,
		globalDepth: int32(binary.BigEndian.Uint32(data[dirGlobalDepthOffset : dirGlobalDepthOffset+4])),
	}
	copy(d.localDepth[:], data[dirLocalDepthOffset:dirBucketPIDOffset])
	base := dirBucketPIDOffset
	for i := 0; i < DirSize; i++ {
		off := base + i*4
		d.bucketPID[i] = buffer.PageID(int32(binary.BigEndian.Uint32(data[off : off+4])))
	}
	return d
}

// flush writes the directory's in-memory fields back into the
// frame's raw bytes. Callers must call this before unpinning the
// directory frame dirty.
func (d *DirectoryPage) flush() {
	data := d.frame.GetData()
	binary.BigEndian.PutUint32(data[dirPageIDOffset:dirPageIDOffset+4], uint32(int32(d.frame.GetPageID())))
	binary.BigEndian.PutUint32(data[dirGlobalDepthOffset:dirGlobalDepthOffset+4], uint32(d.globalDepth))
	copy(data[dirLocalDepthOffset:dirBucketPIDOffset], d.localDepth[:])
	base := dirBucketPIDOffset
	for i := 0; i < DirSize; i++ {
		off := base + i*4
		binary.BigEndian.PutUint32(data[off:off+4], uint32(int32(d.bucketPID[i])))
	}
}

func newDirectoryPage(frame *buffer.Frame, initialBucket buffer.PageID) *DirectoryPage {
	d := &DirectoryPage{frame: frame, globalDepth: 0}
	d.bucketPID[0] = initialBucket
	d.localDepth[0] = 0
	d.flush()
	return d
}

// GlobalDepth returns the directory's current global depth.
func (d *DirectoryPage) GlobalDepth() int {
	return int(d.globalDepth)
}

// size is the number of live slots: 2^globalDepth.
func (d *DirectoryPage) size() int {
	return 1 << uint(d.globalDepth)
}

// slotFor routes a hash to its slot: hash & ((1 << globalDepth) - 1).
func (d *DirectoryPage) slotFor(hash uint32) int {
	return int(hash) & (d.size() - 1)
}

// LocalDepth returns the local depth of slot i.
func (d *DirectoryPage) LocalDepth(i int) int {
	return int(d.localDepth[i])
}

// BucketPageID returns the bucket page id slot i currently points at.
func (d *DirectoryPage) BucketPageID(i int) buffer.PageID {
	return d.bucketPID[i]
}

// setSlot points slot i at pid with the given local depth.
func (d *DirectoryPage) setSlot(i int, pid buffer.PageID, localDepth int) {
	d.bucketPID[i] = pid
	d.localDepth[i] = uint8(localDepth)
}

// grow doubles the directory: every live
// slot i gets a twin at i | (1 << globalDepth) with the same bucket
// pointer and local depth, then globalDepth increments.
func (d *DirectoryPage) grow() {
	oldSize := d.size()
	for i := 0; i < oldSize; i++ {
		d.setSlot(i|oldSize, d.bucketPID[i], int(d.localDepth[i]))
	}
	d.globalDepth++
}

// canShrink reports whether the directory may halve: every live
// slot's local depth must be
// strictly less than global depth.
func (d *DirectoryPage) canShrink() bool {
	for i := 0; i < d.size(); i++ {
		if int(d.localDepth[i]) >= int(d.globalDepth) {
			return false
		}
	}
	return true
}

// shrink halves the directory, decrementing global depth. Caller
// must have already verified canShrink().
func (d *DirectoryPage) shrink() {
	d.globalDepth--
}

// Print writes a human-readable dump of the directory to w.
func (d *DirectoryPage) Print(w io.Writer) {
	fmt.Fprintf(w, "directory: global depth %d\n", d.globalDepth)
	for i := 0; i < d.size(); i++ {
		fmt.Fprintf(w, "  slot %d: bucket page %d, local depth %d\n", i, d.bucketPID[i], d.localDepth[i])
	}
}
