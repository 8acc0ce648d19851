package hash

import (
	"diskhash/pkg/config"
	"diskhash/pkg/disk"
)

// pageBytes is disk.PageSize as a plain int, for use in size/offset
// arithmetic below.
const pageBytes = int(disk.PageSize)

// MaxDepth bounds both global and local depth.
const MaxDepth = config.MaxDepth

// DirSize is the number of directory slots, live or not: 2^MaxDepth.
const DirSize = 1 << MaxDepth

// Directory page layout: page_id(4) + lsn(4) +
// global_depth(4) + reserved(4), then local_depth[DirSize] as one
// byte per slot, then bucket_pid[DirSize] as 4 bytes per slot.
const (
	dirPageIDOffset      = 0
	dirLSNOffset         = dirPageIDOffset + 4
	dirGlobalDepthOffset = dirLSNOffset + 4
	dirHeaderSize        = dirGlobalDepthOffset + 8 // includes 4 reserved bytes
	dirLocalDepthOffset  = dirHeaderSize
	dirBucketPIDOffset   = dirLocalDepthOffset + DirSize
	dirPageBytes         = dirBucketPIDOffset + DirSize*4
)

// BucketArraySize is the number of slots a bucket page can hold:
// 4*PageSize / (4*sizeof(entry) + 1), chosen so the two bitmaps plus
// the entries array fit inside one page.
const BucketArraySize = (4 * pageBytes) / (4*entrySize + 1)

// bitmapBytes is the number of bytes needed to hold one bit per slot,
// MSB-first within each byte.
const bitmapBytes = (BucketArraySize + 7) / 8

// Bucket page layout: occupied[bitmapBytes], readable[bitmapBytes],
// then entries[BucketArraySize] of fixed-width (key, value) pairs.
const (
	bucketOccupiedOffset = 0
	bucketReadableOffset = bucketOccupiedOffset + bitmapBytes
	bucketEntriesOffset  = bucketReadableOffset + bitmapBytes
	bucketPageBytes      = bucketEntriesOffset + BucketArraySize*entrySize
)

func init() {
	if dirPageBytes > pageBytes {
		panic("hash: directory page layout overflows PageSize")
	}
	if bucketPageBytes > pageBytes {
		panic("hash: bucket page layout overflows PageSize")
	}
}
