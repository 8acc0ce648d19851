package hash

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Entry is a key-value pair stored in a bucket page slot.
type Entry struct {
	Key   int64
	Value int64
}

// entrySize is the fixed on-disk width of one Entry: two int64s,
// fixed-width (not varint) so slots can be addressed by index.
const entrySize = 16

func marshalEntry(e Entry, out []byte) {
	binary.BigEndian.PutUint64(out[0:8], uint64(e.Key))
	binary.BigEndian.PutUint64(out[8:16], uint64(e.Value))
}

func unmarshalEntry(in []byte) Entry {
	return Entry{
		Key:   int64(binary.BigEndian.Uint64(in[0:8])),
		Value: int64(binary.BigEndian.Uint64(in[8:16])),
	}
}

// Print writes a human-readable representation of e to w.
func (e Entry) Print(w io.Writer) {
	fmt.Fprintf(w, "(%d, %d)", e.Key, e.Value)
}
