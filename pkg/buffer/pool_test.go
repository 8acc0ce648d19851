package buffer_test

import (
	"bytes"
	"os"
	"testing"

	"diskhash/pkg/buffer"
	"diskhash/pkg/disk"
)

// setupPool creates a pool of poolSize frames over a fresh temp file,
// returning the pool and its disk manager (kept so tests can observe
// flushed bytes without going through the pool).
func setupPool(t *testing.T, poolSize int) (*buffer.Pool, *disk.FileManager) {
	t.Parallel()
	tmpfile, err := os.CreateTemp(t.TempDir(), "*.db")
	if err != nil {
		t.Fatal(err)
	}
	_ = tmpfile.Close()
	d, err := disk.Open(tmpfile.Name())
	if err != nil {
		t.Fatal("Failed to open disk manager:", err)
	}
	p := buffer.New(d, nil, poolSize, 1, 0)
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p, d
}

// newPage wraps Pool.NewPage with error checking.
func newPage(t *testing.T, p *buffer.Pool) (buffer.PageID, *buffer.Frame) {
	t.Helper()
	pid, frame, err := p.NewPage()
	if err != nil {
		t.Fatal("Error getting new page:", err)
	}
	return pid, frame
}

// fetchPage wraps Pool.FetchPage with error checking.
func fetchPage(t *testing.T, p *buffer.Pool, pid buffer.PageID) *buffer.Frame {
	t.Helper()
	frame, err := p.FetchPage(pid)
	if err != nil {
		t.Fatalf("Error fetching page %d: %s", pid, err)
	}
	return frame
}

// stamp writes a page-sized pattern derived from seed into the frame.
func stamp(frame *buffer.Frame, seed byte) []byte {
	data := frame.GetData()
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func TestPoolBasic(t *testing.T) {
	p, _ := setupPool(t, 4)

	pids := make([]buffer.PageID, 4)
	var p1Bytes []byte
	for i := range pids {
		pid, frame := newPage(t, p)
		pids[i] = pid
		if i == 0 {
			p1Bytes = stamp(frame, 11)
		}
	}

	// Every frame is pinned; a fifth page must fail.
	if _, _, err := p.NewPage(); err == nil {
		t.Fatal("expected NewPage to fail with every frame pinned")
	}

	if !p.UnpinPage(pids[0], true) {
		t.Fatal("failed to unpin first page")
	}
	p5, _ := newPage(t, p)
	if !p.UnpinPage(p5, false) {
		t.Fatal("failed to unpin fifth page")
	}

	// The first page was evicted dirty; fetching it again must read
	// back exactly the bytes written.
	frame := fetchPage(t, p, pids[0])
	if !bytes.Equal(frame.GetData(), p1Bytes) {
		t.Error("refetched page lost its written bytes")
	}
	p.UnpinPage(pids[0], false)
}

func TestFlushSemantics(t *testing.T) {
	p, d := setupPool(t, 4)

	pid, frame := newPage(t, p)
	want := stamp(frame, 23)
	if !p.UnpinPage(pid, true) {
		t.Fatal("failed to unpin page")
	}
	if !p.FlushPage(pid) {
		t.Fatal("FlushPage failed on a mapped page")
	}

	// Bypass the pool: the disk collaborator must already hold the
	// written bytes.
	got := disk.AlignedBlock(1)
	if err := d.ReadPage(pid, got); err != nil {
		t.Fatal("direct disk read failed:", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("flushed bytes differ from written bytes")
	}

	// FlushPage does not clear the dirty flag.
	if !frame.IsDirty() {
		t.Error("expected the frame to stay dirty after FlushPage")
	}

	if p.FlushPage(buffer.PageID(999)) {
		t.Error("expected FlushPage to fail on an unmapped pid")
	}
}

func TestEvictionRoundTrip(t *testing.T) {
	p, _ := setupPool(t, 2)

	pid, frame := newPage(t, p)
	want := stamp(frame, 37)
	p.UnpinPage(pid, true)

	// Fill both frames with fresh pages to force the eviction.
	for i := 0; i < 2; i++ {
		other, _ := newPage(t, p)
		p.UnpinPage(other, false)
	}

	got := fetchPage(t, p, pid)
	if !bytes.Equal(got.GetData(), want) {
		t.Error("evicted page came back with different bytes")
	}
	p.UnpinPage(pid, false)
}

func TestLRUEvictionOrder(t *testing.T) {
	p, _ := setupPool(t, 3)

	// Unpin p1, p2, p3 in order; allocating two more pages must evict
	// p1 then p2, leaving p3 resident with its bytes intact.
	pids := make([]buffer.PageID, 3)
	contents := make([][]byte, 3)
	for i := range pids {
		pid, frame := newPage(t, p)
		pids[i] = pid
		contents[i] = stamp(frame, byte(50+i))
	}
	for _, pid := range pids {
		p.UnpinPage(pid, true)
	}

	for i := 0; i < 2; i++ {
		pid, _ := newPage(t, p)
		p.UnpinPage(pid, false)
	}

	frame := fetchPage(t, p, pids[2])
	if !bytes.Equal(frame.GetData(), contents[2]) {
		t.Error("third page should have survived both evictions untouched")
	}
	p.UnpinPage(pids[2], false)

	// The evicted pages were dirty, so their bytes round-trip through
	// disk.
	frame = fetchPage(t, p, pids[0])
	if !bytes.Equal(frame.GetData(), contents[0]) {
		t.Error("first page's dirty bytes were lost on eviction")
	}
	p.UnpinPage(pids[0], false)
}

func TestDeletePage(t *testing.T) {
	p, _ := setupPool(t, 4)

	pid, _ := newPage(t, p)
	if p.DeletePage(pid) {
		t.Error("expected DeletePage to fail on a pinned page")
	}
	p.UnpinPage(pid, true)
	if !p.DeletePage(pid) {
		t.Error("expected DeletePage to succeed once unpinned")
	}
	// Deleting an unmapped page reports success: nothing to do.
	if !p.DeletePage(pid) {
		t.Error("expected DeletePage on an unmapped pid to succeed")
	}

	// The reclaimed frame is immediately reusable.
	for i := 0; i < 4; i++ {
		other, _ := newPage(t, p)
		defer p.UnpinPage(other, false)
	}
}

func TestUnpinUnknown(t *testing.T) {
	p, _ := setupPool(t, 2)
	if p.UnpinPage(buffer.PageID(123), false) {
		t.Error("expected UnpinPage to fail on an unmapped pid")
	}
}

func TestPIDStride(t *testing.T) {
	tmpfile, err := os.CreateTemp(t.TempDir(), "*.db")
	if err != nil {
		t.Fatal(err)
	}
	_ = tmpfile.Close()
	d, err := disk.Open(tmpfile.Name())
	if err != nil {
		t.Fatal("Failed to open disk manager:", err)
	}
	// Instance 1 of 4: every allocated pid must be congruent to 1 mod 4.
	p := buffer.New(d, nil, 2, 4, 1)
	t.Cleanup(func() {
		_ = p.Close()
	})

	for _, want := range []buffer.PageID{1, 5, 9} {
		pid, _ := newPage(t, p)
		if pid != want {
			t.Errorf("expected strided pid %d, got %d", want, pid)
		}
		p.UnpinPage(pid, false)
	}
}

func TestPinCountUnderflowPanics(t *testing.T) {
	p, _ := setupPool(t, 1)
	pid, _ := newPage(t, p)
	if !p.UnpinPage(pid, false) {
		t.Fatal("first unpin should succeed")
	}
	defer func() {
		if recover() == nil {
			t.Error("expected a second unpin to panic on pin count underflow")
		}
	}()
	p.UnpinPage(pid, false)
}
