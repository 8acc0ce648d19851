package disk_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"diskhash/pkg/disk"
)

func setupManager(t *testing.T) *disk.FileManager {
	t.Parallel()
	tmpfile, err := os.CreateTemp(t.TempDir(), "*.db")
	if err != nil {
		t.Fatal(err)
	}
	_ = tmpfile.Close()
	m, err := disk.Open(tmpfile.Name())
	if err != nil {
		t.Fatal("Failed to open disk manager:", err)
	}
	t.Cleanup(func() {
		_ = m.Close()
	})
	return m
}

// pattern fills an aligned page buffer with a repeating byte sequence
// derived from seed.
func pattern(seed byte) []byte {
	buf := disk.AlignedBlock(1)
	for i := range buf {
		buf[i] = seed + byte(i%251)
	}
	return buf
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := setupManager(t)
	in := pattern(7)
	if err := m.WritePage(3, in); err != nil {
		t.Fatal("WritePage failed:", err)
	}
	out := disk.AlignedBlock(1)
	if err := m.ReadPage(3, out); err != nil {
		t.Fatal("ReadPage failed:", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("read bytes differ from written bytes")
	}

	// Writing page 3 implies pages 0..3 exist in the file.
	size, err := m.Size()
	if err != nil {
		t.Fatal("Size failed:", err)
	}
	if size != 4 {
		t.Errorf("expected 4 pages resident, got %d", size)
	}
}

func TestReadPastEOFZeroFills(t *testing.T) {
	m := setupManager(t)
	out := pattern(99)
	if err := m.ReadPage(10, out); err != nil {
		t.Fatal("ReadPage past EOF failed:", err)
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d not zeroed on past-EOF read: %#x", i, b)
		}
	}
}

func TestBufferSizeChecked(t *testing.T) {
	m := setupManager(t)
	short := make([]byte, 16)
	if err := m.ReadPage(0, short); err == nil {
		t.Error("expected ReadPage to reject a short buffer")
	}
	if err := m.WritePage(0, short); err == nil {
		t.Error("expected WritePage to reject a short buffer")
	}
}

func TestSnapshot(t *testing.T) {
	m := setupManager(t)
	in := pattern(42)
	if err := m.WritePage(0, in); err != nil {
		t.Fatal("WritePage failed:", err)
	}

	destDir := t.TempDir()
	if err := disk.Snapshot(m, destDir, ""); err != nil {
		t.Fatal("Snapshot failed:", err)
	}
	clone, err := disk.Open(filepath.Join(destDir, filepath.Base(m.FileName())))
	if err != nil {
		t.Fatal("Failed to open snapshot copy:", err)
	}
	defer clone.Close()
	out := disk.AlignedBlock(1)
	if err := clone.ReadPage(0, out); err != nil {
		t.Fatal("ReadPage on snapshot failed:", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("snapshot copy differs from the original")
	}
}
