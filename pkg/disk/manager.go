// Package disk implements the disk collaborator the buffer pool reads
// pages from and writes pages to. It is the only component in this
// module that touches a real file.
package disk

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/ncw/directio"
	"github.com/otiai10/copy"
)

// PageID identifies a page by its byte offset (in units of PageSize)
// within a disk manager's backing file.
type PageID int64

// InvalidPageID is the sentinel meaning "no page".
const InvalidPageID PageID = -1

// PageSize is the fixed size of every page, in bytes. It is pinned to
// directio's required block alignment so pages can be read and written
// with O_DIRECT, unbuffered by the OS page cache.
const PageSize int64 = directio.BlockSize

// Manager is the minimal disk collaborator contract consumed by the
// buffer pool: synchronous, fixed-size reads and writes keyed by page
// identifier. I/O errors are returned to the caller, not turned into
// an abort: the buffer pool propagates them from NewPage, FetchPage
// and FlushAllPages and ignores them in FlushPage and DeletePage.
type Manager interface {
	ReadPage(pid PageID, out []byte) error
	WritePage(pid PageID, in []byte) error
	// Close releases the manager's underlying resources.
	Close() error
	// FileName returns the path backing this manager, for diagnostics
	// and for fixture cloning via Snapshot.
	FileName() string
	// Size returns the number of whole PageSize pages currently
	// resident in the backing store, so a buffer pool reopening an
	// existing store knows where to resume PID allocation.
	Size() (int64, error)
}

// FileManager is a Manager backed by a single on-disk file, one
// PageSize block per PageID.
type FileManager struct {
	file *os.File
}

// Open (re-)opens filePath as the backing store for a FileManager,
// creating it (and any missing parent directories) if it doesn't
// already exist.
func Open(filePath string) (*FileManager, error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, err
		}
	}
	file, err := directio.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	return &FileManager{file: file}, nil
}

// ReadPage fills out (which must be PageSize bytes) with the contents
// of page pid. Reading past the end of the file (a page that was
// allocated but never flushed) yields a zero-filled buffer.
func (m *FileManager) ReadPage(pid PageID, out []byte) error {
	if int64(len(out)) != PageSize {
		return errors.New("disk: ReadPage buffer is not PageSize bytes")
	}
	if _, err := m.file.Seek(int64(pid)*PageSize, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(m.file, out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			for i := range out {
				out[i] = 0
			}
			return nil
		}
		return err
	}
	return nil
}

// WritePage persists in (which must be PageSize bytes) as page pid.
func (m *FileManager) WritePage(pid PageID, in []byte) error {
	if int64(len(in)) != PageSize {
		return errors.New("disk: WritePage buffer is not PageSize bytes")
	}
	_, err := m.file.WriteAt(in, int64(pid)*PageSize)
	return err
}

// Close closes the backing file.
func (m *FileManager) Close() error {
	return m.file.Close()
}

// FileName returns the path of the backing file.
func (m *FileManager) FileName() string {
	return m.file.Name()
}

// Size returns the number of whole PageSize pages currently in the
// backing file.
func (m *FileManager) Size() (int64, error) {
	info, err := m.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size() / PageSize, nil
}

// AlignedBlock returns a single block-aligned buffer big enough to
// hold numPages PageSize-sized pages, suitable for O_DIRECT reads and
// writes once sliced into per-page chunks (each chunk offset is a
// multiple of PageSize from an aligned base, so it stays aligned).
func AlignedBlock(numPages int) []byte {
	return directio.AlignedBlock(int(PageSize) * numPages)
}

// Snapshot copies a manager's backing file (and, if present, a
// sidecar file with the given suffix) into destDir, for tests that
// need an independently-mutable copy of a populated database file.
func Snapshot(m Manager, destDir, sidecarSuffix string) error {
	src := m.FileName()
	dst := filepath.Join(destDir, filepath.Base(src))
	if err := copy.Copy(src, dst); err != nil {
		return err
	}
	if sidecarSuffix == "" {
		return nil
	}
	sidecarSrc := src + sidecarSuffix
	if _, err := os.Stat(sidecarSrc); err != nil {
		return nil
	}
	return copy.Copy(sidecarSrc, dst+sidecarSuffix)
}
