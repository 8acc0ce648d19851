// Package logmgr implements the log collaborator that the buffer pool
// and hash index hold an opaque reference to. Crash recovery is not
// implemented here; what remains is an append-only record log with a
// way to read its tail, the contract a future recovery component
// would build on.
package logmgr

import (
	"bufio"
	"fmt"
	"os"

	"github.com/icza/backscanner"
)

// Manager is an append-only log of opaque string records, plus a way
// to read the most recent ones without loading the whole file.
type Manager struct {
	file *os.File
	lsn  int64
}

// Open (re-)opens filePath as the backing store for a log Manager,
// appending to it if it already exists.
func Open(filePath string) (*Manager, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	lsn, err := countLines(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Manager{file: file, lsn: lsn}, nil
}

func countLines(file *os.File) (int64, error) {
	if _, err := file.Seek(0, 0); err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(file)
	var n int64
	for scanner.Scan() {
		n++
	}
	if _, err := file.Seek(0, 2); err != nil {
		return 0, err
	}
	return n, scanner.Err()
}

// AppendRecord appends record as a new line in the log, returning its
// log sequence number.
func (m *Manager) AppendRecord(record string) (lsn int64, err error) {
	if _, err := fmt.Fprintln(m.file, record); err != nil {
		return 0, err
	}
	m.lsn++
	return m.lsn, nil
}

// Tail returns up to n of the most recently appended records, oldest
// first, read backwards from the end of the file so arbitrarily large
// logs don't need to be read in full.
func (m *Manager) Tail(n int) ([]string, error) {
	info, err := m.file.Stat()
	if err != nil {
		return nil, err
	}
	scanner := backscanner.New(m.file, int(info.Size()))
	lines := make([]string, 0, n)
	started := false
	for len(lines) < n {
		line, _, err := scanner.Line()
		if err != nil {
			break
		}
		// Every record ends in a newline, so the first line read
		// backwards is the empty remainder after the last record.
		if !started && line == "" {
			started = true
			continue
		}
		started = true
		lines = append(lines, line)
	}
	// backscanner yields newest-first; flip to oldest-first.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// Close closes the backing log file.
func (m *Manager) Close() error {
	return m.file.Close()
}
