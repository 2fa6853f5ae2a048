package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LineWriter writes one JSON object per line to a temporary file and only
// renames it into the destination path on Finalize. A run that dies or is
// discarded never leaves a partial file at the destination.
type LineWriter struct {
	mu       sync.Mutex
	dest     string
	file     *os.File
	buf      *bufio.Writer
	enc      *json.Encoder
	finished bool
}

// NewLineWriter creates the temporary file next to dest so the final rename
// stays within one filesystem.
func NewLineWriter(dest string) (*LineWriter, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(dest)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp output file: %w", err)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &LineWriter{
		dest: dest,
		file: f,
		buf:  buf,
		enc:  enc,
	}, nil
}

// Write appends one record as a single line. Writes are serialized through
// the mutex so concurrent producers never interleave partial lines, and
// each line is flushed and synced before the call returns.
func (w *LineWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return fmt.Errorf("output writer already finished")
	}
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("encode output line: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush output line: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync output file: %w", err)
	}
	return nil
}

// Finalize syncs the temporary file and renames it into the destination.
// It may be called at most once; Write fails afterwards.
func (w *LineWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return fmt.Errorf("output writer already finished")
	}
	w.finished = true

	if err := w.buf.Flush(); err != nil {
		w.cleanup()
		return fmt.Errorf("flush output file: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.cleanup()
		return fmt.Errorf("sync output file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(w.file.Name(), w.dest); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("finalize output file: %w", err)
	}
	return nil
}

// Discard drops the temporary file, leaving whatever was at the destination
// untouched. Safe to call after Finalize, where it does nothing.
func (w *LineWriter) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return
	}
	w.finished = true
	w.cleanup()
}

func (w *LineWriter) cleanup() {
	w.file.Close()
	os.Remove(w.file.Name())
}
