// Package journal implements the executor's session journal: an
// append-only JSONL sink fed by the event stream, flushing after every
// line for crash-safety. Uses a bufio.Writer over an *os.File closed by the
// caller, with the same create-parent-dir-then-write idiom the checkpoint
// store uses.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer appends one JSON line per record to a file.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// Open creates path's parent directory if needed, opens path for writing
// (truncating any prior run, one journal per run), writes a session_start
// header, and returns a ready Writer.
func Open(path string, meta map[string]any) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: creating dir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", path, err)
	}
	w := &Writer{file: f, buf: bufio.NewWriter(f)}

	header := map[string]any{"event": "session_start", "ts": now()}
	for k, v := range meta {
		header[k] = v
	}
	if err := w.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Record appends one event as a JSON line and flushes immediately.
func (w *Writer) Record(event map[string]any) error {
	if _, ok := event["ts"]; !ok {
		event["ts"] = now()
	}
	return w.writeLine(event)
}

// Close writes a session_end footer, flushes, and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	footer, _ := json.Marshal(map[string]any{"event": "session_end", "ts": now()})
	if _, err := w.buf.Write(append(footer, '\n')); err != nil {
		w.file.Close()
		return fmt.Errorf("journal: writing footer: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("journal: flushing: %w", err)
	}
	return w.file.Close()
}

func (w *Writer) writeLine(v map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal: encoding event: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return fmt.Errorf("journal: writing line: %w", err)
	}
	return w.buf.Flush()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
