// Package logging provides the file sink behind the server log: daily
// rotation with a size-based rollover inside the day.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes caps a single log file before same-day rollover.
const DefaultMaxBytes int64 = 64 << 20

// Writer appends to dated log files derived from a base path.
//
// With base path logs/modulpintar.log the files come out as
// logs/modulpintar-2026-09-01.log, logs/modulpintar-2026-09-01-2.log and so
// on. Days follow UTC.
type Writer struct {
	basePath string
	maxBytes int64

	mu       sync.Mutex
	curDate  string
	curIndex int
	file     *os.File
	size     int64
}

// NewWriter opens the sink for basePath. Passing "-" discards all output.
func NewWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &Writer{basePath: basePath, maxBytes: maxBytes}
	if err := w.rotateIfNeeded(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	if err == nil {
		w.size += int64(n)
	}
	return n, err
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *Writer) rotateIfNeeded(incoming int64) error {
	today := time.Now().UTC().Format("2006-01-02")
	if w.file == nil || w.curDate != today {
		w.curDate = today
		w.curIndex = 1
		return w.openCurrent()
	}
	if w.size+incoming > w.maxBytes {
		w.curIndex++
		return w.openCurrent()
	}
	return nil
}

func (w *Writer) openCurrent() error {
	if w.file != nil {
		_ = w.file.Close()
	}
	dir, name := filepath.Split(w.basePath)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	filename := fmt.Sprintf("%s-%s%s", base, w.curDate, ext)
	if w.curIndex > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", base, w.curDate, w.curIndex, ext)
	}
	f, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	return nil
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
