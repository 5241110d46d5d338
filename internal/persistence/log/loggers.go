// Package log writes append-only, zstd-compressed JSONL audit files.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/sim/stream"
)

// JSONLZstdWriter appends one JSON document per line, rotating to a new file
// every UTC hour.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	closed  bool
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Path is the file the next Write would go to.
func (w *JSONLZstdWriter) Path() string {
	return w.pathForHour(w.now().UTC().Format("2006-01-02-15"))
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
		w.w = nil
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	w.curHour = ""
	return errors.Join(errs...)
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ReadJSONL decodes every line of a compressed JSONL file into a fresh T.
// Appended files hold several zstd frames; the decoder reads them in order.
func ReadJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReaderSize(dec, 64*1024))
	for {
		var v T
		if err := jd.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// TickLogger writes one JSONL entry per streaming tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(dir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(dir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(r stream.TickReport) error { return l.w.Write(r) }
func (l *TickLogger) Path() string                        { return l.w.Path() }
func (l *TickLogger) Close() error                        { return l.w.Close() }
