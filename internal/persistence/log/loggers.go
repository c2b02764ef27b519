package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"oceandepths/internal/sim/city"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	// onClose is invoked with the path of each finished segment, after
	// its encoder and file handle are closed. May be nil.
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, onClose func(path string)) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		onClose: onClose,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = w.pathForHour(hour)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	if w.curPath != "" && w.onClose != nil {
		w.onClose(w.curPath)
	}
	w.curPath = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// AuditLogger records action lifecycle events and drift reports as
// compressed JSONL streams. It satisfies the city manager's AuditSink.
type AuditLogger struct {
	actions *JSONLZstdWriter
	drift   *JSONLZstdWriter
}

// NewAuditLogger writes under <dataDir>/audit. onSegment, if non-nil,
// receives the path of every closed segment (hourly rotation and final
// close) and must not block.
func NewAuditLogger(dataDir string, onSegment func(path string)) *AuditLogger {
	auditDir := filepath.Join(dataDir, "audit")
	return &AuditLogger{
		actions: NewJSONLZstdWriter(auditDir, "actions", onSegment),
		drift:   NewJSONLZstdWriter(auditDir, "drift", onSegment),
	}
}

func (l *AuditLogger) WriteAction(v city.ActionAuditEntry) error { return l.actions.Write(v) }
func (l *AuditLogger) WriteDrift(v city.DriftAuditEntry) error   { return l.drift.Write(v) }

func (l *AuditLogger) Close() error {
	err1 := l.actions.Close()
	err2 := l.drift.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
