package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"gopkg.in/natefinch/lumberjack.v2"

	"gridpilot/pkg/events"
)

// Config controls the on-disk event journal.
type Config struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Record is one journal line: a lifecycle event tagged with its sequence
// number within the writer's lifetime.
type Record struct {
	Seq int `json:"seq"`
	events.Event
}

// Writer appends lifecycle events as JSON lines to a size-rotated file.
// It implements events.Sink.
type Writer struct {
	mu    sync.Mutex
	out   io.WriteCloser
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer rotating at cfg.MaxSizeMB.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join("journal", "events.jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 64
	}
	return newWriter(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}), nil
}

func newWriter(out io.WriteCloser) *Writer {
	return &Writer{out: out, nowFn: time.Now}
}

// Emit writes e. Write failures are logged and dropped.
func (w *Writer) Emit(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = w.nowFn()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	data, err := json.Marshal(Record{Seq: w.seq, Event: e})
	if err != nil {
		logx.WithContext(ctx).Errorf("journal: encode %s: %v", e.Kind, err)
		return
	}
	data = append(data, '\n')
	if _, err := w.out.Write(data); err != nil {
		logx.WithContext(ctx).Errorf("journal: write %s: %v", e.Kind, err)
	}
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}

// ReadFile loads every record of a journal file, oldest first.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes JSON-lines records. Blank lines are skipped.
func Read(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return out, fmt.Errorf("journal: line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

var _ events.Sink = (*Writer)(nil)
