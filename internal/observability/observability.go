// Package observability writes the daemon's append-only event log: one JSON
// line per event, one file per UTC day, under <data-dir>/observability/.
//
// Writes are safe across goroutines and processes: each line is written
// under an OS-level exclusive file lock. Logging failures never propagate —
// they degrade to stderr.
package observability

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// lock acquisition retry schedule.
var lockBackoff = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}

// Logger appends events to the daily JSONL file.
type Logger struct {
	dir string
	mu  sync.Mutex

	now func() time.Time // injectable for rotation tests
}

// New creates a Logger writing under dir, creating it if needed.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("observability: create dir: %w", err)
	}
	return &Logger{dir: dir, now: time.Now}, nil
}

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// Init installs the process-wide logger.
func Init(dir string) error {
	l, err := New(dir)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return nil
}

// Reset clears the process-wide logger. Test hook.
func Reset() {
	defaultMu.Lock()
	defaultLogger = nil
	defaultMu.Unlock()
}

// Emit records an event on the process-wide logger. A no-op before Init.
func Emit(event string, meta map[string]any) {
	defaultMu.Lock()
	l := defaultLogger
	defaultMu.Unlock()
	if l != nil {
		l.Emit(event, meta)
	}
}

// Path returns the event file for the given UTC date.
func (l *Logger) Path(t time.Time) string {
	return filepath.Join(l.dir, t.UTC().Format("2006-01-02")+"_events.jsonl")
}

// Emit appends one event line. Metadata keys are merged beside the standard
// ts/event fields; a metadata key named "ts" or "event" is dropped rather
// than clobbering them.
func (l *Logger) Emit(event string, meta map[string]any) {
	now := l.now().UTC()
	record := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		if k == "ts" || k == "event" {
			continue
		}
		record[k] = v
	}
	record["ts"] = now.Format(time.RFC3339)
	record["event"] = event

	line, err := json.Marshal(record)
	if err != nil {
		fmt.Fprintf(os.Stderr, "observability: marshal %s: %v\n", event, err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendLocked(l.Path(now), line); err != nil {
		fmt.Fprintf(os.Stderr, "observability: %s: %v\n", event, err)
	}
}

// appendLocked opens the daily file, takes an exclusive flock (retrying
// through lockBackoff on contention), writes the line, syncs, and releases.
func (l *Logger) appendLocked(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	if err := flockWithRetry(f); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return f.Sync()
}

func flockWithRetry(f *os.File) error {
	var err error
	for attempt := 0; attempt <= len(lockBackoff); attempt++ {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			return err
		}
		if attempt < len(lockBackoff) {
			time.Sleep(lockBackoff[attempt])
		}
	}
	return err
}
