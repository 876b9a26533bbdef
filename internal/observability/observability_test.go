package observability

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitWritesJSONLines(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	l.Emit("fetcher.complete", map[string]any{"source": "r/golang", "items": 3})
	l.Emit("fetcher.error", map[string]any{"source": "r/golang", "error": "timeout"})

	f, err := os.Open(l.Path(time.Now()))
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "fetcher.complete", lines[0]["event"])
	assert.Equal(t, float64(3), lines[0]["items"])
	assert.NotEmpty(t, lines[0]["ts"])

	// Timestamps must carry an explicit UTC offset.
	ts, err := time.Parse(time.RFC3339, lines[0]["ts"].(string))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestEmitReservedKeysNotClobbered(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	l.Emit("x", map[string]any{"event": "spoofed", "ts": "spoofed"})

	data, err := os.ReadFile(l.Path(time.Now()))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "x", rec["event"])
	assert.NotEqual(t, "spoofed", rec["ts"])
}

func TestConcurrentEmit(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Emit("tick", map[string]any{"n": 1})
		}()
	}
	wg.Wait()

	f, err := os.Open(l.Path(time.Now()))
	require.NoError(t, err)
	defer f.Close()

	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "every line must be intact JSON")
		count++
	}
	assert.Equal(t, 20, count)
}

func TestRotationByDate(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	day1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	l.now = func() time.Time { return day1 }
	l.Emit("a", nil)
	l.now = func() time.Time { return day2 }
	l.Emit("b", nil)

	assert.FileExists(t, l.Path(day1))
	assert.FileExists(t, l.Path(day2))
	assert.NotEqual(t, l.Path(day1), l.Path(day2))
}

func TestCleanupRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	require.NoError(t, err)

	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-5 * 24 * time.Hour)
	for _, d := range []time.Time{old, recent} {
		require.NoError(t, os.WriteFile(l.Path(d), []byte("{}\n"), 0o644))
	}

	removed, err := l.Cleanup(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, l.Path(old))
	assert.FileExists(t, l.Path(recent))
}

func TestProcessWideLogger(t *testing.T) {
	t.Cleanup(Reset)

	// Emit before Init is a no-op.
	Emit("ignored", nil)

	dir := t.TempDir()
	require.NoError(t, Init(dir))
	Emit("daemon.cycle.complete", map[string]any{"new": 0})

	defaultMu.Lock()
	l := defaultLogger
	defaultMu.Unlock()
	require.NotNil(t, l)
	assert.FileExists(t, l.Path(time.Now()))
}
