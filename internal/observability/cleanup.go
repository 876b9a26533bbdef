package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultRetention is how long daily event files are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Cleanup removes event files whose date component is older than the
// retention window. Returns the number of files removed.
func (l *Logger) Cleanup(retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := l.now().UTC().Add(-retention)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("observability: read dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		datePart, ok := strings.CutSuffix(name, "_events.jsonl")
		if !ok {
			continue
		}
		day, err := time.Parse("2006-01-02", datePart)
		if err != nil {
			continue
		}
		if day.Before(cutoff.Truncate(24 * time.Hour)) {
			if err := os.Remove(filepath.Join(l.dir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
