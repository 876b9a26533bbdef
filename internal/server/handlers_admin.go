package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// HandlePrune deletes unprioritized items, optionally restricted by age.
// Favorited and flagged items are never touched.
func (h *Handlers) HandlePrune(w http.ResponseWriter, r *http.Request) {
	var req model.PruneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Days != nil && *req.Days < 1 {
		writeError(w, r, model.E(model.KindValidation, "days must be >= 1"))
		return
	}
	deleted, err := h.store.DeleteUnprioritized(r.Context(), req.Days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "pruned", map[string]any{"deleted": deleted})
}

// HandlePruneCount reports what a prune with the same parameters would delete.
func (h *Handlers) HandlePruneCount(w http.ResponseWriter, r *http.Request) {
	var days *int
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, model.E(model.KindValidation, "days must be a positive integer (got %q)", v))
			return
		}
		days = &n
	}
	count, err := h.store.CountUnprioritized(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "prune count", map[string]any{"count": count})
}

// HandleArchiveStatus reports archived/active counts per priority plus the
// configured aging windows.
func (h *Handlers) HandleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.GetArchiveStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "archive status", map[string]any{
		"enabled":  h.archival.Enabled,
		"windows":  h.archival.Windows(),
		"archived": status.Archived,
		"active":   status.Active,
	})
}

// maxBriefingItems caps one briefing script.
const maxBriefingItems = 50

// HandleCreateBriefing writes a briefing script for the newest matching
// items under the audio data dir and returns its path. Speech synthesis is
// an external collaborator; the daemon stores the script only.
func (h *Handlers) HandleCreateBriefing(w http.ResponseWriter, r *http.Request) {
	var req model.BriefingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Priority == "" {
		req.Priority = model.PriorityHigh
	}
	if !req.Priority.Valid() {
		writeError(w, r, model.E(model.KindValidation,
			"invalid priority %q (one of: high, medium, low)", req.Priority))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Limit > maxBriefingItems {
		writeError(w, r, model.E(model.KindValidation, "limit must be <= %d", maxBriefingItems))
		return
	}

	items, err := h.store.ContentByPriority(r.Context(), req.Priority, req.Limit, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(items) == 0 {
		writeError(w, r, model.E(model.KindNotFound, "no %s-priority items to brief", req.Priority))
		return
	}

	if err := os.MkdirAll(h.audioDir, 0o755); err != nil {
		writeError(w, r, model.Wrap(model.KindStorage, err, "create audio dir"))
		return
	}
	now := time.Now().UTC()
	path := filepath.Join(h.audioDir, fmt.Sprintf("briefing-%s.md", now.Format("20060102-150405")))
	if err := os.WriteFile(path, []byte(briefingScript(now, req.Priority, items)), 0o644); err != nil {
		writeError(w, r, model.Wrap(model.KindStorage, err, "write briefing script"))
		return
	}

	writeSuccess(w, "briefing created", map[string]any{
		"path":  path,
		"items": len(items),
	})
}

func briefingScript(now time.Time, p model.Priority, items []model.ContentItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Briefing %s (%s priority, %d items)\n\n", now.Format("2006-01-02 15:04 MST"), p, len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, item.Title)
		if item.SourceName != "" {
			fmt.Fprintf(&b, "From %s.\n\n", item.SourceName)
		}
		if item.Summary != nil && *item.Summary != "" {
			b.WriteString(*item.Summary)
		} else {
			b.WriteString("No summary available.")
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
