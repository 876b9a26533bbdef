package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// defaultEntryLimit applies when the limit parameter is absent.
const defaultEntryLimit = 100

// HandleListEntries returns a filtered entry listing. Bodies are omitted;
// GET /api/entries/{id}?include=content fetches the full item.
func (h *Handlers) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEntryFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.store.ListEntries(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := h.store.CountEntries(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range items {
		items[i].Content = ""
	}
	writeSuccess(w, "entries", map[string]any{
		"entries": items,
		"count":   len(items),
		"total":   total,
	})
}

func parseEntryFilter(r *http.Request) (model.EntryFilter, error) {
	q := r.URL.Query()
	filter := model.EntryFilter{Limit: defaultEntryLimit}

	if v := q.Get("priority"); v != "" {
		p := model.Priority(v)
		if !p.Valid() {
			return filter, model.E(model.KindValidation,
				"invalid priority %q (one of: high, medium, low)", v)
		}
		filter.Priority = p
	}
	if v := q.Get("unread_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, model.E(model.KindValidation, "invalid unread_only %q", v)
		}
		filter.UnreadOnly = b
	}
	if v := q.Get("include_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, model.E(model.KindValidation, "invalid include_archived %q", v)
		}
		filter.IncludeArchived = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > model.MaxEntryLimit {
			return filter, model.E(model.KindValidation,
				"limit must be within 1-%d (got %q)", model.MaxEntryLimit, v)
		}
		filter.Limit = n
	}

	since := q.Get("since")
	sinceHours := q.Get("since_hours")
	if since != "" && sinceHours != "" {
		return filter, model.E(model.KindValidation, "since and since_hours are mutually exclusive")
	}
	if since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, model.E(model.KindValidation, "since must be RFC3339 (got %q)", since)
		}
		ts = ts.UTC()
		filter.Since = &ts
	}
	if sinceHours != "" {
		hours, err := strconv.Atoi(sinceHours)
		if err != nil || hours < 1 {
			return filter, model.E(model.KindValidation, "since_hours must be a positive integer (got %q)", sinceHours)
		}
		ts := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		filter.Since = &ts
	}
	return filter, nil
}

// HandleGetEntry returns one entry, lightweight by default.
func (h *Handlers) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	item, err := h.store.GetContent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("include") != "content" {
		item.Content = ""
	}
	writeSuccess(w, "entry", item)
}

// HandleEntryRaw returns the plain-text body for piping.
func (h *Handlers) HandleEntryRaw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	item, err := h.store.GetContent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(item.Content))
}

// HandleUpdateEntry toggles read/favorited/flagged state. Favoriting
// unarchives; flagging feeds the learned-interest loop.
func (h *Handlers) HandleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req model.UpdateEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Read == nil && req.Favorited == nil && req.Flagged == nil {
		writeError(w, r, model.E(model.KindValidation,
			"nothing to update: provide read, favorited, or flagged"))
		return
	}

	if req.Read != nil || req.Favorited != nil {
		if err := h.store.UpdateContentStatus(r.Context(), id, req.Read, req.Favorited); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Flagged != nil {
		if err := h.store.SetFlaggedInteresting(r.Context(), id, *req.Flagged); err != nil {
			writeError(w, r, err)
			return
		}
	}

	item, err := h.store.GetContent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	item.Content = ""
	writeSuccess(w, "entry updated", item)
}
