package server

import (
	"net/http"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// HandleAddSource normalizes, validates, and inserts a source. Adding a URL
// that already exists returns the existing id rather than an error.
func (h *Handlers) HandleAddSource(w http.ResponseWriter, r *http.Request) {
	var req model.AddSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !model.ValidSourceKind(req.Type) {
		writeError(w, r, model.E(model.KindValidation,
			"unsupported source type %q (one of: rss, reddit, youtube, file)", req.Type))
		return
	}
	kind := model.SourceKind(req.Type)

	normalized, err := model.NormalizeSourceURL(req.URL, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validator.Validate(r.Context(), kind, normalized); err != nil {
		writeError(w, r, err)
		return
	}

	name := req.Name
	if name == "" {
		name = model.DeriveSourceName(normalized, kind)
	}

	id, err := h.store.AddSource(r.Context(), normalized, kind, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "source added", src)
}

// HandleListSources returns every source, active or not.
func (h *Handlers) HandleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context(), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "sources", map[string]any{
		"sources": sources,
		"count":   len(sources),
	})
}

// HandleUpdateSource renames a source or reassigns its URL. A new URL goes
// through the same normalization and reachability validation as on add.
func (h *Handlers) HandleUpdateSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req model.UpdateSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == nil && req.URL == nil {
		writeError(w, r, model.E(model.KindValidation, "nothing to update: provide name or url"))
		return
	}

	if req.URL != nil {
		src, err := h.store.GetSource(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		normalized, err := model.NormalizeSourceURL(*req.URL, src.Kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.validator.Validate(r.Context(), src.Kind, normalized); err != nil {
			writeError(w, r, err)
			return
		}
		req.URL = &normalized
	}

	if err := h.store.UpdateSource(r.Context(), id, req.Name, req.URL); err != nil {
		writeError(w, r, err)
		return
	}
	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "source updated", src)
}

// HandleRemoveSource deletes a source; its favorited items survive as
// orphans, everything else cascades.
func (h *Handlers) HandleRemoveSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	removed, err := h.store.RemoveSource(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, model.E(model.KindNotFound, "source %s not found", id))
		return
	}
	writeSuccess(w, "source removed", nil)
}

// HandlePauseSource deactivates a source without touching its content.
func (h *Handlers) HandlePauseSource(w http.ResponseWriter, r *http.Request) {
	h.setSourceActive(w, r, false, "source paused")
}

// HandleResumeSource reactivates a source and clears its error counter.
func (h *Handlers) HandleResumeSource(w http.ResponseWriter, r *http.Request) {
	h.setSourceActive(w, r, true, "source resumed")
}

func (h *Handlers) setSourceActive(w http.ResponseWriter, r *http.Request, active bool, message string) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.SetSourceActive(r.Context(), id, active); err != nil {
		writeError(w, r, err)
		return
	}
	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, message, src)
}
