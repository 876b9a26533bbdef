package server

import (
	"log/slog"
	"net/http"

	"github.com/nickpending/prismis-sub000/internal/config"
	"github.com/nickpending/prismis-sub000/internal/llm"
	"github.com/nickpending/prismis-sub000/internal/storage"
	"github.com/nickpending/prismis-sub000/internal/usercontext"
)

// Handlers bundles the endpoint implementations and their dependencies.
type Handlers struct {
	store     *storage.Storage
	embedder  *llm.Embedder
	contexts  *usercontext.Store
	validator *Validator
	archival  config.Archival
	audioDir  string
	version   string
	logger    *slog.Logger
}

// HandleHealth reports liveness and database reachability. No auth.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check: database unreachable", "error", err)
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "ok", map[string]any{
		"status":  "healthy",
		"version": h.version,
	})
}

// HandleGetContext returns the user-context document.
func (h *Handlers) HandleGetContext(w http.ResponseWriter, r *http.Request) {
	doc, err := h.contexts.Load()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "context", map[string]any{"content": doc})
}

// HandlePutContext replaces the user-context document. The body must carry
// all four canonical sections or the write is rejected.
func (h *Handlers) HandlePutContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.contexts.Save(req.Content); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "context updated", nil)
}
