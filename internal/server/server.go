package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nickpending/prismis-sub000/internal/config"
	"github.com/nickpending/prismis-sub000/internal/llm"
	"github.com/nickpending/prismis-sub000/internal/storage"
	"github.com/nickpending/prismis-sub000/internal/usercontext"
)

// Server is the Prismis HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds the server's dependencies and settings. Embedder is nil-safe:
// without it the search endpoint reports semantic search as unavailable.
type Config struct {
	Store     *storage.Storage
	Embedder  *llm.Embedder
	Contexts  *usercontext.Store
	Validator *Validator
	Archival  config.Archival
	AudioDir  string

	APIKey       string
	Host         string
	Port         int
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// New creates the HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &Handlers{
		store:     cfg.Store,
		embedder:  cfg.Embedder,
		contexts:  cfg.Contexts,
		validator: cfg.Validator,
		archival:  cfg.Archival,
		audioDir:  cfg.AudioDir,
		version:   cfg.Version,
		logger:    cfg.Logger,
	}

	mux := http.NewServeMux()

	// Sources.
	mux.HandleFunc("POST /api/sources", h.HandleAddSource)
	mux.HandleFunc("GET /api/sources", h.HandleListSources)
	mux.HandleFunc("PATCH /api/sources/{id}", h.HandleUpdateSource)
	mux.HandleFunc("DELETE /api/sources/{id}", h.HandleRemoveSource)
	mux.HandleFunc("PATCH /api/sources/{id}/pause", h.HandlePauseSource)
	mux.HandleFunc("PATCH /api/sources/{id}/resume", h.HandleResumeSource)

	// Entries.
	mux.HandleFunc("GET /api/entries", h.HandleListEntries)
	mux.HandleFunc("GET /api/entries/{id}", h.HandleGetEntry)
	mux.HandleFunc("GET /api/entries/{id}/raw", h.HandleEntryRaw)
	mux.HandleFunc("PATCH /api/entries/{id}", h.HandleUpdateEntry)

	// Search.
	mux.HandleFunc("GET /api/search", h.HandleSearch)

	// Maintenance.
	mux.HandleFunc("POST /api/prune", h.HandlePrune)
	mux.HandleFunc("GET /api/prune/count", h.HandlePruneCount)
	mux.HandleFunc("GET /api/archive/status", h.HandleArchiveStatus)
	mux.HandleFunc("POST /api/audio/briefings", h.HandleCreateBriefing)

	// User context document.
	mux.HandleFunc("GET /api/context", h.HandleGetContext)
	mux.HandleFunc("PUT /api/context", h.HandlePutContext)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID -> CORS -> tracing -> logging -> auth -> recovery -> handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.APIKey, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = requestIDMiddleware(handler)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 60 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
