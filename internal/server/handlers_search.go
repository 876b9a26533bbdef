package server

import (
	"net/http"
	"strconv"

	"github.com/nickpending/prismis-sub000/internal/model"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// HandleSearch embeds the query text and runs the priority-weighted vector
// search. Result bodies are omitted; summaries carry enough to display.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if h.embedder == nil {
		writeError(w, r, model.E(model.KindValidation,
			"semantic search is unavailable: no embedding provider configured"))
		return
	}

	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, r, model.E(model.KindValidation, "q parameter is required"))
		return
	}

	limit := defaultSearchLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSearchLimit {
			writeError(w, r, model.E(model.KindValidation,
				"limit must be within 1-%d (got %q)", maxSearchLimit, v))
			return
		}
		limit = n
	}

	var minScore float64
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, r, model.E(model.KindValidation,
				"min_score must be within 0.0-1.0 (got %q)", v))
			return
		}
		minScore = f
	}

	vec, err := h.embedder.EmbedText(r.Context(), "", query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := h.store.SearchContent(r.Context(), vec, limit, minScore)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range results {
		results[i].Content = ""
	}
	writeSuccess(w, "search results", map[string]any{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}
