// Package fetcher acquires content from the four source kinds and
// normalizes it to content items. Fetchers never touch the database; the
// orchestrator decides what to store.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
	"github.com/nickpending/prismis-sub000/internal/observability"
)

// articleTimeout bounds any single outbound fetch (feed document, article
// body, forum listing, file body).
const articleTimeout = 30 * time.Second

// Fetcher is the per-kind acquisition contract. Implementations return
// normalized items with external_id populated, fetched_at set, published_at
// timezone-aware, and source-specific counts under analysis.metrics. They
// degrade to an empty batch on recoverable failures and reserve errors for
// the source being unusable this tick.
type Fetcher interface {
	Kind() model.SourceKind
	Fetch(ctx context.Context, src model.Source) ([]model.ContentItem, error)
}

// Registry dispatches sources to the fetcher matching their kind.
type Registry struct {
	byKind map[model.SourceKind]Fetcher
}

// NewRegistry builds a registry from the given fetchers.
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{byKind: make(map[model.SourceKind]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		r.byKind[f.Kind()] = f
	}
	return r
}

// Fetch dispatches src to its fetcher, timing the run and emitting the
// fetcher.complete or fetcher.error event.
func (r *Registry) Fetch(ctx context.Context, src model.Source) ([]model.ContentItem, error) {
	f, ok := r.byKind[src.Kind]
	if !ok {
		return nil, model.E(model.KindValidation, "no fetcher for source kind %q", src.Kind)
	}

	start := time.Now()
	items, err := f.Fetch(ctx, src)
	elapsed := time.Since(start)
	if err != nil {
		observability.Emit("fetcher.error", map[string]any{
			"source_id":   src.ID.String(),
			"source_kind": string(src.Kind),
			"url":         src.URL,
			"duration_ms": elapsed.Milliseconds(),
			"error":       err.Error(),
		})
		return nil, err
	}
	observability.Emit("fetcher.complete", map[string]any{
		"source_id":   src.ID.String(),
		"source_kind": string(src.Kind),
		"url":         src.URL,
		"duration_ms": elapsed.Milliseconds(),
		"items":       len(items),
		"status":      "ok",
	})
	return items, nil
}

// newHTTPClient returns the client used for outbound fetches.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: articleTimeout}
}

// hashHex returns the hex SHA-256 of s. External-id fallbacks and file
// change detection both use it.
func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// canonicalURL normalizes a URL for hashing: lowercased scheme and host,
// fragment dropped.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

// lookbackCutoff returns the oldest acceptable publish time.
func lookbackCutoff(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}

// truncateItems caps a batch at max, preserving fetch order. max <= 0 means
// no cap.
func truncateItems(items []model.ContentItem, max int) []model.ContentItem {
	if max > 0 && len(items) > max {
		return items[:max]
	}
	return items
}

func fetchErr(err error, format string, args ...any) error {
	return model.Wrap(model.KindFetch, err, format, args...)
}

func fetchErrf(format string, args ...any) error {
	return model.E(model.KindFetch, format, args...)
}

// statusErr summarizes a non-2xx response.
func statusErr(resp *http.Response, what string) error {
	return fetchErrf("%s: unexpected status %s", what, resp.Status)
}

// maxBodyBytes caps any response body read; sources serving more than this
// are misbehaving.
const maxBodyBytes = 10 << 20

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fetchErr(err, "read response body")
	}
	return body, nil
}
