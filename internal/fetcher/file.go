package fetcher

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// PreviousContent is the narrow storage view the file fetcher needs for
// change detection.
type PreviousContent interface {
	LatestContentForSource(ctx context.Context, sourceID uuid.UUID) (model.ContentItem, error)
}

// FileFetcher monitors a static text or markdown document. The first fetch
// stores the full body as a baseline; later fetches store a unified diff
// only when the content hash changes.
type FileFetcher struct {
	client *http.Client
	prev   PreviousContent
}

// NewFileFetcher builds the file fetcher with a reader for previously
// stored baselines.
func NewFileFetcher(prev PreviousContent) *FileFetcher {
	return &FileFetcher{client: newHTTPClient(), prev: prev}
}

func (f *FileFetcher) Kind() model.SourceKind { return model.KindFile }

// Fetch returns at most one item: the baseline on first fetch, a diff item
// when the document changed, nothing when it did not.
func (f *FileFetcher) Fetch(ctx context.Context, src model.Source) ([]model.ContentItem, error) {
	body, err := f.download(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	hash := hashHex(body)
	now := time.Now().UTC()

	previous, err := f.prev.LatestContentForSource(ctx, src.ID)
	switch {
	case errors.Is(err, model.ErrNotFound) || model.IsKind(err, model.KindNotFound):
		// Baseline. File sources are always high priority: the user
		// explicitly subscribed to track this document.
		return []model.ContentItem{{
			SourceID:    &src.ID,
			ExternalID:  hashHex(src.URL + hash),
			Title:       src.Name,
			URL:         src.URL,
			Content:     body,
			Priority:    model.PriorityHigh,
			PublishedAt: &now,
			FetchedAt:   now,
			Analysis: model.Analysis{
				"first_fetch":  true,
				"content_hash": hash,
			},
		}}, nil
	case err != nil:
		return nil, err
	}

	if previousHash(previous) == hash {
		return nil, nil
	}

	diff, stats := UnifiedDiff(previousBody(previous), body)
	return []model.ContentItem{{
		SourceID:    &src.ID,
		ExternalID:  hashHex(src.URL + hash),
		Title:       src.Name + " (changed)",
		URL:         src.URL,
		Content:     diff,
		Priority:    model.PriorityHigh,
		PublishedAt: &now,
		FetchedAt:   now,
		Analysis: model.Analysis{
			"content_hash": hash,
			"full_text":    body,
			"diff_stats": map[string]any{
				"added_lines":   stats.Added,
				"removed_lines": stats.Removed,
				"changed_lines": stats.Changed,
			},
		},
	}}, nil
}

func (f *FileFetcher) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fetchErr(err, "build file request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fetchErr(err, "fetch file %s", rawURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusErr(resp, rawURL)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isTextContentType(ct) {
		return "", fetchErrf("file %s has non-text content type %q", rawURL, ct)
	}
	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func isTextContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	return strings.HasPrefix(ct, "text/") || strings.Contains(ct, "markdown")
}

// previousHash reads the stored content hash from the last item's analysis.
func previousHash(item model.ContentItem) string {
	if h, ok := item.Analysis["content_hash"].(string); ok {
		return h
	}
	return ""
}

// previousBody returns the full document from the last item: the baseline
// stores it as content, diff items preserve it under analysis.full_text.
func previousBody(item model.ContentItem) string {
	if t, ok := item.Analysis["full_text"].(string); ok && t != "" {
		return t
	}
	return item.Content
}
