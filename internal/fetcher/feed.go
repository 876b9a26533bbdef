package fetcher

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// ExtractFunc pulls the readable article text from a URL. Injectable so
// tests can avoid network calls.
type ExtractFunc func(ctx context.Context, articleURL string) (string, error)

// FeedFetcher pulls RSS/Atom feeds and enriches entries with the full
// article text.
type FeedFetcher struct {
	parser   *gofeed.Parser
	extract  ExtractFunc
	maxItems int
	lookback int
}

// NewFeedFetcher builds the feed fetcher with the given per-tick item cap
// and lookback in days.
func NewFeedFetcher(maxItems, lookbackDays int) *FeedFetcher {
	return &FeedFetcher{
		parser:   gofeed.NewParser(),
		extract:  extractArticle,
		maxItems: maxItems,
		lookback: lookbackDays,
	}
}

func (f *FeedFetcher) Kind() model.SourceKind { return model.KindRSS }

// Fetch parses the feed leniently, skips entries older than the lookback
// cutoff, and fills content from the article body where it can be
// extracted, falling back to the entry's own content, summary, then
// description.
func (f *FeedFetcher) Fetch(ctx context.Context, src model.Source) ([]model.ContentItem, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, articleTimeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(src.URL, fetchCtx)
	if err != nil {
		return nil, fetchErr(err, "parse feed %s", src.URL)
	}

	cutoff := lookbackCutoff(f.lookback)
	now := time.Now().UTC()

	var items []model.ContentItem
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		published := entryPublished(entry)
		if published != nil && published.Before(cutoff) {
			continue
		}

		item := model.ContentItem{
			SourceID:    &src.ID,
			ExternalID:  feedExternalID(entry),
			Title:       strings.TrimSpace(entry.Title),
			URL:         entry.Link,
			Content:     f.entryContent(ctx, entry),
			PublishedAt: published,
			FetchedAt:   now,
		}
		items = append(items, item)
		if f.maxItems > 0 && len(items) >= f.maxItems {
			break
		}
	}
	return items, nil
}

// feedExternalID derives a stable dedup key: the entry's own id when the
// feed provides one, else a hash of the canonical entry URL, else a hash of
// the title.
func feedExternalID(entry *gofeed.Item) string {
	if id := strings.TrimSpace(entry.GUID); id != "" {
		return id
	}
	if entry.Link != "" {
		return hashHex(canonicalURL(entry.Link))
	}
	return hashHex(entry.Title)
}

func entryPublished(entry *gofeed.Item) *time.Time {
	for _, t := range []*time.Time{entry.PublishedParsed, entry.UpdatedParsed} {
		if t != nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// entryContent prefers the extracted article body; a failed extraction
// falls back to whatever the feed itself carried.
func (f *FeedFetcher) entryContent(ctx context.Context, entry *gofeed.Item) string {
	if entry.Link != "" {
		if text, err := f.extract(ctx, entry.Link); err == nil && strings.TrimSpace(text) != "" {
			return text
		}
	}
	for _, fallback := range []string{entry.Content, entry.Description} {
		if strings.TrimSpace(fallback) != "" {
			return fallback
		}
	}
	return ""
}

// extractArticle runs readability extraction against the entry URL. The
// library owns its fetch; articleTimeout bounds it.
func extractArticle(_ context.Context, articleURL string) (string, error) {
	parsed, err := url.Parse(articleURL)
	if err != nil {
		return "", fetchErr(err, "parse article url")
	}
	article, err := readability.FromURL(parsed.String(), articleTimeout)
	if err != nil {
		return "", fetchErr(err, "extract article %s", articleURL)
	}
	return article.TextContent, nil
}
