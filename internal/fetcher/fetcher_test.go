package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickpending/prismis-sub000/internal/model"
)

func testSource(kind model.SourceKind, url string) model.Source {
	return model.Source{ID: uuid.New(), URL: url, Kind: kind, Name: "test", Active: true}
}

func feedItem(guid, link, title string) *gofeed.Item {
	return &gofeed.Item{GUID: guid, Link: link, Title: title}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(NewFeedFetcher(5, 30))

	_, err := reg.Fetch(context.Background(), testSource(model.KindFile, "https://example.com/x.md"))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestFeedExternalID(t *testing.T) {
	item := feedItem("guid-1", "https://example.com/post", "Title")
	assert.Equal(t, "guid-1", feedExternalID(item))

	item = feedItem("", "https://Example.com/post#frag", "Title")
	assert.Equal(t, hashHex("https://example.com/post"), feedExternalID(item))

	item = feedItem("", "", "Only Title")
	assert.Equal(t, hashHex("Only Title"), feedExternalID(item))
}

func TestFeedFetcher(t *testing.T) {
	old := time.Now().AddDate(0, 0, -60).Format(time.RFC1123Z)
	fresh := time.Now().Add(-time.Hour).Format(time.RFC1123Z)
	rss := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><guid>a</guid><title>Fresh</title><link>https://example.com/fresh</link><pubDate>` + fresh + `</pubDate><description>fresh desc</description></item>
<item><guid>b</guid><title>Stale</title><link>https://example.com/stale</link><pubDate>` + old + `</pubDate></item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	f := NewFeedFetcher(10, 30)
	f.extract = func(ctx context.Context, articleURL string) (string, error) {
		return "extracted body of " + articleURL, nil
	}

	items, err := f.Fetch(context.Background(), testSource(model.KindRSS, srv.URL))
	require.NoError(t, err)
	require.Len(t, items, 1, "entries past the lookback cutoff are skipped")

	got := items[0]
	assert.Equal(t, "a", got.ExternalID)
	assert.Equal(t, "Fresh", got.Title)
	assert.Equal(t, "extracted body of https://example.com/fresh", got.Content)
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, time.UTC, got.PublishedAt.Location())
	assert.Equal(t, time.UTC, got.FetchedAt.Location())
}

func TestFeedFetcherExtractionFallback(t *testing.T) {
	rss := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><guid>a</guid><title>X</title><link>https://example.com/x</link><description>the description</description></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	f := NewFeedFetcher(10, 30)
	f.extract = func(ctx context.Context, articleURL string) (string, error) {
		return "", fetchErrf("boom")
	}

	items, err := f.Fetch(context.Background(), testSource(model.KindRSS, srv.URL))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "the description", items[0].Content)
}

func TestRedditPostBody(t *testing.T) {
	cases := []struct {
		name string
		post redditPost
		want string
	}{
		{"text post", redditPost{IsSelf: true, Selftext: "hello"}, "hello"},
		{"empty text post", redditPost{IsSelf: true, URL: "https://x"}, "Link post to: https://x"},
		{"removed body", redditPost{Selftext: "[removed]", URL: "https://x"}, "Link post to: https://x"},
		{"link with selftext", redditPost{URL: "https://x", Selftext: "ctx"}, "Link: https://x\n\nctx"},
		{"bare link", redditPost{URL: "https://x"}, "Link: https://x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, redditPostBody(tc.post))
		})
	}
}

func TestFormatComment(t *testing.T) {
	got := formatComment(redditComment{Author: "alice", Body: "line one\nline two"})
	assert.Equal(t, "**u/alice:**\n> line one\n> line two", got)
}

func TestSubredditName(t *testing.T) {
	name, err := subredditName("https://www.reddit.com/r/golang")
	require.NoError(t, err)
	assert.Equal(t, "golang", name)

	_, err = subredditName("https://www.reddit.com/user/foo")
	assert.Error(t, err)
}

func TestIsMediaPost(t *testing.T) {
	f := NewRedditFetcher(RedditCredentials{}, 10, 5, 30)
	assert.True(t, f.isMediaPost(redditPost{Domain: "i.redd.it"}))
	assert.True(t, f.isMediaPost(redditPost{URL: "https://example.com/pic.JPG"}))
	assert.False(t, f.isMediaPost(redditPost{Domain: "example.com", URL: "https://example.com/post"}))
}

func TestRedditFetcher(t *testing.T) {
	now := float64(time.Now().Unix())
	mux := http.NewServeMux()
	mux.HandleFunc("/r/golang/new.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"children":[
			{"kind":"t3","data":{"id":"p1","title":"Interesting","selftext":"body","is_self":true,
			 "permalink":"/r/golang/comments/p1/interesting/","author":"bob","subreddit":"golang",
			 "score":42,"upvote_ratio":0.97,"num_comments":2,"created_utc":` + floatStr(now) + `}},
			{"kind":"t3","data":{"id":"p2","title":"Pinned","stickied":true,"created_utc":` + floatStr(now) + `}},
			{"kind":"t3","data":{"id":"p3","title":"Pic","domain":"i.redd.it","url":"https://i.redd.it/x.png","created_utc":` + floatStr(now) + `}}
		]}}`))
	})
	mux.HandleFunc("/r/golang/comments/p1/interesting.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"data":{"children":[]}},{"data":{"children":[
			{"kind":"t1","data":{"author":"carol","body":"nice"}},
			{"kind":"t1","data":{"author":"[deleted]","body":"[deleted]"}}
		]}}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewRedditFetcher(RedditCredentials{}, 10, 5, 30)
	f.publicBase = srv.URL

	items, err := f.Fetch(context.Background(), testSource(model.KindReddit, "https://www.reddit.com/r/golang"))
	require.NoError(t, err)
	require.Len(t, items, 1, "stickied and media posts are rejected")

	got := items[0]
	assert.Equal(t, "https://www.reddit.com/r/golang/comments/p1/interesting/", got.ExternalID)
	assert.Contains(t, got.Content, "body")
	assert.Contains(t, got.Content, "## Discussion")
	assert.Contains(t, got.Content, "**u/carol:**\n> nice")
	assert.NotContains(t, got.Content, "[deleted]")

	metrics := got.Analysis.Metrics()
	require.NotNil(t, metrics)
	assert.Equal(t, 42, metrics["score"])
	assert.Equal(t, "golang", metrics["subreddit"])
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, time.UTC, got.PublishedAt.Location())
}

func floatStr(f float64) string {
	return strconv.FormatFloat(f, 'f', 0, 64)
}
