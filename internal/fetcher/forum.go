package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// Media-hosting domains whose posts carry no analyzable text.
var redditMediaDomains = map[string]bool{
	"i.redd.it":   true,
	"v.redd.it":   true,
	"i.imgur.com": true,
	"imgur.com":   true,
	"gfycat.com":  true,
	"streamable.com": true,
}

var redditMediaExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".gifv", ".mp4", ".webm", ".webp"}

// RedditCredentials are optional API credentials. Without them the public
// JSON listing is used.
type RedditCredentials struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
}

func (c RedditCredentials) configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// RedditFetcher pulls recent subreddit posts with their top-level comments.
type RedditFetcher struct {
	client      *http.Client
	creds       RedditCredentials
	maxItems    int
	maxComments int // 0 = unlimited
	lookback    int

	// publicBase/oauthBase/tokenURL are injectable for tests.
	publicBase string
	oauthBase  string
	tokenURL   string

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewRedditFetcher builds the forum fetcher.
func NewRedditFetcher(creds RedditCredentials, maxItems, maxComments, lookbackDays int) *RedditFetcher {
	return &RedditFetcher{
		client:      newHTTPClient(),
		creds:       creds,
		maxItems:    maxItems,
		maxComments: maxComments,
		lookback:    lookbackDays,
		publicBase:  "https://www.reddit.com",
		oauthBase:   "https://oauth.reddit.com",
		tokenURL:    "https://www.reddit.com/api/v1/access_token",
	}
}

func (f *RedditFetcher) Kind() model.SourceKind { return model.KindReddit }

// Fetch lists the subreddit's newest posts, rejects stickied and media-only
// posts, and appends each post's top-level discussion as markdown.
func (f *RedditFetcher) Fetch(ctx context.Context, src model.Source) ([]model.ContentItem, error) {
	sub, err := subredditName(src.URL)
	if err != nil {
		return nil, err
	}

	listing, err := f.listPosts(ctx, sub)
	if err != nil {
		return nil, err
	}

	cutoff := lookbackCutoff(f.lookback)
	now := time.Now().UTC()

	var items []model.ContentItem
	for _, post := range listing {
		if post.Stickied || f.isMediaPost(post) {
			continue
		}
		published := time.Unix(int64(post.CreatedUTC), 0).UTC()
		if published.Before(cutoff) {
			continue
		}

		content := redditPostBody(post)
		if discussion := f.fetchDiscussion(ctx, post.Permalink); discussion != "" {
			content += "\n\n## Discussion\n\n" + discussion
		}

		permalink := "https://www.reddit.com" + post.Permalink
		items = append(items, model.ContentItem{
			SourceID:    &src.ID,
			ExternalID:  permalink,
			Title:       post.Title,
			URL:         permalink,
			Content:     content,
			PublishedAt: &published,
			FetchedAt:   now,
			Analysis: model.Analysis{
				"metrics": map[string]any{
					"score":        post.Score,
					"upvote_ratio": post.UpvoteRatio,
					"num_comments": post.NumComments,
					"subreddit":    post.Subreddit,
					"author":       post.Author,
				},
			},
		})
		if f.maxItems > 0 && len(items) >= f.maxItems {
			break
		}
	}
	return items, nil
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Stickied    bool    `json:"stickied"`
	IsSelf      bool    `json:"is_self"`
	Domain      string  `json:"domain"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditComment struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

func (f *RedditFetcher) listPosts(ctx context.Context, subreddit string) ([]redditPost, error) {
	body, err := f.get(ctx, fmt.Sprintf("/r/%s/new.json?limit=100", url.PathEscape(subreddit)))
	if err != nil {
		return nil, err
	}
	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fetchErr(err, "decode subreddit listing r/%s", subreddit)
	}
	posts := make([]redditPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var post redditPost
		if err := json.Unmarshal(child.Data, &post); err != nil {
			continue
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// fetchDiscussion returns the post's top-level comments as a markdown
// section, or "" when comments cannot be fetched. Comment failures never
// fail the post.
func (f *RedditFetcher) fetchDiscussion(ctx context.Context, permalink string) string {
	body, err := f.get(ctx, strings.TrimSuffix(permalink, "/")+".json")
	if err != nil {
		return ""
	}

	// The comments endpoint returns [post-listing, comment-listing].
	var pages []redditListing
	if err := json.Unmarshal(body, &pages); err != nil || len(pages) < 2 {
		return ""
	}

	var parts []string
	for _, child := range pages[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		var c redditComment
		if err := json.Unmarshal(child.Data, &c); err != nil {
			continue
		}
		if c.Author == "" || c.Author == "[deleted]" || c.Body == "" ||
			c.Body == "[deleted]" || c.Body == "[removed]" {
			continue
		}
		parts = append(parts, formatComment(c))
		if f.maxComments > 0 && len(parts) >= f.maxComments {
			break
		}
	}
	return strings.Join(parts, "\n\n")
}

// formatComment renders one comment as **u/author:** with the body
// blockquoted.
func formatComment(c redditComment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**u/%s:**\n", c.Author)
	for _, line := range strings.Split(strings.TrimSpace(c.Body), "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// redditPostBody applies the content rules: selftext for text posts, a link
// header for link posts, and a placeholder for deleted or removed bodies.
func redditPostBody(post redditPost) string {
	deleted := post.Selftext == "[deleted]" || post.Selftext == "[removed]"
	switch {
	case post.IsSelf && !deleted && post.Selftext != "":
		return post.Selftext
	case post.IsSelf:
		return "Link post to: " + post.URL
	case deleted:
		return "Link post to: " + post.URL
	case post.Selftext != "":
		return "Link: " + post.URL + "\n\n" + post.Selftext
	default:
		return "Link: " + post.URL
	}
}

func (f *RedditFetcher) isMediaPost(post redditPost) bool {
	if redditMediaDomains[strings.ToLower(post.Domain)] {
		return true
	}
	ext := strings.ToLower(path.Ext(post.URL))
	for _, blocked := range redditMediaExtensions {
		if ext == blocked {
			return true
		}
	}
	return false
}

// get issues an authenticated request when credentials are configured,
// falling back to the public JSON endpoints otherwise.
func (f *RedditFetcher) get(ctx context.Context, apiPath string) ([]byte, error) {
	base := f.publicBase
	var token string
	if f.creds.configured() {
		t, err := f.accessToken(ctx)
		if err == nil {
			base = f.oauthBase
			token = t
		}
		// Token failures degrade to the public listing.
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+apiPath, nil)
	if err != nil {
		return nil, fetchErr(err, "build request")
	}
	req.Header.Set("User-Agent", f.userAgent())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchErr(err, "fetch %s", apiPath)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp, apiPath)
	}
	return readBody(resp)
}

// accessToken returns a cached application-only OAuth token, refreshing it
// when within a minute of expiry.
func (f *RedditFetcher) accessToken(ctx context.Context) (string, error) {
	f.tokenMu.Lock()
	defer f.tokenMu.Unlock()
	if f.token != "" && time.Now().Before(f.tokenExpiry.Add(-time.Minute)) {
		return f.token, nil
	}

	form := url.Values{"grant_type": []string{"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fetchErr(err, "build token request")
	}
	req.SetBasicAuth(f.creds.ClientID, f.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", f.userAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fetchErr(err, "fetch access token")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusErr(resp, "access token")
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fetchErr(err, "decode access token")
	}
	if payload.AccessToken == "" {
		return "", fetchErrf("access token response is empty")
	}
	f.token = payload.AccessToken
	f.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return f.token, nil
}

func (f *RedditFetcher) userAgent() string {
	if f.creds.UserAgent != "" {
		return f.creds.UserAgent
	}
	return "prismis/1.0"
}

// subredditName extracts the name from a canonical /r/<name> URL.
func subredditName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fetchErr(err, "parse subreddit url")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "r" && parts[1] != "" {
		return parts[1], nil
	}
	return "", fetchErrf("url %s is not a subreddit url", rawURL)
}
