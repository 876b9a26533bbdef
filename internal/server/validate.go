package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// validatorTimeout bounds every pre-insert reachability probe.
const validatorTimeout = 5 * time.Second

// Validator runs the kind-specific checks before a source is stored. Feed
// and subreddit checks hit the network; video and file checks are syntactic.
type Validator struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
}

// NewValidator builds a validator with the standard probe timeout.
func NewValidator(userAgent string) *Validator {
	client := &http.Client{Timeout: validatorTimeout}
	parser := gofeed.NewParser()
	parser.Client = client
	return &Validator{client: client, parser: parser, userAgent: userAgent}
}

// Validate checks that the normalized URL is usable for its kind. Failures
// are validation errors: the API rejects the add with a 422.
func (v *Validator) Validate(ctx context.Context, kind model.SourceKind, normalized string) error {
	ctx, cancel := context.WithTimeout(ctx, validatorTimeout)
	defer cancel()

	switch kind {
	case model.KindRSS:
		return v.validateFeed(ctx, normalized)
	case model.KindReddit:
		return v.validateSubreddit(ctx, normalized)
	case model.KindYouTube:
		return validateChannelURL(normalized)
	case model.KindFile:
		return validateFileURL(normalized)
	}
	return model.E(model.KindValidation, "unsupported source type %q", kind)
}

func (v *Validator) validateFeed(ctx context.Context, feedURL string) error {
	feed, err := v.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return model.Wrap(model.KindValidation, err, "url does not serve a parsable feed")
	}
	if len(feed.Items) == 0 && feed.Title == "" {
		return model.E(model.KindValidation, "feed at %s is empty", feedURL)
	}
	return nil
}

func (v *Validator) validateSubreddit(ctx context.Context, subredditURL string) error {
	probe := strings.TrimSuffix(subredditURL, "/") + "/about.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return model.Wrap(model.KindValidation, err, "invalid subreddit url")
	}
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return model.Wrap(model.KindValidation, err, "subreddit is unreachable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return model.E(model.KindValidation, "subreddit does not exist")
	case http.StatusForbidden:
		return model.E(model.KindValidation, "subreddit is private or banned")
	case http.StatusTooManyRequests:
		return model.E(model.KindValidation, "rate limited while validating subreddit; try again shortly")
	}
	if resp.StatusCode >= 400 {
		return model.E(model.KindValidation, "subreddit check returned status %d", resp.StatusCode)
	}
	return nil
}

// validateChannelURL accepts channel, user, and handle forms and rejects
// single-video watch URLs.
func validateChannelURL(channelURL string) error {
	u, err := url.Parse(channelURL)
	if err != nil {
		return model.Wrap(model.KindValidation, err, "invalid channel url")
	}
	path := u.Path
	if strings.HasPrefix(path, "/watch") || u.Query().Get("v") != "" {
		return model.E(model.KindValidation,
			"watch URLs are not subscribable; use a channel, user, or @handle URL")
	}
	for _, prefix := range []string{"/channel/", "/user/", "/c/", "/@"} {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return nil
		}
	}
	return model.E(model.KindValidation,
		"%q is not a channel URL (expected /channel/, /user/, /c/, or /@handle)", channelURL)
}

func validateFileURL(fileURL string) error {
	u, err := url.Parse(fileURL)
	if err != nil {
		return model.Wrap(model.KindValidation, err, "invalid file url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.E(model.KindValidation, "file sources require an http(s) URL")
	}
	lower := strings.ToLower(u.Path)
	if !strings.HasSuffix(lower, ".md") && !strings.HasSuffix(lower, ".txt") {
		return model.E(model.KindValidation, "file sources must end in .md or .txt")
	}
	return nil
}
