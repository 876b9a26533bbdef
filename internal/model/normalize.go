package model

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeSourceURL expands the CLI short-forms into canonical URLs and
// adds a missing scheme. The short-forms are:
//
//	reddit://golang          -> https://www.reddit.com/r/golang
//	youtube://@handle        -> https://www.youtube.com/@handle
//	youtube://UC...          -> https://www.youtube.com/channel/UC...
//	youtube://name           -> https://www.youtube.com/@name
//	rss://host/path          -> https://host/path
//
// Already-canonical http(s) URLs pass through unchanged.
func NormalizeSourceURL(raw string, kind SourceKind) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", E(KindValidation, "url is required")
	}

	switch {
	case strings.HasPrefix(raw, "reddit://"):
		name := strings.Trim(strings.TrimPrefix(raw, "reddit://"), "/")
		name = strings.TrimPrefix(name, "r/")
		if name == "" {
			return "", E(KindValidation, "reddit:// short-form requires a subreddit name")
		}
		return "https://www.reddit.com/r/" + name, nil

	case strings.HasPrefix(raw, "youtube://"):
		name := strings.Trim(strings.TrimPrefix(raw, "youtube://"), "/")
		if name == "" {
			return "", E(KindValidation, "youtube:// short-form requires a channel handle or id")
		}
		switch {
		case strings.HasPrefix(name, "@"):
			return "https://www.youtube.com/" + name, nil
		case strings.HasPrefix(name, "UC"):
			return "https://www.youtube.com/channel/" + name, nil
		default:
			return "https://www.youtube.com/@" + name, nil
		}

	case strings.HasPrefix(raw, "rss://"):
		rest := strings.TrimPrefix(raw, "rss://")
		if rest == "" {
			return "", E(KindValidation, "rss:// short-form requires a host")
		}
		return "https://" + rest, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", E(KindValidation, "invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", E(KindValidation, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", E(KindValidation, "url must include a host")
	}
	_ = kind
	return u.String(), nil
}

// DeriveSourceName produces a human name for a source when none was given.
func DeriveSourceName(normalizedURL string, kind SourceKind) string {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return normalizedURL
	}
	switch kind {
	case KindReddit:
		if i := strings.Index(u.Path, "/r/"); i >= 0 {
			return "r/" + strings.Trim(u.Path[i+3:], "/")
		}
	case KindYouTube:
		p := strings.Trim(u.Path, "/")
		if p != "" {
			return fmt.Sprintf("%s (%s)", p, u.Host)
		}
	}
	host := strings.TrimPrefix(u.Host, "www.")
	if p := strings.Trim(u.Path, "/"); p != "" && kind == KindFile {
		if i := strings.LastIndex(p, "/"); i >= 0 {
			p = p[i+1:]
		}
		return p
	}
	return host
}
