package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies the fetcher responsible for a source.
//
// The string values are the original storage labels (rss/reddit/youtube/file)
// and are preserved verbatim in the database and the API for CLI
// compatibility.
type SourceKind string

const (
	KindRSS     SourceKind = "rss"
	KindReddit  SourceKind = "reddit"
	KindYouTube SourceKind = "youtube"
	KindFile    SourceKind = "file"
)

// ValidSourceKind reports whether s is one of the supported source kinds.
func ValidSourceKind(s string) bool {
	switch SourceKind(s) {
	case KindRSS, KindReddit, KindYouTube, KindFile:
		return true
	}
	return false
}

// MaxConsecutiveErrors is the error count at which a source is
// automatically deactivated.
const MaxConsecutiveErrors = 5

// Source is a subscribed content origin (feed, subreddit, channel, or file URL).
type Source struct {
	ID            uuid.UUID  `json:"id"`
	URL           string     `json:"url"`
	Kind          SourceKind `json:"type"`
	Name          string     `json:"name"`
	Active        bool       `json:"active"`
	ErrorCount    int        `json:"error_count"`
	LastError     *string    `json:"last_error,omitempty"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate checks structural validity of a source before it is stored.
// Network reachability is checked separately by the kind validators.
func (s Source) Validate() error {
	if s.URL == "" {
		return &Error{Kind: KindValidation, Message: "source url is required"}
	}
	if !ValidSourceKind(string(s.Kind)) {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("unsupported source type %q", s.Kind)}
	}
	return nil
}
