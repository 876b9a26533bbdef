package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority is the evaluator's verdict on how closely an item matches the
// user's interests. The empty value means "unprioritized" and is stored as
// NULL; unprioritized items are eligible for prune unless protected.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a concrete (non-null) priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Weight returns the rank weight used when scoring search results.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 1.0
	case PriorityMedium:
		return 0.5
	default:
		return 0.0
	}
}

// Analysis is the merged analysis blob attached to a content item: the
// fetcher's metrics plus whatever the LLM produced. Stored as JSON.
type Analysis map[string]any

// Metrics returns the fetcher-captured metrics sub-map, or nil.
func (a Analysis) Metrics() map[string]any {
	if a == nil {
		return nil
	}
	if m, ok := a["metrics"].(map[string]any); ok {
		return m
	}
	return nil
}

// Merge overlays other onto a copy of a, preserving a's "metrics" key.
// Fetcher-captured metrics must survive every re-analysis pass; LLM fields
// merge on top of everything else.
func (a Analysis) Merge(other Analysis) Analysis {
	out := make(Analysis, len(a)+len(other))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range other {
		if k == "metrics" && out["metrics"] != nil {
			continue
		}
		out[k] = v
	}
	return out
}

// MarshalText serializes the analysis for storage. A nil map becomes "".
func (a Analysis) MarshalText() (string, error) {
	if a == nil {
		return "", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseAnalysis deserializes a stored analysis blob. Empty input yields nil.
func ParseAnalysis(s string) (Analysis, error) {
	if s == "" {
		return nil, nil
	}
	var a Analysis
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, err
	}
	return a, nil
}

// MaxSummaryLen caps the short display summary.
const MaxSummaryLen = 400

// ContentItem is one normalized piece of content flowing through the
// pipeline. SourceID is nullable: favorited items survive source deletion
// as orphans.
type ContentItem struct {
	ID                 uuid.UUID  `json:"id"`
	SourceID           *uuid.UUID `json:"source_id,omitempty"`
	ExternalID         string     `json:"external_id"`
	Title              string     `json:"title"`
	URL                string     `json:"url"`
	Content            string     `json:"content,omitempty"`
	Summary            *string    `json:"summary,omitempty"`
	Analysis           Analysis   `json:"analysis,omitempty"`
	Priority           Priority   `json:"priority,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
	FetchedAt          time.Time  `json:"fetched_at"`
	Read               bool       `json:"read"`
	Favorited          bool       `json:"favorited"`
	FlaggedInteresting bool       `json:"flagged_interesting"`
	Notes              *string    `json:"notes,omitempty"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty"`

	// Joined from the owning source; empty for orphans.
	SourceName string     `json:"source_name,omitempty"`
	SourceKind SourceKind `json:"source_type,omitempty"`
}

// Embedding is the durable record of a content item's vector.
type Embedding struct {
	ContentID uuid.UUID `json:"content_id"`
	Vector    []float32 `json:"-"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is a content item scored against a query vector.
// Relevance = 0.90 x similarity + 0.10 x priority weight: similarity
// dominates, priority only breaks ties.
type SearchResult struct {
	ContentItem
	Similarity float64 `json:"similarity"`
	Relevance  float64 `json:"relevance_score"`
}

// ArchiveWindows holds the priority-aware archival aging policy in days.
// A nil HighRead means read high-priority items are never archived.
type ArchiveWindows struct {
	HighRead     *int `json:"high_read" toml:"high_read"`
	MediumUnread int  `json:"medium_unread" toml:"medium_unread"`
	MediumRead   int  `json:"medium_read" toml:"medium_read"`
	LowUnread    int  `json:"low_unread" toml:"low_unread"`
	LowRead      int  `json:"low_read" toml:"low_read"`
}
