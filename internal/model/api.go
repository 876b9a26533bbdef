package model

import "time"

// APIResponse is the uniform envelope for every HTTP API response,
// success and error alike.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// AddSourceRequest is the body of POST /api/sources.
type AddSourceRequest struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// UpdateSourceRequest is the body of PATCH /api/sources/{id}.
// Nil fields are left unchanged; a new URL is re-validated before applying.
type UpdateSourceRequest struct {
	Name *string `json:"name,omitempty"`
	URL  *string `json:"url,omitempty"`
}

// UpdateEntryRequest is the body of PATCH /api/entries/{id}.
// At least one field must be present. Favoriting auto-unarchives.
type UpdateEntryRequest struct {
	Read      *bool `json:"read,omitempty"`
	Favorited *bool `json:"favorited,omitempty"`
	Flagged   *bool `json:"flagged,omitempty"`
}

// EntryFilter collects the query parameters of GET /api/entries.
type EntryFilter struct {
	Priority        Priority
	UnreadOnly      bool
	IncludeArchived bool
	Limit           int
	Since           *time.Time
}

// MaxEntryLimit caps the limit parameter of entry listings.
const MaxEntryLimit = 10000

// PruneRequest is the body of POST /api/prune. Days, when set, restricts
// deletion to items published more than that many days ago.
type PruneRequest struct {
	Days *int `json:"days,omitempty"`
}

// BriefingRequest is the body of POST /api/audio/briefings.
type BriefingRequest struct {
	Limit    int      `json:"limit,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

// TickStats summarizes one orchestrator run.
type TickStats struct {
	Sources      int           `json:"sources"`
	Fetched      int           `json:"fetched"`
	New          int           `json:"new"`
	Updated      int           `json:"updated"`
	HighPriority int           `json:"high_priority"`
	Errors       []string      `json:"errors,omitempty"`
	Duration     time.Duration `json:"-"`
}
