package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nickpending/prismis-sub000/internal/model"
)

const contentColumns = `c.id, c.source_id, c.external_id, c.title, c.url, c.content, c.summary,
	c.analysis, c.priority, c.published_at, c.fetched_at, c.read, c.favorited,
	c.flagged_interesting, c.notes, c.archived_at,
	COALESCE(s.name, ''), COALESCE(s.kind, '')`

const contentFrom = ` FROM content c LEFT JOIN sources s ON s.id = c.source_id `

// ExistingExternalIDs returns every external id stored for a source as a
// membership set. The orchestrator subtracts this from a fetch batch before
// spending any LLM work.
func (s *Storage) ExistingExternalIDs(ctx context.Context, sourceID uuid.UUID) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM content WHERE source_id = ?`, sourceID.String())
	if err != nil {
		return nil, model.Wrap(model.KindStorage, err, "existing external ids")
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, model.Wrap(model.KindStorage, err, "scan external id")
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CreateOrUpdateContent upserts by (source_id, external_id). An existing row
// keeps its id and only the mutable fields change: content, summary, merged
// analysis, and priority. Returns the row id and whether it was inserted.
func (s *Storage) CreateOrUpdateContent(ctx context.Context, item model.ContentItem) (uuid.UUID, bool, error) {
	var (
		id    uuid.UUID
		isNew bool
	)
	err := s.withTx(ctx, "create or update content", func(tx *sql.Tx) error {
		if item.SourceID != nil {
			var existing, existingAnalysis string
			err := tx.QueryRowContext(ctx,
				`SELECT id, COALESCE(analysis, '') FROM content WHERE source_id = ? AND external_id = ?`,
				item.SourceID.String(), item.ExternalID).Scan(&existing, &existingAnalysis)
			switch {
			case err == nil:
				id, err = uuid.Parse(existing)
				if err != nil {
					return err
				}
				merged, err := mergeAnalysisText(existingAnalysis, item.Analysis)
				if err != nil {
					return err
				}
				_, err = tx.ExecContext(ctx,
					`UPDATE content SET content = ?, summary = ?, analysis = ?, priority = ?
					 WHERE id = ?`,
					item.Content, item.Summary, nullIfEmpty(merged), priorityValue(item.Priority), id.String())
				return err
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}
		var err error
		id, err = insertContent(ctx, tx, item)
		isNew = err == nil
		return err
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, isNew, nil
}

// AddContent is the strict insert variant: a duplicate (source_id,
// external_id) returns nil with no update.
func (s *Storage) AddContent(ctx context.Context, item model.ContentItem) (*uuid.UUID, error) {
	var id *uuid.UUID
	err := s.withTx(ctx, "add content", func(tx *sql.Tx) error {
		if item.SourceID != nil {
			var existing string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM content WHERE source_id = ? AND external_id = ?`,
				item.SourceID.String(), item.ExternalID).Scan(&existing)
			if err == nil {
				return nil // duplicate: leave id nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		newID, err := insertContent(ctx, tx, item)
		if err != nil {
			return err
		}
		id = &newID
		return nil
	})
	return id, err
}

func insertContent(ctx context.Context, tx *sql.Tx, item model.ContentItem) (uuid.UUID, error) {
	id := item.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	analysisText, err := item.Analysis.MarshalText()
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal analysis: %w", err)
	}
	fetched := item.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	var sourceID any
	if item.SourceID != nil {
		sourceID = item.SourceID.String()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO content (id, source_id, external_id, title, url, content, summary, analysis,
		                      priority, published_at, fetched_at, read, favorited, flagged_interesting,
		                      notes, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), sourceID, item.ExternalID, item.Title, item.URL, item.Content,
		item.Summary, nullIfEmpty(analysisText), priorityValue(item.Priority),
		fmtTimePtr(item.PublishedAt), fmtTime(fetched),
		item.Read, item.Favorited, item.FlaggedInteresting, item.Notes,
		fmtTimePtr(item.ArchivedAt))
	return id, err
}

// mergeAnalysisText merges an incoming analysis over a stored one, keeping
// the stored fetcher metrics unless the update carries its own.
func mergeAnalysisText(existing string, update model.Analysis) (string, error) {
	prev, err := model.ParseAnalysis(existing)
	if err != nil {
		// Corrupt stored blob: fall back to the update alone rather than
		// failing the whole upsert.
		prev = nil
	}
	if update == nil {
		return existing, nil
	}
	if prev == nil {
		return update.MarshalText()
	}
	if update.Metrics() != nil {
		// The update's metrics win when present (fresh fetcher counts).
		merged := make(model.Analysis, len(prev)+len(update))
		for k, v := range prev {
			merged[k] = v
		}
		for k, v := range update {
			merged[k] = v
		}
		return merged.MarshalText()
	}
	return prev.Merge(update).MarshalText()
}

// GetContent returns one item with its source join.
func (s *Storage) GetContent(ctx context.Context, id uuid.UUID) (model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+contentFrom+` WHERE c.id = ?`, id.String())
	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContentItem{}, model.ErrNotFound
	}
	if err != nil {
		return model.ContentItem{}, model.Wrap(model.KindStorage, err, "get content")
	}
	return item, nil
}

// ContentByPriority returns unread, non-archived items of one priority,
// newest published first. includeArchived lifts the archive filter.
func (s *Storage) ContentByPriority(ctx context.Context, p model.Priority, limit int, includeArchived bool) ([]model.ContentItem, error) {
	q := `SELECT ` + contentColumns + contentFrom + ` WHERE c.priority = ? AND c.read = 0`
	if !includeArchived {
		q += ` AND c.archived_at IS NULL`
	}
	q += ` ORDER BY c.published_at DESC LIMIT ?`
	return s.queryContent(ctx, "content by priority", q, string(p), limit)
}

// ContentSince returns prioritized items (priority non-null) since an
// optional cutoff, ordered by priority then recency.
func (s *Storage) ContentSince(ctx context.Context, since *time.Time, includeArchived bool) ([]model.ContentItem, error) {
	q := `SELECT ` + contentColumns + contentFrom + ` WHERE c.priority IS NOT NULL`
	args := []any{}
	if since != nil {
		q += ` AND c.published_at >= ?`
		args = append(args, fmtTime(*since))
	}
	if !includeArchived {
		q += ` AND c.archived_at IS NULL`
	}
	q += ` ORDER BY CASE c.priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, c.published_at DESC`
	return s.queryContent(ctx, "content since", q, args...)
}

// ListEntries is the general listing behind GET /api/entries. Unprioritized
// items are included unless a priority filter is set.
func (s *Storage) ListEntries(ctx context.Context, f model.EntryFilter) ([]model.ContentItem, error) {
	q := `SELECT ` + contentColumns + contentFrom + ` WHERE 1=1`
	args := []any{}
	if f.Priority != "" {
		q += ` AND c.priority = ?`
		args = append(args, string(f.Priority))
	}
	if f.UnreadOnly {
		q += ` AND c.read = 0`
	}
	if !f.IncludeArchived {
		q += ` AND c.archived_at IS NULL`
	}
	if f.Since != nil {
		q += ` AND c.published_at >= ?`
		args = append(args, fmtTime(*f.Since))
	}
	limit := f.Limit
	if limit <= 0 || limit > model.MaxEntryLimit {
		limit = 100
	}
	q += ` ORDER BY c.published_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryContent(ctx, "list entries", q, args...)
}

// CountEntries mirrors ListEntries for count queries.
func (s *Storage) CountEntries(ctx context.Context, f model.EntryFilter) (int, error) {
	q := `SELECT COUNT(*) FROM content c WHERE 1=1`
	args := []any{}
	if f.Priority != "" {
		q += ` AND c.priority = ?`
		args = append(args, string(f.Priority))
	}
	if f.UnreadOnly {
		q += ` AND c.read = 0`
	}
	if !f.IncludeArchived {
		q += ` AND c.archived_at IS NULL`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, model.Wrap(model.KindStorage, err, "count entries")
	}
	return n, nil
}

// UpdateContentStatus atomically updates read and/or favorited. At least one
// field must be supplied. Favoriting clears archived_at (auto-unarchive);
// setting read alone leaves archive status untouched.
func (s *Storage) UpdateContentStatus(ctx context.Context, id uuid.UUID, read, favorited *bool) error {
	if read == nil && favorited == nil {
		return model.E(model.KindValidation, "update requires at least one of read or favorited")
	}
	return s.withTx(ctx, "update content status", func(tx *sql.Tx) error {
		q := `UPDATE content SET read = COALESCE(?, read), favorited = COALESCE(?, favorited)`
		if favorited != nil && *favorited {
			q += `, archived_at = NULL`
		}
		q += ` WHERE id = ?`
		res, err := tx.ExecContext(ctx, q, boolPtrValue(read), boolPtrValue(favorited), id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrNotFound
		}
		return nil
	})
}

// SetFlaggedInteresting records the user's "interesting" signal. Flagged
// items feed the learned-preferences context and are never pruned.
func (s *Storage) SetFlaggedInteresting(ctx context.Context, id uuid.UUID, flagged bool) error {
	return s.withTx(ctx, "set flagged", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE content SET flagged_interesting = ? WHERE id = ?`, flagged, id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrNotFound
		}
		return nil
	})
}

// CountRecentFeedback counts flagged-interesting items fetched within the
// window. The orchestrator uses >= 5 in 30 days as the learned-preferences
// threshold.
func (s *Storage) CountRecentFeedback(ctx context.Context, window time.Duration) (int, error) {
	cutoff := fmtTime(time.Now().Add(-window))
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content WHERE flagged_interesting = 1 AND fetched_at >= ?`,
		cutoff).Scan(&n)
	if err != nil {
		return 0, model.Wrap(model.KindStorage, err, "count recent feedback")
	}
	return n, nil
}

// RecentFlaggedTitles returns titles of recently flagged items, newest
// first, for the learned-interests context section.
func (s *Storage) RecentFlaggedTitles(ctx context.Context, window time.Duration, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title FROM content WHERE flagged_interesting = 1 AND fetched_at >= ?
		 ORDER BY fetched_at DESC LIMIT ?`,
		fmtTime(time.Now().Add(-window)), limit)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, err, "recent flagged titles")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, model.Wrap(model.KindStorage, err, "scan title")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LatestContentForSource returns the most recently fetched item for a
// source, or NotFound. The file fetcher uses this for change detection.
func (s *Storage) LatestContentForSource(ctx context.Context, sourceID uuid.UUID) (model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+contentFrom+` WHERE c.source_id = ? ORDER BY c.fetched_at DESC, c.id DESC LIMIT 1`,
		sourceID.String())
	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContentItem{}, model.ErrNotFound
	}
	if err != nil {
		return model.ContentItem{}, model.Wrap(model.KindStorage, err, "latest content for source")
	}
	return item, nil
}

func (s *Storage) queryContent(ctx context.Context, op, q string, args ...any) ([]model.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, err, "%s", op)
	}
	defer rows.Close()

	var out []model.ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, model.Wrap(model.KindStorage, err, "%s: scan", op)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanContent(r rowScanner) (model.ContentItem, error) {
	var (
		item                 model.ContentItem
		idStr                string
		sourceID             sql.NullString
		summary              sql.NullString
		analysis             sql.NullString
		priority             sql.NullString
		published            sql.NullString
		fetched              string
		notes                sql.NullString
		archived             sql.NullString
		sourceName, sourceKd string
	)
	if err := r.Scan(&idStr, &sourceID, &item.ExternalID, &item.Title, &item.URL,
		&item.Content, &summary, &analysis, &priority, &published, &fetched,
		&item.Read, &item.Favorited, &item.FlaggedInteresting, &notes, &archived,
		&sourceName, &sourceKd); err != nil {
		return model.ContentItem{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.ContentItem{}, err
	}
	item.ID = id
	if sourceID.Valid {
		sid, err := uuid.Parse(sourceID.String)
		if err != nil {
			return model.ContentItem{}, err
		}
		item.SourceID = &sid
	}
	if summary.Valid {
		item.Summary = &summary.String
	}
	if analysis.Valid {
		if item.Analysis, err = model.ParseAnalysis(analysis.String); err != nil {
			return model.ContentItem{}, err
		}
	}
	if priority.Valid {
		item.Priority = model.Priority(priority.String)
	}
	if item.PublishedAt, err = parseTimePtr(published); err != nil {
		return model.ContentItem{}, err
	}
	if item.FetchedAt, err = parseTime(fetched); err != nil {
		return model.ContentItem{}, err
	}
	if notes.Valid {
		item.Notes = &notes.String
	}
	if item.ArchivedAt, err = parseTimePtr(archived); err != nil {
		return model.ContentItem{}, err
	}
	item.SourceName = sourceName
	item.SourceKind = model.SourceKind(sourceKd)
	return item, nil
}

func priorityValue(p model.Priority) any {
	if !p.Valid() {
		return nil
	}
	return string(p)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolPtrValue(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
