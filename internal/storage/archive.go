package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// ArchiveOldContent applies the priority-aware aging policy in one UPDATE.
// Favorited items and items with notes never archive. A nil HighRead window
// means read high-priority items are kept forever. Ages are measured against
// published_at (falling back to fetched_at for undated items).
func (s *Storage) ArchiveOldContent(ctx context.Context, w model.ArchiveWindows) (int64, error) {
	now := time.Now()
	cutoff := func(days int) string { return fmtTime(now.AddDate(0, 0, -days)) }

	clause := `(
	     (priority = 'medium' AND ((read = 0 AND COALESCE(published_at, fetched_at) <= ?)
	                            OR (read = 1 AND COALESCE(published_at, fetched_at) <= ?)))
	  OR (priority = 'low'    AND ((read = 0 AND COALESCE(published_at, fetched_at) <= ?)
	                            OR (read = 1 AND COALESCE(published_at, fetched_at) <= ?)))`
	args := []any{
		cutoff(w.MediumUnread), cutoff(w.MediumRead),
		cutoff(w.LowUnread), cutoff(w.LowRead),
	}
	if w.HighRead != nil {
		clause += `
	  OR (priority = 'high' AND read = 1 AND COALESCE(published_at, fetched_at) <= ?)`
		args = append(args, cutoff(*w.HighRead))
	}
	clause += `)`

	q := `UPDATE content SET archived_at = ?
	      WHERE archived_at IS NULL AND favorited = 0 AND notes IS NULL AND ` + clause
	args = append([]any{fmtTime(now)}, args...)

	var count int64
	err := s.withTx(ctx, "archive old content", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

// ArchiveStatus reports archived and active counts per priority for the
// status endpoint.
type ArchiveStatus struct {
	Archived map[string]int `json:"archived"`
	Active   map[string]int `json:"active"`
}

// GetArchiveStatus counts archived/active items grouped by priority.
func (s *Storage) GetArchiveStatus(ctx context.Context) (ArchiveStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(priority, 'unprioritized'),
		        archived_at IS NOT NULL,
		        COUNT(*)
		 FROM content GROUP BY 1, 2`)
	if err != nil {
		return ArchiveStatus{}, model.Wrap(model.KindStorage, err, "archive status")
	}
	defer rows.Close()

	st := ArchiveStatus{Archived: map[string]int{}, Active: map[string]int{}}
	for rows.Next() {
		var (
			priority string
			archived bool
			n        int
		)
		if err := rows.Scan(&priority, &archived, &n); err != nil {
			return ArchiveStatus{}, model.Wrap(model.KindStorage, err, "scan archive status")
		}
		if archived {
			st.Archived[priority] = n
		} else {
			st.Active[priority] = n
		}
	}
	return st, rows.Err()
}
