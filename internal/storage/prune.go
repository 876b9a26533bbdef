package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// pruneWhere selects unprioritized items that carry no protection signal.
// Favorited or flagged-interesting items are never pruned regardless of
// priority.
const pruneWhere = `priority IS NULL AND favorited = 0 AND flagged_interesting = 0`

// DeleteUnprioritized removes unprotected unprioritized items, optionally
// restricted to those published more than days ago, and vacuums orphaned
// vector-index rows in the same transaction. Returns the deleted count.
func (s *Storage) DeleteUnprioritized(ctx context.Context, days *int) (int64, error) {
	q := `DELETE FROM content WHERE ` + pruneWhere
	args := []any{}
	if days != nil {
		q += ` AND COALESCE(published_at, fetched_at) < ?`
		args = append(args, fmtTime(time.Now().AddDate(0, 0, -*days)))
	}

	var count int64
	err := s.withTx(ctx, "delete unprioritized", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		if count, err = res.RowsAffected(); err != nil {
			return err
		}
		return purgeOrphanVectors(ctx, tx)
	})
	return count, err
}

// CountUnprioritized mirrors DeleteUnprioritized without deleting.
func (s *Storage) CountUnprioritized(ctx context.Context, days *int) (int64, error) {
	q := `SELECT COUNT(*) FROM content WHERE ` + pruneWhere
	args := []any{}
	if days != nil {
		q += ` AND COALESCE(published_at, fetched_at) < ?`
		args = append(args, fmtTime(time.Now().AddDate(0, 0, -*days)))
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, model.Wrap(model.KindStorage, err, "count unprioritized")
	}
	return n, nil
}
