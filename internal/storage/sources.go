package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// AddSource inserts a source, idempotent on URL: adding an existing URL
// returns the existing row's id unchanged.
func (s *Storage) AddSource(ctx context.Context, rawURL string, kind model.SourceKind, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.withTx(ctx, "add source", func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM sources WHERE url = ?`, rawURL).Scan(&existing)
		switch {
		case err == nil:
			id, err = uuid.Parse(existing)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		id = uuid.New()
		now := fmtTime(time.Now())
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sources (id, url, kind, name, active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 1, ?, ?)`,
			id.String(), rawURL, string(kind), name, now, now)
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// GetSource returns one source by id.
func (s *Storage) GetSource(ctx context.Context, id uuid.UUID) (model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, kind, name, active, error_count, last_error, last_fetched_at, created_at, updated_at
		 FROM sources WHERE id = ?`, id.String())
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Source{}, model.ErrNotFound
	}
	if err != nil {
		return model.Source{}, model.Wrap(model.KindStorage, err, "get source")
	}
	return src, nil
}

// ListSources returns sources ordered by id, which fixes the per-tick
// processing order. activeOnly restricts to active=1.
func (s *Storage) ListSources(ctx context.Context, activeOnly bool) ([]model.Source, error) {
	q := `SELECT id, url, kind, name, active, error_count, last_error, last_fetched_at, created_at, updated_at
	      FROM sources`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, err, "list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, model.Wrap(model.KindStorage, err, "scan source")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// UpdateSource renames and/or re-points a source. URL reachability is the
// caller's job (the API re-validates before calling this).
func (s *Storage) UpdateSource(ctx context.Context, id uuid.UUID, name, rawURL *string) error {
	return s.withTx(ctx, "update source", func(tx *sql.Tx) error {
		if name == nil && rawURL == nil {
			return model.E(model.KindValidation, "update requires at least one of name or url")
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE sources SET
			   name = COALESCE(?, name),
			   url  = COALESCE(?, url),
			   updated_at = ?
			 WHERE id = ?`,
			name, rawURL, fmtTime(time.Now()), id.String())
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

// RemoveSource deletes a source in a single transaction with favorite
// preservation: favorited content is orphaned (source_id = NULL), all other
// content rows are deleted, and orphaned vector-index rows are purged.
// Returns true if the source existed.
func (s *Storage) RemoveSource(ctx context.Context, id uuid.UUID) (bool, error) {
	existed := false
	err := s.withTx(ctx, "remove source", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE content SET source_id = NULL WHERE source_id = ? AND favorited = 1`,
			id.String()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM content WHERE source_id = ?`, id.String()); err != nil {
			return err
		}
		if err := purgeOrphanVectors(ctx, tx); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		existed = n > 0
		return nil
	})
	return existed, err
}

// SetSourceActive toggles the active flag. Reactivation resets the
// consecutive-error count to zero.
func (s *Storage) SetSourceActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.withTx(ctx, "set source active", func(tx *sql.Tx) error {
		q := `UPDATE sources SET active = ?, updated_at = ? WHERE id = ?`
		if active {
			q = `UPDATE sources SET active = ?, error_count = 0, last_error = NULL, updated_at = ? WHERE id = ?`
		}
		res, err := tx.ExecContext(ctx, q, active, fmtTime(time.Now()), id.String())
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

// RecordFetchSuccess clears the error counter and stamps last_fetched_at.
func (s *Storage) RecordFetchSuccess(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, "record fetch success", func(tx *sql.Tx) error {
		now := fmtTime(time.Now())
		_, err := tx.ExecContext(ctx,
			`UPDATE sources SET error_count = 0, last_error = NULL, last_fetched_at = ?, updated_at = ? WHERE id = ?`,
			now, now, id.String())
		return err
	})
}

// RecordFetchError increments the consecutive-error count and attaches the
// message. At MaxConsecutiveErrors the source deactivates; the return value
// reports whether this call did so.
func (s *Storage) RecordFetchError(ctx context.Context, id uuid.UUID, msg string) (deactivated bool, err error) {
	err = s.withTx(ctx, "record fetch error", func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT error_count FROM sources WHERE id = ?`, id.String()).Scan(&count); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrNotFound
			}
			return err
		}
		count++
		deactivate := count >= model.MaxConsecutiveErrors
		_, err := tx.ExecContext(ctx,
			`UPDATE sources SET error_count = ?, last_error = ?, active = CASE WHEN ? THEN 0 ELSE active END, updated_at = ?
			 WHERE id = ?`,
			count, msg, deactivate, fmtTime(time.Now()), id.String())
		if err != nil {
			return err
		}
		deactivated = deactivate
		return nil
	})
	return deactivated, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (model.Source, error) {
	var (
		src             model.Source
		idStr, kind     string
		lastError       sql.NullString
		lastFetched     sql.NullString
		created, update string
	)
	if err := r.Scan(&idStr, &src.URL, &kind, &src.Name, &src.Active,
		&src.ErrorCount, &lastError, &lastFetched, &created, &update); err != nil {
		return model.Source{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Source{}, err
	}
	src.ID = id
	src.Kind = model.SourceKind(kind)
	if lastError.Valid {
		src.LastError = &lastError.String
	}
	if src.LastFetchedAt, err = parseTimePtr(lastFetched); err != nil {
		return model.Source{}, err
	}
	if src.CreatedAt, err = parseTime(created); err != nil {
		return model.Source{}, err
	}
	if src.UpdatedAt, err = parseTime(update); err != nil {
		return model.Source{}, err
	}
	return src, nil
}
