package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// AddEmbedding stores a content vector in both places: the durable
// embeddings row (cascades with content) and the vector-index row (no
// cascade; purged explicitly on every deletion path). Both writes share one
// transaction. This is the canonical embedding write; there is no other.
func (s *Storage) AddEmbedding(ctx context.Context, contentID uuid.UUID, vec []float32, modelName string) error {
	if len(vec) == 0 {
		return model.E(model.KindValidation, "embedding vector is empty")
	}
	blob := encodeVector(vec)
	return s.withTx(ctx, "add embedding", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO embeddings (content_id, embedding, model, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (content_id) DO UPDATE SET embedding = excluded.embedding,
			   model = excluded.model, created_at = excluded.created_at`,
			contentID.String(), blob, modelName, fmtTime(time.Now()))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO content_vectors (content_id, embedding) VALUES (?, ?)
			 ON CONFLICT (content_id) DO UPDATE SET embedding = excluded.embedding`,
			contentID.String(), blob)
		return err
	})
}

// HasEmbedding reports whether a durable embedding row exists.
func (s *Storage) HasEmbedding(ctx context.Context, contentID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE content_id = ?`, contentID.String()).Scan(&n)
	if err != nil {
		return false, model.Wrap(model.KindStorage, err, "has embedding")
	}
	return n > 0, nil
}

// ContentWithoutEmbedding returns up to limit items that have no embedding
// yet, oldest first. The backfill job works through this list.
func (s *Storage) ContentWithoutEmbedding(ctx context.Context, limit int) ([]model.ContentItem, error) {
	q := `SELECT ` + contentColumns + contentFrom + `
	      WHERE c.id NOT IN (SELECT content_id FROM embeddings)
	      ORDER BY c.fetched_at ASC LIMIT ?`
	return s.queryContent(ctx, "content without embedding", q, limit)
}

// CountOrphanVectors returns vector-index rows whose content row is gone.
// Zero is an invariant outside of a deletion transaction.
func (s *Storage) CountOrphanVectors(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_vectors WHERE content_id NOT IN (SELECT id FROM content)`).Scan(&n)
	if err != nil {
		return 0, model.Wrap(model.KindStorage, err, "count orphan vectors")
	}
	return n, nil
}

// purgeOrphanVectors removes vector-index rows with no backing content row.
// Must run inside every transaction that deletes content.
func purgeOrphanVectors(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM content_vectors WHERE content_id NOT IN (SELECT id FROM content)`)
	return err
}

// Vectors are stored as little-endian float32 blobs.

func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
