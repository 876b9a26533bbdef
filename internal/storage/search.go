package storage

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// searchCandidates is the nearest-neighbour pool fetched from the vector
// index before the priority-weighted rerank.
const searchCandidates = 100

// Relevance weighting: similarity dominates, priority only breaks ties.
const (
	similarityWeight = 0.90
	priorityWeight   = 0.10
)

// SearchContent runs semantic search: the top candidates by cosine
// similarity are joined to content and reranked by
//
//	relevance = 0.90 x similarity + 0.10 x priority_weight
//
// Results below minScore are dropped; the remainder is sorted by relevance
// descending and truncated to limit.
func (s *Storage) SearchContent(ctx context.Context, queryVec []float32, limit int, minScore float64) ([]model.SearchResult, error) {
	if len(queryVec) == 0 {
		return nil, model.E(model.KindValidation, "query vector is empty")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content_id, embedding FROM content_vectors`)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, err, "search: scan vectors")
	}
	defer rows.Close()

	type candidate struct {
		id  uuid.UUID
		sim float64
	}
	var candidates []candidate
	for rows.Next() {
		var idStr string
		var blob []byte
		if err := rows.Scan(&idStr, &blob); err != nil {
			return nil, model.Wrap(model.KindStorage, err, "search: scan vector row")
		}
		vec, err := decodeVector(blob)
		if err != nil || len(vec) != len(queryVec) {
			continue // dimension mismatch from an older model; skip
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{id: id, sim: cosineSimilarity(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, model.Wrap(model.KindStorage, err, "search: iterate vectors")
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if len(candidates) > searchCandidates {
		candidates = candidates[:searchCandidates]
	}

	results := make([]model.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		item, err := s.GetContent(ctx, c.id)
		if err != nil {
			if model.IsKind(err, model.KindNotFound) {
				continue // orphan vector; ignored here, purged by deletion paths
			}
			return nil, err
		}
		relevance := similarityWeight*c.sim + priorityWeight*item.Priority.Weight()
		if relevance < minScore {
			continue
		}
		results = append(results, model.SearchResult{
			ContentItem: item,
			Similarity:  c.sim,
			Relevance:   relevance,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
