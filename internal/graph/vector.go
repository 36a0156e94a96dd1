package graph

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searcher is the similarity search strategy. The Store selects one
// implementation at construction time based on a capability probe:
// indexSearcher when the pgvector extension is installed, scanSearcher
// otherwise. Both return hits ordered by descending similarity with ties
// broken by ascending id.
type searcher interface {
	search(ctx context.Context, kind Kind, topicID string, query []float32, k int) ([]Hit, error)
}

// indexSearcher ranks inside PostgreSQL using the pgvector cosine distance
// operator. Embeddings are stored as real[] so the schema loads without the
// extension; this path casts to vector at query time.
type indexSearcher struct {
	pool *pgxpool.Pool
}

func (s *indexSearcher) search(ctx context.Context, kind Kind, topicID string, query []float32, k int) ([]Hit, error) {
	sql, ok := indexSearchSQL[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}

	vec := pgvector.NewVector(query)
	rows, err := s.pool.Query(ctx, sql, vec, topicID, k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector query for %s: %w", ErrStoreUnavailable, kind, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		h := Hit{Kind: kind}
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("%w: scanning %s hit: %w", ErrStoreUnavailable, kind, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s hits: %w", ErrStoreUnavailable, kind, err)
	}
	return hits, nil
}

// <=> is cosine distance; similarity = 1 - distance. An empty topic scope
// ($2 = '') matches all rows of the kind.
var indexSearchSQL = map[Kind]string{
	KindTopic: `SELECT id, 1 - (embedding::vector <=> $1::vector)
		FROM topics
		WHERE embedding IS NOT NULL AND ($2 = '' OR id = $2)
		ORDER BY embedding::vector <=> $1::vector ASC, id ASC
		LIMIT $3`,
	KindDocument: `SELECT id, 1 - (embedding::vector <=> $1::vector)
		FROM documents
		WHERE embedding IS NOT NULL AND ($2 = '' OR topic_id = $2)
		ORDER BY embedding::vector <=> $1::vector ASC, id ASC
		LIMIT $3`,
	KindSection: `SELECT s.id, 1 - (s.embedding::vector <=> $1::vector)
		FROM sections s
		JOIN documents d ON d.id = s.document_id
		WHERE s.embedding IS NOT NULL AND ($2 = '' OR d.topic_id = $2)
		ORDER BY s.embedding::vector <=> $1::vector ASC, s.id ASC
		LIMIT $3`,
	KindExercise: `SELECT id, 1 - (embedding::vector <=> $1::vector)
		FROM exercises
		WHERE embedding IS NOT NULL AND ($2 = '' OR topic_id = $2)
		ORDER BY embedding::vector <=> $1::vector ASC, id ASC
		LIMIT $3`,
}

// scanSearcher fetches candidate (id, embedding) pairs in scope and ranks
// them in process. Used when the store lacks the pgvector extension.
type scanSearcher struct {
	pool *pgxpool.Pool
}

var scanCandidateSQL = map[Kind]string{
	KindTopic: `SELECT id, embedding FROM topics
		WHERE embedding IS NOT NULL AND ($1 = '' OR id = $1)`,
	KindDocument: `SELECT id, embedding FROM documents
		WHERE embedding IS NOT NULL AND ($1 = '' OR topic_id = $1)`,
	KindSection: `SELECT s.id, s.embedding FROM sections s
		JOIN documents d ON d.id = s.document_id
		WHERE s.embedding IS NOT NULL AND ($1 = '' OR d.topic_id = $1)`,
	KindExercise: `SELECT id, embedding FROM exercises
		WHERE embedding IS NOT NULL AND ($1 = '' OR topic_id = $1)`,
}

func (s *scanSearcher) search(ctx context.Context, kind Kind, topicID string, query []float32, k int) ([]Hit, error) {
	sql, ok := scanCandidateSQL[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}

	rows, err := s.pool.Query(ctx, sql, topicID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s candidates: %w", ErrStoreUnavailable, kind, err)
	}
	defer rows.Close()

	var candidates []Hit
	for rows.Next() {
		var id string
		var embedding []float32
		if err := rows.Scan(&id, &embedding); err != nil {
			return nil, fmt.Errorf("%w: scanning %s candidate: %w", ErrStoreUnavailable, kind, err)
		}
		candidates = append(candidates, Hit{
			Kind:  kind,
			ID:    id,
			Score: CosineSimilarity(query, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s candidates: %w", ErrStoreUnavailable, kind, err)
	}

	return RankHits(candidates, k), nil
}

// RankHits orders hits by descending score with ties broken by ascending id,
// and truncates to at most k. The input slice is sorted in place.
func RankHits(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
