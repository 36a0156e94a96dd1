// Package graph implements the knowledge graph over PostgreSQL.
//
// Nodes (students, topics, documents, sections, exercises, study sessions,
// answers) and edges (KNOWS levels, consulted topics) live in relational
// tables; embeddings are stored as real[] columns so the schema works with
// or without the pgvector extension. Similarity search goes through a
// strategy selected once per Store by a capability probe: the native
// pgvector path when the extension is installed, an in-process cosine
// fallback otherwise.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VectorMode controls strategy selection at construction time.
type VectorMode string

const (
	// VectorModeAuto probes the database for the pgvector extension.
	VectorModeAuto VectorMode = "auto"
	// VectorModeIndex forces the native pgvector path.
	VectorModeIndex VectorMode = "on"
	// VectorModeScan forces the in-process cosine fallback.
	VectorModeScan VectorMode = "off"
)

// Store provides graph operations backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines. It holds no
// authoritative copy of entity state; every read goes to the database and
// every mutation is an explicit write-back.
type Store struct {
	pool     *pgxpool.Pool
	searcher searcher
	native   bool
	logger   *slog.Logger
}

// NewStore creates a Store and selects the similarity search strategy.
// With VectorModeAuto the pgvector capability is probed once here, not
// per call.
func NewStore(ctx context.Context, pool *pgxpool.Pool, mode VectorMode, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{pool: pool, logger: logger}

	native := false
	switch mode {
	case VectorModeIndex:
		native = true
	case VectorModeScan:
		native = false
	default:
		var err error
		native, err = s.probeVectorCapability(ctx)
		if err != nil {
			return nil, err
		}
	}

	s.native = native
	if native {
		s.searcher = &indexSearcher{pool: pool}
	} else {
		s.searcher = &scanSearcher{pool: pool}
	}
	logger.Debug("knowledge store ready", "native_vector_index", native)

	return s, nil
}

// probeVectorCapability checks whether the pgvector extension is installed.
func (s *Store) probeVectorCapability(ctx context.Context) (bool, error) {
	var installed bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`,
	).Scan(&installed)
	if err != nil {
		return false, fmt.Errorf("%w: probing vector capability: %w", ErrStoreUnavailable, err)
	}
	return installed, nil
}

// NativeVectorIndex reports which strategy the capability probe selected.
func (s *Store) NativeVectorIndex() bool {
	return s.native
}

// SearchVectors finds the k nearest nodes of the given kind to the query
// vector, optionally scoped to a topic (empty topicID = unscoped).
func (s *Store) SearchVectors(ctx context.Context, kind Kind, topicID string, query []float32, k int) ([]Hit, error) {
	return s.searcher.search(ctx, kind, topicID, query, k)
}

// EnsureStudent creates the student node if it does not exist yet.
func (s *Store) EnsureStudent(ctx context.Context, legajo string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO students (legajo) VALUES ($1) ON CONFLICT (legajo) DO NOTHING`, legajo)
	if err != nil {
		return fmt.Errorf("%w: ensuring student %q: %w", ErrStoreUnavailable, legajo, err)
	}
	return nil
}

// TopicByID fetches a topic node. Returns ErrNotFound when absent.
func (s *Store) TopicByID(ctx context.Context, id string) (*Topic, error) {
	t := &Topic{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, embedding FROM topics WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Embedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("topic %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching topic %q: %w", ErrStoreUnavailable, id, err)
	}
	return t, nil
}

// TopicsAll lists every topic by name, without embeddings.
func (s *Store) TopicsAll(ctx context.Context) ([]Topic, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing topics: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("%w: scanning topic: %w", ErrStoreUnavailable, err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading topics: %w", ErrStoreUnavailable, err)
	}
	return topics, nil
}

// EntitiesByIDs hydrates nodes of one kind, preserving no particular order.
// Unknown ids are silently skipped.
func (s *Store) EntitiesByIDs(ctx context.Context, kind Kind, ids []string) ([]Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var sql string
	switch kind {
	case KindTopic:
		sql = `SELECT id, name, '', id, '' FROM topics WHERE id = ANY($1)`
	case KindDocument:
		sql = `SELECT id, name, content, topic_id, '' FROM documents WHERE id = ANY($1)`
	case KindSection:
		sql = `SELECT s.id, COALESCE(d.name, ''), s.content, COALESCE(d.topic_id, ''), s.document_id
			FROM sections s LEFT JOIN documents d ON d.id = s.document_id
			WHERE s.id = ANY($1)`
	case KindExercise:
		sql = `SELECT id, '', task, topic_id, '' FROM exercises WHERE id = ANY($1)`
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}

	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: hydrating %s nodes: %w", ErrStoreUnavailable, kind, err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e := Entity{Kind: kind}
		if err := rows.Scan(&e.ID, &e.Name, &e.Content, &e.TopicID, &e.ParentID); err != nil {
			return nil, fmt.Errorf("%w: scanning %s node: %w", ErrStoreUnavailable, kind, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s nodes: %w", ErrStoreUnavailable, kind, err)
	}
	return entities, nil
}

// SectionsOfDocument returns a document's sections with the parent name
// populated.
func (s *Store) SectionsOfDocument(ctx context.Context, documentID string) ([]Section, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.content, s.document_id, d.name
		FROM sections s JOIN documents d ON d.id = s.document_id
		WHERE s.document_id = $1
		ORDER BY s.id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching sections of %q: %w", ErrStoreUnavailable, documentID, err)
	}
	defer rows.Close()

	var sections []Section
	for rows.Next() {
		var sec Section
		if err := rows.Scan(&sec.ID, &sec.Content, &sec.DocumentID, &sec.DocumentName); err != nil {
			return nil, fmt.Errorf("%w: scanning section: %w", ErrStoreUnavailable, err)
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading sections: %w", ErrStoreUnavailable, err)
	}
	return sections, nil
}

// ExerciseWithTopic fetches an exercise including its reference answer and
// owning topic. Returns ErrNotFound when absent.
func (s *Store) ExerciseWithTopic(ctx context.Context, id string) (*Exercise, error) {
	e := &Exercise{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, task, answer, difficulty, topic_id FROM exercises WHERE id = $1`, id,
	).Scan(&e.ID, &e.Task, &e.Answer, &e.Difficulty, &e.TopicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("exercise %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching exercise %q: %w", ErrStoreUnavailable, id, err)
	}
	return e, nil
}

// ExercisesNearLevel returns exercises of a topic whose difficulty falls
// within ±window of the student's level, closest first.
func (s *Store) ExercisesNearLevel(ctx context.Context, topicID string, level, window float64, limit int) ([]Exercise, error) {
	minDiff := max(0, level-window)
	maxDiff := min(1, level+window)

	return s.queryExercises(ctx,
		`SELECT id, task, answer, difficulty, topic_id FROM exercises
		WHERE topic_id = $1 AND difficulty BETWEEN $2 AND $3
		ORDER BY abs(difficulty - $4) ASC, id ASC
		LIMIT $5`,
		topicID, minDiff, maxDiff, level, limit)
}

// ExercisesAboveLevel returns exercises strictly harder than the student's
// level, easiest first. Fallback when the near-level window is empty.
func (s *Store) ExercisesAboveLevel(ctx context.Context, topicID string, level float64, limit int) ([]Exercise, error) {
	return s.queryExercises(ctx,
		`SELECT id, task, answer, difficulty, topic_id FROM exercises
		WHERE topic_id = $1 AND difficulty > $2
		ORDER BY difficulty ASC, id ASC
		LIMIT $3`,
		topicID, level, limit)
}

func (s *Store) queryExercises(ctx context.Context, sql string, args ...any) ([]Exercise, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying exercises: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var exercises []Exercise
	for rows.Next() {
		var e Exercise
		if err := rows.Scan(&e.ID, &e.Task, &e.Answer, &e.Difficulty, &e.TopicID); err != nil {
			return nil, fmt.Errorf("%w: scanning exercise: %w", ErrStoreUnavailable, err)
		}
		exercises = append(exercises, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading exercises: %w", ErrStoreUnavailable, err)
	}
	return exercises, nil
}

// RecordAnswer persists a graded answer atomically: the answer node, the
// study-session node (merged by id) and the consulted-topic edge. Returns
// the generated answer id.
func (s *Store) RecordAnswer(ctx context.Context, p RecordAnswerParams) (uuid.UUID, error) {
	answerID := uuid.New()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: beginning transaction: %w", ErrStoreUnavailable, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO students (legajo) VALUES ($1) ON CONFLICT (legajo) DO NOTHING`,
		p.Legajo); err != nil {
		return uuid.Nil, fmt.Errorf("%w: merging student: %w", ErrStoreUnavailable, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO study_sessions (id, legajo, started_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO NOTHING`,
		p.SessionID, p.Legajo); err != nil {
		return uuid.Nil, fmt.Errorf("%w: merging study session: %w", ErrStoreUnavailable, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO session_topics (session_id, topic_id) VALUES ($1, $2)
		ON CONFLICT (session_id, topic_id) DO NOTHING`,
		p.SessionID, p.TopicID); err != nil {
		return uuid.Nil, fmt.Errorf("%w: linking consulted topic: %w", ErrStoreUnavailable, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO answers (id, exercise_id, session_id, content, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		answerID, p.ExerciseID, p.SessionID, p.Content, p.Confidence); err != nil {
		return uuid.Nil, fmt.Errorf("%w: creating answer: %w", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("%w: committing answer: %w", ErrStoreUnavailable, err)
	}

	s.logger.Debug("recorded answer",
		"answer_id", answerID, "exercise_id", p.ExerciseID, "legajo", p.Legajo)
	return answerID, nil
}

// KnowledgeLevel reads the KNOWS edge level for a (student, topic) pair.
// The boolean reports whether the edge exists; absent edges read as 0.
func (s *Store) KnowledgeLevel(ctx context.Context, legajo, topicID string) (float64, bool, error) {
	var level float64
	err := s.pool.QueryRow(ctx,
		`SELECT level FROM knows WHERE legajo = $1 AND topic_id = $2`,
		legajo, topicID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: reading knowledge level: %w", ErrStoreUnavailable, err)
	}
	return level, true, nil
}

// UpsertKnowledgeLevel writes the KNOWS edge level for a (student, topic)
// pair, clamped to [0,1]. Creates the edge on first encounter. Last write
// wins under concurrency; the level is an approximate proficiency signal.
func (s *Store) UpsertKnowledgeLevel(ctx context.Context, legajo, topicID string, level float64) error {
	level = clamp01(level)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knows (legajo, topic_id, level) VALUES ($1, $2, $3)
		ON CONFLICT (legajo, topic_id) DO UPDATE SET level = EXCLUDED.level`,
		legajo, topicID, level)
	if err != nil {
		return fmt.Errorf("%w: upserting knowledge level: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// KnowledgeReport lists a student's KNOWS edges ordered by descending level.
// A non-empty term restricts to the topic whose id matches exactly or whose
// name matches case-insensitively.
func (s *Store) KnowledgeReport(ctx context.Context, legajo, term string) ([]KnowledgeRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.name, k.level
		FROM knows k JOIN topics t ON t.id = k.topic_id
		WHERE k.legajo = $1 AND ($2 = '' OR t.id = $2 OR lower(t.name) = lower($2))
		ORDER BY k.level DESC, t.id ASC`,
		legajo, term)
	if err != nil {
		return nil, fmt.Errorf("%w: querying knowledge report: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var report []KnowledgeRow
	for rows.Next() {
		var r KnowledgeRow
		if err := rows.Scan(&r.TopicID, &r.TopicName, &r.Level); err != nil {
			return nil, fmt.Errorf("%w: scanning knowledge row: %w", ErrStoreUnavailable, err)
		}
		report = append(report, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading knowledge report: %w", ErrStoreUnavailable, err)
	}
	return report, nil
}

// TopicActivity aggregates a student's sessions, answers, average confidence,
// correctness rate (at the given threshold) and last activity per topic.
func (s *Store) TopicActivity(ctx context.Context, legajo, term string, passThreshold float64) ([]ActivityRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.name,
			COUNT(DISTINCT ss.id),
			COUNT(a.id),
			COALESCE(AVG(a.confidence), 0),
			COALESCE(AVG(CASE WHEN a.confidence >= $3 THEN 1.0 ELSE 0.0 END), 0),
			COALESCE(MAX(ss.started_at), now())
		FROM study_sessions ss
		JOIN session_topics st ON st.session_id = ss.id
		JOIN topics t ON t.id = st.topic_id
		LEFT JOIN answers a ON a.session_id = ss.id
			AND a.exercise_id IN (SELECT id FROM exercises WHERE topic_id = t.id)
		WHERE ss.legajo = $1 AND ($2 = '' OR t.id = $2 OR lower(t.name) = lower($2))
		GROUP BY t.id, t.name
		ORDER BY COUNT(DISTINCT ss.id) DESC, COUNT(a.id) DESC, t.id ASC`,
		legajo, term, passThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: querying topic activity: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var activity []ActivityRow
	for rows.Next() {
		var r ActivityRow
		if err := rows.Scan(&r.TopicID, &r.TopicName, &r.Sessions, &r.Answers,
			&r.AvgConfidence, &r.CorrectnessRate, &r.LastActivity); err != nil {
			return nil, fmt.Errorf("%w: scanning activity row: %w", ErrStoreUnavailable, err)
		}
		activity = append(activity, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading topic activity: %w", ErrStoreUnavailable, err)
	}
	return activity, nil
}

// AttachVector stores an embedding on an existing node. Loaders call this
// after vectorizing content; the core never rewrites other node fields.
func (s *Store) AttachVector(ctx context.Context, kind Kind, id string, embedding []float32) error {
	var sql string
	switch kind {
	case KindTopic:
		sql = `UPDATE topics SET embedding = $2 WHERE id = $1`
	case KindDocument:
		sql = `UPDATE documents SET embedding = $2 WHERE id = $1`
	case KindSection:
		sql = `UPDATE sections SET embedding = $2 WHERE id = $1`
	case KindExercise:
		sql = `UPDATE exercises SET embedding = $2 WHERE id = $1`
	default:
		return fmt.Errorf("unsupported kind %q", kind)
	}

	tag, err := s.pool.Exec(ctx, sql, id, embedding)
	if err != nil {
		return fmt.Errorf("%w: attaching vector to %s %q: %w", ErrStoreUnavailable, kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}

// SessionIDFor derives the study-session id for a student on a given day.
// One session per student per day, merged on write.
func SessionIDFor(legajo string, day time.Time) string {
	return day.Format("2006-01-02") + "-" + legajo
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
