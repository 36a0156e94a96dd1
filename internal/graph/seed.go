package graph

import (
	"context"
	"fmt"
)

// Upsert helpers used by loading tools and test fixtures. The core treats
// these nodes as read-only except for vector attachment; only loaders and
// seeds write through here.

// UpsertTopic merges a topic node by id.
func (s *Store) UpsertTopic(ctx context.Context, t Topic) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO topics (id, name, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
			embedding = COALESCE(EXCLUDED.embedding, topics.embedding)`,
		t.ID, t.Name, t.Embedding)
	if err != nil {
		return fmt.Errorf("%w: upserting topic %q: %w", ErrStoreUnavailable, t.ID, err)
	}
	return nil
}

// UpsertDocument merges a document node by id.
func (s *Store) UpsertDocument(ctx context.Context, d Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, name, content, topic_id, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
			content = EXCLUDED.content, topic_id = EXCLUDED.topic_id,
			embedding = COALESCE(EXCLUDED.embedding, documents.embedding)`,
		d.ID, d.Name, d.Content, d.TopicID, d.Embedding)
	if err != nil {
		return fmt.Errorf("%w: upserting document %q: %w", ErrStoreUnavailable, d.ID, err)
	}
	return nil
}

// UpsertSection merges a section node by id.
func (s *Store) UpsertSection(ctx context.Context, sec Section) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sections (id, content, document_id, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content,
			document_id = EXCLUDED.document_id,
			embedding = COALESCE(EXCLUDED.embedding, sections.embedding)`,
		sec.ID, sec.Content, sec.DocumentID, sec.Embedding)
	if err != nil {
		return fmt.Errorf("%w: upserting section %q: %w", ErrStoreUnavailable, sec.ID, err)
	}
	return nil
}

// UpsertExercise merges an exercise node by id.
func (s *Store) UpsertExercise(ctx context.Context, e Exercise) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exercises (id, task, answer, difficulty, topic_id, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET task = EXCLUDED.task,
			answer = EXCLUDED.answer, difficulty = EXCLUDED.difficulty,
			topic_id = EXCLUDED.topic_id,
			embedding = COALESCE(EXCLUDED.embedding, exercises.embedding)`,
		e.ID, e.Task, e.Answer, e.Difficulty, e.TopicID, e.Embedding)
	if err != nil {
		return fmt.Errorf("%w: upserting exercise %q: %w", ErrStoreUnavailable, e.ID, err)
	}
	return nil
}
