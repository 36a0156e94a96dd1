// Package grading judges a student's free-text answer against an
// exercise's reference answer and updates the student's per-topic
// knowledge level in the background.
package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aula-ai/aula/internal/graph"
	"github.com/aula-ai/aula/internal/llm"
)

// Store is the slice of the graph store the grader depends on.
type Store interface {
	ExerciseWithTopic(ctx context.Context, id string) (*graph.Exercise, error)
	RecordAnswer(ctx context.Context, p graph.RecordAnswerParams) (uuid.UUID, error)
	KnowledgeLevel(ctx context.Context, legajo, topicID string) (float64, bool, error)
	UpsertKnowledgeLevel(ctx context.Context, legajo, topicID string, level float64) error
}

// Result is the synchronous outcome of grading one answer. The knowledge
// level update happens afterwards in the background.
type Result struct {
	Confidence float64
	Rationale  string
	Correct    bool
}

type verdict struct {
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

const judgePrompt = `Sos un docente corrigiendo la respuesta de un estudiante.

Ejercicio:
%s

Respuesta de referencia:
%s

Respuesta del estudiante:
%s

Evaluá si la respuesta del estudiante es semánticamente equivalente a la
de referencia. Respondé SOLO con un objeto JSON:
{"confidence": <número entre 0 y 1>, "rationale": "<explicación breve en español>"}`

// Grader grades answers and dispatches knowledge-level updates. Updates
// run detached from the grading call: a failed update is logged and
// dropped, never retried and never surfaced to the student.
type Grader struct {
	store  Store
	client *llm.Client
	policy LevelPolicy
	logger *slog.Logger

	// bg outlives individual request contexts so in-flight level updates
	// are not cancelled when the triggering request returns.
	bg context.Context
	wg sync.WaitGroup
}

// New creates a grader. bg bounds the lifetime of background updates;
// pass the application context so Close can drain them on shutdown.
func New(bg context.Context, store Store, client *llm.Client, policy LevelPolicy, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{store: store, client: client, policy: policy, logger: logger, bg: bg}
}

// Grade judges answerText against the exercise's reference answer,
// records the Answer, and dispatches the knowledge-level update. The
// Answer is persisted before the update is spawned, so the update always
// observes it.
func (g *Grader) Grade(ctx context.Context, legajo, exerciseID, answerText string) (*Result, error) {
	ex, err := g.store.ExerciseWithTopic(ctx, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("loading exercise %s: %w", exerciseID, err)
	}

	res, err := g.judge(ctx, ex, answerText)
	if err != nil {
		return nil, err
	}

	sessionID := graph.SessionIDFor(legajo, time.Now())
	answerID, err := g.store.RecordAnswer(ctx, graph.RecordAnswerParams{
		Legajo:     legajo,
		ExerciseID: ex.ID,
		TopicID:    ex.TopicID,
		SessionID:  sessionID,
		Content:    answerText,
		Confidence: res.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("recording answer: %w", err)
	}

	g.wg.Add(1)
	go g.updateLevel(legajo, ex.TopicID, ex.Difficulty, res.Confidence, answerID)

	return res, nil
}

// judge asks the model for an equivalence verdict and clamps the score.
func (g *Grader) judge(ctx context.Context, ex *graph.Exercise, answerText string) (*Result, error) {
	text, err := g.client.Generate(ctx, fmt.Sprintf(judgePrompt, ex.Task, ex.Answer, answerText))
	if err != nil {
		return nil, err
	}

	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("grading verdict: %w", err)
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("grading verdict: %w: %s", llm.ErrNoJSON, strings.TrimSpace(text))
	}

	conf := min(1, max(0, v.Confidence))
	return &Result{
		Confidence: conf,
		Rationale:  strings.TrimSpace(v.Rationale),
		Correct:    conf >= g.policy.PassThreshold,
	}, nil
}

// updateLevel applies the level policy for one graded answer. At-most-once:
// errors are logged and the update is dropped.
func (g *Grader) updateLevel(legajo, topicID string, difficulty, confidence float64, answerID uuid.UUID) {
	defer g.wg.Done()

	current, _, err := g.store.KnowledgeLevel(g.bg, legajo, topicID)
	if err != nil {
		g.logger.Error("knowledge level read failed, update dropped",
			"legajo", legajo, "topic_id", topicID, "answer_id", answerID, "error", err)
		return
	}

	next := g.policy.NextLevel(current, confidence, difficulty)
	if err := g.store.UpsertKnowledgeLevel(g.bg, legajo, topicID, next); err != nil {
		g.logger.Error("knowledge level write failed, update dropped",
			"legajo", legajo, "topic_id", topicID, "answer_id", answerID, "error", err)
		return
	}

	g.logger.Debug("knowledge level updated",
		"legajo", legajo, "topic_id", topicID, "level", next, "confidence", confidence)
}

// Wait blocks until all dispatched level updates have finished. Intended
// for shutdown and tests.
func (g *Grader) Wait() {
	g.wg.Wait()
}
