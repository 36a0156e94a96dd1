// Package agent ties the tutor together: it routes each utterance to a
// tool, runs the tool against the knowledge graph and the models, and
// maintains the per-student session state.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aula-ai/aula/internal/grading"
	"github.com/aula-ai/aula/internal/graph"
	"github.com/aula-ai/aula/internal/llm"
	"github.com/aula-ai/aula/internal/rag"
	"github.com/aula-ai/aula/internal/summary"
)

// Store is the slice of the graph store the agent depends on.
type Store interface {
	EnsureStudent(ctx context.Context, legajo string) error
	KnowledgeLevel(ctx context.Context, legajo, topicID string) (float64, bool, error)
	KnowledgeReport(ctx context.Context, legajo, term string) ([]graph.KnowledgeRow, error)
	TopicActivity(ctx context.Context, legajo, term string, passThreshold float64) ([]graph.ActivityRow, error)
	ExercisesNearLevel(ctx context.Context, topicID string, level, window float64, limit int) ([]graph.Exercise, error)
	ExercisesAboveLevel(ctx context.Context, topicID string, level float64, limit int) ([]graph.Exercise, error)
}

// Retriever is the slice of the retrieval engine the agent depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts ...rag.SearchOption) ([]rag.Result, error)
	ResolveTopic(ctx context.Context, hint string) (string, bool, error)
}

// Grader grades a student's answer to an exercise.
type Grader interface {
	Grade(ctx context.Context, legajo, exerciseID, answerText string) (*grading.Result, error)
}

// Summarizer produces a validated topic summary.
type Summarizer interface {
	SummarizeTopic(ctx context.Context, hint string) (*summary.Result, error)
}

// Options are the tunable tutoring parameters.
type Options struct {
	// PassThreshold is the confidence at or above which an answer is
	// reported as correct.
	PassThreshold float64
	// RecommendWindow is the difficulty half-window around the student's
	// level when picking an exercise.
	RecommendWindow float64
}

const answerPrompt = `Sos un tutor educativo. Respondé la pregunta del estudiante en
español usando SOLO la información del siguiente material.
Si el material no alcanza para responder, decilo.

Material:
%s

Pregunta: %s`

type handler func(ctx context.Context, s *Session, input string) (string, error)

// Agent is the conversational tutor.
type Agent struct {
	sessions   *Sessions
	router     *Router
	store      Store
	retriever  Retriever
	grader     Grader
	summarizer Summarizer
	client     *llm.Client
	opts       Options
	logger     *slog.Logger

	handlers map[Intent]handler
}

// New wires the agent. Each intent of the closed set maps to exactly one
// handler; routing output is validated before dispatch.
func New(store Store, retriever Retriever, grader Grader, summarizer Summarizer, client *llm.Client, opts Options, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		sessions:   NewSessions(),
		router:     NewRouter(client, logger),
		store:      store,
		retriever:  retriever,
		grader:     grader,
		summarizer: summarizer,
		client:     client,
		opts:       opts,
		logger:     logger,
	}
	a.handlers = map[Intent]handler{
		IntentAskConcept:        a.askConcept,
		IntentRequestExercise:   a.requestExercise,
		IntentQueryKnowledge:    a.queryKnowledge,
		IntentSummarizeActivity: a.summarizeActivity,
		IntentSummarizeTopic:    a.summarizeTopic,
		IntentGradeAnswer:       a.gradeAnswer,
		IntentUnknown:           a.unknown,
	}
	return a
}

// Respond handles one student turn end to end: ensure the student
// exists, route, dispatch, and record the completed turn in the session.
func (a *Agent) Respond(ctx context.Context, legajo, utterance string) (string, error) {
	if err := a.store.EnsureStudent(ctx, legajo); err != nil {
		return "", fmt.Errorf("ensuring student %s: %w", legajo, err)
	}
	s := a.sessions.Get(legajo)

	dec, err := a.router.Route(ctx, s, utterance)
	if err != nil {
		return "", err
	}
	a.logger.Debug("routed utterance", "legajo", legajo, "intent", dec.Intent)

	h, ok := a.handlers[dec.Intent]
	if !ok {
		h = a.unknown
	}
	reply, err := h(ctx, s, dec.Input)
	if err != nil {
		return "", err
	}

	s.Append(utterance, reply, dec.Intent)
	return reply, nil
}

// Session exposes the per-student session, creating it on first use.
func (a *Agent) Session(legajo string) *Session {
	return a.sessions.Get(legajo)
}

func (a *Agent) askConcept(ctx context.Context, _ *Session, input string) (string, error) {
	results, err := a.retriever.Retrieve(ctx, input)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No encontré material relevante para tu consulta.", nil
	}

	var material strings.Builder
	for i, r := range results {
		if i > 0 {
			material.WriteString("\n\n")
		}
		material.WriteString(r.Entity.Content)
	}

	text, err := a.client.Generate(ctx, fmt.Sprintf(answerPrompt, material.String(), input))
	if err != nil {
		return "", err
	}
	return withSources(text, results), nil
}

func (a *Agent) requestExercise(ctx context.Context, s *Session, input string) (string, error) {
	topicID, ok, err := a.retriever.ResolveTopic(ctx, input)
	if err != nil {
		return "", err
	}
	if !ok {
		return "No encontré un tema que coincida con tu pedido.", nil
	}

	level, _, err := a.store.KnowledgeLevel(ctx, s.Legajo, topicID)
	if err != nil {
		return "", err
	}

	exs, err := a.store.ExercisesNearLevel(ctx, topicID, level, a.opts.RecommendWindow, 1)
	if err != nil {
		return "", err
	}
	if len(exs) == 0 {
		exs, err = a.store.ExercisesAboveLevel(ctx, topicID, level, 1)
		if err != nil {
			return "", err
		}
	}
	if len(exs) == 0 {
		return "No hay ejercicios disponibles para ese tema.", nil
	}

	ex := exs[0]
	s.SetPending(&PendingExercise{ExerciseID: ex.ID, TopicID: ex.TopicID, Task: ex.Task})
	return "Ejercicio: " + ex.Task + "\n\nEscribí tu respuesta y la corrijo.", nil
}

func (a *Agent) queryKnowledge(ctx context.Context, s *Session, input string) (string, error) {
	rows, err := a.store.KnowledgeReport(ctx, s.Legajo, input)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "Todavía no hay registro de tu nivel. Resolvé algunos ejercicios primero.", nil
	}

	var sb strings.Builder
	sb.WriteString("Tu nivel de conocimiento:\n")
	for _, row := range rows {
		fmt.Fprintf(&sb, "- %s: %.2f\n", row.TopicName, row.Level)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Agent) summarizeActivity(ctx context.Context, s *Session, input string) (string, error) {
	rows, err := a.store.TopicActivity(ctx, s.Legajo, input, a.opts.PassThreshold)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "Todavía no hay actividad registrada.", nil
	}

	var sb strings.Builder
	sb.WriteString("Tu actividad de estudio:\n")
	for _, row := range rows {
		fmt.Fprintf(&sb, "- %s: %d sesión(es), %d respuesta(s), %.0f%% correctas (última: %s)\n",
			row.TopicName, row.Sessions, row.Answers, row.CorrectnessRate*100,
			row.LastActivity.Format("2006-01-02"))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Agent) summarizeTopic(ctx context.Context, _ *Session, input string) (string, error) {
	res, err := a.summarizer.SummarizeTopic(ctx, input)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (a *Agent) gradeAnswer(ctx context.Context, s *Session, input string) (string, error) {
	pending := s.Pending()
	if pending == nil {
		return "No hay un ejercicio pendiente. Pedime uno con \"dame un ejercicio sobre...\".", nil
	}

	res, err := a.grader.Grade(ctx, s.Legajo, pending.ExerciseID, input)
	if err != nil {
		return "", err
	}
	s.ClearPending()

	verdict := "Incorrecta"
	if res.Correct {
		verdict = "Correcta"
	}
	reply := fmt.Sprintf("%s (confianza %.2f).", verdict, res.Confidence)
	if res.Rationale != "" {
		reply += " " + res.Rationale
	}
	return reply, nil
}

func (a *Agent) unknown(context.Context, *Session, string) (string, error) {
	return "No entendí tu consulta. ¿Podés reformularla?", nil
}

// withSources appends the consulted material names, deduplicated in
// retrieval order.
func withSources(text string, results []rag.Result) string {
	seen := make(map[string]struct{}, len(results))
	var names []string
	for _, r := range results {
		name := r.Entity.Name
		if name == "" {
			name = r.Entity.ID
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		return text
	}
	return strings.TrimSpace(text) + "\n\nFuente(s): " + strings.Join(names, ", ")
}
