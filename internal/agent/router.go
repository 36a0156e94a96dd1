package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aula-ai/aula/internal/llm"
)

// Decision is the router's output: the selected tool and its extracted
// input (topic name, answer text, or the utterance itself).
type Decision struct {
	Intent Intent
	Input  string
}

const routePrompt = `Sos el clasificador de un tutor educativo. Dada la conversación
reciente y el nuevo mensaje del estudiante, elegí UNA herramienta:

- "ask_concept": pregunta conceptual sobre la materia. input: la pregunta.
- "request_exercise": pide un ejercicio para practicar. input: el tema pedido.
- "query_knowledge": pregunta por su nivel de conocimiento. input: el tema, o vacío para todos.
- "summarize_activity": pide un resumen de su actividad de estudio. input: el tema, o vacío.
- "summarize_topic": pide un resumen del material de un tema. input: el tema.
- "grade_answer": está respondiendo un ejercicio planteado. input: su respuesta.

Conversación reciente:
%s

Nuevo mensaje: %s

Respondé SOLO con un objeto JSON: {"tool": "<herramienta>", "input": "<input>"}`

const strictRoutePrompt = `Clasificá el mensaje de un estudiante en una de estas herramientas:
ask_concept, request_exercise, query_knowledge, summarize_activity,
summarize_topic, grade_answer.

Mensaje: %s

Respondé ÚNICAMENTE con JSON válido, sin texto adicional:
{"tool": "<herramienta>", "input": "<input>"}`

// commandMarkers are utterance fragments that signal an explicit request
// rather than an exercise answer. A bare reply while an exercise is
// pending contains none of these.
var commandMarkers = []string{
	"ejercicio", "otro ejercicio", "practicar",
	"resumen", "resumí", "resumir",
	"nivel", "actividad", "progreso",
	"qué es", "que es", "qué significa", "que significa",
	"cómo", "como funciona", "explicá", "explica",
	"dame", "quiero", "mostrá", "mostrame",
	"?", "¿",
}

type toolCall struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

// Router classifies utterances into intents. It reads session state but
// never mutates graph state.
type Router struct {
	client *llm.Client
	logger *slog.Logger
}

// NewRouter creates a router backed by the generation client.
func NewRouter(client *llm.Client, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{client: client, logger: logger}
}

// Route classifies an utterance given the session's recent turns.
//
// Pre-check: when the previous turn posed an exercise and the utterance
// is not an explicit command, the reply is treated as an attempted answer
// without consulting the model. Everything else is delegated; malformed
// model output gets one stricter re-ask before degrading to Unknown.
func (r *Router) Route(ctx context.Context, s *Session, utterance string) (Decision, error) {
	if last, ok := s.LastTool(); ok && last == IntentRequestExercise &&
		s.Pending() != nil && !isCommand(utterance) {
		return Decision{Intent: IntentGradeAnswer, Input: utterance}, nil
	}

	dec, parseErr := r.ask(ctx, fmt.Sprintf(routePrompt, renderTurns(s.Snapshot()), utterance), utterance)
	if parseErr == nil {
		return dec, nil
	}
	if !errors.Is(parseErr, llm.ErrNoJSON) {
		return Decision{}, parseErr
	}

	r.logger.Debug("router output unparseable, re-asking", "error", parseErr)
	dec, parseErr = r.ask(ctx, fmt.Sprintf(strictRoutePrompt, utterance), utterance)
	if parseErr == nil {
		return dec, nil
	}
	if !errors.Is(parseErr, llm.ErrNoJSON) {
		return Decision{}, parseErr
	}

	r.logger.Warn("router failed twice, degrading to unknown", "error", parseErr)
	return Decision{Intent: IntentUnknown, Input: utterance}, nil
}

func (r *Router) ask(ctx context.Context, prompt, utterance string) (Decision, error) {
	text, err := r.client.Generate(ctx, prompt)
	if err != nil {
		return Decision{}, err
	}

	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %s", llm.ErrNoJSON, strings.TrimSpace(text))
	}
	var call toolCall
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		return Decision{}, fmt.Errorf("%w: %s", llm.ErrNoJSON, raw)
	}

	intent, _ := ParseIntent(strings.TrimSpace(strings.ToLower(call.Tool)))
	input := strings.TrimSpace(call.Input)
	if input == "" && (intent == IntentAskConcept || intent == IntentGradeAnswer || intent == IntentUnknown) {
		input = utterance
	}
	return Decision{Intent: intent, Input: input}, nil
}

func isCommand(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, marker := range commandMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func renderTurns(turns []Turn) string {
	if len(turns) == 0 {
		return "(sin conversación previa)"
	}
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Estudiante: %s\nTutor [%s]: %s", t.Prompt, t.Tool, t.Response)
	}
	return sb.String()
}
