// Package summary implements the generate-validate-regenerate pipeline
// for topic summaries: draft from retrieved material only, check the
// draft against that material, and regenerate at most once.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aula-ai/aula/internal/llm"
	"github.com/aula-ai/aula/internal/rag"
)

// Gatherer is the slice of the retrieval engine the pipeline depends on.
type Gatherer interface {
	GatherSources(ctx context.Context, query, topicHint string, maxSources int) ([]rag.Source, error)
}

// Result is a finished summary. Regenerated reports whether the first
// draft failed validation and a second draft was produced.
type Result struct {
	Text        string
	Regenerated bool
}

// CautionNote is appended to a summary whose first draft failed
// validation, regardless of how the second draft fares.
const CautionNote = "Nota: este resumen fue regenerado tras una validación fallida. Verificá los detalles contra el material original."

// NoMaterialMessage is returned when retrieval finds nothing to
// summarize for the requested topic.
const NoMaterialMessage = "No encontré material para resumir sobre ese tema."

const draftPrompt = `Escribí un resumen de estudio en español sobre el tema consultado.
Usá SOLO la información del siguiente material. No agregues datos externos.

Material:
%s

Consulta del estudiante: %s`

const regeneratePrompt = `Tu resumen anterior contenía afirmaciones no respaldadas por el material.
Observaciones del validador: %s

Reescribí el resumen usando SOLO la información del siguiente material y
eliminá toda afirmación que no esté respaldada.

Material:
%s

Consulta del estudiante: %s`

const validatePrompt = `Sos un validador. Verificá si cada afirmación del resumen está
respaldada por el material.

Material:
%s

Resumen:
%s

Respondé SOLO con un objeto JSON:
{"valid": <true o false>, "feedback": "<observaciones en español>"}`

type validation struct {
	Valid    bool   `json:"valid"`
	Feedback string `json:"feedback"`
}

// Pipeline drafts and validates topic summaries.
type Pipeline struct {
	engine     Gatherer
	client     *llm.Client
	maxSources int
	logger     *slog.Logger
}

// New creates a summary pipeline. maxSources caps the retrieved material
// fed to the draft; values below 1 default to 5.
func New(engine Gatherer, client *llm.Client, maxSources int, logger *slog.Logger) *Pipeline {
	if maxSources < 1 {
		maxSources = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{engine: engine, client: client, maxSources: maxSources, logger: logger}
}

// SummarizeTopic produces a validated summary for a topic id or free-text
// hint. At most one regeneration is performed; the pipeline never loops
// until validation passes.
func (p *Pipeline) SummarizeTopic(ctx context.Context, hint string) (*Result, error) {
	sources, err := p.engine.GatherSources(ctx, hint, hint, p.maxSources)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return &Result{Text: NoMaterialMessage}, nil
	}

	material := renderSources(sources)

	draft, err := p.client.Generate(ctx, fmt.Sprintf(draftPrompt, material, hint))
	if err != nil {
		return nil, err
	}

	valid, feedback := p.validate(ctx, material, draft)
	if valid {
		return &Result{Text: withSourceLines(draft, sources)}, nil
	}

	p.logger.Debug("summary draft failed validation, regenerating", "hint", hint, "feedback", feedback)
	second, err := p.client.Generate(ctx, fmt.Sprintf(regeneratePrompt, feedback, material, hint))
	if err != nil {
		return nil, err
	}

	text := withSourceLines(second, sources) + "\n\n" + CautionNote
	return &Result{Text: text, Regenerated: true}, nil
}

// validate asks the model whether the draft is supported by the material.
// An unreachable validator or an unparseable verdict counts as valid:
// the draft is served rather than blocked on a broken check.
func (p *Pipeline) validate(ctx context.Context, material, draft string) (bool, string) {
	text, err := p.client.Generate(ctx, fmt.Sprintf(validatePrompt, material, draft))
	if err != nil {
		p.logger.Warn("summary validation unavailable, assuming valid", "error", err)
		return true, ""
	}

	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return true, ""
	}
	var v validation
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return true, ""
	}
	return v.Valid, strings.TrimSpace(v.Feedback)
}

func renderSources(sources []rag.Source) string {
	var sb strings.Builder
	for i, s := range sources {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s] %s\n%s", s.Kind, s.Title, s.Content)
	}
	return sb.String()
}

// withSourceLines appends the consulted material names to the summary.
func withSourceLines(text string, sources []rag.Source) string {
	seen := make(map[string]struct{}, len(sources))
	var names []string
	for _, s := range sources {
		if _, dup := seen[s.Title]; dup {
			continue
		}
		seen[s.Title] = struct{}{}
		names = append(names, s.Title)
	}
	return strings.TrimSpace(text) + "\n\nFuente(s): " + strings.Join(names, ", ")
}
