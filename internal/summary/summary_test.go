package summary_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/aula-ai/aula/internal/llm"
	"github.com/aula-ai/aula/internal/log"
	"github.com/aula-ai/aula/internal/rag"
	"github.com/aula-ai/aula/internal/summary"
	"github.com/aula-ai/aula/internal/testutil"
)

// fakeGatherer returns a fixed source set without touching embeddings.
type fakeGatherer struct {
	sources []rag.Source
	err     error
}

func (f *fakeGatherer) GatherSources(context.Context, string, string, int) ([]rag.Source, error) {
	return f.sources, f.err
}

func cpuSources() []rag.Source {
	return []rag.Source{
		{Kind: "document", ID: "doc_cpu_intro", Title: "Introducción a la CPU", Content: "La CPU ejecuta instrucciones.", Score: 0.9},
		{Kind: "section", ID: "sec_cpu_1", Title: "Introducción a la CPU", Content: "El ciclo de instrucción tiene etapas.", Score: 0.8},
	}
}

func newPipeline(t *testing.T, gatherer summary.Gatherer, mock *testutil.MockLLM) *summary.Pipeline {
	t.Helper()
	ctx := context.Background()
	g := genkit.Init(ctx)
	mock.RegisterModel(g)
	client := llm.NewClient(g, "mock/tutor-model")
	return summary.New(gatherer, client, 5, log.NewNop())
}

func TestSummarizePassesFirstValidation(t *testing.T) {
	t.Parallel()
	mock := testutil.NewMockLLM("Resumen: la CPU ejecuta instrucciones.")
	mock.AddResponse("sos un validador", `{"valid": true, "feedback": ""}`)
	p := newPipeline(t, &fakeGatherer{sources: cpuSources()}, mock)

	res, err := p.SummarizeTopic(context.Background(), "cpu")
	if err != nil {
		t.Fatalf("SummarizeTopic() error = %v", err)
	}
	if res.Regenerated {
		t.Error("Regenerated = true, want false when first draft passes")
	}
	if strings.Contains(res.Text, summary.CautionNote) {
		t.Error("caution note present on a first-pass summary")
	}
	if !strings.Contains(res.Text, "Fuente(s): ") {
		t.Errorf("summary missing source lines: %q", res.Text)
	}
}

func TestSummarizeRegeneratesOnceOnFailedValidation(t *testing.T) {
	t.Parallel()
	mock := testutil.NewMockLLM("borrador")
	mock.AddResponse("sos un validador", `{"valid": false, "feedback": "afirmaciones sin respaldo"}`)
	mock.AddResponse("reescribí el resumen", "Resumen corregido.")
	p := newPipeline(t, &fakeGatherer{sources: cpuSources()}, mock)

	res, err := p.SummarizeTopic(context.Background(), "cpu")
	if err != nil {
		t.Fatalf("SummarizeTopic() error = %v", err)
	}
	if !res.Regenerated {
		t.Error("Regenerated = false, want true after failed validation")
	}
	if !strings.Contains(res.Text, summary.CautionNote) {
		t.Errorf("caution note missing: %q", res.Text)
	}
	if !strings.Contains(res.Text, "Resumen corregido.") {
		t.Errorf("second draft missing from result: %q", res.Text)
	}

	// Exactly three generations: draft, validation, regeneration. The
	// second draft is not validated again.
	if got := mock.CallCount(); got != 3 {
		t.Errorf("generation calls = %d, want 3", got)
	}
}

func TestSummarizeUnparseableValidationAssumesValid(t *testing.T) {
	t.Parallel()
	mock := testutil.NewMockLLM("Resumen breve.")
	mock.AddResponse("sos un validador", "no tengo un veredicto claro")
	p := newPipeline(t, &fakeGatherer{sources: cpuSources()}, mock)

	res, err := p.SummarizeTopic(context.Background(), "cpu")
	if err != nil {
		t.Fatalf("SummarizeTopic() error = %v", err)
	}
	if res.Regenerated {
		t.Error("Regenerated = true, want false when validator output is unparseable")
	}
}

func TestSummarizeNoMaterial(t *testing.T) {
	t.Parallel()
	mock := testutil.NewMockLLM("no debería generarse nada")
	p := newPipeline(t, &fakeGatherer{}, mock)

	res, err := p.SummarizeTopic(context.Background(), "tema inexistente")
	if err != nil {
		t.Fatalf("SummarizeTopic() error = %v", err)
	}
	if res.Text != summary.NoMaterialMessage {
		t.Errorf("Text = %q, want no-material message", res.Text)
	}
	if got := mock.CallCount(); got != 0 {
		t.Errorf("generation calls = %d, want 0 without material", got)
	}
}

func TestSummarizeGenerationFailure(t *testing.T) {
	t.Parallel()
	mock := testutil.NewMockLLM("")
	mock.FailWith(errors.New("connection refused"))
	p := newPipeline(t, &fakeGatherer{sources: cpuSources()}, mock)

	_, err := p.SummarizeTopic(context.Background(), "cpu")
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("SummarizeTopic() error = %v, want llm.ErrUnavailable", err)
	}
}

func TestSummarizeRetrievalFailure(t *testing.T) {
	t.Parallel()
	mock := testutil.NewMockLLM("")
	wantErr := errors.New("store down")
	p := newPipeline(t, &fakeGatherer{err: wantErr}, mock)

	_, err := p.SummarizeTopic(context.Background(), "cpu")
	if !errors.Is(err, wantErr) {
		t.Fatalf("SummarizeTopic() error = %v, want %v", err, wantErr)
	}
}
