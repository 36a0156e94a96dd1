package rag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/aula-ai/aula/internal/graph"
	"github.com/aula-ai/aula/internal/log"
	"github.com/aula-ai/aula/internal/rag"
	"github.com/aula-ai/aula/internal/testutil"
)

// seedFixture loads three topics with one document each. Vectors are
// chosen so "cpu query" is closest to the CPU material.
func seedFixture(store *testutil.FakeGraph, emb *testutil.MockEmbedder) {
	emb.SetVector("cpu query", []float32{1, 0, 0})
	emb.SetVector("algorithms query", []float32{0, 1, 0})

	store.AddTopic(graph.Topic{ID: "cpu", Name: "Procesadores", Embedding: []float32{0.9, 0.1, 0}})
	store.AddTopic(graph.Topic{ID: "alg", Name: "Algoritmos", Embedding: []float32{0.1, 0.9, 0}})
	store.AddTopic(graph.Topic{ID: "db", Name: "Bases de Datos", Embedding: []float32{0, 0.1, 0.9}})

	store.AddDocument(graph.Document{
		ID: "doc_cpu_intro", Name: "Introducción a la CPU",
		Content: "La CPU ejecuta instrucciones.", TopicID: "cpu",
		Embedding: []float32{0.95, 0.05, 0},
	})
	store.AddDocument(graph.Document{
		ID: "doc_alg_intro", Name: "Introducción a Algoritmos",
		Content: "Un algoritmo es una secuencia de pasos.", TopicID: "alg",
		Embedding: []float32{0.05, 0.95, 0},
	})
	store.AddDocument(graph.Document{
		ID: "doc_db_intro", Name: "Introducción a Bases de Datos",
		Content: "Una base de datos almacena información.", TopicID: "db",
		Embedding: []float32{0, 0.05, 0.95},
	})
}

func newEngine(t *testing.T) (*rag.Engine, *testutil.FakeGraph, *testutil.MockEmbedder) {
	t.Helper()
	ctx := context.Background()
	g := genkit.Init(ctx)

	emb := testutil.NewMockEmbedder(3)
	store := testutil.NewFakeGraph()
	engine, err := rag.New(store, emb.RegisterEmbedder(g), log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return engine, store, emb
}

func TestEngineRetrieve(t *testing.T) {
	t.Parallel()
	engine, store, emb := newEngine(t)
	seedFixture(store, emb)

	results, err := engine.Retrieve(context.Background(), "cpu query", rag.WithTopK(2))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Entity.ID != "doc_cpu_intro" {
		t.Errorf("top result = %q, want doc_cpu_intro", results[0].Entity.ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not ordered by score: %v before %v", results[i-1], results[i])
		}
	}
}

func TestEngineRetrieveTopicScope(t *testing.T) {
	t.Parallel()
	engine, store, emb := newEngine(t)
	seedFixture(store, emb)

	// Scoped to alg, the cpu document must not appear even for a cpu query.
	results, err := engine.Retrieve(context.Background(), "cpu query",
		rag.WithTopK(5), rag.WithTopicScope("alg"))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	for _, r := range results {
		if r.Entity.TopicID != "alg" {
			t.Errorf("result %q has topic %q, want alg", r.Entity.ID, r.Entity.TopicID)
		}
	}
}

func TestEngineRetrieveUnresolvedTopic(t *testing.T) {
	t.Parallel()
	engine, _, _ := newEngine(t)

	// Empty graph: the hint resolves to nothing and retrieval degrades to
	// an empty result without error.
	results, err := engine.Retrieve(context.Background(), "anything",
		rag.WithTopicScope("tema inexistente"))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestEngineRetrieveEmbeddingFailure(t *testing.T) {
	t.Parallel()
	engine, store, emb := newEngine(t)
	seedFixture(store, emb)
	emb.FailWith(errors.New("connection refused"))

	_, err := engine.Retrieve(context.Background(), "cpu query")
	if !errors.Is(err, rag.ErrEmbeddingUnavailable) {
		t.Fatalf("Retrieve() error = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestEngineResolveTopic(t *testing.T) {
	t.Parallel()
	engine, store, emb := newEngine(t)
	seedFixture(store, emb)

	tests := []struct {
		name   string
		hint   string
		wantID string
		wantOK bool
	}{
		{name: "exact id", hint: "cpu", wantID: "cpu", wantOK: true},
		{name: "free text nearest", hint: "algorithms query", wantID: "alg", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok, err := engine.ResolveTopic(context.Background(), tt.hint)
			if err != nil {
				t.Fatalf("ResolveTopic(%q) error = %v", tt.hint, err)
			}
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("ResolveTopic(%q) = (%q, %v), want (%q, %v)", tt.hint, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestEngineGatherSourcesDeduplicatesParents(t *testing.T) {
	t.Parallel()
	engine, store, emb := newEngine(t)
	seedFixture(store, emb)

	// A section of the cpu document that also matches the query: the
	// section must win and the parent document must be dropped.
	store.AddSection(graph.Section{
		ID: "sec_cpu_1", Content: "El ciclo de instrucción tiene etapas.",
		DocumentID: "doc_cpu_intro", Embedding: []float32{0.97, 0.03, 0},
	})

	sources, err := engine.GatherSources(context.Background(), "cpu query", "", 5)
	if err != nil {
		t.Fatalf("GatherSources() error = %v", err)
	}
	if len(sources) == 0 {
		t.Fatal("got no sources")
	}
	for _, s := range sources {
		if s.ID == "doc_cpu_intro" {
			t.Error("parent document doc_cpu_intro not dropped despite matched section")
		}
	}
	found := false
	for _, s := range sources {
		if s.ID == "sec_cpu_1" {
			found = true
			if s.Title == "" {
				t.Error("section source has empty title")
			}
		}
	}
	if !found {
		t.Error("matched section sec_cpu_1 missing from sources")
	}
}

func TestEngineGatherSourcesCap(t *testing.T) {
	t.Parallel()
	engine, store, emb := newEngine(t)
	seedFixture(store, emb)

	sources, err := engine.GatherSources(context.Background(), "cpu query", "", 2)
	if err != nil {
		t.Fatalf("GatherSources() error = %v", err)
	}
	if len(sources) > 2 {
		t.Errorf("got %d sources, want at most 2", len(sources))
	}
}
