package agent_test

import (
	"context"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/aula-ai/aula/internal/agent"
	"github.com/aula-ai/aula/internal/grading"
	"github.com/aula-ai/aula/internal/graph"
	"github.com/aula-ai/aula/internal/llm"
	"github.com/aula-ai/aula/internal/log"
	"github.com/aula-ai/aula/internal/rag"
	"github.com/aula-ai/aula/internal/summary"
	"github.com/aula-ai/aula/internal/testutil"
)

type fixture struct {
	agent  *agent.Agent
	store  *testutil.FakeGraph
	mock   *testutil.MockLLM
	grader *grading.Grader
}

// newFixture wires the full agent against in-memory collaborators and
// seeds the cpu/alg/db graph with student 47262.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	g := genkit.Init(ctx)

	mock := testutil.NewMockLLM(`{"tool": "unknown", "input": ""}`)
	mock.RegisterModel(g)
	emb := testutil.NewMockEmbedder(3)
	store := testutil.NewFakeGraph()
	seedGraph(store, emb)

	client := llm.NewClient(g, "mock/tutor-model")
	logger := log.NewNop()

	engine, err := rag.New(store, emb.RegisterEmbedder(g), logger)
	if err != nil {
		t.Fatalf("rag.New() error = %v", err)
	}
	policy := grading.LevelPolicy{PassThreshold: 0.7, LearnRate: 0.35}
	grader := grading.New(ctx, store, client, policy, logger)
	pipeline := summary.New(engine, client, 5, logger)

	a := agent.New(store, engine, grader, pipeline, client,
		agent.Options{PassThreshold: 0.7, RecommendWindow: 0.4}, logger)
	return &fixture{agent: a, store: store, mock: mock, grader: grader}
}

func seedGraph(store *testutil.FakeGraph, emb *testutil.MockEmbedder) {
	emb.SetVector("¿Qué es una CPU?", []float32{1, 0, 0})
	emb.SetVector("cpu", []float32{0.9, 0.1, 0})
	emb.SetVector("bases de datos", []float32{0, 0.1, 0.95})

	store.AddTopic(graph.Topic{ID: "topic_cpu", Name: "Procesadores", Embedding: []float32{0.9, 0.1, 0}})
	store.AddTopic(graph.Topic{ID: "topic_alg", Name: "Algoritmos", Embedding: []float32{0.1, 0.9, 0}})
	store.AddTopic(graph.Topic{ID: "topic_db", Name: "Bases de Datos", Embedding: []float32{0, 0.1, 0.9}})

	store.AddDocument(graph.Document{
		ID: "doc_cpu_intro", Name: "Introducción a la CPU",
		Content: "La CPU es la unidad central de procesamiento.", TopicID: "topic_cpu",
		Embedding: []float32{0.95, 0.05, 0},
	})
	store.AddDocument(graph.Document{
		ID: "doc_alg_intro", Name: "Introducción a Algoritmos",
		Content: "Un algoritmo es una secuencia finita de pasos.", TopicID: "topic_alg",
		Embedding: []float32{0.05, 0.95, 0},
	})
	store.AddDocument(graph.Document{
		ID: "doc_db_intro", Name: "Introducción a Bases de Datos",
		Content: "Una base de datos almacena información estructurada.", TopicID: "topic_db",
		Embedding: []float32{0, 0.05, 0.95},
	})

	store.AddExercise(graph.Exercise{
		ID: "ex_cpu_1", Task: "¿Qué significa la sigla CPU?",
		Answer: "Unidad central de procesamiento", Difficulty: 0.3, TopicID: "topic_cpu",
	})
	store.AddExercise(graph.Exercise{
		ID: "ex_cpu_2", Task: "Describí el ciclo de instrucción.",
		Answer: "Búsqueda, decodificación y ejecución", Difficulty: 0.7, TopicID: "topic_cpu",
	})
	store.AddExercise(graph.Exercise{
		ID: "ex_alg_1", Task: "¿Qué es la complejidad temporal?",
		Answer: "El crecimiento del tiempo de ejecución", Difficulty: 0.5, TopicID: "topic_alg",
	})
	store.AddExercise(graph.Exercise{
		ID: "ex_db_1", Task: "¿Qué es una clave primaria?",
		Answer: "Un identificador único de fila", Difficulty: 0.4, TopicID: "topic_db",
	})

	store.SetKnowledge("47262", "topic_cpu", 0.4)
	store.SetKnowledge("47262", "topic_alg", 0.2)
	store.SetKnowledge("47262", "topic_db", 0.1)
}

func TestRespondAskConcept(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mock.AddResponse("nuevo mensaje: ¿qué es una cpu", `{"tool": "ask_concept", "input": "¿Qué es una CPU?"}`)
	f.mock.AddResponse("sos un tutor", "La CPU es el componente que ejecuta instrucciones.")

	reply, err := f.agent.Respond(context.Background(), "47262", "¿Qué es una CPU?")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(reply, "La CPU es el componente que ejecuta instrucciones.") {
		t.Errorf("reply missing generated answer: %q", reply)
	}
	// The CPU document ranks first among the cited sources.
	if !strings.Contains(reply, "Fuente(s): Introducción a la CPU") {
		t.Errorf("reply does not cite the CPU document first: %q", reply)
	}
}

func TestRespondCPUQueryRanksAboveOtherTopics(t *testing.T) {
	t.Parallel()

	// Retrieval on the seeded fixture: the CPU document must outrank all
	// alg/db content.
	g := genkit.Init(context.Background())
	emb := testutil.NewMockEmbedder(3)
	store := testutil.NewFakeGraph()
	seedGraph(store, emb)
	engine, err := rag.New(store, emb.RegisterEmbedder(g), log.NewNop())
	if err != nil {
		t.Fatalf("rag.New() error = %v", err)
	}
	results, err := engine.Retrieve(context.Background(), "¿Qué es una CPU?", rag.WithTopK(3))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) == 0 || results[0].Entity.ID != "doc_cpu_intro" {
		t.Fatalf("top result = %+v, want doc_cpu_intro first", results)
	}
}

func TestRespondExerciseThenBareReplyGrades(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mock.AddResponse("dame un ejercicio", `{"tool": "request_exercise", "input": "cpu"}`)
	f.mock.AddResponse("sos un docente", `{"confidence": 0.9, "rationale": "Coincide con la referencia."}`)

	reply, err := f.agent.Respond(context.Background(), "47262", "dame un ejercicio de cpu")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(reply, "Ejercicio: ") {
		t.Fatalf("reply does not pose an exercise: %q", reply)
	}
	// Level 0.4 with window 0.4 covers both cpu exercises; ex_cpu_1 at
	// difficulty 0.3 is the closest.
	pending := f.agent.Session("47262").Pending()
	if pending == nil || pending.ExerciseID != "ex_cpu_1" {
		t.Fatalf("pending = %+v, want ex_cpu_1", pending)
	}

	routerCalls := f.mock.CallCount()
	reply, err = f.agent.Respond(context.Background(), "47262", "unidad central de procesamiento")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	f.grader.Wait()

	if !strings.Contains(reply, "Correcta") {
		t.Errorf("grading reply = %q, want Correcta", reply)
	}
	// One generation for the judge; none for routing the bare reply.
	if got := f.mock.CallCount(); got != routerCalls+1 {
		t.Errorf("generation calls = %d, want %d (pre-check must skip the model)", got, routerCalls+1)
	}

	answers := f.store.Answers()
	if len(answers) != 1 {
		t.Fatalf("got %d answers, want exactly 1", len(answers))
	}
	if answers[0].ExerciseID != "ex_cpu_1" {
		t.Errorf("answer linked to %q, want ex_cpu_1", answers[0].ExerciseID)
	}
	if f.agent.Session("47262").Pending() != nil {
		t.Error("pending exercise not cleared after grading")
	}

	level, _, _ := f.store.KnowledgeLevel(context.Background(), "47262", "topic_cpu")
	if level <= 0.4 {
		t.Errorf("level = %v, want above 0.4 after a correct answer", level)
	}
}

func TestRespondGradeWithoutPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mock.AddResponse("corregime esto", `{"tool": "grade_answer", "input": "mi respuesta"}`)

	reply, err := f.agent.Respond(context.Background(), "47262", "corregime esto: mi respuesta")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(reply, "No hay un ejercicio pendiente") {
		t.Errorf("reply = %q, want no-pending message", reply)
	}
}

func TestRespondKnowledgeReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mock.AddResponse("cómo voy", `{"tool": "query_knowledge", "input": ""}`)

	reply, err := f.agent.Respond(context.Background(), "47262", "¿cómo voy con la materia?")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	for _, want := range []string{"Procesadores: 0.40", "Algoritmos: 0.20", "Bases de Datos: 0.10"} {
		if !strings.Contains(reply, want) {
			t.Errorf("reply missing %q: %q", want, reply)
		}
	}
}

func TestRespondUnknownAsksToRephrase(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	reply, err := f.agent.Respond(context.Background(), "47262", "asdf ghjk")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(reply, "reformular") {
		t.Errorf("reply = %q, want a rephrase request", reply)
	}
}

func TestRespondRecordsTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mock.AddResponse("cómo voy", `{"tool": "query_knowledge", "input": ""}`)

	if _, err := f.agent.Respond(context.Background(), "47262", "¿cómo voy?"); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	turns := f.agent.Session("47262").Snapshot()
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].Prompt != "¿cómo voy?" || turns[0].Tool != agent.IntentQueryKnowledge {
		t.Errorf("recorded turn = %+v", turns[0])
	}
}

func TestRespondExerciseFallsBackAboveLevel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mock.AddResponse("dame un ejercicio", `{"tool": "request_exercise", "input": "bases de datos"}`)

	// db level 0.1 with window 0.4 covers ex_db_1 (0.4); shrink the graph
	// so nothing falls in the window and the above-level fallback fires.
	f.store.AddExercise(graph.Exercise{
		ID: "ex_db_1", Task: "¿Qué es una clave primaria?",
		Answer: "Un identificador único de fila", Difficulty: 0.9, TopicID: "topic_db",
	})

	reply, err := f.agent.Respond(context.Background(), "47262", "dame un ejercicio de bases de datos")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(reply, "Ejercicio: ") {
		t.Fatalf("reply does not pose an exercise: %q", reply)
	}
	pending := f.agent.Session("47262").Pending()
	if pending == nil || pending.ExerciseID != "ex_db_1" {
		t.Errorf("pending = %+v, want ex_db_1 via above-level fallback", pending)
	}
}
