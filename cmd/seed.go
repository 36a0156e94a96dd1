package cmd

import (
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/spf13/cobra"

	"github.com/aula-ai/aula/internal/app"
	"github.com/aula-ai/aula/internal/graph"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Carga el material de demostración en el grafo",
	Long: `Carga un conjunto mínimo de temas, documentos, secciones y
ejercicios de demostración, calculando sus embeddings con el modelo
configurado. Idempotente: se puede ejecutar más de una vez.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type seedTopic struct {
	topic     graph.Topic
	documents []seedDocument
	exercises []graph.Exercise
}

type seedDocument struct {
	document graph.Document
	sections []graph.Section
}

func demoFixture() []seedTopic {
	return []seedTopic{
		{
			topic: graph.Topic{ID: "topic_cpu", Name: "Procesadores"},
			documents: []seedDocument{{
				document: graph.Document{
					ID: "doc_cpu_intro", Name: "Introducción a la CPU", TopicID: "topic_cpu",
					Content: "La CPU (unidad central de procesamiento) es el componente que ejecuta las instrucciones de un programa.",
				},
				sections: []graph.Section{
					{ID: "sec_cpu_alu", DocumentID: "doc_cpu_intro",
						Content: "La ALU realiza las operaciones aritméticas y lógicas; la unidad de control coordina el resto del procesador."},
					{ID: "sec_cpu_ciclo", DocumentID: "doc_cpu_intro",
						Content: "El ciclo de instrucción tiene tres etapas: búsqueda, decodificación y ejecución."},
				},
			}},
			exercises: []graph.Exercise{
				{ID: "ex_cpu_1", TopicID: "topic_cpu", Difficulty: 0.3,
					Task: "¿Qué significa la sigla CPU?", Answer: "Unidad central de procesamiento"},
				{ID: "ex_cpu_2", TopicID: "topic_cpu", Difficulty: 0.7,
					Task: "Describí las etapas del ciclo de instrucción.", Answer: "Búsqueda, decodificación y ejecución"},
			},
		},
		{
			topic: graph.Topic{ID: "topic_alg", Name: "Algoritmos"},
			documents: []seedDocument{{
				document: graph.Document{
					ID: "doc_alg_intro", Name: "Introducción a Algoritmos", TopicID: "topic_alg",
					Content: "Un algoritmo es una secuencia finita y ordenada de pasos que resuelve un problema.",
				},
			}},
			exercises: []graph.Exercise{
				{ID: "ex_alg_1", TopicID: "topic_alg", Difficulty: 0.5,
					Task: "¿Qué mide la complejidad temporal de un algoritmo?",
					Answer: "Cómo crece el tiempo de ejecución con el tamaño de la entrada"},
			},
		},
		{
			topic: graph.Topic{ID: "topic_db", Name: "Bases de Datos"},
			documents: []seedDocument{{
				document: graph.Document{
					ID: "doc_db_intro", Name: "Introducción a Bases de Datos", TopicID: "topic_db",
					Content: "Una base de datos relacional almacena información en tablas relacionadas mediante claves.",
				},
			}},
			exercises: []graph.Exercise{
				{ID: "ex_db_1", TopicID: "topic_db", Difficulty: 0.4,
					Task: "¿Qué es una clave primaria?", Answer: "Un identificador único para cada fila de una tabla"},
			},
		},
	}
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	embed := func(text string) ([]float32, error) {
		resp, err := a.Embedder.Embed(ctx, &ai.EmbedRequest{
			Input: []*ai.Document{ai.DocumentFromText(text, nil)},
		})
		if err != nil {
			return nil, fmt.Errorf("embedding seed content: %w", err)
		}
		return resp.Embeddings[0].Embedding, nil
	}

	for _, st := range demoFixture() {
		if st.topic.Embedding, err = embed(st.topic.Name); err != nil {
			return err
		}
		if err := a.Graph.UpsertTopic(ctx, st.topic); err != nil {
			return fmt.Errorf("seeding topic %s: %w", st.topic.ID, err)
		}

		for _, sd := range st.documents {
			if sd.document.Embedding, err = embed(sd.document.Content); err != nil {
				return err
			}
			if err := a.Graph.UpsertDocument(ctx, sd.document); err != nil {
				return fmt.Errorf("seeding document %s: %w", sd.document.ID, err)
			}
			for _, sec := range sd.sections {
				if sec.Embedding, err = embed(sec.Content); err != nil {
					return err
				}
				if err := a.Graph.UpsertSection(ctx, sec); err != nil {
					return fmt.Errorf("seeding section %s: %w", sec.ID, err)
				}
			}
		}

		for _, ex := range st.exercises {
			if ex.Embedding, err = embed(ex.Task); err != nil {
				return err
			}
			if err := a.Graph.UpsertExercise(ctx, ex); err != nil {
				return fmt.Errorf("seeding exercise %s: %w", ex.ID, err)
			}
		}
		logger.Info("seeded topic", "topic_id", st.topic.ID)
	}

	fmt.Println("Material de demostración cargado.")
	return nil
}
