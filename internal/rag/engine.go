// Package rag implements hybrid retrieval over the knowledge graph:
// vector similarity merged with graph-relationship scoping (a topic's
// documents and exercises) rather than pure nearest-neighbor search.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/firebase/genkit/go/ai"

	"github.com/aula-ai/aula/internal/graph"
)

// ErrEmbeddingUnavailable indicates the embedding service could not be
// reached. Fatal for the current retrieval; no partial results are returned.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// Searcher is the slice of the graph store the engine depends on.
// Interfaces are defined by the consumer, not the provider.
type Searcher interface {
	SearchVectors(ctx context.Context, kind graph.Kind, topicID string, query []float32, k int) ([]graph.Hit, error)
	EntitiesByIDs(ctx context.Context, kind graph.Kind, ids []string) ([]graph.Entity, error)
	TopicByID(ctx context.Context, id string) (*graph.Topic, error)
}

// Result is a retrieved entity with its similarity score. Scores are
// comparable within one call but not normalized across calls.
type Result struct {
	Entity graph.Entity
	Score  float64
}

// Source is retrieval output prepared for prompt conditioning: a titled
// content block with its score.
type Source struct {
	Kind    graph.Kind
	ID      string
	Title   string
	Content string
	Score   float64
}

// Engine performs hybrid retrieval. It embeds the query once per call and
// delegates ranking to the store's capability-selected search strategy.
type Engine struct {
	store    Searcher
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a retrieval engine.
func New(store Searcher, embedder ai.Embedder, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, embedder: embedder, logger: logger}, nil
}

// embed generates a vector for the given text.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrEmbeddingUnavailable)
	}
	return resp.Embeddings[0].Embedding, nil
}

// Retrieve returns at most k entities ordered by non-increasing similarity,
// ties broken by ascending id. An unresolvable topic hint degrades to an
// empty result, not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryVec, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scope := ""
	if cfg.topicHint != "" {
		topicID, ok, err := e.ResolveTopic(ctx, cfg.topicHint)
		if err != nil {
			return nil, err
		}
		if !ok {
			e.logger.Debug("topic hint did not resolve", "hint", cfg.topicHint)
			return nil, nil
		}
		scope = topicID
	}

	var hits []graph.Hit
	for _, kind := range cfg.kinds {
		kindHits, err := e.store.SearchVectors(ctx, kind, scope, queryVec, cfg.topK)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", kind, err)
		}
		hits = append(hits, kindHits...)
	}
	hits = graph.RankHits(hits, cfg.topK)

	return e.hydrate(ctx, hits)
}

// hydrate fetches entity content for hits, preserving hit order.
func (e *Engine) hydrate(ctx context.Context, hits []graph.Hit) ([]Result, error) {
	idsByKind := make(map[graph.Kind][]string)
	for _, h := range hits {
		idsByKind[h.Kind] = append(idsByKind[h.Kind], h.ID)
	}

	entities := make(map[graph.Kind]map[string]graph.Entity, len(idsByKind))
	for kind, ids := range idsByKind {
		fetched, err := e.store.EntitiesByIDs(ctx, kind, ids)
		if err != nil {
			return nil, fmt.Errorf("hydrating %s results: %w", kind, err)
		}
		byID := make(map[string]graph.Entity, len(fetched))
		for _, ent := range fetched {
			byID[ent.ID] = ent
		}
		entities[kind] = byID
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		ent, ok := entities[h.Kind][h.ID]
		if !ok {
			continue
		}
		results = append(results, Result{Entity: ent, Score: h.Score})
	}
	return results, nil
}

// ResolveTopic maps a hint to a topic id: exact id match first, otherwise
// the nearest topic by embedding. ok is false when no topic matches at all,
// which callers treat as "no relevant content", not an error.
func (e *Engine) ResolveTopic(ctx context.Context, hint string) (topicID string, ok bool, err error) {
	if topic, err := e.store.TopicByID(ctx, hint); err == nil {
		return topic.ID, true, nil
	} else if !errors.Is(err, graph.ErrNotFound) {
		return "", false, err
	}

	hintVec, err := e.embed(ctx, hint)
	if err != nil {
		return "", false, err
	}

	hits, err := e.store.SearchVectors(ctx, graph.KindTopic, "", hintVec, 1)
	if err != nil {
		return "", false, fmt.Errorf("resolving topic hint: %w", err)
	}
	if len(hits) == 0 {
		return "", false, nil
	}

	e.logger.Debug("resolved topic hint", "hint", hint, "topic_id", hits[0].ID, "score", hits[0].Score)
	return hits[0].ID, true, nil
}

// GatherSources collects the best document and section matches for a query
// and deduplicates: when a section and its parent document both match, the
// section wins and the document is dropped. Results are ranked by score and
// capped at maxSources.
func (e *Engine) GatherSources(ctx context.Context, query, topicHint string, maxSources int) ([]Source, error) {
	docs, err := e.Retrieve(ctx, query,
		WithTopK(5), WithKinds(graph.KindDocument), WithTopicScope(topicHint))
	if err != nil {
		return nil, err
	}
	secs, err := e.Retrieve(ctx, query,
		WithTopK(8), WithKinds(graph.KindSection), WithTopicScope(topicHint))
	if err != nil {
		return nil, err
	}

	matchedParents := make(map[string]struct{}, len(secs))
	for _, s := range secs {
		if s.Entity.ParentID != "" {
			matchedParents[s.Entity.ParentID] = struct{}{}
		}
	}

	var sources []Source
	for _, s := range secs {
		if s.Entity.Content == "" {
			continue
		}
		title := s.Entity.Name
		if title == "" {
			title = "Sección " + s.Entity.ID
		}
		sources = append(sources, Source{
			Kind:    graph.KindSection,
			ID:      s.Entity.ID,
			Title:   title,
			Content: s.Entity.Content,
			Score:   s.Score,
		})
	}
	for _, d := range docs {
		if _, dropped := matchedParents[d.Entity.ID]; dropped {
			continue
		}
		if d.Entity.Content == "" {
			continue
		}
		title := d.Entity.Name
		if title == "" {
			title = "Documento " + d.Entity.ID
		}
		sources = append(sources, Source{
			Kind:    graph.KindDocument,
			ID:      d.Entity.ID,
			Title:   title,
			Content: d.Entity.Content,
			Score:   d.Score,
		})
	}

	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Score != sources[j].Score {
			return sources[i].Score > sources[j].Score
		}
		return sources[i].ID < sources[j].ID
	})
	if maxSources > 0 && len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	return sources, nil
}
