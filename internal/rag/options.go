package rag

import "github.com/aula-ai/aula/internal/graph"

// SearchOption configures retrieval behavior using the functional options
// pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK      int
	kinds     []graph.Kind
	topicHint string
}

// WithTopK sets the maximum number of results to return. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithKinds restricts retrieval to the given entity kinds.
// Default is documents and sections.
func WithKinds(kinds ...graph.Kind) SearchOption {
	return func(c *searchConfig) {
		if len(kinds) > 0 {
			c.kinds = kinds
		}
	}
}

// WithTopicScope scopes retrieval to a topic. The hint may be an exact
// topic id or free text resolved to the nearest topic by embedding.
func WithTopicScope(hint string) SearchOption {
	return func(c *searchConfig) {
		c.topicHint = hint
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:  5,
		kinds: []graph.Kind{graph.KindDocument, graph.KindSection},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
