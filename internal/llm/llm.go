// Package llm wraps text generation behind a small helper shared by the
// router, the grader and the summary pipeline. Prompts go in as plain
// text; structured outputs come back as JSON embedded in the response.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// ErrUnavailable indicates the generation service could not produce a
// response. Fatal for routing, drafting and grading.
var ErrUnavailable = errors.New("generation service unavailable")

// ErrNoJSON indicates the model response contained no JSON object.
var ErrNoJSON = errors.New("no JSON object in model response")

// Client generates text with a fixed model. Requests pass through a
// proactive rate limiter so bursty turns (route, draft, validate) do not
// trip provider quotas.
type Client struct {
	g       *genkit.Genkit
	model   string
	limiter *rate.Limiter
}

// NewClient creates a generation client bound to a model name.
func NewClient(g *genkit.Genkit, model string) *Client {
	return &Client{
		g:       g,
		model:   model,
		limiter: rate.NewLimiter(10, 30),
	}
}

// Generate sends a prompt and returns the response text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithPrompt(prompt),
		ai.WithModelName(c.model),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp.Text(), nil
}

// ExtractJSON returns the substring between the first '{' and the last
// '}' of text. Models often wrap JSON in prose or code fences; this
// recovers the object without requiring a clean response.
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}
