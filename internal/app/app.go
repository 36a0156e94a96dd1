// Package app wires the tutor's components: configuration, the
// PostgreSQL knowledge graph, the Genkit model stack and the agent.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aula-ai/aula/internal/agent"
	"github.com/aula-ai/aula/internal/config"
	"github.com/aula-ai/aula/internal/grading"
	"github.com/aula-ai/aula/internal/graph"
	"github.com/aula-ai/aula/internal/rag"
)

// App is the application container. Close releases everything Setup
// acquired, draining in-flight knowledge updates first.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Graph    *graph.Store
	Engine   *rag.Engine
	Grader   *grading.Grader
	Agent    *agent.Agent

	cancel context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down")

	// Drain background level updates before dropping their store.
	if a.Grader != nil {
		a.Grader.Wait()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Debug("database pool closed")
	}
	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
