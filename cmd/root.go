// Package cmd implements the aula command-line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aula-ai/aula/internal/config"
	"github.com/aula-ai/aula/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "aula",
	Short: "Aula: tutor educativo sobre un grafo de conocimiento",
	Long: `Aula es un tutor conversacional. Responde preguntas conceptuales,
propone ejercicios según tu nivel, corrige tus respuestas y genera
resúmenes validados del material de estudio.

Sin subcomandos entra en modo chat interactivo.`,
	RunE: runChat,
}

var (
	flagLegajo  string
	flagVerbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLegajo, "legajo", "", "legajo del estudiante")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log de depuración")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// bootstrap loads configuration and builds the logger shared by all
// subcommands.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)
	return cfg, logger, nil
}
