package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aula-ai/aula/internal/app"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Conversación interactiva con el tutor",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	reader := bufio.NewReader(os.Stdin)

	legajo := strings.TrimSpace(flagLegajo)
	for legajo == "" {
		fmt.Print("Legajo: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		legajo = strings.TrimSpace(line)
	}

	fmt.Printf("Hola. Escribí tu consulta (\"salir\" para terminar).\n")
	if topics, err := a.Graph.TopicsAll(ctx); err == nil && len(topics) > 0 {
		names := make([]string, len(topics))
		for i, t := range topics {
			names[i] = t.Name
		}
		fmt.Printf("Temas disponibles: %s\n", strings.Join(names, ", "))
	}
	fmt.Println()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nHasta luego.")
			return nil
		default:
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("\nHasta luego.")
			return nil
		}
		utterance := strings.TrimSpace(line)
		if utterance == "" {
			continue
		}
		if utterance == "salir" || utterance == "exit" {
			fmt.Println("Hasta luego.")
			return nil
		}

		reply, err := a.Agent.Respond(ctx, legajo, utterance)
		if err != nil {
			logger.Error("turn failed", "legajo", legajo, "error", err)
			fmt.Println("Hubo un problema procesando tu consulta. Probá de nuevo.")
			continue
		}
		fmt.Println(reply)
		fmt.Println()
	}
}
