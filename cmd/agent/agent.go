// Package agent implements the device-side subcommand: it owns the durable
// offline action queue and drains it to the coordination server.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guardtrack/guardtrack-go/internal/conf"
	"github.com/guardtrack/guardtrack-go/internal/logging"
	"github.com/guardtrack/guardtrack-go/internal/queue"
)

// Command creates the agent subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the device agent draining the offline action queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	logger := logging.ForService("agent")

	if settings.Agent.ServerURL == "" {
		return fmt.Errorf("agent.serverurl is not configured")
	}

	store, err := queue.OpenStore(settings.Agent.QueuePath)
	if err != nil {
		return fmt.Errorf("opening action queue: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing action queue", "error", err)
		}
	}()

	submitter := queue.NewHTTPSubmitter(settings.Agent.ServerURL, settings.Agent.HTTPTimeout, nil)
	worker := queue.NewWorker(store, submitter, settings.Agent.DrainInterval, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker.Start(ctx)
	defer worker.Stop()

	pending, err := store.Len()
	if err == nil {
		logger.Info("agent running",
			"server", settings.Agent.ServerURL,
			"queue", settings.Agent.QueuePath,
			"pending_actions", pending)
	}

	<-ctx.Done()
	logger.Info("agent shutting down")
	return nil
}
