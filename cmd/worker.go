package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"semgroup/internal/app"
	"semgroup/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background job worker",
	Long:  `Starts the Asynq worker process that executes grouping jobs enqueued with --background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}
		return runWorker(appInstance)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(appInstance *app.App) error {
	cfg := appInstance.Config

	srv := asynq.NewServer(
		appInstance.RedisOpt(),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues:      cfg.Worker.Queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.WithFields(log.Fields{
					"type":    task.Type(),
					"payload": string(task.Payload()),
				}).WithError(err).Error("task failed")
			}),
		},
	)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, worker.Deps{
		Orchestrator: appInstance.Orchestrator,
		EventDir:     cfg.Worker.EventDir,
	})

	log.WithFields(log.Fields{
		"concurrency": cfg.Worker.Concurrency,
		"queues":      cfg.Worker.Queues,
	}).Info("starting worker server")
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Info("shutdown signal received, winding down")
	srv.Shutdown()
	appInstance.Close()
	return nil
}
