// Package worker registers the Asynq handlers that run grouping jobs in the
// background. Each job's event stream is written to a per-job NDJSON file so
// callers can tail progress while the worker owns the run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"semgroup/internal/models"
	"semgroup/internal/pipeline"
	"semgroup/internal/tasks"
)

// Deps carries what the handlers need from the application container.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	// EventDir is where per-job event streams are written. Empty means the
	// events go to the worker's stdout.
	EventDir string
}

// RegisterHandlers wires all task types onto the mux.
func RegisterHandlers(mux *asynq.ServeMux, deps Deps) {
	mux.HandleFunc(tasks.TypeGroupingJob, HandleGroupingJob(deps))
}

// HandleGroupingJob runs one pipeline job. Validation and conflict failures
// are permanent (retrying cannot fix the inputs); cancellation consumes the
// task without error; everything else is retried by Asynq.
func HandleGroupingJob(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		params, err := tasks.ParseGroupingJob(t)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		out, closeFn, err := eventSink(deps.EventDir, params)
		if err != nil {
			return err
		}
		defer closeFn()

		err = deps.Orchestrator.Run(ctx, params, out)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, models.ErrAborted):
			log.WithFields(log.Fields{"scope": params.Scope, "kind": params.Kind}).
				Info("grouping job stopped")
			return nil
		case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrConflict):
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		default:
			return err
		}
	}
}

func eventSink(dir string, params models.JobParams) (*os.File, func(), error) {
	if dir == "" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create event dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-%s.ndjson", params.Scope, params.Kind))
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create event file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
