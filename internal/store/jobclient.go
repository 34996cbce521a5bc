package store

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"semgroup/internal/models"
	"semgroup/internal/tasks"
)

// JobClient enqueues background grouping jobs.
type JobClient interface {
	EnqueueGroupingJob(ctx context.Context, params models.JobParams) (string, error)
	Close() error
}

// AsynqJobClient is the Redis-backed JobClient used in deployments that run a
// separate worker process.
type AsynqJobClient struct {
	client *asynq.Client
}

func NewAsynqJobClient(opt asynq.RedisClientOpt) *AsynqJobClient {
	return &AsynqJobClient{client: asynq.NewClient(opt)}
}

// EnqueueGroupingJob submits one pipeline run to the grouping queue and
// returns the task id. Duplicate submissions for the same (scope, kind) are
// accepted here; the worker-side registry rejects the second run.
func (jc *AsynqJobClient) EnqueueGroupingJob(ctx context.Context, params models.JobParams) (string, error) {
	task, err := tasks.NewGroupingJob(params)
	if err != nil {
		return "", err
	}
	info, err := jc.client.EnqueueContext(ctx, task, asynq.Queue("grouping"))
	if err != nil {
		return "", fmt.Errorf("enqueue grouping job: %w", err)
	}
	log.WithFields(log.Fields{
		"task_id": info.ID,
		"scope":   params.Scope,
		"kind":    params.Kind,
	}).Info("enqueued grouping job")
	return info.ID, nil
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

var _ JobClient = (*AsynqJobClient)(nil)
