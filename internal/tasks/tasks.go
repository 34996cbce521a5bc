// Package tasks defines the Asynq task types and payloads shared between the
// enqueueing side and the worker.
package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"semgroup/internal/models"
)

const (
	// TypeGroupingJob runs one grouping pipeline job in the background.
	TypeGroupingJob = "grouping:run"
)

// GroupingJobPayload is the JSON body of a TypeGroupingJob task.
type GroupingJobPayload struct {
	Params models.JobParams `json:"params"`
}

// NewGroupingJob builds the task for one pipeline run.
func NewGroupingJob(params models.JobParams) (*asynq.Task, error) {
	payload, err := json.Marshal(GroupingJobPayload{Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode grouping job payload: %w", err)
	}
	return asynq.NewTask(TypeGroupingJob, payload), nil
}

// ParseGroupingJob decodes the payload of a TypeGroupingJob task.
func ParseGroupingJob(t *asynq.Task) (models.JobParams, error) {
	var p GroupingJobPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return models.JobParams{}, fmt.Errorf("decode grouping job payload: %w", err)
	}
	return p.Params, nil
}
