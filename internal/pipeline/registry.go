package pipeline

import (
	"fmt"
	"sync"
	"time"

	"semgroup/internal/models"
)

type jobKey struct {
	scope int64
	kind  models.JobKind
}

// Registry tracks in-flight and recently finished jobs, one per (scope, kind).
// A second job for the same pair is rejected until the first reaches a
// terminal state.
type Registry struct {
	mu   sync.Mutex
	jobs map[jobKey]*jobEntry
}

type jobEntry struct {
	status models.JobStatus
	cancel func()
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[jobKey]*jobEntry)}
}

// Begin registers a job for (scope, kind). It returns models.ErrConflict if a
// non-terminal job already holds the slot. cancel is invoked by Stop.
func (r *Registry) Begin(scope int64, kind models.JobKind, cancel func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := jobKey{scope, kind}
	if e, ok := r.jobs[key]; ok && !e.status.State.Terminal() {
		return fmt.Errorf("%w: a %s job is already running for scope %d", models.ErrConflict, kind, scope)
	}
	now := time.Now()
	r.jobs[key] = &jobEntry{
		status: models.JobStatus{
			Scope:     scope,
			Kind:      kind,
			State:     models.StatePreparing,
			StartedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
	}
	return nil
}

// Update mutates the tracked status for (scope, kind). Unknown jobs are a
// no-op so late updates from a finished run cannot resurrect an entry.
func (r *Registry) Update(scope int64, kind models.JobKind, fn func(*models.JobStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobKey{scope, kind}]
	if !ok {
		return
	}
	fn(&e.status)
	e.status.UpdatedAt = time.Now()
}

// Status returns a snapshot of the job for (scope, kind).
func (r *Registry) Status(scope int64, kind models.JobKind) (models.JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobKey{scope, kind}]
	if !ok {
		return models.JobStatus{}, false
	}
	return e.status, true
}

// Stop requests cancellation of a running job. It returns models.ErrNotFound
// when no job holds the slot or the job already finished.
func (r *Registry) Stop(scope int64, kind models.JobKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobKey{scope, kind}]
	if !ok || e.status.State.Terminal() {
		return fmt.Errorf("%w: no running %s job for scope %d", models.ErrNotFound, kind, scope)
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// All returns snapshots of every tracked job.
func (r *Registry) All() []models.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.JobStatus, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e.status)
	}
	return out
}
