package models

import (
	"time"
)

// JobKind identifies which grouping algorithm a job runs.
type JobKind string

const (
	JobCategorization JobKind = "categorization"
	JobTyping         JobKind = "typing"
	JobClustering     JobKind = "clustering"
)

// Valid reports whether k is one of the known job kinds.
func (k JobKind) Valid() bool {
	switch k {
	case JobCategorization, JobTyping, JobClustering:
		return true
	}
	return false
}

// Keyword is a single text item flowing through the pipeline. The embedding
// is attached by the fetcher and is nil until then; Assignment is filled by
// the grouping stage.
type Keyword struct {
	ID         int64       `json:"id" db:"id"`
	Text       string      `json:"text" db:"text"`
	Source     string      `json:"source,omitempty" db:"source"`
	Embedding  []float64   `json:"embedding,omitempty"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// Category is a reference-set entry keywords are matched against in
// categorization jobs.
type Category struct {
	ID        int64     `json:"id" db:"id"`
	Label     string    `json:"label" db:"label"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// TypeSample is a labeled example used by typing-classification jobs. Several
// samples may share a label; the classifier matches against per-label
// centroids.
type TypeSample struct {
	ID        int64     `json:"id" db:"id"`
	Label     string    `json:"label" db:"label"`
	Text      string    `json:"text" db:"text"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// Assignment is the outcome of a grouping stage for one keyword. Label is set
// for categorization/typing, ClusterID for clustering.
type Assignment struct {
	KeywordID  int64   `json:"id" db:"keyword_id"`
	Kind       JobKind `json:"kind" db:"kind"`
	Label      string  `json:"label,omitempty" db:"label"`
	ClusterID  string  `json:"clusterId,omitempty" db:"cluster_id"`
	Similarity float64 `json:"similarity" db:"similarity"`
}

// JobParams carries the tunables for one pipeline run. Zero values are
// replaced with configured defaults by the orchestrator.
type JobParams struct {
	Scope int64   `json:"scope"`
	Kind  JobKind `json:"kind"`

	// Clustering.
	Algorithm          string  `json:"algorithm,omitempty"` // "components" or "dbscan"
	Threshold          float64 `json:"threshold,omitempty"` // similarity, components mode
	Eps                float64 `json:"eps,omitempty"`       // distance, dbscan mode
	MinPts             int     `json:"minPts,omitempty"`
	DuplicateThreshold float64 `json:"duplicateThreshold,omitempty"`

	// Categorization / typing.
	MinSimilarity float64 `json:"minSimilarity,omitempty"`
}

// JobState is a point in the orchestrator's state machine.
type JobState string

const (
	StateIdle         JobState = "idle"
	StatePreparing    JobState = "preparing"
	StateEmbeddingRef JobState = "embedding_reference_set"
	StateEmbedding    JobState = "embedding_items"
	StateAlgorithm    JobState = "algorithm"
	StateReporting    JobState = "reporting"
	StateDone         JobState = "done"
	StateCancelled    JobState = "cancelled"
	StateErrored      JobState = "errored"
)

// Terminal reports whether the state ends a job.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateErrored
}

// JobStatus is the externally visible snapshot of a running or finished job.
type JobStatus struct {
	Scope     int64     `json:"scope"`
	Kind      JobKind   `json:"kind"`
	State     JobState  `json:"state"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AIUsageLog records one embedding API call for cost accounting.
type AIUsageLog struct {
	ID           int64     `db:"id"`
	Timestamp    time.Time `db:"timestamp"`
	ProviderName string    `db:"provider_name"`
	ModelName    string    `db:"model_name"`
	InputTokens  int       `db:"input_tokens"`
	TextCount    int       `db:"text_count"`
}
