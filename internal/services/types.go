package services

import (
	"context"
	"math/rand"

	"semgroup/internal/models"
)

// EmbeddingProvider is implemented by each embedding backend. Providers must
// return one vector per input text, in input order.
type EmbeddingProvider interface {
	Name() string
	ModelName() string
	Dimension() int
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error)
}

// UsageRecorder receives a usage log entry after each successful provider
// call. Recording failures are logged by callers, never propagated.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, entry *models.AIUsageLog) error
}

// RetryStrategy decides how long to wait before retrying a failed chunk.
// A negative return means stop retrying.
type RetryStrategy interface {
	NextBackoff(attempt int) int64 // ms
}

// SimpleRetryStrategy is exponential backoff with jitter, capped at 30s.
type SimpleRetryStrategy struct {
	MaxAttempts int
	BaseDelayMs int64
}

func (s *SimpleRetryStrategy) NextBackoff(attempt int) int64 {
	if s.MaxAttempts <= 0 || attempt >= s.MaxAttempts {
		return -1
	}
	backoff := s.BaseDelayMs * (1 << attempt)
	maxDelay := int64(30000)
	if backoff > maxDelay {
		backoff = maxDelay
	}
	// Jitter up to 25% keeps concurrent jobs from retrying in lockstep.
	if backoff > 0 {
		backoff += rand.Int63n(backoff/4 + 1)
	}
	return backoff
}

var _ RetryStrategy = (*SimpleRetryStrategy)(nil)
