package store

import (
	"context"

	"semgroup/internal/models"
)

// TargetStore is the persisted-storage surface the pipeline consumes. The
// pipeline owns none of this data: it counts and pages targets, reads the
// reference sets, clears stale results and writes fresh assignments. Keyword
// pages are ordered by id so afterID-based paging is stable.
type TargetStore interface {
	CountTargets(ctx context.Context, scope int64) (int, error)
	PageKeywords(ctx context.Context, scope int64, afterID int64, limit int) ([]*models.Keyword, error)
	ListCategories(ctx context.Context, scope int64) ([]*models.Category, error)
	ListTypeSamples(ctx context.Context, scope int64) ([]*models.TypeSample, error)
	ClearPriorResults(ctx context.Context, scope int64, kind models.JobKind) error
	WriteAssignment(ctx context.Context, a *models.Assignment) error
	ListAssignments(ctx context.Context, scope int64, kind models.JobKind) ([]*models.Assignment, error)

	Ping(ctx context.Context) error
}

// UsageStore records embedding API usage for cost accounting.
type UsageStore interface {
	RecordUsage(ctx context.Context, entry *models.AIUsageLog) error
	GetUsageSummary(ctx context.Context) (totalTokens, totalCalls int64, err error)
}
