package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semgroup/internal/cache"
	"semgroup/internal/models"
	"semgroup/internal/services"
	"semgroup/internal/store"
)

// fakeStore is an in-memory TargetStore seeded directly by each test.
type fakeStore struct {
	keywords    []*models.Keyword
	categories  []*models.Category
	typeSamples []*models.TypeSample
	assignments []*models.Assignment
	cleared     int
}

var _ store.TargetStore = (*fakeStore)(nil)

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) CountTargets(ctx context.Context, scope int64) (int, error) {
	return len(f.keywords), nil
}

func (f *fakeStore) PageKeywords(ctx context.Context, scope, afterID int64, limit int) ([]*models.Keyword, error) {
	var out []*models.Keyword
	for _, kw := range f.keywords {
		if kw.ID > afterID {
			out = append(out, kw)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ListCategories(ctx context.Context, scope int64) ([]*models.Category, error) {
	return f.categories, nil
}

func (f *fakeStore) ListTypeSamples(ctx context.Context, scope int64) ([]*models.TypeSample, error) {
	return f.typeSamples, nil
}

func (f *fakeStore) ClearPriorResults(ctx context.Context, scope int64, kind models.JobKind) error {
	f.cleared++
	f.assignments = nil
	return nil
}

func (f *fakeStore) WriteAssignment(ctx context.Context, a *models.Assignment) error {
	f.assignments = append(f.assignments, a)
	return nil
}

func (f *fakeStore) ListAssignments(ctx context.Context, scope int64, kind models.JobKind) ([]*models.Assignment, error) {
	return f.assignments, nil
}

// fakeProvider maps whole texts onto fixed two-dimensional vectors.
type fakeProvider struct {
	vectors map[string][]float64
	calls   int
}

func (p *fakeProvider) Name() string      { return "fake" }
func (p *fakeProvider) ModelName() string { return "fake-2d" }
func (p *fakeProvider) Dimension() int    { return 2 }

func (p *fakeProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	p.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := p.vectors[t]
		if !ok {
			v = []float64{1, 0}
		}
		out[i] = v
	}
	return out, nil
}

func newOrchestrator(fs *fakeStore, p services.EmbeddingProvider) *Orchestrator {
	fetcher := services.NewFetcher(p, cache.NewMemoryCache())
	return NewOrchestrator(fs, fetcher, NewRegistry(), Options{PageSize: 2})
}

func decodeEvents(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var out []Event
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev), "line: %s", line)
		out = append(out, ev)
	}
	return out
}

func terminalEvents(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		switch ev.Type {
		case "done", "stopped", "error":
			out = append(out, ev)
		}
	}
	return out
}

func TestRunCategorization(t *testing.T) {
	fs := &fakeStore{
		categories: []*models.Category{
			{ID: 1, Label: "fruit"},
			{ID: 2, Label: "vehicle"},
		},
		keywords: []*models.Keyword{
			{ID: 1, Text: "apple"},
			{ID: 2, Text: "car"},
			{ID: 3, Text: "xyz"},
		},
	}
	p := &fakeProvider{vectors: map[string][]float64{
		"fruit":   {1, 0},
		"vehicle": {0, 1},
		"apple":   {0.99, 0.14},
		"car":     {0.1, 0.99},
		"xyz":     {0.7, 0.71}, // below min similarity for both
	}}
	o := newOrchestrator(fs, p)

	var buf bytes.Buffer
	err := o.Run(context.Background(), models.JobParams{Scope: 1, Kind: models.JobCategorization}, &buf)
	require.NoError(t, err)

	events := decodeEvents(t, &buf)
	term := terminalEvents(events)
	require.Len(t, term, 1)
	assert.Equal(t, "done", term[0].Type)
	assert.Equal(t, 3, term[0].Total)
	assert.Equal(t, 3, term[0].Processed)
	assert.Equal(t, term[0], events[len(events)-1], "terminal event must come last")

	byID := map[int64]string{}
	for _, ev := range events {
		if ev.Type == "result" {
			byID[ev.ID] = ev.Label
		}
	}
	assert.Equal(t, map[int64]string{1: "fruit", 2: "vehicle"}, byID)

	require.Len(t, fs.assignments, 2)
	assert.Equal(t, 1, fs.cleared)

	st, ok := o.Status(1, models.JobCategorization)
	require.True(t, ok)
	assert.Equal(t, models.StateDone, st.State)
}

func TestRunCategorization_ProgressOrdering(t *testing.T) {
	fs := &fakeStore{
		categories: []*models.Category{{ID: 1, Label: "a"}, {ID: 2, Label: "b"}},
		keywords: []*models.Keyword{
			{ID: 1, Text: "k1"}, {ID: 2, Text: "k2"}, {ID: 3, Text: "k3"},
			{ID: 4, Text: "k4"}, {ID: 5, Text: "k5"},
		},
	}
	o := newOrchestrator(fs, &fakeProvider{})

	var buf bytes.Buffer
	require.NoError(t, o.Run(context.Background(), models.JobParams{Scope: 1, Kind: models.JobCategorization}, &buf))

	last := map[string]int{}
	for _, ev := range decodeEvents(t, &buf) {
		if ev.Type != "progress" {
			continue
		}
		assert.GreaterOrEqual(t, ev.Fetched, last[ev.Stage], "stage %s progress regressed", ev.Stage)
		last[ev.Stage] = ev.Fetched
	}
	// Page size is 2, so the items stage reports at least three increments.
	assert.Equal(t, 5, last[stageItems])
}

func TestRunValidationFailureNeverFetches(t *testing.T) {
	fs := &fakeStore{
		categories: []*models.Category{{ID: 1, Label: "only one"}},
		keywords:   []*models.Keyword{{ID: 1, Text: "apple"}},
	}
	p := &fakeProvider{}
	o := newOrchestrator(fs, p)

	var buf bytes.Buffer
	err := o.Run(context.Background(), models.JobParams{Scope: 1, Kind: models.JobCategorization}, &buf)
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Zero(t, p.calls)

	term := terminalEvents(decodeEvents(t, &buf))
	require.Len(t, term, 1)
	assert.Equal(t, "error", term[0].Type)
	assert.Contains(t, term[0].Message, "at least 2 categories")

	st, ok := o.Status(1, models.JobCategorization)
	require.True(t, ok)
	assert.Equal(t, models.StateErrored, st.State)
}

func TestRunTypingDistinctLabelValidation(t *testing.T) {
	fs := &fakeStore{
		typeSamples: []*models.TypeSample{
			{ID: 1, Label: "brand", Text: "nike"},
			{ID: 2, Label: "brand", Text: "adidas"},
		},
		keywords: []*models.Keyword{{ID: 1, Text: "puma"}},
	}
	o := newOrchestrator(fs, &fakeProvider{})

	var buf bytes.Buffer
	err := o.Run(context.Background(), models.JobParams{Scope: 1, Kind: models.JobTyping}, &buf)
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestRunTyping(t *testing.T) {
	fs := &fakeStore{
		typeSamples: []*models.TypeSample{
			{ID: 1, Label: "brand", Text: "nike"},
			{ID: 2, Label: "brand", Text: "adidas"},
			{ID: 3, Label: "generic", Text: "cheap shoes"},
		},
		keywords: []*models.Keyword{{ID: 1, Text: "puma"}},
	}
	p := &fakeProvider{vectors: map[string][]float64{
		"nike":        {1, 0},
		"adidas":      {0.99, 0.14},
		"cheap shoes": {0, 1},
		"puma":        {1, 0.05},
	}}
	o := newOrchestrator(fs, p)

	var buf bytes.Buffer
	require.NoError(t, o.Run(context.Background(), models.JobParams{Scope: 1, Kind: models.JobTyping}, &buf))

	require.Len(t, fs.assignments, 1)
	assert.Equal(t, "brand", fs.assignments[0].Label)
	assert.Equal(t, models.JobTyping, fs.assignments[0].Kind)
}

func TestRunClusteringComponents(t *testing.T) {
	fs := &fakeStore{keywords: []*models.Keyword{
		{ID: 1, Text: "a1"},
		{ID: 2, Text: "a2"},
		{ID: 3, Text: "b1"},
		{ID: 4, Text: "b2"},
		{ID: 5, Text: "lonely"},
	}}
	p := &fakeProvider{vectors: map[string][]float64{
		"a1":     {1, 0},
		"a2":     {0.999, 0.04},
		"b1":     {0, 1},
		"b2":     {0.04, 0.999},
		"lonely": {0.7, 0.7},
	}}
	o := newOrchestrator(fs, p)

	var buf bytes.Buffer
	err := o.Run(context.Background(),
		models.JobParams{Scope: 1, Kind: models.JobClustering, Algorithm: "components", Threshold: 0.8}, &buf)
	require.NoError(t, err)

	require.Len(t, fs.assignments, 4, "the isolated keyword stays unclustered")
	byID := map[int64]string{}
	for _, a := range fs.assignments {
		byID[a.KeywordID] = a.ClusterID
	}
	assert.Equal(t, byID[1], byID[2])
	assert.Equal(t, byID[3], byID[4])
	assert.NotEqual(t, byID[1], byID[3])
	assert.NotContains(t, byID, int64(5))
}

func TestRunClusteringIncremental(t *testing.T) {
	fs := &fakeStore{
		keywords: []*models.Keyword{
			{ID: 1, Text: "a1"},
			{ID: 2, Text: "a2"},
			{ID: 3, Text: "a3"},
			{ID: 4, Text: "faraway"},
		},
		assignments: []*models.Assignment{
			{KeywordID: 1, Kind: models.JobClustering, ClusterID: "c-old"},
			{KeywordID: 2, Kind: models.JobClustering, ClusterID: "c-old"},
		},
	}
	// a3 sits close enough to the c-old centroid to join (sim ~0.96) but below
	// the same-source duplicate threshold of 0.97 against either member.
	p := &fakeProvider{vectors: map[string][]float64{
		"a1":      {1, 0},
		"a2":      {0.999, 0.04},
		"a3":      {0.95, 0.31},
		"faraway": {0, 1},
	}}
	o := newOrchestrator(fs, p)

	var buf bytes.Buffer
	err := o.Run(context.Background(),
		models.JobParams{Scope: 1, Kind: models.JobClustering, Algorithm: "incremental", Threshold: 0.8}, &buf)
	require.NoError(t, err)

	byID := map[int64]string{}
	for _, a := range fs.assignments {
		byID[a.KeywordID] = a.ClusterID
	}
	assert.Equal(t, "c-old", byID[1])
	assert.Equal(t, "c-old", byID[2])
	assert.Equal(t, "c-old", byID[3], "new point close to the prior centroid joins its cluster")
	assert.NotContains(t, byID, int64(4), "point with no fit and no partner stays unassigned")
}

func TestRunCancelledBeforeStart(t *testing.T) {
	fs := &fakeStore{
		categories: []*models.Category{{ID: 1, Label: "a"}, {ID: 2, Label: "b"}},
		keywords:   []*models.Keyword{{ID: 1, Text: "apple"}},
	}
	o := newOrchestrator(fs, &fakeProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := o.Run(ctx, models.JobParams{Scope: 1, Kind: models.JobCategorization}, &buf)
	require.ErrorIs(t, err, models.ErrAborted)

	term := terminalEvents(decodeEvents(t, &buf))
	require.Len(t, term, 1)
	assert.Equal(t, "stopped", term[0].Type)

	st, ok := o.Status(1, models.JobCategorization)
	require.True(t, ok)
	assert.Equal(t, models.StateCancelled, st.State)
}

// failingProvider errors on every call.
type failingProvider struct{ fakeProvider }

func (p *failingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, errors.New("provider down")
}

// cancellingProvider answers like fakeProvider, then stops the job.
type cancellingProvider struct {
	fakeProvider
	cancel context.CancelFunc
}

func (p *cancellingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	defer p.cancel()
	return p.fakeProvider.GenerateEmbeddings(ctx, texts)
}

func TestRunRemovesTempDirOnFailureAndCancel(t *testing.T) {
	tmpRoot := t.TempDir()
	t.Setenv("TMPDIR", tmpRoot)
	noRetry := Options{PageSize: 2, Fetch: services.FetchOptions{Retry: &services.SimpleRetryStrategy{}}}

	t.Run("provider failure", func(t *testing.T) {
		fs := &fakeStore{keywords: []*models.Keyword{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}}}
		fetcher := services.NewFetcher(&failingProvider{}, cache.NewMemoryCache())
		o := NewOrchestrator(fs, fetcher, NewRegistry(), noRetry)

		var buf bytes.Buffer
		err := o.Run(context.Background(), models.JobParams{Scope: 1, Kind: models.JobClustering}, &buf)
		require.Error(t, err)

		term := terminalEvents(decodeEvents(t, &buf))
		require.Len(t, term, 1)
		assert.Equal(t, "error", term[0].Type)

		entries, rdErr := os.ReadDir(tmpRoot)
		require.NoError(t, rdErr)
		assert.Empty(t, entries, "job working directory must be removed after a failure")
	})

	t.Run("cancelled mid-run", func(t *testing.T) {
		fs := &fakeStore{keywords: []*models.Keyword{
			{ID: 1, Text: "a"}, {ID: 2, Text: "b"}, {ID: 3, Text: "c"},
		}}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fetcher := services.NewFetcher(&cancellingProvider{cancel: cancel}, cache.NewMemoryCache())
		o := NewOrchestrator(fs, fetcher, NewRegistry(), noRetry)

		var buf bytes.Buffer
		err := o.Run(ctx, models.JobParams{Scope: 1, Kind: models.JobClustering}, &buf)
		require.ErrorIs(t, err, models.ErrAborted)

		term := terminalEvents(decodeEvents(t, &buf))
		require.Len(t, term, 1)
		assert.Equal(t, "stopped", term[0].Type)

		entries, rdErr := os.ReadDir(tmpRoot)
		require.NoError(t, rdErr)
		assert.Empty(t, entries, "job working directory must be removed after cancellation")
	})
}

func TestRunRejectsSecondJobForSameScopeAndKind(t *testing.T) {
	fs := &fakeStore{keywords: []*models.Keyword{{ID: 1, Text: "apple"}}}
	o := newOrchestrator(fs, &fakeProvider{})

	require.NoError(t, o.registry.Begin(1, models.JobClustering, func() {}))

	var buf bytes.Buffer
	err := o.Run(context.Background(), models.JobParams{Scope: 1, Kind: models.JobClustering}, &buf)
	require.ErrorIs(t, err, models.ErrConflict)

	term := terminalEvents(decodeEvents(t, &buf))
	require.Len(t, term, 1)
	assert.Equal(t, "error", term[0].Type)
}

func TestRunRejectsUnknownKind(t *testing.T) {
	o := newOrchestrator(&fakeStore{}, &fakeProvider{})
	var buf bytes.Buffer
	err := o.Run(context.Background(), models.JobParams{Scope: 1, Kind: "nonsense"}, &buf)
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestRunEmptyScope(t *testing.T) {
	o := newOrchestrator(&fakeStore{}, &fakeProvider{})
	var buf bytes.Buffer
	require.NoError(t, o.Run(context.Background(), models.JobParams{Scope: 1, Kind: models.JobClustering}, &buf))

	events := decodeEvents(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].Type)
	assert.Zero(t, events[0].Total)
}
