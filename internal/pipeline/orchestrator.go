// Package pipeline sequences a grouping job end to end: validate, clear stale
// results, embed the reference set, stream keyword embeddings through a
// temporary hand-off file, run the matching algorithm, and report
// line-delimited progress/result events. Temporary resources are released on
// every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"semgroup/internal/grouping"
	"semgroup/internal/models"
	"semgroup/internal/services"
	"semgroup/internal/store"
	"semgroup/internal/streamio"
	"semgroup/internal/vectormath"
)

const (
	defaultPageSize = 500

	defaultThreshold          = 0.80
	defaultEps                = 0.25
	defaultMinPts             = 2
	defaultDuplicateThreshold = 0.97
	defaultMinSimilarity      = 0.75
)

const (
	stageReference = "reference"
	stageItems     = "items"
)

// Options carries the configured tunables one orchestrator applies to every
// job. Per-job overrides arrive via models.JobParams.
type Options struct {
	PageSize int
	Fetch    services.FetchOptions
}

// Orchestrator runs grouping jobs against a target store, one at a time per
// (scope, kind) pair.
type Orchestrator struct {
	store    store.TargetStore
	fetcher  *services.Fetcher
	registry *Registry
	opts     Options
}

func NewOrchestrator(ts store.TargetStore, fetcher *services.Fetcher, registry *Registry, opts Options) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Orchestrator{store: ts, fetcher: fetcher, registry: registry, opts: opts}
}

func applyParamDefaults(p *models.JobParams) {
	if p.Algorithm == "" {
		p.Algorithm = "components"
	}
	if p.Threshold <= 0 {
		p.Threshold = defaultThreshold
	}
	if p.Eps <= 0 {
		p.Eps = defaultEps
	}
	if p.MinPts <= 0 {
		p.MinPts = defaultMinPts
	}
	if p.DuplicateThreshold <= 0 {
		p.DuplicateThreshold = defaultDuplicateThreshold
	}
	if p.MinSimilarity <= 0 {
		p.MinSimilarity = defaultMinSimilarity
	}
}

// Run executes one job and streams its events to out. It blocks until the job
// reaches a terminal state. The returned error is nil on success, wraps
// models.ErrAborted when the job was stopped, and carries the failure
// otherwise; in every case exactly one terminal event has been emitted.
func (o *Orchestrator) Run(ctx context.Context, params models.JobParams, out io.Writer) error {
	em := NewEmitter(out)

	if !params.Kind.Valid() {
		err := fmt.Errorf("%w: unknown job kind %q", models.ErrValidation, params.Kind)
		em.Error(userMessage(err))
		return err
	}
	applyParamDefaults(&params)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.registry.Begin(params.Scope, params.Kind, cancel); err != nil {
		em.Error(userMessage(err))
		return err
	}

	logger := log.WithFields(log.Fields{"scope": params.Scope, "kind": params.Kind})
	logger.Info("job started")

	err := o.run(runCtx, params, em, logger)
	switch {
	case err == nil:
		o.setState(params, models.StateDone, "")
		logger.Info("job finished")
	case errors.Is(err, models.ErrAborted) || errors.Is(err, context.Canceled):
		em.Stopped()
		o.setState(params, models.StateCancelled, "")
		logger.Info("job stopped")
	default:
		msg := userMessage(err)
		em.Error(msg)
		o.setState(params, models.StateErrored, msg)
		logger.WithError(err).Error("job failed")
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, params models.JobParams, em *Emitter, logger *log.Entry) error {
	o.setState(params, models.StatePreparing, "")

	seeds, err := o.loadReferenceSeeds(ctx, params)
	if err != nil {
		return err
	}

	// Incremental clustering consumes the prior assignments it is about to
	// extend, so they are read before the clear below.
	var prior map[int64]string
	if params.Kind == models.JobClustering && params.Algorithm == "incremental" {
		prior, err = o.loadPriorClusters(ctx, params)
		if err != nil {
			return err
		}
	}

	if err := o.store.ClearPriorResults(ctx, params.Scope, params.Kind); err != nil {
		logger.WithError(err).Warn("failed to clear prior results, continuing")
	}

	total, err := o.store.CountTargets(ctx, params.Scope)
	if err != nil {
		return fmt.Errorf("count targets: %w", err)
	}
	o.registry.Update(params.Scope, params.Kind, func(st *models.JobStatus) { st.Total = total })
	if total == 0 {
		em.Done(0, 0)
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "semgroup-job-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			logger.WithError(rmErr).Warn("failed to remove temp dir")
		}
	}()

	refs, err := o.embedReferences(ctx, params, seeds, em)
	if err != nil {
		return err
	}

	handoff, err := o.embedItems(ctx, params, tmpDir, total, refs, em)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrAborted, err)
	}
	o.setState(params, models.StateAlgorithm, "")

	var processed int
	switch params.Kind {
	case models.JobClustering:
		processed, err = o.runClustering(ctx, params, handoff, prior, em)
	default:
		processed, err = o.runClassification(ctx, params, handoff, refs, em)
	}
	if err != nil {
		return err
	}

	o.setState(params, models.StateReporting, "")
	em.Done(total, processed)
	return nil
}

// refSeed is one reference-set entry before embedding: the label the keyword
// will be assigned, and the text actually submitted to the provider.
type refSeed struct {
	label string
	text  string
}

// loadReferenceSeeds reads and validates the reference set. Clustering has
// none; categorization needs at least 2 categories (the label is also the
// embedded text); typing needs samples for at least 2 distinct labels.
func (o *Orchestrator) loadReferenceSeeds(ctx context.Context, params models.JobParams) ([]refSeed, error) {
	switch params.Kind {
	case models.JobCategorization:
		cats, err := o.store.ListCategories(ctx, params.Scope)
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		if len(cats) < 2 {
			return nil, fmt.Errorf("%w: categorization needs at least 2 categories, found %d", models.ErrValidation, len(cats))
		}
		seeds := make([]refSeed, len(cats))
		for i, c := range cats {
			seeds[i] = refSeed{label: c.Label, text: c.Label}
		}
		return seeds, nil

	case models.JobTyping:
		samples, err := o.store.ListTypeSamples(ctx, params.Scope)
		if err != nil {
			return nil, fmt.Errorf("list type samples: %w", err)
		}
		labels := make(map[string]bool, len(samples))
		seeds := make([]refSeed, len(samples))
		for i, s := range samples {
			labels[s.Label] = true
			seeds[i] = refSeed{label: s.Label, text: s.Text}
		}
		if len(labels) < 2 {
			return nil, fmt.Errorf("%w: typing needs samples for at least 2 distinct labels, found %d", models.ErrValidation, len(labels))
		}
		return seeds, nil

	default:
		return nil, nil
	}
}

// embedReferences resolves vectors for the reference set. For typing the
// per-sample vectors are collapsed into one centroid per label.
func (o *Orchestrator) embedReferences(ctx context.Context, params models.JobParams, seeds []refSeed, em *Emitter) ([]grouping.Reference, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	o.setState(params, models.StateEmbeddingRef, "")

	texts := make([]string, len(seeds))
	for i, s := range seeds {
		texts[i] = s.text
	}

	opts := o.opts.Fetch
	opts.OnProgress = func(fetched, total int) { em.Progress(stageReference, fetched, total) }
	vectors, _, err := o.fetcher.EmbedTexts(ctx, texts, opts)
	if err != nil {
		return nil, err
	}

	refs := make([]grouping.Reference, len(seeds))
	for i, s := range seeds {
		refs[i] = grouping.Reference{Label: s.label, Vector: vectors[i]}
	}
	em.Progress(stageReference, len(refs), len(refs))

	if params.Kind == models.JobTyping {
		refs = grouping.CentroidsByLabel(refs)
	}
	return refs, nil
}

// handoffRecord is the wire shape of one keyword in the hand-off file.
type handoffRecord struct {
	ID     int64     `json:"id"`
	Text   string    `json:"text"`
	Source string    `json:"source,omitempty"`
	Vector []float64 `json:"vector,omitempty"`
}

func (r handoffRecord) point() grouping.Point {
	return grouping.Point{ID: r.ID, Text: r.Text, Source: r.Source, Vector: r.Vector}
}

// embedItems pages keywords out of the store, attaches embeddings, and
// streams them to the hand-off file. Categorization writes one JSON document
// with "categories" and "keywords" array fields; typing and clustering write
// newline-delimited records. Returns the file path.
func (o *Orchestrator) embedItems(ctx context.Context, params models.JobParams, tmpDir string, total int, refs []grouping.Reference, em *Emitter) (string, error) {
	o.setState(params, models.StateEmbedding, "")

	path := filepath.Join(tmpDir, "handoff.json")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create hand-off file: %w", err)
	}
	defer f.Close()

	var writeRec func(any) error
	var finish func() error
	if params.Kind == models.JobCategorization {
		cw := streamio.NewCollectionWriter(f)
		if err := cw.BeginField("categories"); err != nil {
			return "", err
		}
		for _, ref := range refs {
			if err := cw.WriteRecord(ref); err != nil {
				return "", err
			}
		}
		if err := cw.EndField(); err != nil {
			return "", err
		}
		if err := cw.BeginField("keywords"); err != nil {
			return "", err
		}
		writeRec = cw.WriteRecord
		finish = cw.Close
	} else {
		lw := streamio.NewLineWriter(f)
		writeRec = lw.Write
		finish = func() error { return nil }
	}

	processed := 0
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrAborted, err)
		}
		page, err := o.store.PageKeywords(ctx, params.Scope, afterID, o.opts.PageSize)
		if err != nil {
			return "", fmt.Errorf("page keywords: %w", err)
		}
		if len(page) == 0 {
			break
		}

		if _, err := o.fetcher.AttachKeywords(ctx, page, o.opts.Fetch); err != nil {
			return "", err
		}
		for _, kw := range page {
			rec := handoffRecord{ID: kw.ID, Text: kw.Text, Source: kw.Source, Vector: kw.Embedding}
			if err := writeRec(rec); err != nil {
				return "", err
			}
		}

		processed += len(page)
		afterID = page[len(page)-1].ID
		em.Progress(stageItems, processed, total)
		o.registry.Update(params.Scope, params.Kind, func(st *models.JobStatus) { st.Processed = processed })
	}
	if err := finish(); err != nil {
		return "", err
	}
	return path, nil
}

// openHandoff returns a scan function yielding hand-off records one at a
// time, matching the shape embedItems wrote for the kind.
func openHandoff(path string, kind models.JobKind) (scan func(any) (bool, error), closeFn func(), err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open hand-off file: %w", err)
	}
	if kind == models.JobCategorization {
		fs := streamio.NewFieldScanner(f, "keywords")
		return fs.Next, func() { f.Close() }, nil
	}
	ls := streamio.NewLineScanner(f)
	return ls.Next, func() { f.Close() }, nil
}

// runClassification scans the hand-off file in bounded batches, matching each
// point against the reference set and persisting matched assignments.
func (o *Orchestrator) runClassification(ctx context.Context, params models.JobParams, handoff string, refs []grouping.Reference, em *Emitter) (int, error) {
	scan, closeFn, err := openHandoff(handoff, params.Kind)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	processed := 0
	batch := make([]grouping.Point, 0, o.opts.PageSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, res := range grouping.Classify(batch, refs, params.MinSimilarity) {
			processed++
			if !res.Matched {
				continue
			}
			a := &models.Assignment{
				KeywordID:  res.Point.ID,
				Kind:       params.Kind,
				Label:      res.Label,
				Similarity: res.Similarity,
			}
			if err := o.store.WriteAssignment(ctx, a); err != nil {
				return fmt.Errorf("write assignment: %w", err)
			}
			em.Result(res.Point.ID, res.Label, "", res.Similarity)
		}
		batch = batch[:0]
		return nil
	}

	for {
		var rec handoffRecord
		ok, err := scan(&rec)
		if err != nil {
			return processed, err
		}
		if !ok {
			break
		}
		batch = append(batch, rec.point())
		if len(batch) == o.opts.PageSize {
			if err := ctx.Err(); err != nil {
				return processed, fmt.Errorf("%w: %v", models.ErrAborted, err)
			}
			if err := flush(); err != nil {
				return processed, err
			}
		}
	}
	if err := flush(); err != nil {
		return processed, err
	}
	return processed, nil
}

// runClustering loads the full point set (the algorithms are global) and
// persists one assignment per cluster member.
func (o *Orchestrator) runClustering(ctx context.Context, params models.JobParams, handoff string, prior map[int64]string, em *Emitter) (int, error) {
	scan, closeFn, err := openHandoff(handoff, params.Kind)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	var points []grouping.Point
	for {
		var rec handoffRecord
		ok, err := scan(&rec)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		points = append(points, rec.point())
	}

	var clusters []grouping.Cluster
	switch params.Algorithm {
	case "components":
		clusters = grouping.BuildComponents(points, params.Threshold)
	case "dbscan":
		clusters = grouping.BuildDBSCAN(points, params.Eps, params.MinPts)
	case "incremental":
		clusters = o.incrementalClusters(points, prior, params)
	default:
		return 0, fmt.Errorf("%w: unknown clustering algorithm %q", models.ErrValidation, params.Algorithm)
	}

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrAborted, err)
	}

	processed := 0
	for _, c := range clusters {
		for _, p := range c.Points {
			sim := vectormath.CosineSimilarity(p.Vector, c.Centroid)
			a := &models.Assignment{
				KeywordID:  p.ID,
				Kind:       params.Kind,
				ClusterID:  c.ID,
				Similarity: sim,
			}
			if err := o.store.WriteAssignment(ctx, a); err != nil {
				return processed, fmt.Errorf("write assignment: %w", err)
			}
			em.Result(p.ID, "", c.ID, sim)
			processed++
		}
	}
	return processed, nil
}

// incrementalClusters reconstitutes the prior cluster set from persisted
// assignments and greedily folds the remaining points into it.
func (o *Orchestrator) incrementalClusters(points []grouping.Point, prior map[int64]string, params models.JobParams) []grouping.Cluster {
	now := time.Now()
	byCluster := make(map[string][]grouping.Point)
	var order []string
	var fresh []grouping.Point
	for _, p := range points {
		if id, ok := prior[p.ID]; ok {
			if _, seen := byCluster[id]; !seen {
				order = append(order, id)
			}
			byCluster[id] = append(byCluster[id], p)
			continue
		}
		fresh = append(fresh, p)
	}

	existing := make([]grouping.Cluster, 0, len(order))
	for _, id := range order {
		existing = append(existing, grouping.RebuildCluster(id, byCluster[id], now))
	}

	updated, _ := grouping.AddToExisting(fresh, existing, grouping.IncrementalOptions{
		Threshold:          params.Threshold,
		DuplicateThreshold: params.DuplicateThreshold,
	})
	return updated
}

func (o *Orchestrator) loadPriorClusters(ctx context.Context, params models.JobParams) (map[int64]string, error) {
	prior, err := o.store.ListAssignments(ctx, params.Scope, params.Kind)
	if err != nil {
		return nil, fmt.Errorf("list prior assignments: %w", err)
	}
	out := make(map[int64]string, len(prior))
	for _, a := range prior {
		if a.ClusterID != "" {
			out[a.KeywordID] = a.ClusterID
		}
	}
	return out, nil
}

func (o *Orchestrator) setState(params models.JobParams, s models.JobState, msg string) {
	o.registry.Update(params.Scope, params.Kind, func(st *models.JobStatus) {
		st.State = s
		st.Message = msg
	})
}

// Stop requests cooperative cancellation of the job for (scope, kind).
func (o *Orchestrator) Stop(scope int64, kind models.JobKind) error {
	return o.registry.Stop(scope, kind)
}

// Status returns the tracked snapshot for (scope, kind).
func (o *Orchestrator) Status(scope int64, kind models.JobKind) (models.JobStatus, bool) {
	return o.registry.Status(scope, kind)
}

const maxUserMessage = 300

// userMessage maps an internal error onto the single line shown to the user.
// Rate limiting gets an actionable hint; validation, conflict and
// stream-write errors already carry user-facing detail; everything else is
// reported generically.
func userMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrRateLimited):
		return "the embedding provider is rate limiting requests; wait a moment and start the job again"
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrStreamWrite):
		return truncate(err.Error(), maxUserMessage)
	default:
		return truncate("job failed: "+err.Error(), maxUserMessage)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
