package services

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"semgroup/internal/cache"
	"semgroup/internal/models"
)

// FetchOptions tunes one AttachEmbeddings run. Zero values fall back to the
// defaults below.
type FetchOptions struct {
	// ChunkSize is the number of texts per provider request.
	ChunkSize int
	// InterChunkDelay is slept between chunks to reduce burstiness. It is
	// skipped after the last chunk.
	InterChunkDelay time.Duration
	// Retry bounds how often a failed chunk is re-submitted.
	Retry RetryStrategy
	// OnProgress, when set, is invoked after every chunk with the cumulative
	// count of provider-fetched texts and the total number of cache misses.
	OnProgress func(fetched, total int)
}

const (
	defaultChunkSize       = 64
	defaultInterChunkDelay = 50 * time.Millisecond
)

func (o *FetchOptions) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.InterChunkDelay <= 0 {
		o.InterChunkDelay = defaultInterChunkDelay
	}
	if o.Retry == nil {
		o.Retry = &SimpleRetryStrategy{MaxAttempts: 3, BaseDelayMs: 200}
	}
}

// FetchStats summarizes one AttachEmbeddings run.
type FetchStats struct {
	Total    int `json:"total"`    // input texts
	Embedded int `json:"embedded"` // texts holding a vector afterwards
	Fetched  int `json:"fetched"`  // texts resolved via the provider
	Missing  int `json:"missing"`  // texts left without a vector
}

// Fetcher resolves embeddings for batches of texts, consulting the cache
// first and fetching only misses from the provider in bounded sequential
// chunks. Chunks are deliberately not submitted concurrently: one job shares
// a single provider rate-limit budget.
type Fetcher struct {
	provider EmbeddingProvider
	cache    cache.Cache
}

func NewFetcher(provider EmbeddingProvider, c cache.Cache) *Fetcher {
	return &Fetcher{provider: provider, cache: c}
}

// EmbedTexts returns one vector per input text, aligned with the input; texts
// that could not be embedded have a nil entry and are counted in
// Stats.Missing. Partial results are kept on every error path, so callers
// must not assume all-or-nothing.
func (f *Fetcher) EmbedTexts(ctx context.Context, texts []string, opts FetchOptions) ([][]float64, FetchStats, error) {
	opts.applyDefaults()
	stats := FetchStats{Total: len(texts)}
	vectors := make([][]float64, len(texts))
	if len(texts) == 0 {
		return vectors, stats, nil
	}
	model := f.provider.ModelName()

	// Cache pass. A broken cache degrades to an always-miss cache and never
	// fails the run.
	cacheBroken := false
	var missIdx []int
	for i, text := range texts {
		if !cacheBroken && f.cache != nil {
			vec, found, err := f.cache.Get(ctx, text, model)
			if err != nil {
				log.Warnf("embedding cache unavailable, continuing without it: %v", err)
				cacheBroken = true
			} else if found {
				vectors[i] = vec
				stats.Embedded++
				continue
			}
		}
		missIdx = append(missIdx, i)
	}
	log.Debugf("embedding fetch: %d texts, %d cache hits, %d misses",
		len(texts), stats.Embedded, len(missIdx))

	totalMisses := len(missIdx)
	for start := 0; start < totalMisses; start += opts.ChunkSize {
		// Cancellation is observed at chunk boundaries only; an in-flight
		// request is left to its own timeout.
		if err := ctx.Err(); err != nil {
			stats.Missing = stats.Total - stats.Embedded
			return vectors, stats, fmt.Errorf("%w: %v", models.ErrAborted, err)
		}

		end := start + opts.ChunkSize
		if end > totalMisses {
			end = totalMisses
		}
		chunk := missIdx[start:end]
		chunkTexts := make([]string, len(chunk))
		for i, idx := range chunk {
			chunkTexts[i] = texts[idx]
		}

		vecs, err := f.fetchChunk(ctx, chunkTexts, opts.Retry)
		if err != nil {
			stats.Missing = stats.Total - stats.Embedded
			return vectors, stats, err
		}

		for i, idx := range chunk {
			vectors[idx] = vecs[i]
			stats.Embedded++
			stats.Fetched++
			if !cacheBroken && f.cache != nil {
				if perr := f.cache.Put(ctx, texts[idx], model, vecs[i]); perr != nil {
					log.Warnf("embedding cache write failed, continuing without it: %v", perr)
					cacheBroken = true
				}
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(stats.Fetched, totalMisses)
		}

		if end < totalMisses {
			select {
			case <-time.After(opts.InterChunkDelay):
			case <-ctx.Done():
				// The chunk-boundary check above turns this into Aborted.
			}
		}
	}

	stats.Missing = stats.Total - stats.Embedded
	return vectors, stats, nil
}

// fetchChunk submits one chunk with the bounded retry policy. Rate-limit
// errors are retried like any other failure but keep their ErrRateLimited
// identity when the budget is exhausted.
func (f *Fetcher) fetchChunk(ctx context.Context, texts []string, retry RetryStrategy) ([][]float64, error) {
	attempt := 0
	for {
		vecs, err := f.provider.GenerateEmbeddings(ctx, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				err = fmt.Errorf("%w: provider returned %d vectors for %d texts",
					models.ErrProvider, len(vecs), len(texts))
			} else {
				return vecs, nil
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrAborted, ctxErr)
		}

		backoffMs := retry.NextBackoff(attempt)
		if backoffMs < 0 {
			return nil, fmt.Errorf("chunk of %d texts failed after %d attempts: %w",
				len(texts), attempt+1, err)
		}
		log.Warnf("embedding chunk failed (attempt %d), retrying in %dms: %v", attempt+1, backoffMs, err)
		select {
		case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			attempt++
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrAborted, ctx.Err())
		}
	}
}

// AttachKeywords embeds each keyword's text and attaches the vectors in
// place, preserving slice order. On error the partial attachments are kept.
func (f *Fetcher) AttachKeywords(ctx context.Context, kws []*models.Keyword, opts FetchOptions) (FetchStats, error) {
	texts := make([]string, len(kws))
	for i, kw := range kws {
		texts[i] = kw.Text
	}
	vecs, stats, err := f.EmbedTexts(ctx, texts, opts)
	for i, v := range vecs {
		if v != nil {
			kws[i].Embedding = v
		}
	}
	return stats, err
}
