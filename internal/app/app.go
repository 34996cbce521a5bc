// Package app wires the configured components into one container the
// commands pull their dependencies from.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"semgroup/internal/cache"
	"semgroup/internal/config"
	"semgroup/internal/models"
	"semgroup/internal/pipeline"
	"semgroup/internal/services"
	"semgroup/internal/store"
	"semgroup/internal/store/sqlite"
)

type App struct {
	Config *config.Config

	Store        *sqlite.Store
	TargetStore  store.TargetStore
	UsageStore   store.UsageStore
	Cache        cache.Cache
	Provider     services.EmbeddingProvider
	Fetcher      *services.Fetcher
	Registry     *pipeline.Registry
	Orchestrator *pipeline.Orchestrator
	JobClient    store.JobClient
}

func NewApp(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initCache(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initProvider(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initPipeline()

	log.Debug("application initialization complete")
	return app, nil
}

func (a *App) initStore() error {
	s, err := sqlite.New(a.Config.Database.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	a.Store = s
	a.TargetStore = s
	a.UsageStore = s
	return nil
}

// initCache selects the configured cache backend. An unusable cache is not
// fatal here either; the fetcher degrades to full-miss behavior on its own,
// but a backend that cannot even open is reported so misconfiguration is
// visible at startup.
func (a *App) initCache() error {
	switch a.Config.Cache.Backend {
	case "memory":
		a.Cache = cache.NewMemoryCache()
	case "postgres":
		c, err := cache.NewPostgresCache(context.Background(), a.Config.Cache.DSN)
		if err != nil {
			return fmt.Errorf("init postgres cache: %w", err)
		}
		a.Cache = c
	case "sqlite", "":
		c, err := cache.NewSQLiteCache(a.Config.Cache.Path)
		if err != nil {
			return fmt.Errorf("init sqlite cache: %w", err)
		}
		a.Cache = c
	default:
		return fmt.Errorf("unknown cache backend %q", a.Config.Cache.Backend)
	}
	return nil
}

func (a *App) initProvider() error {
	emb := a.Config.Embedding
	switch emb.Provider {
	case "gemini":
		p, err := services.NewGeminiProvider(context.Background(), emb.GoogleApiKey, emb.GeminiModelName)
		if err != nil {
			return fmt.Errorf("init gemini provider: %w", err)
		}
		a.Provider = p
	case "openai", "":
		p, err := services.NewOpenAIProvider(emb.OpenaiApiKey, emb.Model, a.UsageStore)
		if err != nil {
			return fmt.Errorf("init openai provider: %w", err)
		}
		a.Provider = p
	default:
		return fmt.Errorf("unknown embedding provider %q", emb.Provider)
	}
	return nil
}

func (a *App) initPipeline() {
	a.Fetcher = services.NewFetcher(a.Provider, a.Cache)
	a.Registry = pipeline.NewRegistry()
	a.Orchestrator = pipeline.NewOrchestrator(a.TargetStore, a.Fetcher, a.Registry, pipeline.Options{
		PageSize: a.Config.Grouping.PageSize,
		Fetch:    a.fetchOptions(),
	})
}

func (a *App) fetchOptions() services.FetchOptions {
	emb := a.Config.Embedding
	return services.FetchOptions{
		ChunkSize:       emb.ChunkSize,
		InterChunkDelay: time.Duration(emb.InterChunkMs) * time.Millisecond,
		Retry: &services.SimpleRetryStrategy{
			MaxAttempts: emb.MaxAttempts,
			BaseDelayMs: int64(emb.BaseDelayMs),
		},
	}
}

// InitJobClient connects the Redis-backed job client. Only the commands that
// enqueue background work call this; the rest of the CLI works without Redis.
func (a *App) InitJobClient() error {
	if a.JobClient != nil {
		return nil
	}
	a.JobClient = store.NewAsynqJobClient(a.RedisOpt())
	return nil
}

func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// JobParamsDefaults seeds job parameters from configuration; per-command
// flags override individual fields afterwards.
func (a *App) JobParamsDefaults() models.JobParams {
	g := a.Config.Grouping
	return models.JobParams{
		Algorithm:          g.Algorithm,
		Threshold:          g.Threshold,
		Eps:                g.Eps,
		MinPts:             g.MinPts,
		DuplicateThreshold: g.DuplicateThreshold,
		MinSimilarity:      g.MinSimilarity,
	}
}

func (a *App) cleanupPartialInit() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if c, ok := a.Provider.(interface{ Close() error }); ok && c != nil {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("error closing embedding provider")
		}
	}
}

// Close releases every held resource. Safe to call once at shutdown.
func (a *App) Close() {
	if a.JobClient != nil {
		a.JobClient.Close()
	}
	a.cleanupPartialInit()
}
