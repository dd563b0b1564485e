package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"googlemaps.github.io/maps"

	database "github.com/FACorreiaa/go-trip-planner/app/db"
	"github.com/FACorreiaa/go-trip-planner/config"
	"github.com/FACorreiaa/go-trip-planner/internal/api/cache"
	generativeAI "github.com/FACorreiaa/go-trip-planner/internal/api/generative_ai"
	"github.com/FACorreiaa/go-trip-planner/internal/api/itinerary"
	"github.com/FACorreiaa/go-trip-planner/internal/api/place"
	"github.com/FACorreiaa/go-trip-planner/internal/api/planner"
	"github.com/FACorreiaa/go-trip-planner/internal/api/preference"
	"github.com/FACorreiaa/go-trip-planner/internal/api/session"
	"github.com/FACorreiaa/go-trip-planner/internal/api/store"
	"github.com/FACorreiaa/go-trip-planner/internal/api/survey"
	"github.com/FACorreiaa/go-trip-planner/internal/background"
)

// Container holds every long-lived dependency. It owns the pool, the cache and the runner.
type Container struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Cache    *cache.Cache
	Listener *cache.ExpiryListener
	Runner   *background.Runner

	Repository  *store.RepositoryImpl
	Sessions    *session.ServiceImpl
	Places      *place.ServiceImpl
	Preferences *preference.ServiceImpl
	Reconciler  *itinerary.Reconciler
	Planner     *planner.ServiceImpl
	Surveys     *survey.ServiceImpl
}

// NewContainer builds the dependency graph. Nothing is started; call Listener.Start once serving.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(ctx, dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	c := &Container{Config: cfg, Logger: logger, Pool: pool}

	aiClient, err := generativeAI.NewAIClient(ctx, generativeAI.ClientConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create language client: %w", err)
	}

	mapsClient, err := maps.NewClient(maps.WithAPIKey(cfg.Maps.APIKey))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}

	c.Cache, c.Listener = newCacheTier(cfg, logger)
	c.Runner = background.NewRunner(cfg.Enrichment.Workers, logger)
	c.Repository = store.NewRepository(pool, logger)

	lang := generativeAI.NewLanguageService(aiClient, cfg.LLM.Temperature, logger)
	classifier := generativeAI.NewIntentClassifier(lang, logger)

	c.Sessions = session.NewService(c.Cache, c.Repository, c.Runner, logger)
	c.Places = place.NewService(c.Cache, c.Repository, place.NewMapsProvider(mapsClient, cfg.Maps.Language), lang, c.Runner,
		place.Options{
			MaxSubItems: cfg.Enrichment.MaxSubItems,
			LockTTL:     cfg.Cache.LockTTL,
		}, logger)
	c.Preferences = preference.NewService(c.Repository, lang, c.Places, c.Sessions, cfg.Preference.Steepness, logger)
	c.Reconciler = itinerary.NewReconciler(itinerary.NewMapsRouteFinder(mapsClient, c.Places), itinerary.Options{
		WalkLimit:   cfg.Itinerary.WalkLimit,
		Parallelism: cfg.Itinerary.Parallelism,
	}, logger)
	c.Planner = planner.NewService(c.Sessions, c.Preferences, c.Places, c.Reconciler, lang, classifier, c.Runner,
		planner.Options{
			HistoryWindow:  cfg.Planner.HistoryWindow,
			RecommendCount: cfg.Planner.RecommendCount,
			MinViewSeconds: cfg.Planner.MinViewSeconds,
		}, logger)

	c.Surveys = survey.NewService(c.Repository, cfg.Survey.Retention, logger)

	logger.Info("Container initialized")
	return c, nil
}

// newCacheTier builds the ephemeral cache and the listener that cascades its session expiries.
func newCacheTier(cfg *config.Config, logger *slog.Logger) (*cache.Cache, *cache.ExpiryListener) {
	c := cache.New(cache.Options{
		SessionTTL:      cfg.Cache.SessionTTL,
		PlaceTTL:        cfg.Cache.PlaceTTL,
		LockTTL:         cfg.Cache.LockTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
		EventBuffer:     cfg.Cache.EventBuffer,
	}, logger)
	return c, cache.NewExpiryListener(c, cfg.Cache.SweepInterval, logger)
}

// Close stops the listener, drains background tasks and releases the cache and pool.
// Every step runs; failures are collected.
func (c *Container) Close(ctx context.Context) error {
	var result *multierror.Error

	if c.Listener != nil {
		c.Listener.Stop()
	}
	if c.Runner != nil {
		if err := c.Runner.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("background runner: %w", err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("cache: %w", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	return result.ErrorOrNil()
}

func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}
