package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobtracker/internal/adapter"
	"github.com/amishk599/jobtracker/internal/cache"
	"github.com/amishk599/jobtracker/internal/config"
	"github.com/amishk599/jobtracker/internal/model"
	"github.com/amishk599/jobtracker/internal/notifier"
	"github.com/amishk599/jobtracker/internal/ratelimit"
	"github.com/amishk599/jobtracker/internal/reconcile"
	"github.com/amishk599/jobtracker/internal/retry"
	"github.com/amishk599/jobtracker/internal/store"
	"github.com/amishk599/jobtracker/internal/tracker"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobtracker",
	Short: "Track USAJobs postings in a deduplicated store",
	Long:  "jobtracker fetches USAJobs postings, normalizes them, and keeps one current record per posting.",
	// Default to `start` so the bare binary runs the scheduler.
	RunE:         runStart,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: JOBTRACKER_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > JOBTRACKER_CONFIG env var > "./config.yaml".
// A missing ./config.yaml falls back to defaults and environment variables.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("JOBTRACKER_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// setup loads config and a logger, reporting a config failure through the
// logger like every other command error.
func setup() (*config.Config, *slog.Logger, error) {
	logger := setupLogger(debug)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (model.Store, error) {
	var (
		s   model.Store
		err error
	)
	connectCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()

	switch cfg.Driver {
	case config.DriverSQLite:
		s, err = store.NewSQLiteStore(cfg.Path)
	case config.DriverPostgres:
		s, err = store.NewPostgresStore(connectCtx, cfg.URL)
	case config.DriverMongo:
		s, err = store.NewMongoStore(connectCtx, cfg.MongoURI, cfg.Database, cfg.Collection)
	case config.DriverMemory:
		s = store.NewMemoryStore()
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}
	logger.Info("store opened", "driver", cfg.Driver)
	return s, nil
}

func setupNotifier(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) model.Notifier {
	switch cfg.Notification.Type {
	case "slack":
		logger.Info("using slack notifier")
		return notifier.NewSlackNotifier(cfg.Notification.WebhookURL, httpClient, logger)
	default:
		return notifier.NewLogNotifier(logger)
	}
}

// buildSearcher stacks the source decorators: cache → retry → USAJobs, with
// the rate limiter applied to every page request. The returned cleanup closes
// the Redis client when one was opened.
func buildSearcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (model.Searcher, func(), error) {
	if err := cfg.USAJobs.RequireCredentials(); err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{Timeout: cfg.USAJobs.Timeout}
	limiter := ratelimit.NewSourceLimiter(cfg.RateLimit.MinDelay)

	var searcher model.Searcher = adapter.NewUSAJobsAdapter(
		cfg.USAJobs.BaseURL,
		cfg.USAJobs.APIUser,
		cfg.USAJobs.APIKey,
		httpClient,
		adapter.WithResultsPerPage(cfg.USAJobs.ResultsPerPage),
		adapter.WithMaxPages(cfg.USAJobs.MaxPages),
		adapter.WithConcurrency(cfg.USAJobs.Concurrency),
		adapter.WithLimiter(limiter),
		adapter.WithLogger(logger),
	)
	searcher = retry.NewRetrySearcher(searcher, cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, logger)

	cleanup := func() {}
	if cfg.Cache.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { client.Close() }
		searcher = cache.NewCachedSearcher(searcher, cache.NewRedisCache(client), cfg.Cache.TTL, logger)
		logger.Info("search cache enabled", "ttl", cfg.Cache.TTL.String())
	}
	return searcher, cleanup, nil
}

// app bundles everything a command that runs fetch cycles needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   model.Store
	tracker *tracker.Tracker
	cleanup func()
}

func (a *app) Close() {
	a.cleanup()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	searcher, cleanup, err := buildSearcher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	engine := reconcile.NewEngine(s, logger, reconcile.WithOpTimeout(cfg.Store.OpTimeout))
	n := setupNotifier(cfg, &http.Client{Timeout: cfg.USAJobs.Timeout}, logger)
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   s,
		tracker: tracker.New(searcher, engine, n, logger),
		cleanup: cleanup,
	}, nil
}
