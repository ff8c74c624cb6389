// Package app builds the long-lived services behind the patent API and owns
// their shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/api"
	"github.com/JakeFAU/patent-crawler/internal/clock/system"
	"github.com/JakeFAU/patent-crawler/internal/config"
	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/detail"
	"github.com/JakeFAU/patent-crawler/internal/engine"
	collyfetcher "github.com/JakeFAU/patent-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/patent-crawler/internal/fetcher/headless"
	hashsha "github.com/JakeFAU/patent-crawler/internal/hash/sha256"
	"github.com/JakeFAU/patent-crawler/internal/id/uuid"
	"github.com/JakeFAU/patent-crawler/internal/metrics"
	"github.com/JakeFAU/patent-crawler/internal/middleware"
	"github.com/JakeFAU/patent-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/patent-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/patent-crawler/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/patent-crawler/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/patent-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/patent-crawler/internal/search"
	gcsstorage "github.com/JakeFAU/patent-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/patent-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/patent-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/patent-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/patent-crawler/internal/storage/redis"
	"github.com/JakeFAU/patent-crawler/internal/telemetry"
	"github.com/JakeFAU/patent-crawler/internal/worker"
)

// Options tune Build for embedding and tests.
type Options struct {
	// Registerer receives the progress collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// LocalNotices routes run notices to an in-process publisher when no
	// Pub/Sub topic is configured.
	LocalNotices bool
}

type resultStore interface {
	crawler.ResultStore
	crawler.ResultReader
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	engine    *engine.Engine
	pool      *worker.Pool
	apiServer *api.Server
	hub       *progress.Hub

	results       resultStore
	sessions      *pgstore.SessionStore
	redisStore    *redisstore.ResultStore
	gcsClient     *storage.Client
	pubsubClient  *pubsub.Client
	gcpPublisher  *gcppublisher.Publisher
	natsPublisher *natspublisher.Publisher
	notices       *memorypublisher.Publisher
}

// Build creates the application's dependencies. The worker pool is not
// started until Serve.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("fetch_mode", cfg.Crawler.FetchMode),
	)

	telemetry.InitPropagation()

	if err := a.setupProgress(opts.Registerer); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.setupStorage(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	publisher, topic, err := a.setupPublisher(ctx, opts.LocalNotices)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.setupEngine(publisher, topic); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.pool = worker.New(a.engine, worker.Config{QueueDepth: cfg.Worker.QueueDepth}, logger.Named("worker"))
	metrics.RegisterQueueDepth(a.pool.Depth)
	a.apiServer = api.NewServer(a.apiConfig(), api.Deps{
		Runs:    a.pool,
		Results: a.results,
		Ready:   a.ready,
		Logger:  logger.Named("api"),
	})
	return a, nil
}

// Engine exposes the extraction engine for one-shot callers.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Notices returns the in-process notices, or nil when they are not enabled.
func (a *App) Notices() []memorypublisher.Message {
	if a.notices == nil {
		return nil
	}
	return a.notices.Messages()
}

// Serve starts the worker pool and the HTTP server and blocks until ctx is
// canceled or the server fails. It does not release resources; call Close.
func (a *App) Serve(ctx context.Context) error {
	poolCtx, stopPool := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		a.logger.Info("worker pool started", zap.Int("queue_depth", a.cfg.Worker.QueueDepth))
		a.pool.Run(poolCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err = <-serveErr:
		a.logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Error("server shutdown error", zap.Error(shutdownErr))
	}
	a.pool.Close()
	stopPool()
	<-poolDone
	return err
}

// Close gracefully shuts down the application. It is safe on a partially
// built App.
func (a *App) Close(ctx context.Context) {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.natsPublisher != nil {
		a.natsPublisher.Close()
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.redisStore != nil {
		if err := a.redisStore.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.hub = progress.NewHub(
		progress.HubConfig{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress")),
		promSink,
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case "none":
		a.logger.Info("result storage disabled")
	case "local":
		a.results, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local result store init failed: %w", err)
		}
		a.logger.Info("using local result store", zap.String("path", a.cfg.Storage.LocalDir))
	case "gcs":
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.results, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs result store init failed: %w", err)
		}
		a.logger.Info("using gcs result store", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case "postgres":
		a.sessions, err = pgstore.NewSessionStore(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("session store init failed: %w", err)
		}
		if a.cfg.DB.AutoMigrate {
			if err := a.sessions.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("session store migrate failed: %w", err)
			}
		}
		a.results = a.sessions
		a.logger.Info("using postgres session store", zap.String("table", a.cfg.DB.Table))
	case "redis":
		a.redisStore, err = redisstore.New(ctx, redisstore.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Prefix:   a.cfg.Storage.Prefix,
			TTL:      time.Duration(a.cfg.Redis.TTLHours) * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("redis result store init failed: %w", err)
		}
		a.results = a.redisStore
		a.logger.Info("using redis result store", zap.String("addr", a.cfg.Redis.Addr))
	default:
		a.results = memorystorage.NewResultStore()
		a.logger.Info("using in-memory result store")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context, local bool) (crawler.Publisher, string, error) {
	if a.cfg.NATS.URL != "" {
		var err error
		a.natsPublisher, err = natspublisher.Connect(a.cfg.NATS.URL)
		if err != nil {
			return nil, "", fmt.Errorf("nats publisher init failed: %w", err)
		}
		a.logger.Info("nats publisher initialized", zap.String("subject", a.cfg.NATS.Subject))
		return a.natsPublisher, a.cfg.NATS.Subject, nil
	}
	if a.cfg.PubSub.TopicName == "" {
		if !local {
			a.logger.Info("no notice transport configured, run notices disabled")
			return nil, "", nil
		}
		a.notices = memorypublisher.New()
		return a.notices, "local", nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher = gcppublisher.New(a.pubsubClient)
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.gcpPublisher, a.cfg.PubSub.TopicName, nil
}

func (a *App) setupEngine(publisher crawler.Publisher, topic string) error {
	clock := system.New()
	searchWalker, err := search.NewWalker(search.Config{
		BaseURL:          a.cfg.Search.BaseURL,
		AlternateBaseURL: a.cfg.Search.AlternateBaseURL,
		AlternateEnabled: a.cfg.Search.AlternateEnabled,
	}, a.logger.Named("search"))
	if err != nil {
		return fmt.Errorf("search walker init failed: %w", err)
	}
	detailWalker := detail.NewWalker(detail.Config{}, nil, clock, a.logger.Named("detail"))

	timeout := time.Duration(a.cfg.Crawler.TimeoutSeconds) * time.Second
	deps := engine.Deps{
		HTTP: collyfetcher.NewLauncher(collyfetcher.Config{
			UserAgent:      a.cfg.Crawler.UserAgent,
			AcceptLanguage: a.cfg.Crawler.AcceptLanguage,
			Timeout:        timeout,
		}),
		Browser: headlessfetcher.NewLauncher(headlessfetcher.Config{
			UserAgent:         a.cfg.Crawler.UserAgent,
			AcceptLanguage:    a.cfg.Crawler.AcceptLanguage,
			ExecPath:          a.cfg.Headless.ExecPath,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSeconds) * time.Second,
			WaitTimeout:       time.Duration(a.cfg.Headless.WaitTimeoutSeconds) * time.Second,
			LaunchTimeout:     time.Duration(a.cfg.Headless.LaunchTimeoutSeconds) * time.Second,
		}, a.logger.Named("headless")),
		Store:     a.results,
		Search:    searchWalker,
		Detail:    detailWalker,
		Publisher: publisher,
		Clock:     clock,
		IDs:       uuid.New(),
		Digester:  hashsha.New(),
		Monitor:   a.hub,
		Logger:    a.logger.Named("engine"),
	}
	a.engine, err = engine.New(engine.Config{Defaults: a.cfg.RunDefaults(), Topic: topic}, deps)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	return nil
}

func (a *App) apiConfig() api.Config {
	cfg := api.Config{
		DefaultMaxResults: a.cfg.Crawler.MaxResultsDefault,
		MaxResultsLimit:   a.cfg.Server.MaxResultsLimit,
		FetchMode:         a.cfg.RunDefaults().FetchMode,
		RequestTimeout:    a.cfg.RequestTimeout(),
		CORSOrigins:       a.cfg.Server.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimit.RequestsPerSecond,
			Burst:             a.cfg.RateLimit.Burst,
		},
	}
	if a.cfg.Auth.Enabled {
		cfg.APIKeys = []string{a.cfg.Auth.APIKey}
	}
	return cfg
}

func (a *App) ready(ctx context.Context) error {
	switch {
	case a.sessions != nil:
		return a.sessions.Ping(ctx)
	case a.redisStore != nil:
		return a.redisStore.Ping(ctx)
	default:
		return nil
	}
}
