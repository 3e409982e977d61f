// Package server builds the application's dependency graph from
// configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/alert"
	"github.com/JakeFAU/pricewatch/internal/api"
	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/clock/system"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/history"
	"github.com/JakeFAU/pricewatch/internal/id/uuid"
	"github.com/JakeFAU/pricewatch/internal/listing"
	collysource "github.com/JakeFAU/pricewatch/internal/listing/colly"
	headlesssource "github.com/JakeFAU/pricewatch/internal/listing/headless"
	"github.com/JakeFAU/pricewatch/internal/mail/logmail"
	"github.com/JakeFAU/pricewatch/internal/mail/relay"
	smtpmail "github.com/JakeFAU/pricewatch/internal/mail/smtp"
	"github.com/JakeFAU/pricewatch/internal/match"
	"github.com/JakeFAU/pricewatch/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/pricewatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/pricewatch/internal/publisher/pubsub"
	"github.com/JakeFAU/pricewatch/internal/rescrape"
	"github.com/JakeFAU/pricewatch/internal/resultcache"
	rediscache "github.com/JakeFAU/pricewatch/internal/resultcache/redis"
	"github.com/JakeFAU/pricewatch/internal/sale"
	"github.com/JakeFAU/pricewatch/internal/scheduler"
	"github.com/JakeFAU/pricewatch/internal/session"
	gcsstorage "github.com/JakeFAU/pricewatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pricewatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/pricewatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/pricewatch/internal/storage/postgres"
	"github.com/JakeFAU/pricewatch/internal/telemetry"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Version is stamped into traces.
var Version = "dev"

// Repository is everything the services persist.
type Repository interface {
	catalog.UserRepository
	tracker.ItemStore
	tracker.WatchlistStore
	tracker.HistoryStore
	tracker.ItemRemover
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	Repo         Repository
	Catalog      *catalog.Service
	Orchestrator *session.Orchestrator
	Planner      *rescrape.Planner
	Scheduler    *scheduler.Service
	API          *api.Server

	pgStore        *pgstore.Store
	redisClient    *goredis.Client
	pubsubClient   *pubsub.Client
	gcpPublisher   *gcppublisher.Publisher
	storage        *storage.Client
	headless       *headlesssource.Source
	tracerShutdown telemetry.Shutdown
}

// Build creates the application's dependencies.
//
//nolint:gocognit // Construction is linear but touches every backend.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, logger: logger, clock: system.NewIn(loc)}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	app.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.TracingEnabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.PubSub.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	logger.Info("building application dependencies")
	ids := uuid.NewUUIDGenerator()

	if err = app.setupRepository(ctx); err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := app.setupNotifier(publisher)
	if err != nil {
		return nil, err
	}
	cache, err := app.setupCache(ctx)
	if err != nil {
		return nil, err
	}
	source, err := app.setupSource(blobs)
	if err != nil {
		return nil, err
	}

	calendar := sale.Default()
	events, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}
	if events != nil {
		calendar = sale.NewCalendar(events)
	}
	logger.Info("sale calendar loaded", zap.Strings("events", calendar.Names()))

	recorder := history.NewRecorder(app.Repo, ids, app.clock, logger.Named("history"))
	alerts := alert.NewEngine(notifier, app.Repo, app.Repo, logger.Named("alert"))

	app.Orchestrator, err = session.New(session.Deps{
		Source:   source,
		Matcher:  match.New(nil, cfg.Scrape.MatchThreshold),
		Recorder: recorder,
		Alerts:   alerts,
		Items:    app.Repo,
		Calendar: calendar,
		Clock:    app.clock,
		IDs:      ids,
		Logger:   logger,
	}, cfg.Scrape.DefaultDepth)
	if err != nil {
		return nil, fmt.Errorf("session init failed: %w", err)
	}

	app.Catalog, err = catalog.New(catalog.Deps{
		Source:     source,
		Cache:      cache,
		Items:      app.Repo,
		Watchlists: app.Repo,
		Users:      app.Repo,
		Recorder:   recorder,
		Alerts:     alerts,
		Calendar:   calendar,
		Clock:      app.clock,
		IDs:        ids,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}

	app.Planner = rescrape.NewPlanner(app.Repo, app.Repo, app.Repo, app.Repo, calendar,
		logger.Named("planner"), rescrape.WithFreshnessDays(cfg.Scrape.FreshnessDays))

	var batches api.BatchTrigger
	if cfg.Scheduler.Enabled {
		var batchPublisher tracker.Publisher
		if cfg.PubSub.BatchTopic != "" {
			batchPublisher = publisher
		}
		app.Scheduler, err = scheduler.New(scheduler.Config{
			Time:     cfg.Scheduler.Time,
			Location: loc,
			Topic:    cfg.PubSub.BatchTopic,
		}, app.Planner, app.Orchestrator, batchPublisher, app.clock, logger)
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
		batches = app.Scheduler
	}

	app.API = api.NewServer(app.Catalog, app.Orchestrator, batches, cfg, logger, app.readinessChecks()...)
	return app, nil
}

func (a *App) setupRepository(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory repositories")
		a.Repo = memorystorage.NewStore()
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore = store
	a.Repo = store
	if a.cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("postgres schema applied")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (tracker.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (tracker.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := gcppublisher.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.gcpPublisher = gcppublisher.New(client, a.logger)
	a.logger.Info("Pub/Sub publisher initialized", zap.String("project", a.cfg.PubSub.ProjectID))
	return a.gcpPublisher, nil
}

func (a *App) setupNotifier(publisher tracker.Publisher) (tracker.Notifier, error) {
	switch a.cfg.Mail.Backend {
	case "smtp":
		n, err := smtpmail.New(smtpmail.Config{
			Host:     a.cfg.Mail.Host,
			Port:     a.cfg.Mail.Port,
			Username: a.cfg.Mail.Username,
			Password: a.cfg.Mail.Password,
			From:     a.cfg.Mail.From,
			TLS:      a.cfg.Mail.TLS,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("smtp notifier init failed: %w", err)
		}
		a.logger.Info("alerts delivered over SMTP", zap.String("host", a.cfg.Mail.Host))
		return n, nil
	case "pubsub":
		n, err := relay.New(publisher, a.cfg.PubSub.AlertTopic, a.logger)
		if err != nil {
			return nil, fmt.Errorf("relay notifier init failed: %w", err)
		}
		a.logger.Info("alerts relayed over Pub/Sub", zap.String("topic", a.cfg.PubSub.AlertTopic))
		return n, nil
	default:
		a.logger.Warn("alerts are logged, not delivered")
		return logmail.New(a.logger), nil
	}
}

func (a *App) setupCache(ctx context.Context) (tracker.ResultCache, error) {
	if a.cfg.Cache.Backend != "redis" {
		return resultcache.New(a.cfg.Cache.TTL, a.clock), nil
	}
	rcfg := rediscache.Config{
		Address:  a.cfg.Cache.Redis.Address,
		Password: a.cfg.Cache.Redis.Password,
		DB:       a.cfg.Cache.Redis.DB,
		Prefix:   a.cfg.Cache.Redis.Prefix,
		TTL:      a.cfg.Cache.TTL,
	}
	client, err := rediscache.NewClient(ctx, rcfg)
	if err != nil {
		return nil, fmt.Errorf("redis cache init failed: %w", err)
	}
	a.redisClient = client
	a.logger.Info("search results cached in redis", zap.String("address", rcfg.Address))
	return rediscache.New(client, rcfg, a.clock, a.logger), nil
}

func (a *App) setupSource(blobs tracker.BlobStore) (tracker.ListingSource, error) {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Listing.PageRate,
		DefaultBurst: a.cfg.Listing.PageBurst,
	})
	if a.cfg.Listing.Backend == "colly" {
		src, err := collysource.New(collysource.Config{
			BaseURL:           a.cfg.Listing.BaseURL,
			UserAgent:         a.cfg.Listing.UserAgent,
			Timeout:           a.cfg.Listing.NavigationTimeout,
			FetchAvailability: a.cfg.Listing.FetchAvailability,
		}, limiter, a.logger)
		if err != nil {
			return nil, fmt.Errorf("colly source init failed: %w", err)
		}
		a.logger.Info("using colly listing source", zap.String("base_url", a.cfg.Listing.BaseURL))
		return src, nil
	}

	solver := listing.NewArchivingSolver(blobs, a.clock, "challenges", a.logger.Named("challenge"))
	src, err := headlesssource.New(headlesssource.Config{
		BaseURL:           a.cfg.Listing.BaseURL,
		UserAgent:         a.cfg.Listing.UserAgent,
		NavigationTimeout: a.cfg.Listing.NavigationTimeout,
		ShowBrowser:       a.cfg.Listing.ShowBrowser,
		FetchAvailability: a.cfg.Listing.FetchAvailability,
		SettleDelay:       a.cfg.Listing.SettleDelay,
		Challenge: listing.ChallengePolicy{
			MaxAttempts:  a.cfg.Listing.ChallengeAttempts,
			AnswerLength: a.cfg.Listing.AnswerLength,
			PollInterval: a.cfg.Listing.PollInterval,
		},
	}, limiter, solver, a.logger)
	if err != nil {
		return nil, fmt.Errorf("headless source init failed: %w", err)
	}
	a.headless = src
	a.logger.Info("using headless listing source",
		zap.String("base_url", a.cfg.Listing.BaseURL), zap.Bool("show_browser", a.cfg.Listing.ShowBrowser))
	return src, nil
}

func (a *App) readinessChecks() []api.ReadinessCheck {
	var checks []api.ReadinessCheck
	if a.pgStore != nil {
		checks = append(checks, a.pgStore.Ping)
	}
	if a.redisClient != nil {
		checks = append(checks, func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		})
	}
	return checks
}

// Run starts the scheduler and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.API.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler did not stop cleanly", zap.Error(err))
		}
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every client the App opened.
func (a *App) Close(ctx context.Context) {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}

// Now reports the configured clock's time.
func (a *App) Now() time.Time {
	return a.clock.Now()
}
