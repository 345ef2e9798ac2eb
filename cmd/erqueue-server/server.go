package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/erqueue/erqueue/internal/config"
	"github.com/erqueue/erqueue/internal/domain/assignment"
	"github.com/erqueue/erqueue/internal/domain/doctor"
	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/domain/queue"
	"github.com/erqueue/erqueue/internal/domain/triage"
	"github.com/erqueue/erqueue/internal/platform/auth"
	"github.com/erqueue/erqueue/internal/platform/db"
	"github.com/erqueue/erqueue/internal/platform/middleware"
	"github.com/erqueue/erqueue/internal/platform/notify"
	"github.com/erqueue/erqueue/internal/platform/telemetry"
	"github.com/erqueue/erqueue/internal/platform/webhook"
	"github.com/erqueue/erqueue/internal/platform/websocket"
	"github.com/erqueue/erqueue/internal/seed"
)

const shutdownTimeout = 10 * time.Second

// backend is one consistent set of stores sharing a transactor.
type backend struct {
	name     string
	tx       db.Transactor
	queue    queue.Store
	doctors  doctor.Registry
	sessions assignment.SessionRepository
	triage   triage.Repository
	patients patient.Directory
	pinger   db.Pinger
	close    func()
}

func postgresBackend(pool *pgxpool.Pool) *backend {
	return &backend{
		name:     config.BackendPostgres,
		tx:       db.NewPGTransactor(pool),
		queue:    queue.NewStorePG(pool),
		doctors:  doctor.NewRegistryPG(pool),
		sessions: assignment.NewSessionRepoPG(pool),
		triage:   triage.NewRepoPG(pool),
		patients: patient.NewDirectoryPG(pool),
		pinger:   pool,
		close:    pool.Close,
	}
}

type alwaysUp struct{}

func (alwaysUp) Ping(context.Context) error { return nil }

func memoryBackend() *backend {
	return &backend{
		name:     config.BackendMemory,
		tx:       db.NewMemoryTransactor(),
		queue:    queue.NewMemoryStore(),
		doctors:  doctor.NewMemoryRegistry(),
		sessions: assignment.NewMemorySessionRepo(),
		triage:   triage.NewMemoryRepo(),
		patients: patient.NewMemoryDirectory(),
		pinger:   alwaysUp{},
		close:    func() {},
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.StorageBackend == config.BackendMemory {
		return memoryBackend(), nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return postgresBackend(pool), nil
}

func runServer(parent context.Context, seedPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests are authenticated from X-User-ID / X-User-Roles headers")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.StorageBackend, err)
	}
	defer store.close()
	logger.Info().Str("backend", store.name).Msg("storage ready")

	if seedPath != "" {
		f, err := seed.Load(seedPath)
		if err != nil {
			return err
		}
		res, err := seed.Apply(ctx, store.tx, store.patients, store.doctors, f)
		if err != nil {
			return err
		}
		logger.Info().Int("patients", res.Patients).Int("doctors", res.Doctors).Msg("fixtures loaded")
	}

	a, err := newApp(cfg, logger, store)
	if err != nil {
		return err
	}

	var relay *notify.RedisRelay
	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		a.dispatcher.AddSink(notify.NewRedisSink(client, cfg.RedisChannel))
		relay = notify.NewRedisRelay(client, cfg.RedisChannel, a.dispatcher.Origin(), logger, a.hub)
		logger.Info().Str("channel", cfg.RedisChannel).Msg("redis change relay enabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("http server listening")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.hub.Close()
		return a.echo.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// app is the HTTP surface and change fan-out over one backend.
type app struct {
	echo       *echo.Echo
	hub        *websocket.Hub
	dispatcher *notify.Dispatcher
}

func newApp(cfg *config.Config, logger zerolog.Logger, store *backend) (*app, error) {
	hub := websocket.NewHub(logger)
	metrics := telemetry.New(logger)
	metrics.RegisterGauge("erqueue_queue_waiting", "Queue entries in WAITING state.", func(ctx context.Context) (float64, error) {
		_, total, err := store.queue.ListWaiting(ctx, 1, 0)
		return float64(total), err
	})
	dispatcher := notify.NewDispatcher(logger, cfg.NotifyBuffer, hub, metrics)

	var hooks *webhook.Sink
	if len(cfg.WebhookURLs) > 0 {
		endpoints := make([]webhook.Endpoint, 0, len(cfg.WebhookURLs))
		for _, u := range cfg.WebhookURLs {
			endpoints = append(endpoints, webhook.Endpoint{URL: u, Secret: cfg.WebhookSecret, Events: cfg.WebhookEvents})
		}
		var err error
		if hooks, err = webhook.NewSink(endpoints); err != nil {
			return nil, err
		}
		dispatcher.AddSink(hooks)
	}

	policy := queue.AllowDuplicates
	if cfg.RejectDuplicateActiveEntries {
		policy = queue.RejectDuplicates
	}
	triageSvc := triage.NewService(store.tx, store.triage, store.queue, store.patients, dispatcher, policy, logger)
	coordinator := assignment.NewCoordinator(assignment.Deps{
		Tx:          store.tx,
		Queue:       store.queue,
		Doctors:     store.doctors,
		Sessions:    store.sessions,
		Triage:      store.triage,
		Patients:    store.patients,
		Notifier:    dispatcher,
		Logger:      logger,
		MaxAttempts: cfg.AssignMaxAttempts,
	})

	e := newEcho(cfg, logger, store, metrics)
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	rateLimitCfg := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	triage.NewHandler(triageSvc).RegisterRoutes(apiV1)
	queue.NewHandler(store.queue, triageSvc).RegisterRoutes(apiV1)
	doctor.NewHandler(store.doctors).RegisterRoutes(apiV1)
	assignment.NewHandler(coordinator).RegisterRoutes(apiV1)
	if hooks != nil {
		webhook.NewHandler(hooks).RegisterRoutes(apiV1)
	}
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	return &app{echo: e, hub: hub, dispatcher: dispatcher}, nil
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, store *backend, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader,
			auth.DevUserIDHeader, auth.DevUserRolesHeader},
	}))
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": store.name,
		})
	})
	e.GET("/health/db", db.HealthHandler(store.pinger))
	e.GET("/metrics", metrics.Handler())
	return e
}
