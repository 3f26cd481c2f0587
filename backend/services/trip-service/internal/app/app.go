package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	libredis "fleetride/backend/libs/redis"
	"fleetride/backend/services/trip-service/internal/clients"
	"fleetride/backend/services/trip-service/internal/config"
	"fleetride/backend/services/trip-service/internal/db"
	httpserver "fleetride/backend/services/trip-service/internal/http"
	"fleetride/backend/services/trip-service/internal/http/handlers"
	"fleetride/backend/services/trip-service/internal/http/middleware"
	"fleetride/backend/services/trip-service/internal/metrics"
	redisstore "fleetride/backend/services/trip-service/internal/redis"
	"fleetride/backend/services/trip-service/internal/repository"
	"fleetride/backend/services/trip-service/internal/service"
	"fleetride/backend/services/trip-service/internal/signer"
	"fleetride/backend/services/trip-service/internal/telemetry"
	"fleetride/backend/services/trip-service/internal/tokenstore"
	"fleetride/backend/services/trip-service/internal/ws"
)

const restoreTimeout = 10 * time.Second

// App wires trip-service dependencies.
type App struct {
	server      *httpserver.Server
	hub         *ws.Hub
	tracker     *service.TripTracker
	streamer    *telemetry.Streamer
	db          *sql.DB
	redisClient *redis.Client
	cancel      context.CancelFunc
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(cfg.Database.DSN); err != nil {
			sqlDB.Close()
			return nil, err
		}
		logger.Info("trip history schema up to date")
	}

	redisClient, err := libredis.NewRedisClient(libredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	closeAll := func() {
		redisClient.Close()
		sqlDB.Close()
	}

	clk := clock.RealClock{}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	tokens := tokenstore.New(redisstore.NewTokenKV(redisClient), clk)
	if err := tokens.Load(context.Background()); err != nil {
		closeAll()
		return nil, err
	}

	keys, err := signer.SourceFromConfig(cfg.Fleet.PrivateKey, cfg.Fleet.PrivateKeyPath)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("app: fleet signing key: %w", err)
	}
	requestSigner := signer.New(keys)
	if !requestSigner.Available() {
		logger.Warn("no fleet signing key configured, vehicle commands will be rejected")
	}

	fleet := clients.NewFleetClient(
		cfg.FleetClientConfig(),
		clients.NewDefaultHTTPClient(cfg.FleetHTTPTimeout()),
		tokens,
		requestSigner,
		clk,
		recorder,
		logger.Named("fleet"),
	)

	streamer := telemetry.NewStreamer(fleet, clk, cfg.Trip.PollInterval, recorder, logger.Named("telemetry"))
	tripRepo := repository.NewTripRepository(sqlDB)
	activeStore := redisstore.NewActiveTripStore(redisClient, cfg.Redis.ActiveTTL)
	tracker := service.NewTripTracker(
		fleet,
		streamer,
		tripRepo,
		activeStore,
		clk,
		cfg.FareParams(),
		cfg.WakePolicy(),
		recorder,
		logger.Named("trips"),
	)
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), restoreTimeout)
	restored, err := tracker.Restore(restoreCtx)
	cancelRestore()
	if err != nil {
		logger.Warn("could not restore trips in progress", zap.Error(err))
	} else if restored > 0 {
		logger.Info("resumed trips in progress", zap.Int("trips", restored))
	}

	connect := service.NewConnectService(fleet, fleet, tokens, logger.Named("connect"))

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(logger.Named("live"))
	liveServer := ws.NewServer(ctx, hub, tracker, 0, logger.Named("live"))

	routes := httpserver.RouterDeps{
		FleetHandlers: handlers.NewFleetHandlers(connect, cfg.HTTP.CookieSecure, logger),
		TripHandlers:  handlers.NewTripHandlers(tracker, logger),
		LiveHandler:   liveServer.HandleWS,
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Check{
			"postgres": sqlDB.PingContext,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		}),
		Metrics: metrics.Handler(registry),
	}

	router := httpserver.NewRouter(routes, middleware.AuthMiddleware(cfg.JWT.Secret))
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)

	return &App{
		server:      server,
		hub:         hub,
		tracker:     tracker,
		streamer:    streamer,
		db:          sqlDB,
		redisClient: redisClient,
		cancel:      cancel,
		logger:      logger,
	}, nil
}

// Run starts HTTP server and the live feed.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(ctx, a.tracker)
	defer a.cancel()
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	a.cancel()
	a.tracker.Shutdown()
	a.streamer.StopAll()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
