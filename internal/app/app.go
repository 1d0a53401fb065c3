package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/benbjohnson/clock"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/relaybridge/internal/config"
	"github.com/MrSnakeDoc/relaybridge/internal/httpserver"
	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relaybridge/internal/hub"
	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/metrics"
	"github.com/MrSnakeDoc/relaybridge/internal/persistence"
	"github.com/MrSnakeDoc/relaybridge/internal/redis"
	"github.com/MrSnakeDoc/relaybridge/internal/relay"
	"github.com/MrSnakeDoc/relaybridge/internal/scheduler"
	"github.com/MrSnakeDoc/relaybridge/internal/state"
	redisstore "github.com/MrSnakeDoc/relaybridge/internal/store/redis"
	"github.com/MrSnakeDoc/relaybridge/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	store       *state.Store
	persister   *persistence.Persister
	hub         *hub.Hub
	server      *httpserver.Server
	snapshots   *scheduler.SnapshotScheduler
	restorer    *scheduler.Restorer
	redisClient *goredis.Client
	ready       *atomic.Bool
}

func New(cfg *config.Config) (*App, error) {
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	clk := clock.New()

	descs, err := config.LoadEndpoints(cfg.EndpointsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints: %w", err)
	}

	store, err := state.New(descs, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to build state store: %w", err)
	}
	for _, id := range store.Order() {
		d, _ := store.Descriptor(id)
		loggerClient.Info("endpoint registered",
			logger.String("id", d.ID),
			logger.String("name", d.Name),
			logger.String("location", d.Location))
	}

	m := metrics.New()

	fileSink, err := persistence.NewFileSink(cfg.JournalFile, cfg.BackupFile, cfg.StatusFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open data files: %w", err)
	}
	loaders := []persistence.BackupLoader{fileSink}
	persistOpts := []persistence.Option{
		persistence.WithClock(clk),
		persistence.WithMetrics(m),
	}

	// Redis is a best-effort mirror: the relay runs on files alone if it
	// cannot be reached at start-up.
	var redisClient *goredis.Client
	if cfg.RedisEnabled() {
		redisClient, err = redis.Connect(context.Background(), redis.Options{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
			Clock:          clk,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("redis mirror disabled", logger.Error(err))
		} else {
			mirror := redisstore.NewStore(redisClient)
			persistOpts = append(persistOpts, persistence.WithMirror(mirror))
			loaders = append(loaders, mirror)
		}
	} else {
		loggerClient.Info("redis mirror not configured, persisting to files only")
	}

	persister := persistence.New(fileSink, store, loggerClient, persistOpts...)

	engine := relay.New(store, persister, loggerClient,
		relay.WithClock(clk),
		relay.WithMetrics(m),
		relay.WithTiming(relay.Timing{
			ScrapeTimeout:        cfg.ScrapeTimeout,
			ForwardTimeout:       cfg.ForwardTimeout,
			EndpointGap:          cfg.EndpointGap,
			CyclePause:           cfg.CyclePause,
			ErrorBackoff:         cfg.ErrorBackoff,
			MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
			StatusEveryCycles:    cfg.StatusEveryCycles,
			BackupEveryRelays:    cfg.BackupEveryRelays,
		}),
	)

	hubOpts := hub.DefaultOptions()
	hubOpts.Metrics = m
	hubOpts.CheckOrigin = func(r *http.Request) bool {
		return cfg.OriginAllowed(r.Header.Get("Origin"))
	}
	connHub := hub.New(engine, loggerClient, hubOpts)

	// Manual backup trigger channel, fed by POST /backup
	backupTrigger := make(chan struct{}, 1)
	snapshots := scheduler.NewSnapshotScheduler(persister, loggerClient, clk, cfg.StatusInterval, backupTrigger)
	restorer := scheduler.NewRestorer(store, loggerClient, loaders...)

	ready := &atomic.Bool{}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      store.Stats().StartTime,
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		TimeNow:        clk.Now,
		AllowedHosts:   cfg.AllowedHosts,
		AllowedCIDRS:   cfg.AllowedCIDRS,
		TrustProxy:     cfg.TrustProxy,
		WSBurst:        cfg.WSBurst,
		WSRefillPerMin: cfg.WSRefillPerMin,
		Store:          store,
		Health:         engine.HealthReport,
		Hub:            connHub,
		Metrics:        m,
		RedisClient:    redisClient,
		BackupTrigger:  backupTrigger,
		Ready:          ready,
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		store:       store,
		persister:   persister,
		hub:         connHub,
		server:      httpserver.New(cfg.ListenPort, loggerClient, d),
		snapshots:   snapshots,
		restorer:    restorer,
		redisClient: redisClient,
		ready:       ready,
	}, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting relaybridge %s on %s", version.String(), a.cfg.ListenPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.RestoreOnStart {
		if _, err := a.restorer.Restore(ctx); err != nil {
			a.logger.Warn("restore failed, starting fresh", logger.Error(err))
		}
	}

	// Start-up snapshot, then accept clients
	a.persister.Backup(ctx)
	a.ready.Store(true)

	a.snapshots.Start(ctx)
	a.logger.Info("snapshot scheduler started",
		logger.Duration("status_interval", a.cfg.StatusInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
		a.logger.Error("http server failed, shutting down", logger.Error(runErr))
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	a.ready.Store(false)
	a.snapshots.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("failed to stop http server", logger.Error(err))
	}
	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("connections did not close in time", logger.Error(err))
	}

	a.store.SetRunning(false)
	a.persister.SaveStatus(shutdownCtx)

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ relaybridge stopped cleanly")
	_ = a.logger.Sync()
}
