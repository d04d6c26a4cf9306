package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/config"
	httptransport "github.com/example/lab-scheduler/internal/http"
	"github.com/example/lab-scheduler/internal/jobs"
	"github.com/example/lab-scheduler/internal/locking"
	"github.com/example/lab-scheduler/internal/logging"
	"github.com/example/lab-scheduler/internal/notify"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/persistence/stores"
	"github.com/example/lab-scheduler/internal/scheduler"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		bootLogger.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("scheduler stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.retention != nil {
		app.retention.Start()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		app.hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
		if app.retention != nil {
			app.retention.Stop(shutdownCtx)
		}
	}()

	logger.Info("lab scheduler listening", "addr", server.Addr, "store", cfg.Store.Driver, "redis", cfg.Redis.Enabled())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	<-shutdownDone
	return nil
}

// app holds the wired service graph.
type app struct {
	handler   http.Handler
	store     persistence.Store
	redis     *redis.Client
	hub       *notify.Hub
	retention *jobs.RetentionJob
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	engine := scheduler.NewEngine(cfg.Location, uuid.NewString)

	store, err := stores.Open(ctx, cfg.Store, engine.NewMigrator(), logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a := &app{store: store, logger: logger}

	var (
		locker application.EventLocker = locking.NewKeyedMutex()
		relay  notify.Relay
	)
	if cfg.Redis.Enabled() {
		client, err := locking.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		locker = locking.NewRedisLocker(client, logger)
		relay = notify.NewRedisPublisher(client, logger)
	}

	a.hub = notify.NewHub(relay, logger)
	notifier := notify.Fanout{notify.NewLogNotifier(logger), a.hub}

	events := application.NewEventServiceWithLogger(store, engine, locker, notifier, time.Now, logger)
	retention := application.NewRetentionService(store, cfg.Retention.Days, time.Now, logger)

	if cfg.Retention.Enabled {
		job, err := jobs.NewRetentionJob(retention, cfg.Retention.Schedule, cfg.Retention.Days, cfg.Location, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.retention = job
	}

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Events:        httptransport.NewEventHandler(events, logger),
		Retention:     httptransport.NewRetentionHandler(retention, logger),
		Notifications: httptransport.NewNotificationHandler(a.hub, logger),
		Auth:          httptransport.RequireBearer(httptransport.NewTokenVerifier(cfg.JWTSecret), logger),
		Middleware:    []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	return a, nil
}

// Close releases the store and the Redis client.
func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis client", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close store", "error", err)
		}
	}
}
