package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/config"
	httptransport "github.com/example/session-booking/internal/http"
	"github.com/example/session-booking/internal/logging"
	"github.com/example/session-booking/internal/persistence/sqlite"
	"github.com/example/session-booking/internal/persistence/sqlite/migration"
	"github.com/example/session-booking/internal/scheduler"
	"github.com/example/session-booking/internal/telemetry"
	"github.com/example/session-booking/internal/window"
)

const serviceName = "sessiond"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("session booking service stopped", "error", err)
		os.Exit(1)
	}
}

// app holds the wired components of the service.
type app struct {
	storage  *sqlite.Storage
	throttle *application.FrequencyThrottle
	slots    *application.SlotService
	sweeper  *scheduler.Sweeper
	stream   *httptransport.StreamHandler
	handler  http.Handler
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger, now func() time.Time) (*app, error) {
	dbConfig := migration.DefaultSQLiteConfig(cfg.SQLitePath)
	dbConfig.BusyTimeout = cfg.SQLiteBusyTimeout
	storage, err := sqlite.Open(dbConfig, sqlite.Options{Now: now, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	if cfg.RegistrationSeed != "" {
		doc, err := config.LoadRegistrationDocument(cfg.RegistrationSeed)
		if err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("load registration seed: %w", err)
		}
		seeded, err := seedRegistrationConfig(ctx, storage.RegistrationConfigs(), doc)
		if err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("seed registration config: %w", err)
		}
		logger.Info("registration config seeded", "config_id", seeded.ID, "path", cfg.RegistrationSeed)
	}

	slotStore := newSlotStoreAdapter(storage.Slots())
	configSource := newConfigSourceAdapter(storage.RegistrationConfigs())
	remote := newFrequencyRemoteAdapter(storage.Frequency(), now)
	feed := newChangeFeedAdapter(storage)

	admission := application.NewAdmissionServiceWithLogger(
		configSource,
		slotStore,
		window.NewResolver(cfg.Location(), cfg.AdmissionMode()),
		application.AdmissionOptions{
			CancelMode:    cfg.CancelMode(),
			BookableWeeks: cfg.BookableWeeks,
			ConfigTTL:     cfg.ConfigCacheTTL,
		},
		now,
		logger,
	)
	throttle := application.NewFrequencyThrottleWithLogger(remote, application.ThrottleOptions{
		ResultTTL:     cfg.FrequencyCacheTTL,
		InFlightWait:  cfg.FrequencyWait,
		DedupeWindow:  cfg.RecordDedupeWindow,
		RemoteTimeout: cfg.RemoteTimeout,
	}, now, logger)
	slots := application.NewSlotServiceWithLogger(slotStore, admission, throttle, application.SlotServiceOptions{
		LockDuration:  cfg.EditLockDuration,
		Location:      cfg.Location(),
		BookableWeeks: cfg.BookableWeeks,
	}, now, logger)

	stream := httptransport.NewStreamHandler(feed, slotStore, httptransport.StreamOptions{
		Location:     cfg.Location(),
		RefetchDelay: cfg.RefetchDelay,
		Reconciler: application.ReconcilerOptions{
			RetryDelay: cfg.FeedRetryDelay,
			MaxRetries: cfg.FeedMaxRetries,
		},
	}, logger)
	slots.Observe(stream.ObserveLocal)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Slots:        httptransport.NewSlotHandler(slots, cfg.Location(), logger),
		Registration: httptransport.NewRegistrationHandler(admission, throttle, logger),
		Stream:       stream,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.Recover(logger),
			httptransport.Tracing(),
			httptransport.RequestLogger(logger),
			httptransport.RequirePrincipal(logger),
		},
	})

	return &app{
		storage:  storage,
		throttle: throttle,
		slots:    slots,
		sweeper:  scheduler.NewSweeper(slots, cfg.SweepInterval, logger),
		stream:   stream,
		handler:  router,
	}, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}

	a, err := build(ctx, cfg, logger, time.Now)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(ctx)
	}()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server.RegisterOnShutdown(a.stream.Shutdown)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("session booking API listening", "addr", server.Addr, "timezone", cfg.Location().String(), "window_mode", cfg.AdmissionMode())
	serveErr := server.ListenAndServe()
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	cancel()

	wg.Wait()
	a.throttle.Wait()
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}
	if err := a.storage.Close(); err != nil {
		logger.Error("failed to close storage", "error", err)
	}
	return serveErr
}
