package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Cyvadra/signal-relay/internal/config"
	"github.com/Cyvadra/signal-relay/internal/database"
	"github.com/Cyvadra/signal-relay/internal/fanout"
	"github.com/Cyvadra/signal-relay/internal/handlers"
	"github.com/Cyvadra/signal-relay/internal/lifecycle"
	"github.com/Cyvadra/signal-relay/internal/lock"
	"github.com/Cyvadra/signal-relay/internal/logging"
	"github.com/Cyvadra/signal-relay/internal/normalize"
	"github.com/Cyvadra/signal-relay/internal/routes"
	"github.com/Cyvadra/signal-relay/internal/services"
	"github.com/Cyvadra/signal-relay/internal/store"
	"github.com/Cyvadra/signal-relay/quote"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	// price providers register themselves with the quote registry
	_ "github.com/Cyvadra/signal-relay/quote/binance"
	_ "github.com/Cyvadra/signal-relay/quote/finnhub"
)

func main() {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	initFiles := flag.Bool("init", false, "Write default config and webhook seed files if missing, then exit")
	flag.Parse()

	if *initFiles {
		written, err := config.WriteDefaults(*configFile, config.Default().Webhooks.SeedFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write default files: %v\n", err)
			os.Exit(1)
		}
		for _, f := range written {
			fmt.Printf("wrote %s\n", f)
		}
		return
	}

	// Load configuration
	cfg, err := config.LoadWithEnv(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", *configFile, err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("signal relay stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Initialize database
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	persister := store.NewGormPersister(db)
	signals := store.New(
		store.WithCapacity(cfg.Store.Capacity),
		store.WithPersister(persister),
		store.WithLogger(logging.Component(logger, "store")),
	)
	if cfg.Store.WarmLoad {
		n, err := signals.Load(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("signals", n).Msg("warm-loaded signal window")
	}

	// Load webhook registrations
	webhooks := services.NewWebhookService(db, cfg.Webhooks.MinPrefixLength)
	seed, err := config.LoadWebhookSeed(cfg.Webhooks.SeedFile)
	if err != nil {
		return err
	}
	seeded, err := webhooks.Seed(ctx, seed.Webhooks)
	if err != nil {
		return err
	}
	if seeded > 0 {
		logger.Info().Int("webhooks", seeded).Str("file", cfg.Webhooks.SeedFile).Msg("seeded webhook registrations")
	}

	prices, err := quote.NewChainFromConfig(cfg.Quotes, logging.Component(logger, "quote"))
	if err != nil {
		return err
	}

	hub := fanout.NewHub(fanout.Config{
		SnapshotSize: cfg.Fanout.SnapshotSize,
		PingInterval: cfg.Fanout.PingInterval,
		WriteTimeout: cfg.Fanout.WriteTimeout,
		SendBuffer:   cfg.Fanout.SendBuffer,
	},
		fanout.WithSnapshotSource(signals),
		fanout.WithHubLogger(logging.Component(logger, "fanout")),
	)

	sinks, closeSinks, err := setupSinks(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	dispatcher := fanout.NewDispatcher(hub,
		fanout.WithSinks(sinks...),
		fanout.WithFallbackBroadcast(cfg.Fanout.FallbackBroadcast),
		fanout.WithDispatcherLogger(logging.Component(logger, "dispatcher")),
	)

	var locker lifecycle.Locker
	if cfg.Redis.Enabled {
		rl, err := lock.NewRedisLock(ctx, lock.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return err
		}
		defer rl.Close()
		locker = rl
	}

	evaluator := lifecycle.New(lifecycle.Options{
		Store:      signals,
		Prices:     prices,
		Notifier:   dispatcher,
		Locker:     locker,
		Interval:   cfg.Lifecycle.Interval,
		Workers:    cfg.Lifecycle.Workers,
		LockTTL:    cfg.Lifecycle.LockTTL,
		RunOnStart: cfg.Lifecycle.RunOnStart,
		Logger:     logging.Component(logger, "lifecycle"),
	})

	alerts := services.NewAlertService(db)
	ingest := services.NewIngestService(normalize.New(), webhooks, signals,
		services.WithAlertAudit(alerts),
		services.WithPublisher(dispatcher),
		services.WithIngestLogger(logging.Component(logger, "ingest")),
	)

	// Set up Gin
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(handlers.RequestLogger(logging.Component(logger, "http")))
	r.Use(gin.Recovery())

	httpLog := logging.Component(logger, "http")
	routes.SetupRoutes(r, routes.Handlers{
		Webhooks: handlers.NewWebhookHandler(ingest, cfg.Webhooks.ProviderPaths, cfg.Server.MaxBodyBytes, httpLog),
		Signals:  handlers.NewSignalHandler(signals, evaluator, httpLog).WithArchive(persister),
		Registry: handlers.NewRegistryHandler(webhooks),
		Alerts:   handlers.NewAlertHandler(alerts),
		Stream:   handlers.NewStreamHandler(hub, httpLog),
		Stats: func() gin.H {
			return gin.H{
				"signals":         signals.Len(),
				"connections":     hub.Count(),
				"price_providers": prices.Providers(),
			}
		},
	})

	evaluator.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Strs("price_providers", prices.Providers()).
			Strs("registered_providers", quote.RegisteredProviders()).
			Int("store_capacity", signals.Capacity()).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		evaluator.Stop()
		hub.Close()
		dispatcher.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	evaluator.Stop()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	dispatcher.Wait()
	return nil
}

// setupSinks builds the downstream forwarders and returns a func closing them
func setupSinks(ctx context.Context, cfg *config.Config, db *gorm.DB, logger zerolog.Logger) ([]fanout.Sink, func(), error) {
	var sinks []fanout.Sink
	closeAll := func() {}

	if len(cfg.Endpoints) > 0 {
		forward := services.NewForwardService(cfg.Endpoints)
		if err := forward.SyncEndpoints(ctx, db); err != nil {
			logger.Warn().Err(err).Msg("failed to record downstream endpoints")
		}
		sinks = append(sinks, forward)
	}

	if cfg.Kafka.Enabled {
		publisher, err := services.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, closeAll, fmt.Errorf("kafka publisher: %w", err)
		}
		sinks = append(sinks, publisher)
		closeAll = func() {
			if err := publisher.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close kafka publisher")
			}
		}
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka sink enabled")
	}

	return sinks, closeAll, nil
}
