package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"recsignal/internal/api"
	"recsignal/internal/config"
	"recsignal/internal/db"
	"recsignal/internal/kafka"
	"recsignal/internal/lock"
	"recsignal/internal/logging"
	"recsignal/internal/services"
	"recsignal/internal/store"
	"recsignal/internal/utils"
)

type serveOptions struct {
	Migrate bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and the Kafka intake",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&opts.Migrate, "migrate", true, "apply the schema before serving")
	return cmd
}

func runServe(opts serveOptions) error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger, opts.Migrate)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	svc := services.New(st, locker, logger, services.Options{AlertLimit: cfg.API.ListLimit})
	srv := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           api.NewRouter(svc, logger, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API started on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API run failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, svc, logger.Component("kafka"))
		defer consumer.Close()
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.Topic)
		g.Go(func() error { return consumer.Run(ctx) })
	} else {
		logger.Info("KAFKA_BROKERS not set, Kafka intake disabled")
	}

	err = g.Wait()
	logger.Info("Service stopped")
	return err
}

func openStore(ctx context.Context, cfg config.Config, logger *logging.Logger, migrate bool) (store.Store, func(), error) {
	if cfg.Store.Backend == "memory" {
		logger.Warn("Using the in-memory store, data is lost on exit")
		st := store.NewMemory()
		if err := seed(ctx, cfg, st, logger); err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}

	dbConn, err := connectDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := dbConn.Migrate(ctx); err != nil {
			dbConn.Close()
			return nil, nil, err
		}
	}
	if err := seed(ctx, cfg, dbConn, logger); err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	return dbConn, func() {
		dbConn.Close()
		logger.Info("DB connection closed")
	}, nil
}

// connectDB waits for Postgres to accept connections.
func connectDB(ctx context.Context, cfg config.Config, logger *logging.Logger) (*db.DB, error) {
	dbConn, err := db.New(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("DB connect failed: %w", err)
	}
	if err := utils.Retry(ctx, logger.Component("db"), 5, time.Second, dbConn.Ping); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("DB ping failed: %w", err)
	}
	return dbConn, nil
}

func seed(ctx context.Context, cfg config.Config, st store.Store, logger *logging.Logger) error {
	if !cfg.Store.Seed {
		return nil
	}
	added, err := services.SeedThresholds(ctx, st)
	if err != nil {
		return fmt.Errorf("seed thresholds failed: %w", err)
	}
	if added > 0 {
		logger.Infof("Seeded %d default thresholds", added)
	}
	return nil
}

func openLocker(ctx context.Context, cfg config.Config, logger *logging.Logger) (lock.Locker, func(), error) {
	if cfg.Lock.Backend != "redis" {
		return lock.NewLocal(), func() {}, nil
	}
	rl := lock.NewRedis(lock.RedisConfig{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
		TTL:      cfg.Lock.TTL,
	})
	if err := utils.Retry(ctx, logger.Component("redis"), 5, time.Second, rl.Ping); err != nil {
		_ = rl.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Infof("Tuple locks held in Redis at %s", cfg.Lock.RedisAddr)
	return rl, func() { _ = rl.Close() }, nil
}
