// Command syncline runs the synchronization daemon: it connects the
// brokered backing services, opens the MongoDB target store, builds the
// engine, and serves the HTTP API until interrupted.
//
// Configuration comes from SYNCLINE_* environment variables or a
// syncline.toml in the working directory; see config.go for keys and
// defaults. Jobs are registered by the embedding application or via a
// sidecar build of this command.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/api"
	"github.com/syncline/syncline/auth"
	"github.com/syncline/syncline/broker"
	"github.com/syncline/syncline/engine"
	mongostore "github.com/syncline/syncline/store/mongo"
)

func main() {
	if err := run(); err != nil {
		slog.Error("syncline exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──────────────────────────────────────────────────
	// Backing services
	// ──────────────────────────────────────────────────

	b := broker.New(broker.WithLogger(logger))
	b.Register(broker.ResourceDocumentStore, broker.MongoFactory(cfg.Mongo.URI))
	if cfg.Warehouse.DSN != "" {
		b.Register(broker.ResourceWarehouse, broker.WarehouseFactory(cfg.Warehouse.DSN))
	}
	if cfg.ObjectStore.Endpoint != "" {
		b.Register(broker.ResourceObjectStore, broker.ObjectStoreFactory(broker.ObjectStoreConfig{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			Secure:    cfg.ObjectStore.UseSSL,
		}))
	}
	if cfg.Redis.Addr != "" {
		b.Register(broker.ResourceRevocations,
			broker.RevocationsFactory(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
		defer cancel()
		if err := b.Close(shutdownCtx); err != nil {
			logger.Warn("broker close", slog.String("error", err.Error()))
		}
	}()

	mongoClient, mongoHandle, err := broker.Mongo(ctx, b)
	if err != nil {
		return err
	}
	defer b.Release(mongoHandle)

	store := mongostore.New(mongoClient.Database(cfg.Mongo.Database),
		mongostore.WithLogger(logger),
	)

	// ──────────────────────────────────────────────────
	// Auth gateway
	// ──────────────────────────────────────────────────

	var gateway *auth.Gateway
	if cfg.Auth.Secret != "" {
		opts := []auth.GatewayOption{auth.WithTokenExpiry(cfg.Auth.TokenExpiry)}
		if cfg.Redis.Addr != "" {
			redisClient, redisHandle, err := broker.Redis(ctx, b)
			if err != nil {
				return err
			}
			defer b.Release(redisHandle)
			opts = append(opts, auth.WithRevocationSet(auth.NewRedisRevocations(redisClient)))
		}
		gateway, err = auth.NewGateway([]byte(cfg.Auth.Secret), opts...)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("auth secret not set, API is unauthenticated")
	}

	// ──────────────────────────────────────────────────
	// Pipeline and engine
	// ──────────────────────────────────────────────────

	pcfg := syncline.DefaultConfig()
	pcfg.TickInterval = cfg.Pipeline.TickInterval
	pcfg.LeaseTTL = cfg.Pipeline.LeaseTTL
	pcfg.TransformConcurrency = cfg.Pipeline.TransformConcurrency
	pcfg.MaxBatchesPerTick = cfg.Pipeline.MaxBatchesPerTick
	pcfg.MaxAttempts = cfg.Pipeline.MaxAttempts
	pcfg.HeartbeatInterval = cfg.Pipeline.HeartbeatInterval
	pcfg.ShutdownTimeout = cfg.Pipeline.ShutdownTimeout

	p, err := syncline.New(
		syncline.WithConfig(pcfg),
		syncline.WithStore(store),
		syncline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	eng, err := engine.Build(p)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}

	// ──────────────────────────────────────────────────
	// HTTP API
	// ──────────────────────────────────────────────────

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.New(eng, gateway, logger).Handler(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("syncline listening",
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("worker_id", eng.WorkerID().String()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("http server failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	return eng.Stop(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
