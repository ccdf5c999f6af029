package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imagetea/internal/api"
	"github.com/dunamismax/imagetea/internal/config"
	"github.com/dunamismax/imagetea/internal/converter"
	"github.com/dunamismax/imagetea/internal/logging"
	"github.com/dunamismax/imagetea/internal/pipeline"
	"github.com/dunamismax/imagetea/internal/queue"
	"github.com/dunamismax/imagetea/internal/raster"
	"github.com/dunamismax/imagetea/internal/ratelimit"
	"github.com/dunamismax/imagetea/internal/storage"
	"github.com/dunamismax/imagetea/internal/store"
	"github.com/dunamismax/imagetea/internal/telemetry"
	"github.com/dunamismax/imagetea/internal/versions"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("api", logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagetea-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if err := pipeline.Startup(0); err != nil {
		return fmt.Errorf("start image backend: %w", err)
	}
	defer pipeline.Shutdown()

	items, closeItems, err := store.OpenItemStore(ctx, cfg.Store.Backend, cfg.Store.SQLitePath, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open item store: %w", err)
	}
	defer closeItems.Close()

	session := converter.NewSession(converter.Deps{
		Store:      items,
		Rasterizer: raster.New(),
		Processor:  pipeline.NewProcessor(nil, logger.Named("pipeline")),
		Logger:     logger.Named("session"),
	})
	if err := session.Restore(ctx); err != nil {
		logger.Warn("starting with an empty session", zap.Error(err))
	}

	versionService, closeLimiter, err := newVersionService(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	deps := api.Deps{
		Session:        session,
		Versions:       versionService,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		LinkTTL:        cfg.Storage.LinkTTL,
	}

	if cfg.Storage.Enabled {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		deps.Links = storageClient
	}

	switch {
	case !cfg.API.AsyncExports:
	case cfg.Store.Backend != config.StorePostgres:
		logger.Warn("async exports disabled: the worker needs the postgres item store", zap.String("store", cfg.Store.Backend))
	default:
		exports, err := store.NewPostgresExportStore(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open export store: %w", err)
		}
		defer exports.Close()

		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn("queue client close failed", zap.Error(err))
			}
		}()
		deps.Exports = exports
		deps.Queue = queueClient
	}

	app := api.NewServer(logger, deps)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.API.Addr),
			zap.String("store", cfg.Store.Backend),
			zap.String("image_backend", pipeline.Backend()),
			zap.Bool("async_exports", deps.Queue != nil))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

// newVersionService builds the GitHub client behind the versions routes. The quota
// bucket lives in redis when configured so several api replicas share it.
func newVersionService(cfg config.Config, logger *zap.Logger) (*versions.Service, func(), error) {
	desktop, err := versions.ParseRepo(cfg.GitHub.DesktopRepo)
	if err != nil {
		return nil, nil, fmt.Errorf("desktop repo: %w", err)
	}
	web, err := versions.ParseRepo(cfg.GitHub.WebRepo)
	if err != nil {
		return nil, nil, fmt.Errorf("web repo: %w", err)
	}

	var (
		limiter versions.Limiter
		closeFn = func() {}
	)
	switch cfg.GitHub.QuotaBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		bucket, err := ratelimit.NewRedisTokenBucket(client, cfg.GitHub.Quota, cfg.GitHub.QuotaWindow, "")
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("github quota: %w", err)
		}
		limiter = bucket
		closeFn = func() { _ = client.Close() }
	default:
		bucket, err := ratelimit.NewLocalTokenBucket(cfg.GitHub.Quota, cfg.GitHub.QuotaWindow)
		if err != nil {
			return nil, nil, fmt.Errorf("github quota: %w", err)
		}
		limiter = bucket
	}

	client := versions.NewClient(versions.ClientConfig{
		BaseURL:    cfg.GitHub.BaseURL,
		Token:      cfg.GitHub.Token,
		Timeout:    cfg.GitHub.Timeout,
		MaxRetries: cfg.GitHub.MaxRetries,
		UserAgent:  "imagetea",
	}, limiter, versions.NewCache(cfg.GitHub.CacheSize, cfg.GitHub.CacheTTL))

	service := versions.NewService(client, versions.ServiceConfig{
		Desktop:      desktop,
		Web:          web,
		WebAppURL:    cfg.GitHub.WebAppURL,
		RefreshAfter: cfg.GitHub.CacheTTL,
	}, logger.Named("versions"))
	return service, closeFn, nil
}
