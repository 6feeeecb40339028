package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/cwygoda/collector/internal/adapter/fetch"
	httpAdapter "github.com/cwygoda/collector/internal/adapter/http"
	"github.com/cwygoda/collector/internal/adapter/parser"
	"github.com/cwygoda/collector/internal/adapter/sqlite"
	"github.com/cwygoda/collector/internal/adapter/storage"
	"github.com/cwygoda/collector/internal/batch"
	"github.com/cwygoda/collector/internal/collector"
	"github.com/cwygoda/collector/internal/config"
	"github.com/cwygoda/collector/internal/dispatch"
	"github.com/cwygoda/collector/internal/domain"
	"github.com/cwygoda/collector/internal/metrics"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && (args[0] == "serve" || args[0] == "run") {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	registry, err := buildRegistry(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("failed to initialize collectors", "error", err)
		os.Exit(1)
	}

	switch cmd {
	case "run":
		err = runOnce(ctx, cfg, registry, logger)
	default:
		err = serve(ctx, cfg, registry, m, logger)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func buildRegistry(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*collector.Registry, error) {
	pool, err := batch.New(cfg.Workers, logger)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(fetch.Options{
		Timeout:    cfg.HTTP.Timeout,
		RetryCount: cfg.HTTP.RetryCount,
		UserAgent:  cfg.HTTP.UserAgent,
	})

	var s3Client *s3.Client
	if cfg.Storage.Backend == "s3" {
		if s3Client, err = newS3Client(ctx, cfg.Storage); err != nil {
			return nil, err
		}
	}

	registry := collector.NewRegistry()
	for _, cat := range cfg.Catalogs {
		catLogger := logger.With("catalog", cat.Name)

		var persister domain.Persister
		if s3Client != nil {
			persister, err = storage.NewS3(ctx, s3Client, cfg.Storage.Bucket, path.Join(cfg.Storage.Prefix, cat.Name), catLogger)
		} else {
			persister, err = storage.NewFS(cat.Dir(cfg.OutputDir), catLogger)
		}
		if err != nil {
			return nil, fmt.Errorf("catalog %q storage: %w", cat.Name, err)
		}

		c, err := collector.New(cat, collector.Deps{
			Fetcher:   fetcher,
			Parser:    parser.New(),
			Persister: persister,
			Batch:     pool,
			Observer:  m,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(c)
	}
	return registry, nil
}

func newS3Client(ctx context.Context, sc config.StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(sc.Region)}
	if sc.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKey, sc.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
		o.UsePathStyle = sc.UsePathStyle
	}), nil
}

func runOnce(ctx context.Context, cfg *config.Config, registry *collector.Registry, logger *slog.Logger) error {
	cat, ok := cfg.FindCatalog(cfg.Catalog)
	c := registry.Lookup(cfg.Catalog)
	if !ok || c == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCatalog, cfg.Catalog)
	}

	pages := cfg.Pages
	if pages == 0 {
		pages = cat.PagesOrDefault()
	}

	start := time.Now()
	stats, err := c.Run(ctx, pages)
	if err != nil {
		return err
	}
	logger.Info("run finished",
		"catalog", cfg.Catalog,
		"pages_scanned", stats.PagesScanned,
		"assets_found", stats.AssetsFound,
		"assets_saved", stats.AssetsSaved,
		"bytes_saved", stats.BytesSaved,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func serve(ctx context.Context, cfg *config.Config, registry *collector.Registry, m *metrics.Metrics, logger *slog.Logger) error {
	logger.Info("starting collector",
		"port", cfg.Port,
		"database", cfg.DBPath,
		"storage", cfg.Storage.Backend,
		"catalogs", registry.Names(),
	)

	repo, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repo.Close()

	svc := domain.NewRunService(repo, registry.Has)

	if recovered, err := svc.RecoverStale(ctx); err != nil {
		logger.Warn("failed to recover stale runs", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered stale runs", "count", recovered)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(svc, registry, addr, logger, httpAdapter.Options{
		Secret:  cfg.Secret,
		Metrics: m.Handler(),
	})

	d := dispatch.New(svc, registry, m, cfg.PollInterval, cfg.MaxRetries, logger)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	done := make(chan struct{})
	go func() {
		d.Run(runCtx)
		close(done)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case serveErr = <-errCh:
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("dispatcher did not stop before shutdown timeout")
	}

	logger.Info("shutdown complete")
	return serveErr
}
