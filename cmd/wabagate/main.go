package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wabagate/internal/cache"
	"wabagate/internal/config"
	"wabagate/internal/constants"
	"wabagate/internal/database"
	"wabagate/internal/models"
	"wabagate/internal/realtime"
	"wabagate/internal/retry"
	"wabagate/internal/service"
	"wabagate/internal/tracing"
	"wabagate/internal/vault"
	"wabagate/pkg/whatsapp"
	"wabagate/pkg/whatsapp/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment overrides")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wabagate %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

// loadEnvFile loads path into the process environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func configureLogger(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := loadEnvFile(*envFile); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wabagate")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogger(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	v, err := vault.New(cfg.Encryption.Secret)
	if err != nil {
		return fmt.Errorf("failed to initialize token vault: %w", err)
	}

	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path, v)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	deduper, closeDeduper, err := newDeduper(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeDeduper()

	waClient := whatsapp.NewClient(types.ClientConfig{
		BaseURL:    cfg.WhatsApp.APIBaseURL,
		APIVersion: cfg.WhatsApp.APIVersion,
		Timeout:    time.Duration(cfg.WhatsApp.TimeoutMs) * time.Millisecond,
	})

	hub := realtime.NewHub(logger)
	sendTimeout := time.Duration(cfg.Queue.SendTimeoutSec) * time.Second

	connections := service.NewConnectionService(db, waClient, sendTimeout, logger)
	messaging := service.NewMessagingService(db, waClient, hub, service.MessagingConfig{
		SendTimeout: sendTimeout,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}, logger)

	processor := service.NewWebhookProcessor(db, waClient, hub, deduper, service.WebhookProcessorConfig{
		PollInterval: time.Duration(cfg.Webhook.PollIntervalSec) * time.Second,
		BatchSize:    cfg.Webhook.BatchSize,
		MaxAttempts:  cfg.Webhook.MaxAttempts,
	}, logger)

	worker := service.NewOutboundWorker(db, waClient, nil, hub, workerConfig(cfg.Queue), logger)
	scheduler := service.NewScheduler(db, cfg.Webhook.RetentionDays, 0, logger)

	verboseCtx := service.WithVerbose(ctx, *verbose)
	go processor.Start(verboseCtx)
	go worker.Start(verboseCtx)
	go scheduler.Start(ctx)

	watcher := config.NewConfigWatcher(*configPath, cfg, logger)
	watcher.OnConfigChange(func(next *models.Config) {
		configureLogger(logger, next.LogLevel, *verbose)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Config watcher stopped")
		}
	}()

	server := NewServer(cfg, Dependencies{
		Store:       db,
		Connections: connections,
		Messaging:   messaging,
		Processor:   processor,
		Hub:         hub,
		Breaker:     worker.Breaker(),
	}, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func workerConfig(q models.QueueConfig) service.OutboundWorkerConfig {
	return service.OutboundWorkerConfig{
		WorkerID:     q.WorkerID,
		Interval:     time.Duration(q.IntervalSec) * time.Second,
		BatchSize:    q.BatchSize,
		BaseDelay:    time.Duration(q.BaseDelaySec) * time.Second,
		SendTimeout:  time.Duration(q.SendTimeoutSec) * time.Second,
		ClaimTimeout: time.Duration(q.ClaimTimeoutSec) * time.Second,
	}
}

// newDeduper returns a Redis-backed deduper when an address is configured, and
// the no-op deduper otherwise.
func newDeduper(ctx context.Context, cfg models.RedisConfig, logger *logrus.Logger) (service.Deduper, func(), error) {
	client, err := cache.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if client == nil {
		logger.Info("Redis not configured; inbound dedup relies on the database only")
		return cache.Noop{}, func() {}, nil
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	return cache.NewRedisDeduper(client, time.Duration(cfg.DedupTTLSec)*time.Second), closeFn, nil
}
