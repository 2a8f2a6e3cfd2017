package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/recipe-runner/internal/config"
	"github.com/cuongbtq/recipe-runner/internal/metrics"
	"github.com/cuongbtq/recipe-runner/internal/status"
	"github.com/cuongbtq/recipe-runner/internal/worker"
	"github.com/cuongbtq/recipe-runner/internal/worker/artifacts"
	"github.com/cuongbtq/recipe-runner/internal/worker/engine"
	"github.com/cuongbtq/recipe-runner/internal/worker/pipeline"
	"github.com/cuongbtq/recipe-runner/internal/worker/scanner"
	"github.com/cuongbtq/recipe-runner/internal/worker/storage"
	"github.com/cuongbtq/recipe-runner/internal/workspace"
	"github.com/cuongbtq/recipe-runner/shared/docker"
	"github.com/cuongbtq/recipe-runner/shared/logger"
	"github.com/cuongbtq/recipe-runner/shared/objectstore"
	"github.com/cuongbtq/recipe-runner/shared/postgresql"
	"github.com/cuongbtq/recipe-runner/shared/rabbitmq"
	"github.com/cuongbtq/recipe-runner/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}
	baseLogger := appLogger.WithAttrs(slog.String("worker_id", workerID)).Logger

	baseLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("deployment", cfg.Workspace.Deployment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis client
	redisClient, err := initRedis(ctx, &cfg.Redis, baseLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	// Initialize Docker client
	dockerClient, err := docker.NewClient(ctx, &docker.Config{Endpoint: cfg.Docker.Endpoint}, baseLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize docker: %w", err)
	}

	ws, err := workspace.New(workspace.Config{
		BaseDir:      cfg.Workspace.BaseDir,
		HostBaseDir:  cfg.Workspace.HostBaseDir,
		RecipeFile:   cfg.Workspace.RecipeFile,
		ArtifactFile: cfg.Workspace.ArtifactFile,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(reg)

	eng := engine.New(&engine.Config{
		Logger:         baseLogger,
		Client:         dockerClient,
		RunUser:        cfg.Docker.RunUser,
		MemoryBytes:    cfg.Docker.MemoryBytes,
		NetworkMode:    cfg.Docker.NetworkMode,
		WritableRootfs: cfg.Docker.WritableRootfs,
		LogTailLines:   cfg.Docker.LogTailLines,
	})

	pipelineCfg := &pipeline.Config{
		Logger:           baseLogger,
		Store:            status.NewRedisStore(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.TTL),
		Workspace:        ws,
		Builder:          eng,
		Scanner:          scanner.New(&scanner.Config{Logger: baseLogger, Binary: cfg.Scanner.Binary, Args: cfg.Scanner.Args, Timeout: cfg.Scanner.Timeout}),
		Executor:         eng,
		Metrics:          appMetrics,
		CleanupOnSuccess: cfg.Workspace.CleanupOnSuccess,
	}
	if cfg.Docker.RemoveImage {
		pipelineCfg.Images = eng
	}

	// Initialize PostgreSQL client when the job archive is enabled
	if cfg.Archive.Enabled {
		dbClient, err := initPostgreSQL(&cfg.Database, baseLogger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		pipelineCfg.Archiver = storage.NewStorage(dbClient.GetDB(), baseLogger)
		baseLogger.Info("Database connection established")
	}

	// Initialize object store when artifact upload is enabled
	if cfg.ObjectStore.Enabled {
		store, err := objectstore.NewClient(ctx, &objectstore.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
		}, baseLogger)
		if err != nil {
			return fmt.Errorf("failed to initialize object store: %w", err)
		}

		pipelineCfg.Uploader = artifacts.NewUploader(store, store.Bucket, baseLogger)
	}

	jobPipeline, err := pipeline.New(pipelineCfg)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, baseLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	baseLogger.Info("RabbitMQ connection established")

	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:        baseLogger,
		Source:        rabbitClient,
		Runner:        jobPipeline,
		WorkerID:      workerID,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			if err := metrics.Listen(ctx, addr, reg, baseLogger); err != nil {
				baseLogger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	baseLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		baseLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		baseLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Stop consuming; in-flight jobs keep running until the timeout
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case err := <-errChan:
		if err != nil {
			baseLogger.Warn("Worker exited with error", slog.Any("error", err))
		}
		baseLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		baseLogger.Warn("Worker shutdown timeout exceeded, cancelling in-flight jobs")
		workerInstance.Stop()
	}

	baseLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRedis connects to the status store
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*goredis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		PoolSize:    cfg.PoolSize,
	}, logger)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
