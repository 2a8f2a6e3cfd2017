package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/recipe-runner/internal/api/handler"
	"github.com/cuongbtq/recipe-runner/internal/api/router"
	"github.com/cuongbtq/recipe-runner/internal/api/service"
	"github.com/cuongbtq/recipe-runner/internal/api/storage"
	"github.com/cuongbtq/recipe-runner/internal/config"
	"github.com/cuongbtq/recipe-runner/internal/metrics"
	"github.com/cuongbtq/recipe-runner/internal/queue"
	"github.com/cuongbtq/recipe-runner/internal/recipe"
	"github.com/cuongbtq/recipe-runner/internal/status"
	"github.com/cuongbtq/recipe-runner/internal/workspace"
	"github.com/cuongbtq/recipe-runner/migrations"
	"github.com/cuongbtq/recipe-runner/shared/logger"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	// Initialize Redis client
	redisClient, err := initRedis(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Initialize PostgreSQL client when the job archive is enabled
	var (
		dbClient *postgresql.Client
		history  *storage.Storage
	)
	if cfg.Archive.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		appLogger.Info("Database connection established")

		if err := dbClient.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		history = storage.NewStorage(dbClient.GetDB())
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

	var (
		gatherer   prometheus.Gatherer
		appMetrics *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		appMetrics = metrics.New(reg)
		gatherer = reg
	}

	svcCfg := &service.Config{
		Logger:    appLogger.Logger,
		Validator: recipe.NewValidator(cfg.Recipe.ForbiddenTokens...),
		Store:     status.NewRedisStore(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.TTL),
		Workspace: ws,
		Queue:     queue.NewPublisher(rabbitClient),
		Metrics:   appMetrics,
	}
	// a nil *storage.Storage in the interface would not compare equal to nil
	if history != nil {
		svcCfg.Archive = history
	}

	handlerDeps := &handler.Dependencies{
		Logger:         appLogger.Logger,
		Service:        service.New(svcCfg),
		Queue:          queue.NewInspector(rabbitClient),
		MaxRecipeBytes: cfg.Server.MaxRecipeBytes,
	}
	if history != nil {
		handlerDeps.History = history
	}

	routerOpts := &router.Options{
		ServiceName:  cfg.App.Name,
		Gatherer:     gatherer,
		HealthChecks: map[string]router.HealthCheck{
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
			"rabbitmq": handlerDeps.Queue.Ping,
		},
	}
	if dbClient != nil {
		routerOpts.HealthChecks["postgres"] = dbClient.HealthCheck
	}
	if cfg.RateLimit.Enabled {
		routerOpts.RateLimiter = router.NewRateLimiter(router.RateLimiterConfig{
			RedisClient: redisClient,
			Logger:      appLogger.Logger,
			Limit:       cfg.RateLimit.Limit,
			Window:      cfg.RateLimit.Window,
			KeyPrefix:   cfg.RateLimit.KeyPrefix,
		})
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, handlerDeps, routerOpts)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Bool("rate_limit", cfg.RateLimit.Enabled),
		slog.Bool("archive", cfg.Archive.Enabled),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies, opts *router.Options) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, opts)
}
