package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// HostServiceDirEnv overrides workspace.host_base_dir
	HostServiceDirEnv = "HOST_SERVICE_DIRECTORY"

	// DeploymentLocal runs the worker on the same filesystem as the Docker daemon
	DeploymentLocal = "local"
	// DeploymentDocker runs the worker in a container next to the daemon
	DeploymentDocker = "docker"
)

// ErrHostBaseDirRequired is returned when the worker runs in a container
// and the host path of the workspace is unknown
var ErrHostBaseDirRequired = errors.New("workspace host_base_dir (or " + HostServiceDirEnv + ") is required for docker deployment")

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Archive     ArchiveConfig     `yaml:"archive"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Worker      WorkerConfig      `yaml:"worker"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Recipe      RecipeConfig      `yaml:"recipe"`
	Docker      DockerConfig      `yaml:"docker"`
	Scanner     ScannerConfig     `yaml:"scanner"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRecipeBytes  int64         `yaml:"max_recipe_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// ArchiveConfig toggles the PostgreSQL job history
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the status store connection
type RedisConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	PoolSize    int           `yaml:"pool_size"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"`
}

// RateLimitConfig holds the fixed window limiter applied to /submit and /status
type RateLimitConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Limit     int           `yaml:"limit"`
	Window    time.Duration `yaml:"window"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// MetricsConfig holds the Prometheus listener for the worker
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WorkspaceConfig describes where job working directories live
type WorkspaceConfig struct {
	BaseDir          string `yaml:"base_dir"`
	HostBaseDir      string `yaml:"host_base_dir"`
	Deployment       string `yaml:"deployment"`
	RecipeFile       string `yaml:"recipe_file"`
	ArtifactFile     string `yaml:"artifact_file"`
	CleanupOnSuccess bool   `yaml:"cleanup_on_success"`
}

// RecipeConfig overrides the validator deny-list
type RecipeConfig struct {
	ForbiddenTokens []string `yaml:"forbidden_tokens"`
}

// DockerConfig holds the container engine and sandbox profile settings
type DockerConfig struct {
	Endpoint       string `yaml:"endpoint"`
	RunUser        string `yaml:"run_user"`
	MemoryBytes    int64  `yaml:"memory_bytes"`
	NetworkMode    string `yaml:"network_mode"`
	WritableRootfs bool   `yaml:"writable_rootfs"`
	RemoveImage    bool   `yaml:"remove_image"`
	LogTailLines   int    `yaml:"log_tail_lines"`
}

// ScannerConfig holds the vulnerability scanner invocation
type ScannerConfig struct {
	Binary  string        `yaml:"binary"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// ObjectStoreConfig holds the artifact archive bucket
type ObjectStoreConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "job_status:"
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = "rl:"
	}
	if c.Server.MaxRecipeBytes == 0 {
		c.Server.MaxRecipeBytes = 1 << 20
	}
	if c.Workspace.Deployment == "" {
		c.Workspace.Deployment = DeploymentLocal
	}
	if c.Workspace.RecipeFile == "" {
		c.Workspace.RecipeFile = "Dockerfile"
	}
	if c.Workspace.ArtifactFile == "" {
		c.Workspace.ArtifactFile = "perf.json"
	}
	if c.Docker.RunUser == "" {
		c.Docker.RunUser = "nobody"
	}
	if c.Docker.LogTailLines == 0 {
		c.Docker.LogTailLines = 20
	}
	if c.Scanner.Binary == "" {
		c.Scanner.Binary = "trivy"
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 1
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(HostServiceDirEnv); dir != "" {
		c.Workspace.HostBaseDir = dir
	}
}

// Validate checks the settings both services depend on
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Workspace.BaseDir == "" {
		return fmt.Errorf("workspace base_dir is required")
	}

	if c.Archive.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	return nil
}

// ValidateAPIConfig checks the settings of the API service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.RateLimit.Enabled && c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit limit must not be negative")
	}

	return nil
}

// ValidateWorkerConfig checks the settings of the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	switch c.Workspace.Deployment {
	case DeploymentLocal:
	case DeploymentDocker:
		if c.Workspace.HostBaseDir == "" {
			return ErrHostBaseDirRequired
		}
	default:
		return fmt.Errorf("invalid workspace deployment %q (must be %q or %q)", c.Workspace.Deployment, DeploymentLocal, DeploymentDocker)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	if c.ObjectStore.Enabled {
		if c.ObjectStore.Endpoint == "" {
			return fmt.Errorf("object_store endpoint is required")
		}
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("object_store bucket is required")
		}
	}

	return nil
}
