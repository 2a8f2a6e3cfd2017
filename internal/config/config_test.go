package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv(HostServiceDirEnv, "")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "jobs_db", cfg.Database.Database)
			assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "recipe-api-service", cfg.App.Name)
			assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
			assert.Equal(t, "./experiment_summaries", cfg.Workspace.BaseDir)
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv(HostServiceDirEnv, "")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "job_status:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, DeploymentLocal, cfg.Workspace.Deployment)
	assert.Equal(t, "Dockerfile", cfg.Workspace.RecipeFile)
	assert.Equal(t, "perf.json", cfg.Workspace.ArtifactFile)
	assert.Equal(t, "nobody", cfg.Docker.RunUser)
	assert.Equal(t, "trivy", cfg.Scanner.Binary)
	assert.Equal(t, 1, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxRecipeBytes)
}

func TestLoad_HostServiceDirectoryEnv(t *testing.T) {
	t.Setenv(HostServiceDirEnv, "/Users/dave/ml-executor/experiment_summaries")

	cfg, err := Load("testdata/docker_deployment.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/Users/dave/ml-executor/experiment_summaries", cfg.Workspace.HostBaseDir)
	require.NoError(t, cfg.ValidateWorkerConfig())
}

func TestValidateWorkerConfig_DockerDeploymentNeedsHostDir(t *testing.T) {
	t.Setenv(HostServiceDirEnv, "")

	cfg, err := Load("testdata/docker_deployment.yaml")
	require.NoError(t, err)

	err = cfg.ValidateWorkerConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostBaseDirRequired)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "jobs_exchange"},
			Queue:    QueueConfig{Name: "jobs_queue"},
		},
		Worker:    WorkerConfig{Concurrency: 2},
		Workspace: WorkspaceConfig{BaseDir: "/tmp/jobs", Deployment: DeploymentLocal},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty redis host", mutate: func(c *Config) { c.Redis.Host = "" }, errString: "redis host is required"},
		{name: "invalid redis port", mutate: func(c *Config) { c.Redis.Port = 0 }, errString: "invalid redis port"},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "invalid rabbitmq port", mutate: func(c *Config) { c.RabbitMQ.Port = 70000 }, errString: "invalid rabbitmq port"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "empty queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "empty workspace", mutate: func(c *Config) { c.Workspace.BaseDir = "" }, errString: "workspace base_dir is required"},
		{
			name:      "archive without database host",
			mutate:    func(c *Config) { c.Archive.Enabled = true },
			errString: "database host is required",
		},
		{
			name: "archive without database name",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Database = DatabaseConfig{Host: "localhost", Port: 5432}
			},
			errString: "database name is required",
		},
		{
			name:   "database ignored when archive disabled",
			mutate: func(c *Config) { c.Database = DatabaseConfig{} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.ValidateAPIConfig())

	for _, port := range []int{0, -1, 65536, 70000} {
		cfg.Server.Port = port
		err := cfg.ValidateAPIConfig()
		require.Error(t, err, "port %d should be invalid", port)
		assert.Contains(t, err.Error(), "invalid server port")
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "concurrency must be greater than 0"},
		{name: "negative timeout", mutate: func(c *Config) { c.Worker.JobTimeout = -time.Second }, errString: "job_timeout must not be negative"},
		{name: "unknown deployment", mutate: func(c *Config) { c.Workspace.Deployment = "k8s" }, errString: "invalid workspace deployment"},
		{
			name:   "docker deployment with host dir",
			mutate: func(c *Config) { c.Workspace.Deployment = DeploymentDocker; c.Workspace.HostBaseDir = "/srv/jobs" },
		},
		{
			name:      "metrics with invalid port",
			mutate:    func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, Port: 0} },
			errString: "invalid metrics port",
		},
		{
			name:      "object store without bucket",
			mutate:    func(c *Config) { c.ObjectStore = ObjectStoreConfig{Enabled: true, Endpoint: "minio:9000"} },
			errString: "object_store bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Setenv(HostServiceDirEnv, "")

	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
