package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dockerclient "github.com/fsouza/go-dockerclient"
)

// Config holds Docker daemon connection configuration
type Config struct {
	// Endpoint is the daemon address; empty means DOCKER_HOST and friends
	Endpoint string
}

// NewClient connects to the Docker daemon and pings it
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*dockerclient.Client, error) {
	var (
		client *dockerclient.Client
		err    error
	)

	if config.Endpoint == "" {
		client, err = dockerclient.NewClientFromEnv()
	} else {
		client, err = dockerclient.NewClient(config.Endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.PingWithContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping docker daemon: %w", err)
	}

	logger.Info("Connected to Docker daemon",
		slog.String("endpoint", client.Endpoint()),
	)

	return client, nil
}
