// Package engine builds and runs job images on a Docker daemon
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/cuongbtq/recipe-runner/internal/worker/pipeline"
)

// DataMountPoint is where the job data directory appears inside the container
const DataMountPoint = "/data"

type dockerAPI interface {
	BuildImage(opts docker.BuildImageOptions) error
	InspectImage(name string) (*docker.Image, error)
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	StartContainerWithContext(id string, hostConfig *docker.HostConfig, ctx context.Context) error
	WaitContainerWithContext(id string, ctx context.Context) (int, error)
	Logs(opts docker.LogsOptions) error
	RemoveContainer(opts docker.RemoveContainerOptions) error
	RemoveImageExtended(name string, opts docker.RemoveImageOptions) error
}

// Config holds the sandbox profile
type Config struct {
	Logger *slog.Logger
	Client dockerAPI
	// RunUser is the identity the job runs as
	RunUser        string
	MemoryBytes    int64
	NetworkMode    string
	WritableRootfs bool
	LogTailLines   int
}

// Engine implements pipeline.Builder, pipeline.Executor and pipeline.ImageRemover
type Engine struct {
	logger         *slog.Logger
	client         dockerAPI
	runUser        string
	memoryBytes    int64
	networkMode    string
	writableRootfs bool
	logTailLines   int
}

// New creates an engine over a go-dockerclient client
func New(cfg *Config) *Engine {
	runUser := cfg.RunUser
	if runUser == "" {
		runUser = "nobody"
	}

	return &Engine{
		logger:         cfg.Logger,
		client:         cfg.Client,
		runUser:        runUser,
		memoryBytes:    cfg.MemoryBytes,
		networkMode:    cfg.NetworkMode,
		writableRootfs: cfg.WritableRootfs,
		logTailLines:   cfg.LogTailLines,
	}
}

// ImageTag names the image built for a job
func ImageTag(jobID string) string {
	return "recipe-job-" + jobID + ":latest"
}

// Build builds the job directory and returns the image id
func (e *Engine) Build(ctx context.Context, req pipeline.BuildRequest) (string, error) {
	tag := ImageTag(req.JobID)

	var output bytes.Buffer
	err := e.client.BuildImage(docker.BuildImageOptions{
		Context:             ctx,
		Name:                tag,
		Dockerfile:          req.Dockerfile,
		ContextDir:          req.ContextDir,
		OutputStream:        &output,
		RmTmpContainer:      true,
		ForceRmTmpContainer: true,
	})
	if err != nil {
		return "", fmt.Errorf("image build failed: %w", err)
	}

	image, err := e.client.InspectImage(tag)
	if err != nil {
		return "", fmt.Errorf("failed to inspect built image: %w", err)
	}

	e.logger.Debug("Image built",
		slog.String("job_id", req.JobID),
		slog.String("tag", tag),
		slog.String("image_id", image.ID),
	)
	return image.ID, nil
}

// containerOptions is the sandbox profile of a job container
func (e *Engine) containerOptions(ctx context.Context, req pipeline.RunRequest) docker.CreateContainerOptions {
	hostConfig := &docker.HostConfig{
		Binds:          []string{req.DataDir + ":" + DataMountPoint + ":rw"},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: !e.writableRootfs,
		Memory:         e.memoryBytes,
		NetworkMode:    e.networkMode,
	}

	return docker.CreateContainerOptions{
		Name: "recipe-job-" + req.JobID,
		Config: &docker.Config{
			Image:  req.Image,
			User:   e.runUser,
			Labels: map[string]string{"recipe-runner.job-id": req.JobID},
		},
		HostConfig: hostConfig,
		Context:    ctx,
	}
}

// Run starts the container and blocks until it exits
func (e *Engine) Run(ctx context.Context, req pipeline.RunRequest) (*pipeline.RunResult, error) {
	opts := e.containerOptions(ctx, req)

	container, err := e.client.CreateContainer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer e.remove(container.ID)

	if err := e.client.StartContainerWithContext(container.ID, nil, ctx); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	exitCode, err := e.client.WaitContainerWithContext(container.ID, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for container: %w", err)
	}

	result := &pipeline.RunResult{ExitCode: exitCode}
	if exitCode != 0 {
		result.Logs = e.tail(ctx, container.ID)
	}
	return result, nil
}

func (e *Engine) tail(ctx context.Context, containerID string) string {
	if e.logTailLines <= 0 {
		return ""
	}

	var out bytes.Buffer
	err := e.client.Logs(docker.LogsOptions{
		Context:      ctx,
		Container:    containerID,
		OutputStream: &out,
		ErrorStream:  &out,
		Stdout:       true,
		Stderr:       true,
		Tail:         strconv.Itoa(e.logTailLines),
	})
	if err != nil {
		e.logger.Warn("Failed to read container logs",
			slog.String("container_id", containerID),
			slog.Any("error", err),
		)
		return ""
	}
	return strings.TrimSpace(out.String())
}

// remove runs after the job ended, so it must not depend on the job context
func (e *Engine) remove(containerID string) {
	err := e.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:            containerID,
		Force:         true,
		RemoveVolumes: true,
		Context:       context.Background(),
	})
	if err != nil {
		e.logger.Warn("Failed to remove container",
			slog.String("container_id", containerID),
			slog.Any("error", err),
		)
	}
}

// RemoveImage deletes a job image
func (e *Engine) RemoveImage(ctx context.Context, image string) error {
	err := e.client.RemoveImageExtended(image, docker.RemoveImageOptions{
		Force:   true,
		Context: ctx,
	})
	if err != nil {
		return fmt.Errorf("failed to remove image %s: %w", image, err)
	}
	return nil
}
