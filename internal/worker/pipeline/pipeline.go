// Package pipeline drives one job through build, vulnerability scan,
// sandboxed execution and result extraction.
//
// Each stage either hands over to the next one or ends the job as failed.
// The status store is written once per run, with the terminal state.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/recipe-runner/internal/metrics"
	"github.com/cuongbtq/recipe-runner/internal/status"
	"github.com/cuongbtq/recipe-runner/internal/workspace"
)

// Stage names a pipeline step
type Stage string

const (
	StageBuild   Stage = "build"
	StageScan    Stage = "scan"
	StageExecute Stage = "execute"
	StageExtract Stage = "extract"
)

// ErrVulnerable is recorded when the image has high severity findings
var ErrVulnerable = errors.New("Vulnerability scan failed")

// StageError is a failure that ends a job
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func fail(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// BuildRequest describes the image to build for a job
type BuildRequest struct {
	JobID      string
	ContextDir string
	Dockerfile string
}

// Builder turns a recipe into an image and returns its reference
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (string, error)
}

// ScanReport is the parsed scanner result
type ScanReport struct {
	High int
}

// Scanner inspects an image; failing to produce a count is an error
type Scanner interface {
	Scan(ctx context.Context, image string) (*ScanReport, error)
}

// RunRequest describes a sandboxed run
type RunRequest struct {
	JobID   string
	Image   string
	DataDir string
}

// RunResult is the outcome of a finished container
type RunResult struct {
	ExitCode int
	Logs     string
}

// Executor runs an image and blocks until the container has exited
type Executor interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// ImageRemover deletes built images
type ImageRemover interface {
	RemoveImage(ctx context.Context, image string) error
}

// Archiver mirrors terminal states into the job history
type Archiver interface {
	CompleteJob(ctx context.Context, jobID string, record status.Record) error
}

// Uploader copies job files to long-term storage
type Uploader interface {
	Upload(ctx context.Context, jobID, name string, data []byte) error
}

// Config holds pipeline dependencies; Archiver, Uploader and Images are optional
type Config struct {
	Logger           *slog.Logger
	Store            status.Store
	Workspace        *workspace.Workspace
	Builder          Builder
	Scanner          Scanner
	Executor         Executor
	Images           ImageRemover
	Archiver         Archiver
	Uploader         Uploader
	Metrics          *metrics.Metrics
	CleanupOnSuccess bool
	// WriteTimeout bounds the terminal store write
	WriteTimeout time.Duration
}

// Pipeline is safe for concurrent use across job ids
type Pipeline struct {
	logger           *slog.Logger
	store            status.Store
	workspace        *workspace.Workspace
	builder          Builder
	scanner          Scanner
	executor         Executor
	images           ImageRemover
	archiver         Archiver
	uploader         Uploader
	metrics          *metrics.Metrics
	cleanupOnSuccess bool
	writeTimeout     time.Duration
}

// New checks the required dependencies
func New(cfg *Config) (*Pipeline, error) {
	switch {
	case cfg.Logger == nil:
		return nil, errors.New("pipeline: logger is required")
	case cfg.Store == nil:
		return nil, errors.New("pipeline: status store is required")
	case cfg.Workspace == nil:
		return nil, errors.New("pipeline: workspace is required")
	case cfg.Builder == nil || cfg.Scanner == nil || cfg.Executor == nil:
		return nil, errors.New("pipeline: builder, scanner and executor are required")
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &Pipeline{
		logger:           cfg.Logger,
		store:            cfg.Store,
		workspace:        cfg.Workspace,
		builder:          cfg.Builder,
		scanner:          cfg.Scanner,
		executor:         cfg.Executor,
		images:           cfg.Images,
		archiver:         cfg.Archiver,
		uploader:         cfg.Uploader,
		metrics:          cfg.Metrics,
		cleanupOnSuccess: cfg.CleanupOnSuccess,
		writeTimeout:     writeTimeout,
	}, nil
}

// Run executes the job to a terminal state. It returns an error only when
// the job could not be started or its terminal state could not be stored.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	logger := p.logger.With(slog.String("job_id", jobID))

	current, err := p.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			logger.Warn("Skipping job without status record")
			return nil
		}
		return fmt.Errorf("failed to read job status: %w", err)
	}
	if current.Status.IsTerminal() {
		logger.Info("Skipping job already in terminal state",
			slog.String("status", string(current.Status)),
		)
		return nil
	}

	defer p.metrics.JobStarted()()
	logger.Info("Pipeline started")

	image, record, stage := p.execute(ctx, logger, jobID)

	// the job context may be cancelled by now; the terminal state must still land
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()

	if err := p.store.Put(writeCtx, jobID, record); err != nil {
		logger.Error("Failed to record terminal state",
			slog.String("status", string(record.Status)),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to record terminal state of job %s: %w", jobID, err)
	}
	p.metrics.ObserveOutcome(string(record.Status), string(stage))

	if record.Status == status.StateFailed {
		logger.Warn("Job failed",
			slog.String("stage", string(stage)),
			slog.String("error", record.Error),
		)
	} else {
		logger.Info("Job succeeded", slog.String("performance", string(record.Performance)))
	}

	p.finish(context.WithoutCancel(ctx), logger, jobID, image, record)
	return nil
}

// execute runs the stages and returns the built image, the terminal record
// and the stage that decided it. A panicking stage fails the job.
func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, jobID string) (image string, record status.Record, stage Stage) {
	stage = StageBuild
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline stage panicked",
				slog.String("stage", string(stage)),
				slog.Any("panic", r),
			)
			record = status.Failed(fmt.Sprintf("%s stage panicked: %v", stage, r))
		}
	}()

	image, err := p.build(ctx, jobID)
	if err != nil {
		return "", failedRecord(err), stage
	}
	logger.Info("Image built", slog.String("image", image))

	stage = StageScan
	if err := p.scan(ctx, image); err != nil {
		return image, failedRecord(err), stage
	}
	logger.Info("Image passed vulnerability scan")

	stage = StageExecute
	if err := p.run(ctx, jobID, image); err != nil {
		return image, failedRecord(err), stage
	}

	stage = StageExtract
	perf, err := p.extract(jobID)
	if err != nil {
		return image, failedRecord(err), stage
	}
	return image, status.Succeeded(perf), stage
}

func failedRecord(err error) status.Record {
	msg := err.Error()
	if msg == "" {
		msg = "job failed"
	}
	return status.Failed(msg)
}

func (p *Pipeline) timed(stage Stage) func() {
	start := time.Now()
	return func() {
		p.metrics.ObserveStage(string(stage), time.Since(start))
	}
}

func (p *Pipeline) build(ctx context.Context, jobID string) (string, error) {
	defer p.timed(StageBuild)()

	dir, err := p.workspace.JobDir(jobID)
	if err != nil {
		return "", fail(StageBuild, err)
	}

	image, err := p.builder.Build(ctx, BuildRequest{
		JobID:      jobID,
		ContextDir: dir,
		Dockerfile: p.workspace.RecipeFile(),
	})
	if err != nil {
		return "", fail(StageBuild, err)
	}
	return image, nil
}

func (p *Pipeline) scan(ctx context.Context, image string) error {
	defer p.timed(StageScan)()

	report, err := p.scanner.Scan(ctx, image)
	if err != nil {
		return fail(StageScan, err)
	}
	if report == nil {
		return fail(StageScan, errors.New("scanner returned no report"))
	}
	if report.High > 0 {
		return fail(StageScan, ErrVulnerable)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, jobID, image string) error {
	defer p.timed(StageExecute)()

	dataDir, err := p.workspace.HostDataDir(jobID)
	if err != nil {
		return fail(StageExecute, err)
	}

	result, err := p.executor.Run(ctx, RunRequest{
		JobID:   jobID,
		Image:   image,
		DataDir: dataDir,
	})
	if err != nil {
		return fail(StageExecute, err)
	}
	if result == nil {
		return fail(StageExecute, errors.New("executor returned no result"))
	}
	if result.ExitCode != 0 {
		msg := fmt.Sprintf("container exited with code %d", result.ExitCode)
		if result.Logs != "" {
			msg += ": " + result.Logs
		}
		return fail(StageExecute, errors.New(msg))
	}
	return nil
}

type artifact struct {
	Perf json.RawMessage `json:"perf"`
}

func (p *Pipeline) extract(jobID string) (json.RawMessage, error) {
	defer p.timed(StageExtract)()

	data, err := p.workspace.ReadArtifact(jobID)
	if err != nil {
		return nil, fail(StageExtract, fmt.Errorf("failed to read %s: %w", p.workspace.ArtifactFile(), err))
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fail(StageExtract, fmt.Errorf("failed to parse %s: %w", p.workspace.ArtifactFile(), err))
	}
	if len(a.Perf) == 0 || string(a.Perf) == "null" {
		return nil, fail(StageExtract, fmt.Errorf("%s has no perf value", p.workspace.ArtifactFile()))
	}
	return a.Perf, nil
}

// finish runs the post-terminal steps; none of them can change the job state
func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, jobID, image string, record status.Record) {
	if p.archiver != nil {
		if err := p.archiver.CompleteJob(ctx, jobID, record); err != nil {
			logger.Warn("Failed to archive job", slog.Any("error", err))
		}
	}

	if p.uploader != nil {
		p.upload(ctx, logger, jobID)
	}

	if p.images != nil && image != "" {
		if err := p.images.RemoveImage(ctx, image); err != nil {
			logger.Warn("Failed to remove image",
				slog.String("image", image),
				slog.Any("error", err),
			)
		}
	}

	if p.cleanupOnSuccess && record.Status == status.StateSuccess {
		if err := p.workspace.Remove(jobID); err != nil {
			logger.Warn("Failed to clean up workspace", slog.Any("error", err))
		}
	}
}

func (p *Pipeline) upload(ctx context.Context, logger *slog.Logger, jobID string) {
	if recipe, err := p.workspace.ReadRecipe(jobID); err == nil {
		if err := p.uploader.Upload(ctx, jobID, p.workspace.RecipeFile(), recipe); err != nil {
			logger.Warn("Failed to upload recipe", slog.Any("error", err))
		}
	}

	if data, err := p.workspace.ReadArtifact(jobID); err == nil {
		if err := p.uploader.Upload(ctx, jobID, p.workspace.ArtifactFile(), data); err != nil {
			logger.Warn("Failed to upload artifact", slog.Any("error", err))
		}
	}
}
