// Package service implements job submission and status queries
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/recipe-runner/internal/api/model"
	"github.com/cuongbtq/recipe-runner/internal/metrics"
	"github.com/cuongbtq/recipe-runner/internal/recipe"
	"github.com/cuongbtq/recipe-runner/internal/status"
	"github.com/cuongbtq/recipe-runner/internal/workspace"
)

var (
	// ErrEmptyRecipe is returned for a blank submission
	ErrEmptyRecipe = errors.New("No Dockerfile provided")

	// ErrEnqueue is returned when the job was stored but could not be handed off
	ErrEnqueue = errors.New("failed to enqueue job")
)

// Enqueuer hands a job off to the workers
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Archive records submissions in the job history
type Archive interface {
	CreateJob(ctx context.Context, job *model.Job) error
}

// Config holds service dependencies; Archive and Metrics are optional
type Config struct {
	Logger    *slog.Logger
	Validator *recipe.Validator
	Store     status.Store
	Workspace *workspace.Workspace
	Queue     Enqueuer
	Archive   Archive
	Metrics   *metrics.Metrics
}

// Service is safe for concurrent use
type Service struct {
	logger    *slog.Logger
	validator *recipe.Validator
	store     status.Store
	workspace *workspace.Workspace
	queue     Enqueuer
	archive   Archive
	metrics   *metrics.Metrics
	newID     func() string
}

// New creates the service
func New(cfg *Config) *Service {
	validator := cfg.Validator
	if validator == nil {
		validator = recipe.NewValidator()
	}

	return &Service{
		logger:    cfg.Logger,
		validator: validator,
		store:     cfg.Store,
		workspace: cfg.Workspace,
		queue:     cfg.Queue,
		archive:   cfg.Archive,
		metrics:   cfg.Metrics,
		newID:     func() string { return uuid.New().String() },
	}
}

// Submit validates a recipe, records the job as processing and enqueues it.
// A rejected recipe leaves no trace: no directory, no record, no message.
func (s *Service) Submit(ctx context.Context, recipeText string) (string, error) {
	if strings.TrimSpace(recipeText) == "" {
		s.metrics.ObserveSubmission(metrics.SubmissionRejected)
		return "", ErrEmptyRecipe
	}

	if err := s.validator.Validate(recipeText); err != nil {
		s.metrics.ObserveSubmission(metrics.SubmissionRejected)
		return "", err
	}

	jobID := s.newID()
	logger := s.logger.With(slog.String("job_id", jobID))

	if err := s.workspace.Create(jobID, recipeText); err != nil {
		s.metrics.ObserveSubmission(metrics.SubmissionError)
		return "", fmt.Errorf("failed to prepare workspace: %w", err)
	}

	if err := s.store.Put(ctx, jobID, status.Processing()); err != nil {
		s.metrics.ObserveSubmission(metrics.SubmissionError)
		if rmErr := s.workspace.Remove(jobID); rmErr != nil {
			logger.Warn("Failed to remove workspace", slog.Any("error", rmErr))
		}
		return "", fmt.Errorf("failed to record job: %w", err)
	}

	if s.archive != nil {
		now := time.Now().UTC()
		err := s.archive.CreateJob(ctx, &model.Job{
			JobID:     jobID,
			Recipe:    recipeText,
			Status:    string(status.StateProcessing),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			logger.Warn("Failed to archive job", slog.Any("error", err))
		}
	}

	if err := s.queue.Enqueue(ctx, jobID); err != nil {
		logger.Error("Failed to enqueue job", slog.Any("error", err))

		// nobody will ever pick this job up; make that visible to pollers
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if putErr := s.store.Put(writeCtx, jobID, status.Failed(ErrEnqueue.Error())); putErr != nil {
			logger.Error("Failed to mark unqueued job as failed", slog.Any("error", putErr))
		}

		s.metrics.ObserveSubmission(metrics.SubmissionError)
		return "", fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	s.metrics.ObserveSubmission(metrics.SubmissionAccepted)
	logger.Info("Job submitted")
	return jobID, nil
}

// Query returns the current record of a job or status.ErrNotFound
func (s *Service) Query(ctx context.Context, jobID string) (*status.Record, error) {
	return s.store.Get(ctx, jobID)
}
