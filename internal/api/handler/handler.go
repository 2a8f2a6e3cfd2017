package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/recipe-runner/internal/api/model"
	"github.com/cuongbtq/recipe-runner/internal/api/storage"
	"github.com/cuongbtq/recipe-runner/internal/queue"
	"github.com/cuongbtq/recipe-runner/internal/status"
)

// JobService is the submission and query surface
type JobService interface {
	Submit(ctx context.Context, recipe string) (string, error)
	Query(ctx context.Context, jobID string) (*status.Record, error)
}

// JobHistory reads the archive
type JobHistory interface {
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error)
}

// QueueInspector reports on the job queue
type QueueInspector interface {
	Stats(ctx context.Context) (*queue.Stats, error)
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers; History is nil when the archive is disabled
type Dependencies struct {
	Logger         *slog.Logger
	Service        JobService
	History        JobHistory
	Queue          QueueInspector
	MaxRecipeBytes int64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	service        JobService
	history        JobHistory
	maxRecipeBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxBytes := deps.MaxRecipeBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}

	return &JobHandler{
		logger:         deps.Logger,
		service:        deps.Service,
		history:        deps.History,
		maxRecipeBytes: maxBytes,
	}
}

// QueueHandler handles queue inspection requests
type QueueHandler struct {
	logger *slog.Logger
	queue  QueueInspector
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}
