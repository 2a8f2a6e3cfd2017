package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/recipe-runner/internal/api/dto"
	"github.com/cuongbtq/recipe-runner/internal/api/model"
	"github.com/cuongbtq/recipe-runner/internal/api/service"
	"github.com/cuongbtq/recipe-runner/internal/api/storage"
	"github.com/cuongbtq/recipe-runner/internal/recipe"
	"github.com/cuongbtq/recipe-runner/internal/status"
)

// Submit handles POST /submit
// The body is the raw recipe text
func (h *JobHandler) Submit(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRecipeBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Dockerfile too large",
			})
			return
		}
		h.logger.Error("Failed to read request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID, err := h.service.Submit(c.Request.Context(), string(body))
	if err != nil {
		var verr *recipe.ValidationError
		switch {
		case errors.Is(err, service.ErrEmptyRecipe):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
		case errors.As(err, &verr):
			h.logger.Info("Recipe rejected", slog.Any("forbidden_tokens", verr.Tokens))
			c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{
				Error:           verr.Error(),
				ForbiddenTokens: verr.Tokens,
			})
		default:
			h.logger.Error("Failed to submit job", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit job",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.SubmitResponse{JobID: jobID})
}

// Status handles GET /status?job_id=<id>
func (h *JobHandler) Status(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	record, err := h.service.Query(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job status",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job status",
		})
		return
	}

	c.JSON(http.StatusOK, record)
}

func toJobDTO(job model.Job, withRecipe bool) dto.JobDTO {
	out := dto.JobDTO{
		JobID:     job.JobID,
		Status:    job.Status,
		Error:     job.ErrorMessage.String,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
	if withRecipe {
		out.Recipe = job.Recipe
	}
	if job.Performance.Valid {
		out.Performance = json.RawMessage(job.Performance.String)
	}
	if job.CompletedAt.Valid {
		out.CompletedAt = job.CompletedAt.Time.Format(time.RFC3339)
	}
	return out
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the archived row of a job, recipe included
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.history.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(*job, true))
}

// ListJobs handles GET /api/v1/jobs
// Lists archived jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" {
		switch status.State(req.Status) {
		case status.StateProcessing, status.StateSuccess, status.StateFailed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "status must be one of processing, success, failed",
			})
			return
		}
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.history.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = toJobDTO(job, false)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
