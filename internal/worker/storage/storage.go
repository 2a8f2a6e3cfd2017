package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/recipe-runner/internal/status"
)

// ErrJobNotFound is returned when the job has no history row
var ErrJobNotFound = errors.New("job not found in archive")

// Storage mirrors terminal job states into the jobs history table
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// CompleteJob records the terminal state of a job
func (s *Storage) CompleteJob(ctx context.Context, jobID string, record status.Record) error {
	if !record.Status.IsTerminal() {
		return fmt.Errorf("cannot complete job %s with non-terminal status %q", jobID, record.Status)
	}

	query := `
		UPDATE jobs
		SET status = $1,
			error_message = $2,
			performance = $3,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE job_id = $4
		  AND completed_at IS NULL
	`

	// jsonb goes over the wire as text; lib/pq would hex-encode a []byte
	errorMsg := sql.NullString{String: record.Error, Valid: record.Error != ""}
	performance := sql.NullString{String: string(record.Performance), Valid: len(record.Performance) > 0}

	result, err := s.db.ExecContext(ctx, query, string(record.Status), errorMsg, performance, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrJobNotFound
	}

	s.logger.Info("Job archived",
		slog.String("job_id", jobID),
		slog.String("status", string(record.Status)),
	)

	return nil
}
