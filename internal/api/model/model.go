package model

import (
	"database/sql"
	"time"
)

// Job is a row of the jobs history table
type Job struct {
	JobID        string         `db:"job_id"`
	Recipe       string         `db:"recipe"`
	Status       string         `db:"status"`
	ErrorMessage sql.NullString `db:"error_message"`
	Performance  sql.NullString `db:"performance"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
}
