package dto

import "encoding/json"

type SubmitResponse struct {
	JobID string `json:"job_id"`
}

type ValidationErrorResponse struct {
	Error           string   `json:"error"`
	ForbiddenTokens []string `json:"forbidden_tokens"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	Recipe      string          `json:"recipe,omitempty"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Performance json.RawMessage `json:"performance,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	CompletedAt string          `json:"completed_at,omitempty"`
}
