// Package status holds the job state record and the key/value store it lives in.
package status

import (
	"context"
	"encoding/json"
	"errors"
)

// State is the lifecycle state of a job
type State string

const (
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

// ErrNotFound is returned for job ids never written or already expired
var ErrNotFound = errors.New("job not found")

// Record is the persisted job state, serialized as-is to status pollers
type Record struct {
	Status      State           `json:"status"`
	Error       string          `json:"error,omitempty"`
	Performance json.RawMessage `json:"performance,omitempty"`
}

// Processing is the record written at submission
func Processing() Record {
	return Record{Status: StateProcessing}
}

// Failed is the terminal record for a job that stopped at some stage
func Failed(msg string) Record {
	return Record{Status: StateFailed, Error: msg}
}

// Succeeded is the terminal record carrying the extracted performance value
func Succeeded(perf json.RawMessage) Record {
	return Record{Status: StateSuccess, Performance: perf}
}

// Store persists one record per job id. Put overwrites; there is no merge.
type Store interface {
	Put(ctx context.Context, jobID string, record Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
}
