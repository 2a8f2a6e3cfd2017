package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/recipe-runner/internal/status"
)

const testJobID = "0b6fd5b4-6f0e-4c5e-9a53-0d7b1c7f0a11"

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStorage(sqlx.NewDb(db, "sqlmock"), slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func TestStorage_CompleteJob(t *testing.T) {
	tests := []struct {
		name     string
		record   status.Record
		wantErr  interface{}
		wantPerf interface{}
	}{
		{
			name:     "success",
			record:   status.Succeeded(json.RawMessage(`{"accuracy":0.9}`)),
			wantErr:  nil,
			wantPerf: `{"accuracy":0.9}`,
		},
		{
			name:     "failed",
			record:   status.Failed("Vulnerability scan failed"),
			wantErr:  "Vulnerability scan failed",
			wantPerf: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)

			mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
				WithArgs(string(tt.record.Status), tt.wantErr, tt.wantPerf, testJobID).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, s.CompleteJob(context.Background(), testJobID, tt.record))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_CompleteJobMissingRow(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CompleteJob(context.Background(), testJobID, status.Failed("boom"))
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStorage_CompleteJobDatabaseError(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
		WillReturnError(errors.New("connection reset"))

	err := s.CompleteJob(context.Background(), testJobID, status.Failed("boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestStorage_CompleteJobRejectsProcessing(t *testing.T) {
	s, mock := newMockStorage(t)

	err := s.CompleteJob(context.Background(), testJobID, status.Processing())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
