package status

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "job_status:", ttl), mr
}

func TestRedisStore_PutGet(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		record   Record
		wantJSON string
	}{
		{
			name:     "processing",
			record:   Processing(),
			wantJSON: `{"status":"processing"}`,
		},
		{
			name:     "failed",
			record:   Failed("Vulnerability scan failed"),
			wantJSON: `{"status":"failed","error":"Vulnerability scan failed"}`,
		},
		{
			name:     "success with number",
			record:   Succeeded(json.RawMessage(`0.5`)),
			wantJSON: `{"status":"success","performance":0.5}`,
		},
		{
			name:     "success with zero",
			record:   Succeeded(json.RawMessage(`0`)),
			wantJSON: `{"status":"success","performance":0}`,
		},
		{
			name:     "success with structure",
			record:   Succeeded(json.RawMessage(`{"accuracy":0.91,"loss":[1,0.4]}`)),
			wantJSON: `{"status":"success","performance":{"accuracy":0.91,"loss":[1,0.4]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mr := newTestStore(t, 0)

			require.NoError(t, store.Put(ctx, "7f1c", tt.record))

			raw, err := mr.Get("job_status:7f1c")
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantJSON, raw)

			got, err := store.Get(ctx, "7f1c")
			require.NoError(t, err)
			assert.Equal(t, tt.record.Status, got.Status)
			assert.Equal(t, tt.record.Error, got.Error)
			if tt.record.Performance != nil {
				assert.JSONEq(t, string(tt.record.Performance), string(got.Performance))
			}
		})
	}
}

func TestRedisStore_GetUnknown(t *testing.T) {
	store, _ := newTestStore(t, 0)

	got, err := store.Get(context.Background(), "never-written")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, got)
}

func TestRedisStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 0)

	require.NoError(t, store.Put(ctx, "job", Processing()))
	require.NoError(t, store.Put(ctx, "job", Failed("boom")))

	got, err := store.Get(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Nil(t, got.Performance)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Hour)

	require.NoError(t, store.Put(ctx, "job", Processing()))
	assert.Equal(t, time.Hour, mr.TTL("job_status:job"))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, "job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	store, mr := newTestStore(t, 0)
	require.NoError(t, mr.Set("job_status:job", "not json"))

	_, err := store.Get(context.Background(), "job")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StateProcessing.IsTerminal())
	assert.True(t, StateSuccess.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}
