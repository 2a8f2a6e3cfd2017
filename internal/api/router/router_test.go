package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/recipe-runner/internal/api/handler"
	"github.com/cuongbtq/recipe-runner/internal/api/model"
	"github.com/cuongbtq/recipe-runner/internal/api/storage"
	"github.com/cuongbtq/recipe-runner/internal/queue"
	"github.com/cuongbtq/recipe-runner/internal/status"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubService struct{}

func (stubService) Submit(ctx context.Context, recipe string) (string, error) {
	return "6f1c1c9e-3c0a-4c43-9d43-0c7a3c2b8c11", nil
}

func (stubService) Query(ctx context.Context, jobID string) (*status.Record, error) {
	return &status.Record{Status: status.StateProcessing}, nil
}

type stubHistory struct{}

func (stubHistory) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	return nil, storage.ErrJobNotFound
}

func (stubHistory) ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error) {
	return nil, nil
}

type stubQueue struct{}

func (stubQueue) Stats(ctx context.Context) (*queue.Stats, error) {
	return &queue.Stats{Queue: "jobs"}, nil
}

func (stubQueue) Ping(ctx context.Context) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps() *handler.Dependencies {
	return &handler.Dependencies{
		Logger:  discardLogger(),
		Service: stubService{},
		Queue:   stubQueue{},
	}
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:4321"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRouter_Routes(t *testing.T) {
	r := SetupRouter(testDeps(), &Options{Gatherer: prometheus.NewRegistry()})

	tests := []struct {
		method     string
		target     string
		wantStatus int
	}{
		{method: http.MethodGet, target: "/health", wantStatus: http.StatusOK},
		{method: http.MethodGet, target: "/metrics", wantStatus: http.StatusOK},
		{method: http.MethodPost, target: "/submit", wantStatus: http.StatusOK},
		{method: http.MethodGet, target: "/status?job_id=6f1c1c9e-3c0a-4c43-9d43-0c7a3c2b8c11", wantStatus: http.StatusOK},
		{method: http.MethodGet, target: "/queue/tasks", wantStatus: http.StatusOK},
		{method: http.MethodGet, target: "/queue/ping", wantStatus: http.StatusOK},
		{method: http.MethodOptions, target: "/submit", wantStatus: http.StatusNoContent},
		// archive routes are absent without a history
		{method: http.MethodGet, target: "/api/v1/jobs", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := serve(r, tt.method, tt.target, "FROM base")
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSetupRouter_History(t *testing.T) {
	deps := testDeps()
	deps.History = stubHistory{}
	r := SetupRouter(deps, nil)

	w := serve(r, http.MethodGet, "/api/v1/jobs", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/api/v1/jobs/6f1c1c9e-3c0a-4c43-9d43-0c7a3c2b8c11", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"status":"healthy","service":"recipe-api-service"}`, w.Body.String())
}

func TestSetupRouter_HealthChecks(t *testing.T) {
	r := SetupRouter(testDeps(), &Options{
		ServiceName:  "recipe-api-service",
		HealthChecks: map[string]HealthCheck{
			"redis":    func(ctx context.Context) error { return nil },
			"postgres": func(ctx context.Context) error { return errors.New("connection refused") },
		},
	})

	w := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{
		"status": "unhealthy",
		"service": "recipe-api-service",
		"checks": {"redis": "ok", "postgres": "connection refused"}
	}`, w.Body.String())
}

func newLimiter(t *testing.T, limit int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRateLimiter(RateLimiterConfig{
		RedisClient: client,
		Logger:      discardLogger(),
		Limit:       limit,
		Window:      time.Minute,
	}), mr
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	rl, mr := newLimiter(t, 2)
	r := SetupRouter(testDeps(), &Options{RateLimiter: rl})

	for i := 0; i < 2; i++ {
		w := serve(r, http.MethodPost, "/submit", "FROM base")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(r, http.MethodPost, "/submit", "FROM base")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// scopes count separately
	w = serve(r, http.MethodGet, "/status?job_id=x", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// the window expires
	mr.FastForward(time.Minute + time.Second)
	w = serve(r, http.MethodPost, "/submit", "FROM base")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_RestoresMissingExpiry(t *testing.T) {
	rl, mr := newLimiter(t, 2)
	r := SetupRouter(testDeps(), &Options{RateLimiter: rl})

	// counter left behind without a TTL
	key := "rl:submit:10.0.0.1"
	require.NoError(t, mr.Set(key, "5"))
	require.Zero(t, mr.TTL(key))

	w := serve(r, http.MethodPost, "/submit", "FROM base")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, time.Minute, mr.TTL(key))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	mr.FastForward(time.Minute + time.Second)
	w = serve(r, http.MethodPost, "/submit", "FROM base")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl, _ := newLimiter(t, 1)
	r := SetupRouter(testDeps(), &Options{RateLimiter: rl})

	w := serve(r, http.MethodPost, "/submit", "FROM base")
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("FROM base"))
	req.RemoteAddr = "10.0.0.2:4321"
	other := httptest.NewRecorder()
	r.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)

	w = serve(r, http.MethodPost, "/submit", "FROM base")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	rl, mr := newLimiter(t, 1)
	r := SetupRouter(testDeps(), &Options{RateLimiter: rl})
	mr.Close()

	for i := 0; i < 3; i++ {
		w := serve(r, http.MethodPost, "/submit", "FROM base")
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
