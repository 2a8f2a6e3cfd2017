package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/recipe-runner/internal/api/handler"
	"github.com/cuongbtq/recipe-runner/internal/metrics"
)

// Options tune the optional parts of the router
type Options struct {
	ServiceName string
	// RateLimiter guards /submit and /status; nil disables limiting
	RateLimiter *RateLimiter
	// Gatherer is served on /metrics when set
	Gatherer prometheus.Gatherer
	// HealthChecks are probed by /health, keyed by component name
	HealthChecks map[string]HealthCheck
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

func healthHandler(serviceName string, checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		code := http.StatusOK
		state := "healthy"
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				code = http.StatusServiceUnavailable
				state = "unhealthy"
				continue
			}
			results[name] = "ok"
		}

		body := gin.H{
			"status":  state,
			"service": serviceName,
		}
		if len(results) > 0 {
			body["checks"] = results
		}
		c.JSON(code, body)
	}
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts *Options) *gin.Engine {
	if opts == nil {
		opts = &Options{}
	}
	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "recipe-api-service"
	}

	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", healthHandler(serviceName, opts.HealthChecks))

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(opts.Gatherer)))
	}

	limit := func(scope string) gin.HandlerFunc {
		if opts.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return opts.RateLimiter.Limit(scope)
	}

	jobHandler := handler.NewJobHandler(deps)
	queueHandler := handler.NewQueueHandler(deps)

	// POST /submit - Submit a recipe, body is the raw Dockerfile
	r.POST("/submit", limit("submit"), jobHandler.Submit)

	// GET /status?job_id= - Current status of a job
	r.GET("/status", limit("status"), jobHandler.Status)

	q := r.Group("/queue")
	{
		// GET /queue/tasks - Pending messages and consumers
		q.GET("/tasks", queueHandler.Tasks)

		// GET /queue/ping - Broker connectivity
		q.GET("/ping", queueHandler.Ping)
	}

	// API v1 routes read the job archive
	if deps.History != nil {
		v1 := r.Group("/api/v1")
		{
			jobs := v1.Group("/jobs")
			{
				// GET /api/v1/jobs - List archived jobs with filtering and pagination
				jobs.GET("", jobHandler.ListJobs)

				// GET /api/v1/jobs/:job_id - Archived job details
				jobs.GET("/:job_id", jobHandler.GetJob)
			}
		}
	}

	return r
}
