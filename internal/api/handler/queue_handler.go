package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Tasks handles GET /queue/tasks
func (h *QueueHandler) Tasks(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to inspect queue", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Queue unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Ping handles GET /queue/ping
func (h *QueueHandler) Ping(c *gin.Context) {
	if err := h.queue.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("Queue ping failed", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
