package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devansh6012/code-collab/internal/v1/logging"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"go.uber.org/zap"
)

// Handler manages health check endpoints
type Handler struct {
	docs  types.DocumentStore
	cache types.EphemeralStore
}

// NewHandler creates a new health check handler. cache may be nil when the
// service runs without Redis.
func NewHandler(docs types.DocumentStore, cache types.EphemeralStore) *Handler {
	return &Handler{docs: docs, cache: cache}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	dbStatus := h.checkDatabase(ctx)
	checks["postgres"] = dbStatus
	if dbStatus != "healthy" {
		allHealthy = false
	}

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkDatabase verifies Postgres connectivity. The durable store is a hard
// dependency; without it no room can load or save content.
func (h *Handler) checkDatabase(ctx context.Context) string {
	if h.docs == nil {
		return "unhealthy"
	}
	if err := h.docs.Ping(ctx); err != nil {
		logging.Error(ctx, "Postgres health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// checkRedis verifies Redis connectivity using the PING command
func (h *Handler) checkRedis(ctx context.Context) string {
	// If Redis is not enabled (single-instance mode), consider it healthy
	if h.cache == nil {
		return "healthy"
	}

	if err := h.cache.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}
