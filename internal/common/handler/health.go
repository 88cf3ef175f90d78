package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe is a named connectivity check against a backing dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler handles health check endpoints. The probe set depends on
// which nonce backend is configured; the memory backend has none.
type HealthHandler struct {
	probes []Probe
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(probes ...Probe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health returns server liveness.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready returns readiness including backend connectivity.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	response := ReadyResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.probes)),
	}
	statusCode := http.StatusOK

	for _, probe := range h.probes {
		if err := probe.Check(ctx); err != nil {
			response.Checks[probe.Name] = "error"
			response.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		response.Checks[probe.Name] = "ok"
	}

	c.JSON(statusCode, response)
}
