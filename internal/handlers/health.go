package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"parkbeat-backend/internal/models"
)

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health godoc
// @Summary     Health check
// @Description Pings the database and the lock store. Reports degraded when either fails.
// @Tags        health
// @Produce     json
// @Success     200 {object} models.HealthResponse
// @Failure     503 {object} models.HealthResponse
// @Router      /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := models.HealthResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			response.Status = "degraded"
			response.Checks[name] = err.Error()
			continue
		}
		response.Checks[name] = "ok"
	}

	code := http.StatusOK
	if response.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}
