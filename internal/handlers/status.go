package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type StatusHandler struct {
	pipeline Pipeline
}

func NewStatusHandler(pipeline Pipeline) *StatusHandler {
	return &StatusHandler{pipeline: pipeline}
}

// GetStatus godoc
// @Summary     Project pipeline status
// @Description Reports whether a suggestion batch is running and each suggestion's progress flags.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.StatusResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/status [get]
func (h *StatusHandler) GetStatus(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	status, err := h.pipeline.Status(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, "failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}
