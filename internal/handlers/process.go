package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/services"
)

type ProcessHandler struct {
	pipeline Pipeline
}

func NewProcessHandler(pipeline Pipeline) *ProcessHandler {
	return &ProcessHandler{pipeline: pipeline}
}

func commandStatusCode(status string) int {
	if status == services.StatusDuplicate {
		return http.StatusOK
	}
	return http.StatusAccepted
}

// GenerateImages godoc
// @Summary     Generate suggestion images
// @Description Starts image generation for the given suggestions, or for every suggestion without an image.
// @Description Suggestions that are being estimated or are already generating are skipped.
// @Tags        process
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       request body models.GenerateImagesRequest false "Optional suggestion subset"
// @Success     202 {object} models.CommandResponse
// @Success     200 {object} models.CommandResponse "duplicate request"
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/suggestions/images [post]
func (h *ProcessHandler) GenerateImages(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	var req models.GenerateImagesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
			return
		}
	}
	ids, err := services.ParseSuggestionIDs(req.SuggestionIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid suggestion_ids", Message: err.Error()})
		return
	}

	status, err := h.pipeline.SubmitGenerateImages(c.Request.Context(), actor, projectID, ids)
	if err != nil {
		respondError(c, "failed to start image generation", err)
		return
	}
	c.JSON(commandStatusCode(status), models.CommandResponse{Status: status})
}

// Reimagine godoc
// @Summary     Re-imagine a suggestion
// @Description Copies the project's title, description and cost onto the suggestion, clears its images and renders a new one.
// @Description Only the project's creator may re-imagine.
// @Tags        process
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       suggestion_id path string true "Suggestion ID (UUID)"
// @Success     202 {object} models.CommandResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/suggestions/{suggestion_id}/reimagine [post]
func (h *ProcessHandler) Reimagine(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	suggestionID, ok := uuidParam(c, "suggestion_id")
	if !ok {
		return
	}

	status, err := h.pipeline.SubmitReimagine(c.Request.Context(), actor, projectID, suggestionID)
	if err != nil {
		respondError(c, "failed to reimagine suggestion", err)
		return
	}
	c.JSON(commandStatusCode(status), models.CommandResponse{Status: status})
}

// Regenerate godoc
// @Summary     Regenerate suggestions
// @Description Replaces the project's suggestions with a fresh batch. A batch already in progress makes this a no-op.
// @Tags        process
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     202 {object} models.CommandResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     422 {object} models.ErrorResponse
// @Router      /projects/{project_id}/suggestions/regenerate [post]
func (h *ProcessHandler) Regenerate(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	status, err := h.pipeline.SubmitRegenerate(c.Request.Context(), actor, projectID)
	if err != nil {
		respondError(c, "failed to regenerate suggestions", err)
		return
	}
	c.JSON(commandStatusCode(status), models.CommandResponse{Status: status})
}
