package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"parkbeat-backend/internal/models"
)

type ProjectsHandler struct {
	store ProjectReader
}

func NewProjectsHandler(store ProjectReader) *ProjectsHandler {
	return &ProjectsHandler{store: store}
}

// GetProject godoc
// @Summary     Get a project
// @Description Returns the project with its validated images and current suggestions.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id} [get]
func (h *ProjectsHandler) GetProject(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database not available"})
		return
	}

	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	project, err := h.store.GetProject(ctx, projectID)
	if err != nil {
		respondError(c, "project not found", err)
		return
	}

	images, err := h.store.ListProjectImages(ctx, projectID, false)
	if err != nil {
		respondError(c, "failed to list images", err)
		return
	}

	suggestions, err := h.store.ListSuggestions(ctx, projectID)
	if err != nil {
		respondError(c, "failed to list suggestions", err)
		return
	}

	c.JSON(http.StatusOK, models.ProjectResponse{
		Project:     project,
		Images:      images,
		Suggestions: suggestions,
	})
}

// ListImages godoc
// @Summary     List project images
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       valid query bool false "Only validated images"
// @Success     200 {object} models.ImagesResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/images [get]
func (h *ProjectsHandler) ListImages(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database not available"})
		return
	}

	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetProject(ctx, projectID); err != nil {
		respondError(c, "project not found", err)
		return
	}

	images, err := h.store.ListProjectImages(ctx, projectID, c.Query("valid") == "true")
	if err != nil {
		respondError(c, "failed to list images", err)
		return
	}
	c.JSON(http.StatusOK, models.ImagesResponse{Images: images})
}

// ListSuggestions godoc
// @Summary     List project suggestions
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.SuggestionsResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/suggestions [get]
func (h *ProjectsHandler) ListSuggestions(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database not available"})
		return
	}

	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetProject(ctx, projectID); err != nil {
		respondError(c, "project not found", err)
		return
	}

	suggestions, err := h.store.ListSuggestions(ctx, projectID)
	if err != nil {
		respondError(c, "failed to list suggestions", err)
		return
	}
	c.JSON(http.StatusOK, models.SuggestionsResponse{Suggestions: suggestions})
}
