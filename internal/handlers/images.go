package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"parkbeat-backend/internal/models"
)

type ImagesHandler struct {
	pipeline Pipeline
	uploader Uploader
}

func NewImagesHandler(pipeline Pipeline, uploader Uploader) *ImagesHandler {
	return &ImagesHandler{
		pipeline: pipeline,
		uploader: uploader,
	}
}

// Validate godoc
// @Summary     Validate a site photo
// @Description Asks the vision model whether the photo shows a public space that could be improved.
// @Description Accepted photos are attached to a draft project and suggestion generation starts in the background.
// @Tags        images
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.ValidateImageRequest true "Image to validate"
// @Success     200 {object} models.ValidateImageResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /images/validate [post]
func (h *ImagesHandler) Validate(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	var req models.ValidateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.pipeline.SubmitValidateImage(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, "failed to validate image", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
