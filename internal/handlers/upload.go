package handlers

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/supabase"
)

const maxUploadSize = 20 << 20

// Uploader stores an uploaded photo and returns its public URL.
type Uploader interface {
	Upload(storagePath, contentType string, data []byte) (string, error)
}

var uploadFieldNames = []string{"image", "file", "photo"}

// Upload godoc
// @Summary     Upload and validate a site photo
// @Description Stores the photo in project storage, records its dimensions and runs validation on it.
// @Description Without project_id a new draft project id is assigned.
// @Tags        images
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       image formData file true "Site photo (JPEG or PNG)"
// @Param       project_id formData string false "Existing project ID (UUID)"
// @Param       latitude formData number false "Where the photo was taken"
// @Param       longitude formData number false "Where the photo was taken"
// @Success     200 {object} models.ValidateImageResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /images/upload [post]
func (h *ImagesHandler) Upload(c *gin.Context) {
	if h.uploader == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "storage not available"})
		return
	}

	actor, ok := actorID(c)
	if !ok {
		return
	}

	if err := c.Request.ParseMultipartForm(maxUploadSize); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "failed to parse multipart form",
			Message: err.Error(),
		})
		return
	}

	var file *multipart.FileHeader
	for _, name := range uploadFieldNames {
		if files := c.Request.MultipartForm.File[name]; len(files) > 0 {
			file = files[0]
			break
		}
	}
	if file == nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "no file uploaded",
			Message: fmt.Sprintf("please provide a file with one of these field names: %v", uploadFieldNames),
		})
		return
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "file too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to open file", Message: err.Error()})
		return
	}
	data, err := io.ReadAll(io.LimitReader(src, maxUploadSize))
	src.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read file data", Message: err.Error()})
		return
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "unsupported image",
			Message: "only JPEG and PNG photos are accepted",
		})
		return
	}

	projectID := uuid.New()
	if raw := c.PostForm("project_id"); raw != "" {
		if projectID, err = uuid.Parse(raw); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid project_id"})
			return
		}
	}

	ext, contentType := ".jpg", "image/jpeg"
	if format == "png" {
		ext, contentType = ".png", "image/png"
	}
	filename := fmt.Sprintf("%s_%s%s", uuid.NewString()[:8], time.Now().UTC().Format("20060102_150405"), ext)

	publicURL, err := h.uploader.Upload(supabase.ProjectImagePath(projectID, filename), contentType, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to upload to storage",
			Message: err.Error(),
		})
		return
	}

	req := models.ValidateImageRequest{
		ImageURL:  publicURL,
		ProjectID: projectID.String(),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Location:  formLocation(c),
	}
	resp, err := h.pipeline.SubmitValidateImage(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, "failed to validate image", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func formLocation(c *gin.Context) *models.Location {
	lat, errLat := strconv.ParseFloat(c.PostForm("latitude"), 64)
	lng, errLng := strconv.ParseFloat(c.PostForm("longitude"), 64)
	if errLat != nil || errLng != nil {
		return nil
	}
	return &models.Location{Latitude: lat, Longitude: lng}
}
