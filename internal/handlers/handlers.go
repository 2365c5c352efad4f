// Package handlers exposes the suggestion pipeline over HTTP and websockets.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/middleware"
	"parkbeat-backend/internal/models"
)

// Pipeline is the command surface shared by the HTTP and websocket transports.
type Pipeline interface {
	SubmitValidateImage(ctx context.Context, actorID string, req models.ValidateImageRequest) (*models.ValidateImageResponse, error)
	SubmitGenerateImages(ctx context.Context, actorID string, projectID uuid.UUID, suggestionIDs []uuid.UUID) (string, error)
	SubmitReimagine(ctx context.Context, actorID string, projectID, suggestionID uuid.UUID) (string, error)
	SubmitRegenerate(ctx context.Context, actorID string, projectID uuid.UUID) (string, error)
	Status(ctx context.Context, projectID uuid.UUID) (*models.StatusResponse, error)
}

// ProjectReader serves the read-only project endpoints.
type ProjectReader interface {
	GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	ListProjectImages(ctx context.Context, projectID uuid.UUID, validOnly bool) ([]models.ProjectImage, error)
	ListSuggestions(ctx context.Context, projectID uuid.UUID) ([]models.ProjectSuggestion, error)
}

func actorID(c *gin.Context) (string, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return "", false
	}
	return id, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNoValidImages):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	c.JSON(statusFor(err), models.ErrorResponse{
		Error:   message,
		Message: err.Error(),
	})
}
