package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"parkbeat-backend/internal/supabase"
)

// Downloader fetches a finished vendor image.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// ObjectStorage is the bucket the service copies images into.
type ObjectStorage interface {
	Upload(storagePath, contentType string, data []byte) (string, error)
	DeleteSuggestionFiles(projectID, suggestionID uuid.UUID) error
}

// StorageService copies vendor-hosted images into our own bucket so that
// suggestion URLs outlive the vendor's retention window.
type StorageService struct {
	downloader Downloader
	storage    ObjectStorage
	logger     *zap.Logger
}

func NewStorageService(downloader Downloader, storage ObjectStorage, logger *zap.Logger) *StorageService {
	return &StorageService{
		downloader: downloader,
		storage:    storage,
		logger:     logger.Named("storage"),
	}
}

// Rehost returns the bucket URL for sourceURL, or sourceURL itself when the copy fails.
func (s *StorageService) Rehost(ctx context.Context, projectID, suggestionID uuid.UUID, kind, sourceURL string) string {
	data, contentType, err := s.downloader.Download(ctx, sourceURL)
	if err != nil {
		s.logger.Warn("failed to download image for rehosting, keeping vendor url",
			zap.String("suggestion_id", suggestionID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return sourceURL
	}

	filename := fmt.Sprintf("%s_%s%s", kind, time.Now().UTC().Format("20060102_150405"), extensionForContentType(contentType))
	storageURL, err := s.storage.Upload(supabase.SuggestionImagePath(projectID, suggestionID, filename), contentType, data)
	if err != nil {
		s.logger.Warn("failed to upload rehosted image, keeping vendor url",
			zap.String("suggestion_id", suggestionID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return sourceURL
	}
	return storageURL
}

// Cleanup removes stored images of replaced suggestions. Best effort.
func (s *StorageService) Cleanup(projectID uuid.UUID, suggestionIDs []uuid.UUID) {
	for _, id := range suggestionIDs {
		if err := s.storage.DeleteSuggestionFiles(projectID, id); err != nil {
			s.logger.Debug("failed to delete suggestion files",
				zap.String("suggestion_id", id.String()),
				zap.Error(err),
			)
		}
	}
}

func extensionForContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	default:
		return ".jpg"
	}
}
