package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"parkbeat-backend/internal/services"
)

type fakeDownloader struct {
	err error
}

func (d *fakeDownloader) Download(_ context.Context, _ string) ([]byte, string, error) {
	if d.err != nil {
		return nil, "", d.err
	}
	return []byte("png-bytes"), "image/png", nil
}

type fakeBucket struct {
	uploadErr error
	paths     []string
	deleted   []uuid.UUID
}

func (b *fakeBucket) Upload(storagePath, _ string, _ []byte) (string, error) {
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	b.paths = append(b.paths, storagePath)
	return "https://bucket.example/" + storagePath, nil
}

func (b *fakeBucket) DeleteSuggestionFiles(_, suggestionID uuid.UUID) error {
	b.deleted = append(b.deleted, suggestionID)
	return nil
}

func TestRehost_CopiesIntoSuggestionFolder(t *testing.T) {
	bucket := &fakeBucket{}
	svc := services.NewStorageService(&fakeDownloader{}, bucket, zap.NewNop())
	projectID, suggestionID := uuid.New(), uuid.New()

	url := svc.Rehost(context.Background(), projectID, suggestionID, "generated", "https://cdn.vendor/x.png")

	assert.True(t, strings.HasPrefix(url, "https://bucket.example/projects/"+projectID.String()+"/suggestions/"+suggestionID.String()+"/generated_"))
	assert.True(t, strings.HasSuffix(url, ".png"))
}

func TestRehost_FallsBackToVendorURL(t *testing.T) {
	vendor := "https://cdn.vendor/x.png"

	svc := services.NewStorageService(&fakeDownloader{err: errors.New("404")}, &fakeBucket{}, zap.NewNop())
	assert.Equal(t, vendor, svc.Rehost(context.Background(), uuid.New(), uuid.New(), "generated", vendor))

	svc = services.NewStorageService(&fakeDownloader{}, &fakeBucket{uploadErr: errors.New("quota")}, zap.NewNop())
	assert.Equal(t, vendor, svc.Rehost(context.Background(), uuid.New(), uuid.New(), "upscaled", vendor))
}

func TestCleanup_DeletesEverySuggestion(t *testing.T) {
	bucket := &fakeBucket{}
	svc := services.NewStorageService(&fakeDownloader{}, bucket, zap.NewNop())
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	svc.Cleanup(uuid.New(), ids)
	assert.Equal(t, ids, bucket.deleted)
}
