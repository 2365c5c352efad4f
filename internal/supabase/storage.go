package supabase

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"
)

type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) *StorageClient {
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)
	return newStorageClientFrom(client, baseURL, bucket)
}

func newStorageClientFrom(client *storage.Client, supabaseURL, bucket string) *StorageClient {
	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(supabaseURL, "/"),
	}
}

// ProjectImagePath is where uploaded site photos live.
func ProjectImagePath(projectID uuid.UUID, filename string) string {
	return fmt.Sprintf("projects/%s/images/%s", projectID.String(), filename)
}

// SuggestionImagePath is where re-hosted upscaled and generated images live.
func SuggestionImagePath(projectID, suggestionID uuid.UUID, filename string) string {
	return fmt.Sprintf("projects/%s/suggestions/%s/%s", projectID.String(), suggestionID.String(), filename)
}

// Upload stores data at storagePath and returns its public URL.
func (s *StorageClient) Upload(storagePath, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, storagePath, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return s.GetPublicURL(storagePath), nil
}

func (s *StorageClient) GetPublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		s.baseURL, s.bucket, storagePath)
}

func (s *StorageClient) DeleteFile(storagePath string) error {
	_, err := s.client.RemoveFile(s.bucket, []string{storagePath})
	return err
}

// DeleteSuggestionFiles removes every re-hosted image of a suggestion.
func (s *StorageClient) DeleteSuggestionFiles(projectID, suggestionID uuid.UUID) error {
	prefix := SuggestionImagePath(projectID, suggestionID, "")

	files, err := s.client.ListFiles(s.bucket, prefix, storage.FileSearchOptions{
		Limit: 1000,
	})
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	paths := make([]string, len(files))
	for i, file := range files {
		paths[i] = prefix + file.Name
	}
	if _, err := s.client.RemoveFile(s.bucket, paths); err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}
