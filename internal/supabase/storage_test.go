package supabase_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"parkbeat-backend/internal/supabase"
)

func TestStoragePaths(t *testing.T) {
	projectID := uuid.New()
	suggestionID := uuid.New()

	assert.Equal(t,
		"projects/"+projectID.String()+"/images/site.jpg",
		supabase.ProjectImagePath(projectID, "site.jpg"),
	)
	assert.Equal(t,
		"projects/"+projectID.String()+"/suggestions/"+suggestionID.String()+"/generated.jpg",
		supabase.SuggestionImagePath(projectID, suggestionID, "generated.jpg"),
	)
}

func TestStorageClient_GetPublicURL(t *testing.T) {
	client := supabase.NewStorageClient("https://abc.supabase.co/", "key", "project-images")

	assert.Equal(t,
		"https://abc.supabase.co/storage/v1/object/public/project-images/projects/p/images/a.jpg",
		client.GetPublicURL("projects/p/images/a.jpg"),
	)
}

func TestStorageClient_Upload(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Key":"project-images/projects/p/images/a.png"}`))
	}))
	defer server.Close()

	client := supabase.NewStorageClient(server.URL, "service-key", "project-images")
	url, err := client.Upload("projects/p/images/a.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "/storage/v1/object/project-images/projects/p/images/a.png", gotPath)
	assert.Equal(t, "image/png", gotContentType)
	assert.Equal(t, "png-bytes", string(gotBody))
	assert.Equal(t, server.URL+"/storage/v1/object/public/project-images/projects/p/images/a.png", url)
}
