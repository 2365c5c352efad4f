package supabase_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/database"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/supabase"
)

var (
	sharedDB     *supabase.DatabaseClient
	sharedDBOnce sync.Once
	sharedDBErr  error
)

func testDB(t *testing.T) *supabase.DatabaseClient {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	sharedDBOnce.Do(func() {
		sharedDB, sharedDBErr = setupDB()
	})
	if sharedDBErr != nil {
		t.Skipf("Postgres container unavailable: %v", sharedDBErr)
	}
	return sharedDB
}

func setupDB() (*supabase.DatabaseClient, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "parkbeat",
				"POSTGRES_USER":     "parkbeat",
				"POSTGRES_PASSWORD": "test_password",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://parkbeat:test_password@%s:%s/parkbeat?sslmode=disable", host, port.Port())

	var db *supabase.DatabaseClient
	for i := 0; i < 10; i++ {
		if db, err = supabase.NewDatabaseClient(connStr); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}

	if err := database.NewMigratorWithDB(db.DB(), zap.NewNop()).Run(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, nil
}

func seedProject(t *testing.T, db *supabase.DatabaseClient) *models.Project {
	t.Helper()
	p, err := db.CreateDraftProject(context.Background(), &models.Project{
		Name:      "Corner lot",
		Latitude:  37.8,
		Longitude: -122.27,
		CreatedBy: "user-1",
	})
	require.NoError(t, err)
	return p
}

func TestDatabase_ProjectsAndImages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	p := seedProject(t, db)

	got, err := db.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusDraft, got.Status)
	assert.Nil(t, got.CostEstimate)

	_, err = db.GetProject(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, db.CreateProjectImage(ctx, &models.ProjectImage{
		ProjectID: p.ID, ImageURL: "https://img/valid.jpg", IsValid: true,
		Metadata: models.ImageMetadata{Width: 800, Height: 600},
	}))
	require.NoError(t, db.CreateProjectImage(ctx, &models.ProjectImage{
		ProjectID: p.ID, ImageURL: "https://img/invalid.jpg", IsValid: false,
	}))

	all, err := db.ListProjectImages(ctx, p.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	valid, err := db.ListProjectImages(ctx, p.ID, true)
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, 800, valid[0].Metadata.Width)
}

func TestDatabase_SuggestionLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	p := seedProject(t, db)

	s := &models.ProjectSuggestion{
		ProjectID:  p.ID,
		Title:      "Pocket park",
		Category:   models.CategoryParkImprovement,
		Confidence: 0.8,
	}
	require.NoError(t, db.CreateSuggestion(ctx, s))

	require.NoError(t, db.SetEstimating(ctx, s.ID, true))
	got, err := db.GetSuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEstimating)
	assert.Equal(t, models.SuggestionStatusPending, got.Status)
	assert.NotNil(t, got.Images.Generated)

	require.NoError(t, db.FinishEstimation(ctx, s.ID, nil))
	got, _ = db.GetSuggestion(ctx, s.ID)
	assert.False(t, got.IsEstimating)
	assert.Nil(t, got.EstimatedCost)

	est := &models.CostEstimate{Materials: []models.CostItem{{Item: "Bench", Cost: 300}}, Total: 300}
	require.NoError(t, db.FinishEstimation(ctx, s.ID, est))
	got, _ = db.GetSuggestion(ctx, s.ID)
	require.NotNil(t, got.EstimatedCost)
	assert.Equal(t, 300.0, got.EstimatedCost.Total)

	updated, err := db.UpdateSuggestionImages(ctx, s.ID, func(in models.SuggestionImages) models.SuggestionImages {
		in.Generated = append(in.Generated, models.GeneratedImage{URL: "https://gen/1.jpg", GenerationID: "g1"})
		return in
	})
	require.NoError(t, err)
	assert.Len(t, updated.Images.Generated, 1)

	n, err := db.DeleteSuggestionsByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := db.ListSuggestions(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDatabase_ConcurrentImageUpdatesSerialize(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	p := seedProject(t, db)

	s := &models.ProjectSuggestion{ProjectID: p.ID, Title: "Mural", Category: models.CategoryPublicArt}
	require.NoError(t, db.CreateSuggestion(ctx, s))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.UpdateSuggestionImages(ctx, s.ID, func(in models.SuggestionImages) models.SuggestionImages {
				in.Generated = append(in.Generated, models.GeneratedImage{GenerationID: fmt.Sprintf("g%d", i)})
				return in
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := db.GetSuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Images.Generated, 10)
}
