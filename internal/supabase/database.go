package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)

	return &DatabaseClient{db: db}, nil
}

// DB exposes the pool for migrations.
func (d *DatabaseClient) DB() *sql.DB {
	return d.db
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

func decodeCost(raw []byte) (*models.CostEstimate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var est models.CostEstimate
	if err := json.Unmarshal(raw, &est); err != nil {
		return nil, fmt.Errorf("failed to decode cost estimate: %w", err)
	}
	return &est, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// Projects

func (d *DatabaseClient) CreateDraftProject(ctx context.Context, p *models.Project) (*models.Project, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusDraft
	}

	err := d.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, description, status, latitude, longitude, cost_estimate, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.Description, p.Status, p.Latitude, p.Longitude, p.CostEstimate, p.CreatedBy).Scan(
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return p, nil
}

func (d *DatabaseClient) GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	var p models.Project
	var costRaw []byte
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, latitude, longitude, cost_estimate, created_by, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID).Scan(
		&p.ID, &p.Name, &p.Description, &p.Status, &p.Latitude, &p.Longitude,
		&costRaw, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "project")
	}

	if p.CostEstimate, err = decodeCost(costRaw); err != nil {
		return nil, err
	}
	return &p, nil
}

// Images

func (d *DatabaseClient) CreateProjectImage(ctx context.Context, img *models.ProjectImage) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO project_images (id, project_id, image_url, is_valid, analysis, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, img.ID, img.ProjectID, img.ImageURL, img.IsValid, img.Analysis, img.Metadata).Scan(&img.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project image: %w", err)
	}
	return nil
}

func (d *DatabaseClient) ListProjectImages(ctx context.Context, projectID uuid.UUID, validOnly bool) ([]models.ProjectImage, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, project_id, image_url, is_valid, analysis, metadata, created_at
		FROM project_images
		WHERE project_id = $1 AND ($2 = FALSE OR is_valid)
		ORDER BY created_at ASC
	`, projectID, validOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list project images: %w", err)
	}
	defer rows.Close()

	images := []models.ProjectImage{}
	for rows.Next() {
		var img models.ProjectImage
		if err := rows.Scan(
			&img.ID, &img.ProjectID, &img.ImageURL, &img.IsValid,
			&img.Analysis, &img.Metadata, &img.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project image: %w", err)
		}
		images = append(images, img)
	}

	return images, rows.Err()
}

// Suggestions

const suggestionColumns = `id, project_id, title, description, category, image_prompt, estimated_cost,
	is_estimating, confidence, status, images, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(row rowScanner) (*models.ProjectSuggestion, error) {
	var s models.ProjectSuggestion
	var costRaw []byte
	if err := row.Scan(
		&s.ID, &s.ProjectID, &s.Title, &s.Description, &s.Category, &s.ImagePrompt, &costRaw,
		&s.IsEstimating, &s.Confidence, &s.Status, &s.Images, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	est, err := decodeCost(costRaw)
	if err != nil {
		return nil, err
	}
	s.EstimatedCost = est
	if s.Images.Generated == nil {
		s.Images.Generated = []models.GeneratedImage{}
	}
	return &s, nil
}

func (d *DatabaseClient) ListSuggestions(ctx context.Context, projectID uuid.UUID) ([]models.ProjectSuggestion, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+suggestionColumns+`
		FROM project_suggestions
		WHERE project_id = $1
		ORDER BY created_at ASC, confidence DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	suggestions := []models.ProjectSuggestion{}
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		suggestions = append(suggestions, *s)
	}

	return suggestions, rows.Err()
}

func (d *DatabaseClient) GetSuggestion(ctx context.Context, suggestionID uuid.UUID) (*models.ProjectSuggestion, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+suggestionColumns+`
		FROM project_suggestions
		WHERE id = $1
	`, suggestionID)

	s, err := scanSuggestion(row)
	if err != nil {
		return nil, notFound(err, "suggestion")
	}
	return s, nil
}

func (d *DatabaseClient) DeleteSuggestionsByProject(ctx context.Context, projectID uuid.UUID) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM project_suggestions
		WHERE project_id = $1
	`, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete suggestions: %w", err)
	}
	return res.RowsAffected()
}

func (d *DatabaseClient) CreateSuggestion(ctx context.Context, s *models.ProjectSuggestion) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = models.SuggestionStatusPending
	}
	if s.Images.Generated == nil {
		s.Images.Generated = []models.GeneratedImage{}
	}

	err := d.db.QueryRowContext(ctx, `
		INSERT INTO project_suggestions (id, project_id, title, description, category, image_prompt,
			estimated_cost, is_estimating, confidence, status, images)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, s.ID, s.ProjectID, s.Title, s.Description, string(s.Category), s.ImagePrompt,
		s.EstimatedCost, s.IsEstimating, s.Confidence, s.Status, s.Images,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create suggestion: %w", err)
	}
	return nil
}

func (d *DatabaseClient) SetEstimating(ctx context.Context, suggestionID uuid.UUID, estimating bool) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE project_suggestions
		SET is_estimating = $1
		WHERE id = $2
	`, estimating, suggestionID)
	if err != nil {
		return fmt.Errorf("failed to set estimating: %w", err)
	}
	return nil
}

// FinishEstimation stores est (nil keeps the suggestion costless) and always clears is_estimating.
func (d *DatabaseClient) FinishEstimation(ctx context.Context, suggestionID uuid.UUID, est *models.CostEstimate) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE project_suggestions
		SET estimated_cost = COALESCE($1, estimated_cost), is_estimating = FALSE
		WHERE id = $2
	`, est, suggestionID)
	if err != nil {
		return fmt.Errorf("failed to finish estimation: %w", err)
	}
	return nil
}

func (d *DatabaseClient) UpdateSuggestionContent(ctx context.Context, suggestionID uuid.UUID, title, description string, est *models.CostEstimate) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE project_suggestions
		SET title = $1, description = $2, estimated_cost = $3
		WHERE id = $4
	`, title, description, est, suggestionID)
	if err != nil {
		return fmt.Errorf("failed to update suggestion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("suggestion: %w", apperrors.ErrNotFound)
	}
	return nil
}

// UpdateSuggestionImages applies fn to the stored image state under a row lock
// and returns the updated suggestion.
func (d *DatabaseClient) UpdateSuggestionImages(
	ctx context.Context,
	suggestionID uuid.UUID,
	fn func(models.SuggestionImages) models.SuggestionImages,
) (*models.ProjectSuggestion, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.SuggestionImages
	err = tx.QueryRowContext(ctx, `
		SELECT images
		FROM project_suggestions
		WHERE id = $1
		FOR UPDATE
	`, suggestionID).Scan(&current)
	if err != nil {
		return nil, notFound(err, "suggestion")
	}

	next := fn(current)

	row := tx.QueryRowContext(ctx, `
		UPDATE project_suggestions
		SET images = $1
		WHERE id = $2
		RETURNING `+suggestionColumns,
		next, suggestionID)
	updated, err := scanSuggestion(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update suggestion images: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit image update: %w", err)
	}
	return updated, nil
}
