// Package lock provides short-lived distributed mutexes on top of a kvstore.
// Acquire is a single atomic set-if-absent. There is no reentrancy, no
// upgrade and no queueing: a failed acquire means another actor is already
// doing the work.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"parkbeat-backend/internal/kvstore"
	"parkbeat-backend/internal/metrics"
)

const (
	DefaultSuggestionTTL = 5 * time.Minute
	// maxReleaseMargin caps the time kept back from a suggestion lock's TTL for
	// recording the outcome and releasing.
	maxReleaseMargin = 30 * time.Second
)

type Manager struct {
	store         kvstore.Store
	logger        *zap.Logger
	metrics       *metrics.Metrics
	suggestionTTL time.Duration
	executionTTL  time.Duration
}

func NewManager(store kvstore.Store, logger *zap.Logger, m *metrics.Metrics, suggestionTTL, executionTTL time.Duration) *Manager {
	if suggestionTTL <= 0 {
		suggestionTTL = DefaultSuggestionTTL
	}
	if executionTTL <= 0 {
		executionTTL = 30 * time.Minute
	}
	return &Manager{
		store:         store,
		logger:        logger.Named("lock"),
		metrics:       m,
		suggestionTTL: suggestionTTL,
		executionTTL:  executionTTL,
	}
}

func SuggestionKey(suggestionID uuid.UUID) string {
	return "lock:suggestion-generation:" + suggestionID.String()
}

func ExecutionKey(projectID uuid.UUID) string {
	return "lock:suggestion-execution:" + projectID.String()
}

// SuggestionTTL is how long a suggestion lock survives a crashed holder.
func (m *Manager) SuggestionTTL() time.Duration {
	return m.suggestionTTL
}

// AttemptBudget is how long a suggestion lock holder may spend on external
// calls. The rest of the TTL is left for recording the outcome and releasing,
// so the holder finishes before the lock can expire under it.
func (m *Manager) AttemptBudget() time.Duration {
	margin := m.suggestionTTL / 10
	if margin > maxReleaseMargin {
		margin = maxReleaseMargin
	}
	return m.suggestionTTL - margin
}

// Acquire atomically takes key for owner. It returns false when someone else holds it.
func (m *Manager) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := m.store.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release drops key regardless of owner.
func (m *Manager) Release(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// Holder returns the current owner of key, if any.
func (m *Manager) Holder(ctx context.Context, key string) (string, bool, error) {
	owner, err := m.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	return owner, true, nil
}

func (m *Manager) AcquireSuggestion(ctx context.Context, suggestionID uuid.UUID, owner string) (bool, error) {
	ok, err := m.Acquire(ctx, SuggestionKey(suggestionID), owner, m.suggestionTTL)
	if err != nil {
		return false, err
	}
	m.metrics.Lock("suggestion", ok)
	if !ok {
		m.logger.Debug("suggestion lock contended",
			zap.String("suggestion_id", suggestionID.String()),
			zap.String("owner", owner),
		)
	}
	return ok, nil
}

// ReleaseSuggestion drops the suggestion lock only while owner still holds it.
// A lock that expired and was taken by another actor is left alone.
func (m *Manager) ReleaseSuggestion(ctx context.Context, suggestionID uuid.UUID, owner string) error {
	removed, err := m.store.CompareAndDelete(ctx, SuggestionKey(suggestionID), owner)
	if err != nil {
		return fmt.Errorf("failed to release suggestion lock: %w", err)
	}
	if !removed {
		m.logger.Warn("suggestion lock expired before release",
			zap.String("suggestion_id", suggestionID.String()),
			zap.String("owner", owner),
		)
	}
	return nil
}

func (m *Manager) SuggestionLocked(ctx context.Context, suggestionID uuid.UUID) (bool, error) {
	_, held, err := m.Holder(ctx, SuggestionKey(suggestionID))
	return held, err
}

// BeginExecution claims the per-project generation marker with a fresh id.
// ok is false when another run already holds it.
func (m *Manager) BeginExecution(ctx context.Context, projectID uuid.UUID) (string, bool, error) {
	executionID := uuid.NewString()
	ok, err := m.Acquire(ctx, ExecutionKey(projectID), executionID, m.executionTTL)
	if err != nil {
		return "", false, err
	}
	m.metrics.Lock("execution", ok)
	if !ok {
		return "", false, nil
	}
	return executionID, true, nil
}

// ExecutionActive reports whether the marker still carries executionID.
func (m *Manager) ExecutionActive(ctx context.Context, projectID uuid.UUID, executionID string) (bool, error) {
	holder, held, err := m.Holder(ctx, ExecutionKey(projectID))
	if err != nil {
		return false, err
	}
	return held && holder == executionID, nil
}

// ExecutionRunning reports whether any run holds the project's marker.
func (m *Manager) ExecutionRunning(ctx context.Context, projectID uuid.UUID) (bool, error) {
	_, held, err := m.Holder(ctx, ExecutionKey(projectID))
	return held, err
}

// EndExecution clears the marker only if it still belongs to executionID.
func (m *Manager) EndExecution(ctx context.Context, projectID uuid.UUID, executionID string) error {
	removed, err := m.store.CompareAndDelete(ctx, ExecutionKey(projectID), executionID)
	if err != nil {
		return fmt.Errorf("failed to clear execution marker: %w", err)
	}
	if !removed {
		m.logger.Warn("execution marker already replaced",
			zap.String("project_id", projectID.String()),
			zap.String("execution_id", executionID),
		)
	}
	return nil
}
