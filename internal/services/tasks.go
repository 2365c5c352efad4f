package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"parkbeat-backend/internal/apperrors"
)

// TaskRunner runs fire-and-forget work detached from the request that started it.
// A task's error or panic is logged and reported, never propagated.
type TaskRunner struct {
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewTaskRunner(logger *zap.Logger) *TaskRunner {
	return &TaskRunner{logger: logger.Named("tasks")}
}

func (r *TaskRunner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("task %s panicked: %v", name, rec)
				r.logger.Error("task panicked", zap.String("task", name), zap.Any("panic", rec))
				sentry.CaptureException(err)
			}
		}()

		if err := fn(context.Background()); err != nil {
			if errors.Is(err, apperrors.ErrLockContention) || errors.Is(err, apperrors.ErrExecutionSuperseded) {
				r.logger.Info("task skipped", zap.String("task", name), zap.Error(err))
				return
			}
			r.logger.Error("task failed", zap.String("task", name), zap.Error(err))
			sentry.CaptureException(fmt.Errorf("task %s: %w", name, err))
		}
	}()
}

// Wait blocks until every running task returns or ctx is done.
func (r *TaskRunner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
