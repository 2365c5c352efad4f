package services

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool bounds how many pipeline tasks call external agents at once.
type WorkerPool struct {
	maxConcurrent int
	logger        *zap.Logger
}

func NewWorkerPool(maxConcurrent int, logger *zap.Logger) *WorkerPool {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &WorkerPool{
		maxConcurrent: maxConcurrent,
		logger:        logger.Named("worker-pool"),
	}
}

type WorkItem[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs every item and waits for all of them. One failure never stops
// the others. Results come back in completion order.
func Process[T any](ctx context.Context, pool *WorkerPool, items []WorkItem[T]) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	resultsChan := make(chan WorkResult[T], len(items))
	sem := make(chan struct{}, pool.maxConcurrent)

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item WorkItem[T]) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				var zero T
				resultsChan <- WorkResult[T]{ID: item.ID, Result: zero, Err: ctx.Err()}
				return
			}

			result, err := item.Execute(ctx)
			resultsChan <- WorkResult[T]{ID: item.ID, Result: result, Err: err}
		}(item)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]WorkResult[T], 0, len(items))
	for result := range resultsChan {
		if result.Err != nil {
			pool.logger.Debug("work item failed", zap.String("id", result.ID), zap.Error(result.Err))
		}
		results = append(results, result)
	}
	return results
}
