package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"parkbeat-backend/internal/services"
)

func TestProcess_IndependentOutcomes(t *testing.T) {
	pool := services.NewWorkerPool(2, zap.NewNop())

	items := make([]services.WorkItem[int], 5)
	for i := range items {
		i := i
		items[i] = services.WorkItem[int]{
			ID: fmt.Sprintf("item-%d", i),
			Execute: func(ctx context.Context) (int, error) {
				if i == 2 {
					return 0, errors.New("boom")
				}
				return i * 10, nil
			},
		}
	}

	results := services.Process(context.Background(), pool, items)
	require.Len(t, results, 5)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			assert.Equal(t, "item-2", r.ID)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestProcess_BoundsConcurrency(t *testing.T) {
	pool := services.NewWorkerPool(2, zap.NewNop())

	var running, peak atomic.Int32
	items := make([]services.WorkItem[struct{}], 8)
	for i := range items {
		items[i] = services.WorkItem[struct{}]{
			ID: fmt.Sprint(i),
			Execute: func(ctx context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			},
		}
	}

	services.Process(context.Background(), pool, items)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestTaskRunner_RecoversPanics(t *testing.T) {
	runner := services.NewTaskRunner(zap.NewNop())

	var ran atomic.Bool
	runner.Go("panics", func(ctx context.Context) error {
		panic("kaboom")
	})
	runner.Go("fails", func(ctx context.Context) error {
		return errors.New("failed")
	})
	runner.Go("works", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx))
	assert.True(t, ran.Load())
}

func TestTaskRunner_DetachedFromCallerContext(t *testing.T) {
	runner := services.NewTaskRunner(zap.NewNop())

	var taskErr atomic.Value
	runner.Go("detached", func(ctx context.Context) error {
		taskErr.Store(fmt.Sprint(ctx.Err()))
		return nil
	})

	ctx, cancelWait := context.WithTimeout(context.Background(), time.Second)
	defer cancelWait()
	require.NoError(t, runner.Wait(ctx))
	assert.Equal(t, "<nil>", taskErr.Load())
}
