package llm

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
)

func TestProcess_SubmissionOrder(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 3}, zap.NewNop())

	var items []WorkItem[string]
	for i := 0; i < 10; i++ {
		i := i
		items = append(items, WorkItem[string]{
			ID: fmt.Sprintf("item%d", i),
			Execute: func(context.Context) (string, error) {
				time.Sleep(time.Duration(10-i) * time.Millisecond)
				return fmt.Sprintf("result%d", i), nil
			},
		})
	}

	results := Process(context.Background(), pool, items, nil)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("item%d", i), r.ID)
		assert.Equal(t, fmt.Sprintf("result%d", i), r.Result)
		assert.NoError(t, r.Err)
	}
}

func TestProcess_WithErrors(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())
	expected := errors.New("task failed")

	results := Process(context.Background(), pool, []WorkItem[int]{
		{ID: "a", Execute: func(context.Context) (int, error) { return 1, nil }},
		{ID: "b", Execute: func(context.Context) (int, error) { return 0, expected }},
		{ID: "c", Execute: func(context.Context) (int, error) { return 3, nil }},
	}, nil)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, expected)
	assert.Equal(t, 3, results[2].Result)
}

func TestProcess_Empty(t *testing.T) {
	pool := NewWorkerPool(DefaultWorkerPoolConfig(), zap.NewNop())
	assert.Nil(t, Process[int](context.Background(), pool, nil, nil))
}

func TestProcess_ConcurrencyLimit(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	var current, peak atomic.Int32
	var items []WorkItem[bool]
	for i := 0; i < 8; i++ {
		items = append(items, WorkItem[bool]{
			ID: fmt.Sprint(i),
			Execute: func(context.Context) (bool, error) {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return true, nil
			},
		})
	}

	Process(context.Background(), pool, items, nil)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcess_ContextCancellation(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := Process(ctx, pool, []WorkItem[int]{
		{ID: "a", Execute: func(ctx context.Context) (int, error) { return 0, ctx.Err() }},
		{ID: "b", Execute: func(ctx context.Context) (int, error) { return 0, ctx.Err() }},
	}, nil)

	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestProcess_ProgressCallback(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())
	var calls []int
	items := make([]WorkItem[int], 4)
	for i := range items {
		items[i] = WorkItem[int]{ID: fmt.Sprint(i), Execute: func(context.Context) (int, error) { return 0, nil }}
	}

	Process(context.Background(), pool, items, func(completed, total int) {
		assert.Equal(t, 4, total)
		calls = append(calls, completed)
	})
	assert.Equal(t, []int{1, 2, 3, 4}, calls)
}

func TestNewWorkerPool_Default(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{}, zap.NewNop())
	assert.Equal(t, 4, pool.config.MaxConcurrent)
}
