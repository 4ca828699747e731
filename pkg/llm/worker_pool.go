package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the LLM worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent provider calls (default: 4)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{MaxConcurrent: 4}
}

// WorkerPool bounds provider calls made in parallel for batch work outside
// the request path, such as embedding template intents at startup.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultWorkerPoolConfig().MaxConcurrent
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
	}
}

// WorkItem is one provider call in a batch.
type WorkItem[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// WorkResult is the outcome of the WorkItem with the same ID.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs items on at most MaxConcurrent workers and returns results in
// submission order. One failure does not stop the rest; items still queued
// when ctx ends report ctx.Err() without running.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	results := make([]WorkResult[T], len(items))
	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		failed    int
	)
	finish := func(i int, res WorkResult[T]) {
		results[i] = res
		mu.Lock()
		defer mu.Unlock()
		completed++
		if res.Err != nil {
			failed++
		}
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	workers := min(pool.config.MaxConcurrent, len(items))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				item := items[i]
				res := WorkResult[T]{ID: item.ID}
				if err := ctx.Err(); err != nil {
					res.Err = err
				} else {
					res.Result, res.Err = item.Execute(ctx)
				}
				if res.Err != nil {
					pool.logger.Debug("Work item failed", zap.String("id", item.ID), zap.Error(res.Err))
				}
				finish(i, res)
			}
		}()
	}
	wg.Wait()

	pool.logger.Debug("Batch finished",
		zap.Int("items", len(items)),
		zap.Int("failed", failed),
		zap.Int("workers", workers),
		zap.Duration("elapsed", time.Since(start)))
	return results
}
