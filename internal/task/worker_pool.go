package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// WorkerPool runs one executor goroutine per batch and waits for all of them.
type WorkerPool struct {
	logger *slog.Logger

	// errorHandler is called when an executor fails.
	// If nil, errors are only logged
	errorHandler func(b *Batch, err error)
}

// NewWorkerPool creates a new executor pool.
func NewWorkerPool(logger *slog.Logger) *WorkerPool {
	return &WorkerPool{
		logger: logger.With("component", "worker_pool"),
	}
}

// SetErrorHandler allows setting a custom error handler for executor failures
func (p *WorkerPool) SetErrorHandler(handler func(b *Batch, err error)) {
	p.errorHandler = handler
}

// Run executes work once per batch concurrently. It returns one error slot per
// batch (nil on success) after every executor has returned. A panicking
// executor is recovered and reported as an error.
func (p *WorkerPool) Run(ctx context.Context, batches []*Batch, work WorkFunc) []error {
	errs := make([]error, len(batches))

	var wg sync.WaitGroup
	for i, b := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.execute(ctx, i, b, work)
		}()
	}
	wg.Wait()

	return errs
}

func (p *WorkerPool) execute(ctx context.Context, workerID int, b *Batch, work WorkFunc) (err error) {
	logger := p.logger.With(
		"worker_id", workerID,
		"batch_id", b.ID,
		"batch_size", len(b.Names),
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
		if err != nil {
			logger.Error("executor failed", "error", err)
			if p.errorHandler != nil {
				p.errorHandler(b, err)
			}
			return
		}
		logger.Debug("executor finished")
	}()

	logger.Debug("starting executor")
	return work(ctx, b)
}
