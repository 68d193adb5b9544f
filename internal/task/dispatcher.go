package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DispatchStore is the subset of Store used by the Dispatcher.
type DispatchStore interface {
	Claimer
	Finisher
	FreeStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// DispatcherConfig holds configuration for the dispatcher
type DispatcherConfig struct {
	// WorkersCount is the number of parallel executors.
	// If zero or negative, defaults to runtime.NumCPU()
	WorkersCount int

	// FilesPerPool is the maximum number of tasks claimed per executor.
	FilesPerPool int

	// QueueSize is the buffer size of the command queue.
	QueueSize int

	// StaleAfter, when positive, resets tasks left TAKEN for longer than this
	// before claiming new work.
	StaleAfter time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkersCount: runtime.NumCPU(),
		FilesPerPool: 16,
		QueueSize:    256,
	}
}

// Dispatcher claims tasks from the store, fans them out to parallel
// executors and applies their results through a single writer goroutine,
// which is the only caller of Processed and Cancelled.
type Dispatcher struct {
	store  DispatchStore
	pool   *WorkerPool
	config DispatcherConfig
	logger *slog.Logger

	failedBatches atomic.Int64
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(store DispatchStore, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.WorkersCount <= 0 {
		config.WorkersCount = runtime.NumCPU()
	}
	if config.FilesPerPool <= 0 {
		config.FilesPerPool = 1
		logger.Warn("invalid files per pool specified, using default",
			"default_count", 1)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultDispatcherConfig().QueueSize
	}

	logger = logger.With("component", "dispatcher")
	d := &Dispatcher{
		store:  store,
		pool:   NewWorkerPool(logger),
		config: config,
		logger: logger,
	}
	d.pool.SetErrorHandler(func(b *Batch, err error) {
		d.failedBatches.Add(1)
		logger.Warn("batch failed, unreported tasks will be cancelled",
			"batch_id", b.ID,
			"unreported", len(b.unreported()),
			"error", err)
	})
	return d
}

// FailedBatches returns how many batches, over every Process call, ended
// with an executor error or panic.
func (d *Dispatcher) FailedBatches() int64 {
	return d.failedBatches.Load()
}

// Process claims up to WorkersCount batches of FilesPerPool tasks, runs work
// on each batch in parallel and waits until every result has been written.
// It returns false when no task was pending. The returned error is the first
// executor failure, or a claim error; results of the other executors are
// still written.
//
// Tasks an executor did not report on are cancelled with the executor's
// error (or a fixed message) as detail.
func (d *Dispatcher) Process(ctx context.Context, work WorkFunc) (bool, error) {
	runID := uuid.New()
	logger := d.logger.With("run_id", runID)

	if d.config.StaleAfter > 0 {
		freed, err := d.store.FreeStale(ctx, d.config.StaleAfter)
		if err != nil {
			return false, fmt.Errorf("failed to free stale tasks: %w", err)
		}
		if freed > 0 {
			logger.Info("reset stale tasks", "count", freed)
		}
	}

	queue := NewCommandQueue(d.config.QueueSize, logger)
	batches, claimErr := d.buildBatches(ctx, runID, queue)
	if len(batches) == 0 {
		if claimErr != nil {
			return false, claimErr
		}
		logger.Debug("no pending tasks")
		return false, nil
	}

	// The writer outlives caller cancellation so queued results are never lost.
	writeCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go d.writer(writeCtx, queue, logger, done)

	var errs []error
	if claimErr == nil {
		logger.Info("dispatching batches", "batches", len(batches))
		errs = d.pool.Run(ctx, batches, work)
	} else {
		// Claiming failed part-way; release what was claimed without running it.
		logger.Error("claim failed, cancelling claimed tasks", "error", claimErr)
		errs = make([]error, len(batches))
		for i := range errs {
			errs[i] = claimErr
		}
	}

	for i, b := range batches {
		detail := "not reported by executor"
		if errs[i] != nil {
			detail = errs[i].Error()
		}
		for _, name := range b.unreported() {
			if err := queue.Enqueue(writeCtx, Cancelled{Name: name, Detail: detail}); err != nil {
				logger.Error("failed to enqueue cancellation", "task", name, "error", err)
			}
		}
	}

	if err := queue.Enqueue(writeCtx, Break{}); err != nil {
		logger.Error("failed to enqueue break", "error", err)
	}
	<-done
	queue.Close()

	if claimErr != nil {
		return true, claimErr
	}
	return true, errors.Join(errs...)
}

// buildBatches claims tasks until every executor has FilesPerPool names or
// nothing is pending. Partial batches are returned alongside a claim error.
func (d *Dispatcher) buildBatches(ctx context.Context, runID uuid.UUID, queue *CommandQueue) ([]*Batch, error) {
	var batches []*Batch

	for i := 0; i < d.config.WorkersCount; i++ {
		b := newBatch(queue)
		detail := fmt.Sprintf("run=%s batch=%s", runID, b.ID)

		exhausted := false
		for len(b.Names) < d.config.FilesPerPool {
			name, ok, err := d.store.Take(ctx, detail)
			if err != nil {
				if len(b.Names) > 0 {
					batches = append(batches, b)
				}
				return batches, fmt.Errorf("failed to take task: %w", err)
			}
			if !ok {
				exhausted = true
				break
			}
			b.Names = append(b.Names, name)
		}

		if len(b.Names) > 0 {
			batches = append(batches, b)
		}
		if exhausted {
			break
		}
	}

	return batches, nil
}

// writer applies commands serially until it receives Break.
// A failing command is logged and skipped.
func (d *Dispatcher) writer(ctx context.Context, queue *CommandQueue, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)

	logger.Debug("starting writer")
	for cmd := range queue.GetChannel() {
		var err error
		switch c := cmd.(type) {
		case Break:
			logger.Debug("stopping writer")
			return
		case Processed:
			err = d.store.Processed(ctx, c.Name, c.Detail)
		case Cancelled:
			err = d.store.Cancelled(ctx, c.Name, c.Detail)
		}
		if err != nil {
			logger.Error("failed to apply command",
				"command", commandName(cmd),
				"error", err)
		}
	}
}
