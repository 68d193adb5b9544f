package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Errors returned when an executor reports on its batch.
var (
	ErrNotInBatch      = errors.New("task is not part of this batch")
	ErrAlreadyReported = errors.New("task result already reported")
)

// WorkFunc processes one batch of claimed task names. It reports each
// outcome through b.Processed or b.Cancelled; it never writes to the store.
type WorkFunc func(ctx context.Context, b *Batch) error

// Batch is the unit of work handed to one executor.
type Batch struct {
	ID    uuid.UUID
	Names []string

	queue *CommandQueue

	mu       sync.Mutex
	reported map[string]bool
}

func newBatch(queue *CommandQueue) *Batch {
	return &Batch{
		ID:       uuid.New(),
		queue:    queue,
		reported: make(map[string]bool),
	}
}

// Processed reports that name finished successfully.
func (b *Batch) Processed(ctx context.Context, name, detail string) error {
	return b.report(ctx, name, Processed{Name: name, Detail: detail})
}

// Cancelled reports that name was abandoned.
func (b *Batch) Cancelled(ctx context.Context, name, detail string) error {
	return b.report(ctx, name, Cancelled{Name: name, Detail: detail})
}

func (b *Batch) report(ctx context.Context, name string, cmd Command) error {
	if err := b.mark(name); err != nil {
		return err
	}
	if err := b.queue.Enqueue(ctx, cmd); err != nil {
		// Leave it to the dispatcher's cleanup.
		b.mu.Lock()
		delete(b.reported, name)
		b.mu.Unlock()
		return err
	}
	return nil
}

func (b *Batch) mark(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !slices.Contains(b.Names, name) {
		return fmt.Errorf("%w: %q", ErrNotInBatch, name)
	}
	if b.reported[name] {
		return fmt.Errorf("%w: %q", ErrAlreadyReported, name)
	}
	b.reported[name] = true
	return nil
}

// unreported returns the names that received no Processed or Cancelled call.
func (b *Batch) unreported() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var names []string
	for _, name := range b.Names {
		if !b.reported[name] {
			names = append(names, name)
		}
	}
	return names
}
