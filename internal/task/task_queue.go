package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("command queue is closed")

// CommandQueue is a bounded many-producer, single-consumer queue of commands.
// Enqueue blocks while the queue is full.
type CommandQueue struct {
	commands chan Command
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewCommandQueue creates a new command queue with the specified buffer size
func NewCommandQueue(size int, logger *slog.Logger) *CommandQueue {
	if size <= 0 {
		size = 1
	}
	return &CommandQueue{
		commands: make(chan Command, size),
		logger:   logger,
	}
}

// Enqueue adds a command to the queue, waiting for room if necessary.
// It returns ErrQueueClosed after Close, or ctx.Err() if ctx ends first.
func (q *CommandQueue) Enqueue(ctx context.Context, cmd Command) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.commands <- cmd:
		q.logger.Debug("command enqueued",
			"command", commandName(cmd),
			"queue_len", len(q.commands),
			"queue_cap", cap(q.commands))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the queue, preventing further submission. It must only be
// called once no producer can still be blocked in Enqueue.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.commands)
		q.logger.Debug("command queue closed")
	}
}

// Len returns the number of commands waiting to be consumed.
func (q *CommandQueue) Len() int {
	return len(q.commands)
}

// GetChannel returns a read-only channel for consuming commands
func (q *CommandQueue) GetChannel() <-chan Command {
	return q.commands
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case Processed:
		return "processed"
	case Cancelled:
		return "cancelled"
	case Break:
		return "break"
	default:
		return "unknown"
	}
}
