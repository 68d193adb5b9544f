package task

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending   Status = "PENDING"
	StatusTaken     Status = "TAKEN"
	StatusProcessed Status = "PROCESSED"
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusTaken, StatusProcessed, StatusCancelled}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTaken, StatusProcessed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is PROCESSED or CANCELLED.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusCancelled
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(name string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown task status %q", name)
	}
	return s, nil
}

// Task is one row of the task table.
// EndProcess is non-nil if and only if Status is terminal.
type Task struct {
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	Begin      *time.Time `json:"begin,omitempty"`
	EndProcess *time.Time `json:"end_process,omitempty"`
}

// Stats maps a status to the number of tasks in it. Statuses with no tasks
// are absent.
type Stats map[Status]int

// Total returns the number of tasks across all statuses.
func (s Stats) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// ListFilter narrows ListAll. The zero value lists every task.
type ListFilter struct {
	// Statuses restricts the result to these statuses; empty means all.
	Statuses []Status
	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// Reader provides read-only access to the task table.
type Reader interface {
	// GetStatus returns the task named name or store.ErrTaskNotFound.
	GetStatus(ctx context.Context, name string) (Task, error)

	// GetStats counts tasks per status.
	GetStats(ctx context.Context) (Stats, error)

	// ListAll returns tasks matching filter ordered by name.
	ListAll(ctx context.Context, filter ListFilter) ([]Task, error)
}

// Claimer atomically claims pending work.
type Claimer interface {
	// Take moves one PENDING task to TAKEN and returns its name.
	// ok is false when no task is pending; that is not an error.
	Take(ctx context.Context, detail string) (name string, ok bool, err error)
}

// Finisher applies terminal transitions.
type Finisher interface {
	// Processed moves a TAKEN task to PROCESSED.
	Processed(ctx context.Context, name, detail string) error

	// Cancelled moves a PENDING or TAKEN task to CANCELLED.
	Cancelled(ctx context.Context, name, detail string) error
}

// Store defines the full contract of the persistent task queue.
type Store interface {
	Reader
	Claimer
	Finisher

	// Add inserts a PENDING task. A duplicate name returns store.ErrTaskExists
	// and leaves the existing row untouched.
	Add(ctx context.Context, name, detail string) error

	// AddMany inserts every new name in one transaction and returns how many
	// were added; names that already exist are skipped.
	AddMany(ctx context.Context, names []string, detail string) (int, error)

	// FreeTaken resets every TAKEN task to PENDING.
	FreeTaken(ctx context.Context) (int, error)

	// FreeCancelled resets every CANCELLED task to PENDING.
	FreeCancelled(ctx context.Context) (int, error)

	// FreeStale resets TAKEN tasks claimed more than olderThan ago.
	FreeStale(ctx context.Context, olderThan time.Duration) (int, error)
}
