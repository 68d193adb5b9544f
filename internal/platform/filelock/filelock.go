//go:build unix

// Package filelock provides a mutual-exclusion lock that holds across
// goroutines of one process and across OS processes sharing a lock file.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPollInterval is how often a blocked Lock retries flock(2).
const DefaultPollInterval = 10 * time.Millisecond

// ErrClosed is returned by Lock after Close.
var ErrClosed = errors.New("file lock is closed")

// Lock combines an in-process semaphore with an exclusive flock(2) on a
// file. Each Lock opens its own file description, so two Locks on the same
// path exclude each other even inside one process.
type Lock struct {
	path string
	sem  chan struct{}
	file *os.File

	pollInterval time.Duration
}

// New opens (creating if needed) the lock file at path.
func New(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return &Lock{
		path:         path,
		sem:          make(chan struct{}, 1),
		file:         f,
		pollInterval: DefaultPollInterval,
	}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Lock blocks until the lock is held or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := l.flock(ctx); err != nil {
		<-l.sem
		return err
	}
	return nil
}

func (l *Lock) flock(ctx context.Context) error {
	if l.file == nil {
		return ErrClosed
	}
	fd := int(l.file.Fd())

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		default:
			return fmt.Errorf("flock %s: %w", l.path, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unlock releases the lock. It must only be called by the holder.
func (l *Lock) Unlock() error {
	defer func() { <-l.sem }()

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}

// WithLock runs fn while holding the lock.
func (l *Lock) WithLock(ctx context.Context, fn func() error) (err error) {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := l.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn()
}

// Close releases the lock file. The lock file itself is left on disk.
func (l *Lock) Close() error {
	l.sem <- struct{}{}
	defer func() { <-l.sem }()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
