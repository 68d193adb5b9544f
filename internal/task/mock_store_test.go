package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errMockNotFound = errors.New("mock: task not found")

// mockStore is an in-memory DispatchStore for dispatcher tests.
type mockStore struct {
	mu      sync.Mutex
	tasks   map[string]Status
	details map[string]string
	taken   map[string]time.Time

	takeErr      error
	takeErrAfter int
	takes        int

	freedStale  int
	writerCalls int
}

func newMockStore(names ...string) *mockStore {
	s := &mockStore{
		tasks:   make(map[string]Status),
		details: make(map[string]string),
		taken:   make(map[string]time.Time),
	}
	for _, n := range names {
		s.tasks[n] = StatusPending
	}
	return s
}

func (s *mockStore) Take(ctx context.Context, detail string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.takeErr != nil && s.takes >= s.takeErrAfter {
		return "", false, s.takeErr
	}
	s.takes++

	names := make([]string, 0, len(s.tasks))
	for n, st := range s.tasks {
		if st == StatusPending {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "", false, nil
	}
	sort.Strings(names)
	s.tasks[names[0]] = StatusTaken
	s.details[names[0]] = detail
	s.taken[names[0]] = time.Now()
	return names[0], true, nil
}

func (s *mockStore) Processed(ctx context.Context, name, detail string) error {
	return s.finish(name, detail, StatusProcessed)
}

func (s *mockStore) Cancelled(ctx context.Context, name, detail string) error {
	return s.finish(name, detail, StatusCancelled)
}

func (s *mockStore) finish(name, detail string, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writerCalls++
	if _, ok := s.tasks[name]; !ok {
		return errMockNotFound
	}
	s.tasks[name] = to
	s.details[name] = detail
	return nil
}

func (s *mockStore) FreeStale(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for name, at := range s.taken {
		if s.tasks[name] == StatusTaken && time.Since(at) > olderThan {
			s.tasks[name] = StatusPending
			n++
		}
	}
	s.freedStale += n
	return n, nil
}

func (s *mockStore) status(name string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[name]
}

func (s *mockStore) detail(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details[name]
}

func (s *mockStore) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{}
	for _, st := range s.tasks {
		stats[st]++
	}
	return stats
}
