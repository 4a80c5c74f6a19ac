package state

import (
	"fmt"
	"slices"
	"sync"
)

// Store holds the runner registry and the commit queue behind a single mutex.
// Every exported method is one critical section and performs no I/O.
//
// Invariants maintained by the store:
//   - a commit id is in at most one of pending and dispatched
//   - every runner referenced by dispatched is registered
//   - evicting a runner requeues its commits in the same critical section
type Store struct {
	mu         sync.Mutex
	runners    []Runner
	pending    []string
	dispatched map[string]Runner
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{dispatched: make(map[string]Runner)}
}

// Register adds r to the registry. It reports false when the address was
// already registered, in which case nothing changes.
func (s *Store) Register(r Runner) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.runners, r) {
		return false
	}
	s.runners = append(s.runners, r)
	return true
}

// Evict removes r from the registry and moves every commit it owned back to
// pending. The requeued ids are returned in a stable order.
func (s *Store) Evict(r Runner) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.Index(s.runners, r)
	if idx < 0 {
		return nil
	}
	s.runners = slices.Delete(s.runners, idx, idx+1)

	var requeued []string
	for id, owner := range s.dispatched {
		if owner == r {
			requeued = append(requeued, id)
		}
	}
	slices.Sort(requeued)
	for _, id := range requeued {
		delete(s.dispatched, id)
		s.pending = append(s.pending, id)
	}
	return requeued
}

// MarkDispatched moves a pending commit to dispatched, owned by r.
// It fails with ErrRunnerNotRegistered when r was evicted while the
// assignment was being negotiated, and with ErrNotPending when the commit
// is no longer waiting for a runner.
func (s *Store) MarkDispatched(commitID string, r Runner) error {
	if commitID == "" {
		return ErrEmptyCommitID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.runners, r) {
		return fmt.Errorf("dispatch %s to %s: %w", commitID, r, ErrRunnerNotRegistered)
	}
	idx := slices.Index(s.pending, commitID)
	if idx < 0 {
		return fmt.Errorf("dispatch %s: %w", commitID, ErrNotPending)
	}
	s.pending = slices.Delete(s.pending, idx, idx+1)
	s.dispatched[commitID] = r
	return nil
}

// MarkPending queues commitID unless it is already tracked. It reports
// whether the commit was newly added.
func (s *Store) MarkPending(commitID string) bool {
	if commitID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dispatched[commitID]; ok {
		return false
	}
	if slices.Contains(s.pending, commitID) {
		return false
	}
	s.pending = append(s.pending, commitID)
	return true
}

// Complete drops commitID from dispatched. Unknown or duplicate completions
// are a no-op; the former owner is returned when there was one.
func (s *Store) Complete(commitID string) (Runner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.dispatched[commitID]
	if ok {
		delete(s.dispatched, commitID)
	}
	return owner, ok
}

// Owner returns the runner commitID is dispatched to, if any.
func (s *Store) Owner(commitID string) (Runner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.dispatched[commitID]
	return owner, ok
}

// IsPending reports whether commitID is waiting for a runner.
func (s *Store) IsPending(commitID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.pending, commitID)
}

// RunnerCount returns the number of registered runners.
func (s *Store) RunnerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runners)
}

// Runners returns a copy of the registry in registration order.
func (s *Store) Runners() []Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.runners)
}

// Pending returns a copy of the pending ids in queue order.
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	dispatched := make(map[string]Runner, len(s.dispatched))
	for id, r := range s.dispatched {
		dispatched[id] = r
	}
	return Snapshot{
		Runners:    append([]Runner{}, s.runners...),
		Pending:    append([]string{}, s.pending...),
		Dispatched: dispatched,
	}
}
