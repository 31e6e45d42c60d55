package job

import (
	"sync"
	"time"
)

// Store is the thread-safe registry of job records and the single source of
// truth for observable job state. All mutations are serialized behind one
// mutex; reads return copies, so callers never block a running worker and
// never see a partially written record.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // insertion order, for stable listing
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// Put inserts or replaces the record for j.ID.
func (s *Store) Put(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; !exists {
		s.order = append(s.order, j.ID)
	}
	cp := j
	s.jobs[j.ID] = &cp
}

// Get returns a snapshot of the job, or false when unknown.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns snapshots of all known jobs in insertion order.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id])
	}
	return out
}

// Update applies fn to the stored record under the store lock and stamps
// UpdatedAt. It reports whether the job exists. Every status transition and
// progress write goes through here, which is what makes read-modify-write
// sequences (cancel racing a worker pickup, for one) atomic.
func (s *Store) Update(id string, fn func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	fn(j)
	j.UpdatedAt = time.Now()
	return true
}
