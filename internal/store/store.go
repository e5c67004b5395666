package store

import (
	"errors"
	"sync"

	"github.com/king-of-kingdom/tubegrab/internal/model"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateID       = errors.New("job id already exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store is the job record map shared between the queue, the runner and the
// HTTP layer. Implementations hand out copies, never live pointers.
type Store interface {
	Create(job model.Job) error
	// Update applies fn to a copy of the record and commits it. A missing id
	// is ErrNotFound and callers are free to ignore it.
	Update(id string, fn func(*model.Job)) error
	Get(id string) (model.Job, bool)
	Delete(id string)
	// Snapshot returns a point-in-time copy of every record.
	Snapshot() []model.Job
	Len() int
}

// MemoryStore is a Store guarded by a single RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.Job)}
}

func (s *MemoryStore) Create(job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateID
	}
	job.Status = model.StatusQueued
	s.jobs[job.ID] = &job
	return nil
}

func (s *MemoryStore) Update(id string, fn func(*model.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	next := *cur
	fn(&next)
	next.ID = cur.ID
	if !model.CanTransition(cur.Status, next.Status) {
		return ErrInvalidTransition
	}
	*cur = next
	return nil
}

func (s *MemoryStore) Get(id string) (model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *job, true
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

func (s *MemoryStore) Snapshot() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// SetProgress is the common partial update used while a job runs.
func SetProgress(s Store, id string, status model.JobStatus, progress float64, message string) error {
	return s.Update(id, func(j *model.Job) {
		j.Status = status
		j.Progress = progress
		j.Message = message
	})
}
