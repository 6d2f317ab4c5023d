package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*types.JobRecord
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*types.JobRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec *types.JobRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[rec.Name]; exists {
		return ErrJobExists
	}
	prepare(rec, s.now())
	s.jobs[rec.Name] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (*types.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[name]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) UpdatePhase(ctx context.Context, name string, phase types.JobPhase, message string) (*types.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[name]
	if !ok {
		return nil, ErrJobNotFound
	}
	next := cloneRecord(rec)
	if err := applyPhase(next, phase, message, s.now()); err != nil {
		return nil, err
	}
	s.jobs[name] = next
	return cloneRecord(next), nil
}

func (s *MemoryStore) List(ctx context.Context, opts *ListOptions) ([]*types.JobRecord, error) {
	s.mu.RLock()
	out := make([]*types.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if matches(rec, opts) {
			out = append(out, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	sortRecords(out)
	return limit(out, opts), nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
