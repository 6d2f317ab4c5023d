package specstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for testing and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	specs  map[string]*Spec
	byName map[string]string // name -> id
}

// NewMemoryStore creates a new in-memory spec store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		specs:  make(map[string]*Spec),
		byName: make(map[string]string),
	}
}

// Create stores a new spec.
func (s *MemoryStore) Create(ctx context.Context, req *CreateSpecRequest) (*Spec, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, exists := s.specs[id]; exists {
		return nil, ErrSpecExists
	}
	if _, exists := s.byName[req.Content.Name]; exists {
		return nil, ErrSpecExists
	}

	now := time.Now().UTC()
	spec := &Spec{
		ID:        id,
		Name:      req.Content.Name,
		Content:   req.Content,
		Hash:      req.Hash,
		Public:    req.Public,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	spec = clone(spec)
	s.specs[id] = spec
	s.byName[spec.Name] = id

	return clone(spec), nil
}

// Get retrieves a spec by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.specs[id]
	if !ok {
		return nil, ErrSpecNotFound
	}
	return clone(spec), nil
}

// GetByName retrieves a spec by model name.
func (s *MemoryStore) GetByName(ctx context.Context, name string) (*Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, ErrSpecNotFound
	}
	return clone(s.specs[id]), nil
}

// Update modifies an existing spec.
func (s *MemoryStore) Update(ctx context.Context, id string, req *UpdateSpecRequest) (*Spec, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.specs[id]
	if !ok {
		return nil, ErrSpecNotFound
	}
	oldName := spec.Name
	if req.Content != nil && req.Content.Name != oldName {
		if _, taken := s.byName[req.Content.Name]; taken {
			return nil, ErrSpecExists
		}
	}

	updated := clone(spec)
	req.apply(updated)
	updated = clone(updated)
	s.specs[id] = updated
	if updated.Name != oldName {
		delete(s.byName, oldName)
		s.byName[updated.Name] = id
	}
	return clone(updated), nil
}

// Delete removes a spec.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.specs[id]
	if !ok {
		return ErrSpecNotFound
	}
	delete(s.byName, spec.Name)
	delete(s.specs, id)
	return nil
}

// List returns the specs visible under opts.
func (s *MemoryStore) List(ctx context.Context, opts *ListOptions) ([]*Spec, error) {
	s.mu.RLock()
	all := make([]*Spec, 0, len(s.specs))
	for _, spec := range s.specs {
		all = append(all, clone(spec))
	}
	s.mu.RUnlock()

	return filter(all, opts), nil
}

// LookupComponent implements translator.ComponentLookup.
func (s *MemoryStore) LookupComponent(ctx context.Context, name string) (*types.CatalogSpec, error) {
	spec, err := s.GetByName(ctx, name)
	return lookup(spec, err, name)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
