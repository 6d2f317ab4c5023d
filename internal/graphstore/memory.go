package graphstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for testing and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewMemoryStore creates a new in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		graphs: make(map[string]*Graph),
	}
}

// Create saves a new graph.
func (s *MemoryStore) Create(ctx context.Context, req *CreateGraphRequest) (*Graph, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, exists := s.graphs[id]; exists {
		return nil, ErrGraphExists
	}

	now := time.Now().UTC()
	g := &Graph{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Content:     req.Content,
		Public:      req.Public,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.graphs[id] = g

	out := *g
	return &out, nil
}

// Get retrieves a graph by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[id]
	if !ok {
		return nil, ErrGraphNotFound
	}
	out := *g
	return &out, nil
}

// Update modifies an existing graph.
func (s *MemoryStore) Update(ctx context.Context, id string, req *UpdateGraphRequest) (*Graph, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.graphs[id]
	if !ok {
		return nil, ErrGraphNotFound
	}
	req.apply(g)

	out := *g
	return &out, nil
}

// Delete removes a graph.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.graphs[id]; !ok {
		return ErrGraphNotFound
	}
	delete(s.graphs, id)
	return nil
}

// List returns the graphs visible under opts.
func (s *MemoryStore) List(ctx context.Context, opts *ListOptions) ([]*Graph, error) {
	s.mu.RLock()
	all := make([]*Graph, 0, len(s.graphs))
	for _, g := range s.graphs {
		c := *g
		all = append(all, &c)
	}
	s.mu.RUnlock()

	return filter(all, opts), nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
