// Package graphstore persists user-authored FBP graph documents.
package graphstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Common errors returned by Store implementations.
var (
	ErrGraphNotFound = errors.New("graph not found")
	ErrGraphExists   = errors.New("graph already exists")
)

// Graph is a saved FBP graph document.
type Graph struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Content     json.RawMessage `json:"content"` // FBP graph JSON
	Public      bool            `json:"public"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// VisibleTo reports whether user may read the graph.
func (g *Graph) VisibleTo(user string, admin bool) bool {
	return admin || g.Public || (user != "" && g.CreatedBy == user)
}

// CreateGraphRequest is the input for saving a new graph.
type CreateGraphRequest struct {
	ID          string          `json:"id,omitempty"` // Optional, auto-generated if empty
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Content     json.RawMessage `json:"content"`
	Public      bool            `json:"public"`
	CreatedBy   string          `json:"-"`
}

// UpdateGraphRequest is the input for updating an existing graph.
type UpdateGraphRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Public      *bool           `json:"public,omitempty"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit  int
	Offset int

	// Viewer sees their own graphs plus public ones. Admin sees everything.
	Viewer string
	Admin  bool

	// CreatedBy narrows the result to one owner.
	CreatedBy string
}

// Store defines the interface for graph persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create saves a new graph. Returns ErrGraphExists if ID is taken.
	Create(ctx context.Context, req *CreateGraphRequest) (*Graph, error)

	// Get retrieves a graph by ID. Returns ErrGraphNotFound if not found.
	Get(ctx context.Context, id string) (*Graph, error)

	// Update modifies an existing graph. Returns ErrGraphNotFound if not found.
	Update(ctx context.Context, id string, req *UpdateGraphRequest) (*Graph, error)

	// Delete removes a graph. Returns ErrGraphNotFound if not found.
	Delete(ctx context.Context, id string) error

	// List returns the graphs visible under opts, oldest first.
	List(ctx context.Context, opts *ListOptions) ([]*Graph, error)

	// Close releases any resources.
	Close() error
}

// Validate checks if a CreateGraphRequest is valid.
func (r *CreateGraphRequest) Validate() error {
	if r.Name == "" {
		return errors.New("graph name is required")
	}
	if len(r.Content) == 0 {
		return errors.New("graph content is required")
	}
	if !json.Valid(r.Content) {
		return errors.New("graph content is not valid JSON")
	}
	return nil
}

func (r *UpdateGraphRequest) validate() error {
	if r.Name != nil && *r.Name == "" {
		return errors.New("graph name cannot be empty")
	}
	if r.Content != nil && !json.Valid(r.Content) {
		return errors.New("graph content is not valid JSON")
	}
	return nil
}

func (r *UpdateGraphRequest) apply(g *Graph) {
	if r.Name != nil {
		g.Name = *r.Name
	}
	if r.Description != nil {
		g.Description = *r.Description
	}
	if r.Content != nil {
		g.Content = r.Content
	}
	if r.Public != nil {
		g.Public = *r.Public
	}
	g.UpdatedAt = time.Now().UTC()
}

// filter applies visibility, ordering and paging shared by all stores.
func filter(graphs []*Graph, opts *ListOptions) []*Graph {
	if opts == nil {
		opts = &ListOptions{Admin: true}
	}

	out := make([]*Graph, 0, len(graphs))
	for _, g := range graphs {
		if !g.VisibleTo(opts.Viewer, opts.Admin) {
			continue
		}
		if opts.CreatedBy != "" && g.CreatedBy != opts.CreatedBy {
			continue
		}
		out = append(out, g)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*Graph{}
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}
