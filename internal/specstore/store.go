// Package specstore persists catalog model specifications in display form
// and serves them to the graph translator as its component lookup.
package specstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cropsinsilico/cis-dispatcher/internal/translator"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrSpecNotFound = errors.New("spec not found")
	ErrSpecExists   = errors.New("spec already exists")
)

// Spec is a stored catalog entry. Name mirrors Content.Name and is unique.
type Spec struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Content   types.CatalogSpec `json:"content"`
	Hash      string            `json:"hash,omitempty"` // upstream content hash, set by ingest
	Public    bool              `json:"public"`
	CreatedBy string            `json:"created_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// VisibleTo reports whether user may read the spec.
func (s *Spec) VisibleTo(user string, admin bool) bool {
	return admin || s.Public || (user != "" && s.CreatedBy == user)
}

// CreateSpecRequest is the input for storing a new spec.
type CreateSpecRequest struct {
	ID        string            `json:"id,omitempty"`
	Content   types.CatalogSpec `json:"content"`
	Hash      string            `json:"hash,omitempty"`
	Public    bool              `json:"public"`
	CreatedBy string            `json:"-"`
}

// UpdateSpecRequest replaces fields of an existing spec.
type UpdateSpecRequest struct {
	Content *types.CatalogSpec `json:"content,omitempty"`
	Hash    *string            `json:"hash,omitempty"`
	Public  *bool              `json:"public,omitempty"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit  int
	Offset int
	Viewer string
	Admin  bool
}

// Store defines the interface for spec persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create stores a new spec. Returns ErrSpecExists if the ID or name is taken.
	Create(ctx context.Context, req *CreateSpecRequest) (*Spec, error)

	// Get retrieves a spec by ID.
	Get(ctx context.Context, id string) (*Spec, error)

	// GetByName retrieves a spec by its model name.
	GetByName(ctx context.Context, name string) (*Spec, error)

	// Update modifies an existing spec. Renaming onto a taken name returns
	// ErrSpecExists.
	Update(ctx context.Context, id string, req *UpdateSpecRequest) (*Spec, error)

	// Delete removes a spec.
	Delete(ctx context.Context, id string) error

	// List returns the specs visible under opts, ordered by name.
	List(ctx context.Context, opts *ListOptions) ([]*Spec, error)

	// LookupComponent resolves a graph component to its spec.
	LookupComponent(ctx context.Context, name string) (*types.CatalogSpec, error)

	// Close releases any resources.
	Close() error
}

// Validate checks if a CreateSpecRequest is valid.
func (r *CreateSpecRequest) Validate() error {
	return validateContent(&r.Content)
}

func validateContent(c *types.CatalogSpec) error {
	if c.Name == "" {
		return errors.New("spec name is required")
	}
	for _, p := range c.Inports {
		if p.Name == "" {
			return fmt.Errorf("spec %s: inport name is required", c.Name)
		}
	}
	for _, p := range c.Outports {
		if p.Name == "" {
			return fmt.Errorf("spec %s: outport name is required", c.Name)
		}
	}
	return nil
}

func (r *UpdateSpecRequest) validate() error {
	if r.Content != nil {
		return validateContent(r.Content)
	}
	return nil
}

func (r *UpdateSpecRequest) apply(s *Spec) {
	if r.Content != nil {
		s.Content = *r.Content
		s.Name = r.Content.Name
	}
	if r.Hash != nil {
		s.Hash = *r.Hash
	}
	if r.Public != nil {
		s.Public = *r.Public
	}
	s.UpdatedAt = time.Now().UTC()
}

// lookup adapts a GetByName failure to the translator's error contract.
func lookup(spec *Spec, err error, name string) (*types.CatalogSpec, error) {
	if errors.Is(err, ErrSpecNotFound) {
		return nil, fmt.Errorf("%w: %s", translator.ErrComponentNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	c := spec.Content
	return &c, nil
}

func filter(specs []*Spec, opts *ListOptions) []*Spec {
	if opts == nil {
		opts = &ListOptions{Admin: true}
	}

	out := make([]*Spec, 0, len(specs))
	for _, s := range specs {
		if s.VisibleTo(opts.Viewer, opts.Admin) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*Spec{}
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

var _ translator.ComponentLookup = (Store)(nil)

// clone copies s deeply enough that callers cannot mutate stored slices.
func clone(s *Spec) *Spec {
	out := *s
	out.Content.Args = append(types.StringList(nil), s.Content.Args...)
	out.Content.Inports = append([]types.Port(nil), s.Content.Inports...)
	out.Content.Outports = append([]types.Port(nil), s.Content.Outports...)
	return &out
}
