// Package translator converts FBP graphs saved by the editor into the
// execution model consumed by the model runner.
package translator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// ComponentLookup resolves a component name to its catalog specification.
// Implementations return an error wrapping ErrComponentNotFound when the
// name is not registered.
type ComponentLookup interface {
	LookupComponent(ctx context.Context, name string) (*types.CatalogSpec, error)
}

// MapLookup is a ComponentLookup backed by a map keyed by component name.
type MapLookup map[string]*types.CatalogSpec

// LookupComponent implements ComponentLookup.
func (m MapLookup) LookupComponent(_ context.Context, name string) (*types.CatalogSpec, error) {
	spec, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	return spec, nil
}

// Translate converts graph into an execution model. Models are emitted in
// process order and connections in graph order. On any error no model is
// returned.
func Translate(ctx context.Context, graph *types.Graph, lookup ComponentLookup) (*types.ExecutionModel, error) {
	if graph == nil {
		return nil, errors.New("graph is required")
	}
	if lookup == nil {
		return nil, errors.New("component lookup is required")
	}

	idx := NewPortIndex(graph.Processes)

	model := &types.ExecutionModel{
		Models:      []types.ModelSpec{},
		Connections: make([]types.ResolvedConnection, 0, len(graph.Connections)),
	}

	for _, key := range graph.Processes.Keys() {
		if !idx.IsComponent(key) {
			continue
		}
		p, _ := graph.Processes.Get(key)

		spec, err := lookup.LookupComponent(ctx, p.Component)
		if errors.Is(err, ErrComponentNotFound) || (err == nil && spec == nil) {
			return nil, &UnknownComponentError{Process: key, Component: p.Component}
		}
		if err != nil {
			return nil, fmt.Errorf("lookup component %q: %w", p.Component, err)
		}
		model.AddModel(key, ToExecutionForm(*spec))
	}

	for i, conn := range graph.Connections {
		if !idx.Has(conn.Src.Process) {
			return nil, fmt.Errorf("connection %d: %w %q", i, ErrUnknownProcess, conn.Src.Process)
		}
		if !idx.Has(conn.Tgt.Process) {
			return nil, fmt.Errorf("connection %d: %w %q", i, ErrUnknownProcess, conn.Tgt.Process)
		}
		resolved, err := Resolve(idx, conn)
		if err != nil {
			return nil, fmt.Errorf("connection %d: %w", i, err)
		}
		model.Connections = append(model.Connections, resolved)
	}

	return model, nil
}
