package jobstore

import (
	"context"
	"errors"

	"github.com/cropsinsilico/cis-dispatcher/internal/metrics"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// instrumented counts every operation of the wrapped store.
type instrumented struct {
	name  string
	inner Store
}

// Instrument wraps s so each call is recorded in the store operations
// metric under the given store name.
func Instrument(name string, s Store) Store {
	return &instrumented{name: name, inner: s}
}

func (s *instrumented) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrJobNotFound):
		result = "not_found"
	case errors.Is(err, ErrJobExists), errors.Is(err, ErrPhaseFinal):
		result = "conflict"
	default:
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues(s.name, op, result).Inc()
}

func (s *instrumented) Create(ctx context.Context, rec *types.JobRecord) error {
	err := s.inner.Create(ctx, rec)
	s.observe("create", err)
	return err
}

func (s *instrumented) Get(ctx context.Context, name string) (*types.JobRecord, error) {
	rec, err := s.inner.Get(ctx, name)
	s.observe("get", err)
	return rec, err
}

func (s *instrumented) UpdatePhase(ctx context.Context, name string, phase types.JobPhase, message string) (*types.JobRecord, error) {
	rec, err := s.inner.UpdatePhase(ctx, name, phase, message)
	s.observe("update_phase", err)
	return rec, err
}

func (s *instrumented) List(ctx context.Context, opts *ListOptions) ([]*types.JobRecord, error) {
	recs, err := s.inner.List(ctx, opts)
	s.observe("list", err)
	return recs, err
}

func (s *instrumented) Close() error {
	return s.inner.Close()
}
