// Package jobstore records dispatched jobs and their last observed phase.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	ErrPhaseFinal  = errors.New("job phase is final")
)

// ListOptions configures list queries.
type ListOptions struct {
	// Username restricts the result to one user's jobs.
	Username string

	// ActiveOnly drops jobs in a terminal phase.
	ActiveOnly bool

	// Limit is the maximum number of records to return (0 = no limit).
	Limit int
}

// Store defines the interface for job record persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new record. Returns ErrJobExists if the name is taken.
	Create(ctx context.Context, rec *types.JobRecord) error

	// Get retrieves a record by job name.
	Get(ctx context.Context, name string) (*types.JobRecord, error)

	// UpdatePhase moves a job to phase. A terminal record only accepts
	// JobPhaseDeleted; anything else returns ErrPhaseFinal.
	UpdatePhase(ctx context.Context, name string, phase types.JobPhase, message string) (*types.JobRecord, error)

	// List returns records oldest first.
	List(ctx context.Context, opts *ListOptions) ([]*types.JobRecord, error)

	// Close releases any resources.
	Close() error
}

// Config holds settings shared by Store implementations.
type Config struct {
	// TTL for finished records (0 = keep forever). Only honoured by stores
	// with native expiry.
	TTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TTL: 30 * 24 * time.Hour,
	}
}

func validate(rec *types.JobRecord) error {
	if rec == nil {
		return errors.New("job record is required")
	}
	if rec.Name == "" {
		return errors.New("job name is required")
	}
	if rec.Username == "" {
		return fmt.Errorf("job %s: username is required", rec.Name)
	}
	return nil
}

// prepare fills defaulted fields of a record about to be created.
func prepare(rec *types.JobRecord, now time.Time) {
	if rec.Phase == "" {
		rec.Phase = types.JobPhaseNotSubmitted
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Phase.IsTerminal() && rec.FinishedAt == nil {
		t := now
		rec.FinishedAt = &t
	}
}

// applyPhase applies a phase transition to rec in place. Deleting a finished
// record without a message keeps the logs captured when it finished.
func applyPhase(rec *types.JobRecord, phase types.JobPhase, message string, now time.Time) error {
	if rec.Phase.IsTerminal() && phase != types.JobPhaseDeleted {
		return fmt.Errorf("%w: %s is %s", ErrPhaseFinal, rec.Name, rec.Phase)
	}
	if !(rec.Phase.IsTerminal() && message == "") {
		rec.Message = message
	}
	rec.Phase = phase
	rec.UpdatedAt = now
	if phase.IsTerminal() && rec.FinishedAt == nil {
		t := now
		rec.FinishedAt = &t
	}
	return nil
}

func matches(rec *types.JobRecord, opts *ListOptions) bool {
	if opts == nil {
		return true
	}
	if opts.Username != "" && rec.Username != opts.Username {
		return false
	}
	if opts.ActiveOnly && rec.Phase.IsTerminal() {
		return false
	}
	return true
}

func sortRecords(recs []*types.JobRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].Name < recs[j].Name
	})
}

func limit(recs []*types.JobRecord, opts *ListOptions) []*types.JobRecord {
	if opts != nil && opts.Limit > 0 && opts.Limit < len(recs) {
		return recs[:opts.Limit]
	}
	return recs
}

func cloneRecord(rec *types.JobRecord) *types.JobRecord {
	out := *rec
	if rec.FinishedAt != nil {
		t := *rec.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
