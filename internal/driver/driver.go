// Package driver turns saved graphs into running cluster jobs and exposes
// the job operations the API needs.
package driver

import (
	"context"

	"github.com/cropsinsilico/cis-dispatcher/internal/k8s"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// DispatchRequest asks for one graph to be run on behalf of a user. Zero
// resource fields fall back to the driver defaults.
type DispatchRequest struct {
	Username string
	GraphID  string
	Graph    *types.Graph

	DockerImage    string
	NumCPUs        int
	MaxRAMMB       int
	TimeoutSeconds int64
}

// JobStatus combines the stored record with the live cluster view. Cluster
// is nil once the job object is gone.
type JobStatus struct {
	Record  *types.JobRecord `json:"record"`
	Cluster *k8s.JobStatus   `json:"cluster,omitempty"`
}

// Driver defines the job operations exposed to the API.
type Driver interface {
	// Dispatch translates, validates and submits a graph. The returned
	// record is already persisted.
	Dispatch(ctx context.Context, req *DispatchRequest) (*types.JobRecord, error)

	// Status returns the job record and, while the job exists, its cluster
	// status.
	Status(ctx context.Context, name string) (*JobStatus, error)

	// Logs returns the job's log text or a pending placeholder.
	Logs(ctx context.Context, name string) (string, error)

	// Cancel tears the job down and records it as deleted.
	Cancel(ctx context.Context, name string) (*types.JobRecord, error)

	// HealthCheck verifies control-plane connectivity.
	HealthCheck(ctx context.Context) error
}
