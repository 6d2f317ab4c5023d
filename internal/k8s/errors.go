package k8s

import (
	"errors"
	"fmt"
)

// ErrDrainIncomplete is returned by Manager.Delete when pods of the job are
// still present after the configured number of drain attempts.
var ErrDrainIncomplete = errors.New("pods still present after drain attempts")

// InvalidResourceError reports a resource request that exceeds its limit.
type InvalidResourceError struct {
	Resource string // "cpu" or "memory"
	Request  string
	Limit    string
}

func (e *InvalidResourceError) Error() string {
	return fmt.Sprintf("invalid resources: requested %s (%s) may not exceed %s limit (%s)",
		e.Resource, e.Request, e.Resource, e.Limit)
}

// TransientClusterError reports a control-plane call that kept failing with
// a retryable condition until the attempt budget was spent.
type TransientClusterError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *TransientClusterError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *TransientClusterError) Unwrap() error { return e.Err }

// ClusterRequestError reports a control-plane call rejected with a
// non-retryable HTTP status.
type ClusterRequestError struct {
	Operation string
	Code      int32
	Err       error
}

func (e *ClusterRequestError) Error() string {
	return fmt.Sprintf("%s: request failed with status %d: %v", e.Operation, e.Code, e.Err)
}

func (e *ClusterRequestError) Unwrap() error { return e.Err }

// LogsUnavailableError means the job has no pod yet. It is a pending signal,
// not a failure.
type LogsUnavailableError struct {
	Job string
}

func (e *LogsUnavailableError) Error() string {
	return fmt.Sprintf("logs for job %s are not available yet", e.Job)
}

// IsLogsUnavailable reports whether err is a LogsUnavailableError.
func IsLogsUnavailable(err error) bool {
	var lue *LogsUnavailableError
	return errors.As(err, &lue)
}
