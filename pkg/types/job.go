package types

import "time"

// JobPhase is the dispatcher's view of a cluster batch job.
type JobPhase string

const (
	JobPhaseNotSubmitted JobPhase = "not_submitted"
	JobPhaseSubmitted    JobPhase = "submitted"
	JobPhaseSubmitFailed JobPhase = "submit_failed"
	JobPhaseRunning      JobPhase = "running"
	JobPhaseComplete     JobPhase = "complete"
	JobPhaseFailed       JobPhase = "failed"
	JobPhaseDeleted      JobPhase = "deleted"
)

// IsTerminal reports whether no further polling can change the phase.
func (p JobPhase) IsTerminal() bool {
	switch p {
	case JobPhaseComplete, JobPhaseFailed, JobPhaseSubmitFailed, JobPhaseDeleted:
		return true
	}
	return false
}

// JobRecord is one dispatched cluster batch job.
type JobRecord struct {
	Name           string     `json:"name"`
	Namespace      string     `json:"namespace"`
	Username       string     `json:"username"`
	GraphID        string     `json:"graph_id,omitempty"`
	DockerImage    string     `json:"docker_image"`
	Command        string     `json:"command"`
	InitCommand    string     `json:"init_command,omitempty"`
	NumCPUs        int        `json:"num_cpus"`
	MaxRAMMB       int        `json:"max_ram_mb"`
	TimeoutSeconds int64      `json:"timeout_seconds"`
	Phase          JobPhase   `json:"phase"`
	Message        string     `json:"message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}
