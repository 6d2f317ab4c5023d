package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cropsinsilico/cis-dispatcher/internal/jobstore"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// ListJobs handles GET /api/v1/jobs. Users see their own jobs; admins see
// everyone's, optionally narrowed with ?user=.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	q := r.URL.Query()
	limit, _ := pageParams(r)

	opts := &jobstore.ListOptions{
		Username:   id.Username,
		ActiveOnly: q.Get("active") == "true",
		Limit:      limit,
	}
	if id.Admin {
		opts.Username = q.Get("user")
	}

	jobs, err := h.jobs.List(r.Context(), opts)
	if err != nil {
		h.respondError(w, r, "failed to list jobs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// GetJob handles GET /api/v1/jobs/{name}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	status, err := h.driver.Status(r.Context(), rec.Name)
	if err != nil {
		h.respondError(w, r, "failed to get job status", err)
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

// GetJobLogs handles GET /api/v1/jobs/{name}/logs
func (h *Handlers) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	logs, err := h.driver.Logs(r.Context(), rec.Name)
	if err != nil {
		h.respondError(w, r, "failed to get job logs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"name": rec.Name, "logs": logs})
}

// DeleteJob handles DELETE /api/v1/jobs/{name}
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	updated, err := h.driver.Cancel(r.Context(), rec.Name)
	if err != nil {
		h.respondError(w, r, "failed to delete job", err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// ownedJob loads the {name} job record and checks the caller launched it.
func (h *Handlers) ownedJob(w http.ResponseWriter, r *http.Request) (*types.JobRecord, bool) {
	id := caller(r)
	rec, err := h.jobs.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.respondError(w, r, "failed to get job", err)
		return nil, false
	}
	if !id.Admin && rec.Username != id.Username {
		forbidden(w, r, "job belongs to another user")
		return nil, false
	}
	return rec, true
}
