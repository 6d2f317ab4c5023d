package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cropsinsilico/cis-dispatcher/internal/specstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/translator"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// ListSpecs handles GET /api/v1/specs
func (h *Handlers) ListSpecs(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	limit, offset := pageParams(r)
	specs, err := h.specs.List(r.Context(), &specstore.ListOptions{
		Limit:  limit,
		Offset: offset,
		Viewer: id.Username,
		Admin:  id.Admin,
	})
	if err != nil {
		h.respondError(w, r, "failed to list specs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"specs": specs})
}

// CreateSpec handles POST /api/v1/specs
func (h *Handlers) CreateSpec(w http.ResponseWriter, r *http.Request) {
	id := caller(r)

	var req specstore.CreateSpecRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateSpec(&req.Content).Err("spec"); err != nil {
		h.respondError(w, r, "spec failed validation", err)
		return
	}
	if req.Public && !id.Admin {
		forbidden(w, r, "only admins may publish specs")
		return
	}
	// Hashes mark ingested specs and are only set by catalog sync.
	req.Hash = ""
	req.CreatedBy = id.Username

	spec, err := h.specs.Create(r.Context(), &req)
	if err != nil {
		h.respondError(w, r, "failed to save spec", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, spec)
}

// GetSpec handles GET /api/v1/specs/{id}
func (h *Handlers) GetSpec(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	spec, err := h.specs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, "failed to get spec", err)
		return
	}
	if !spec.VisibleTo(id.Username, id.Admin) {
		forbidden(w, r, "spec is not shared with you")
		return
	}
	h.respondJSON(w, http.StatusOK, spec)
}

// UpdateSpec handles PUT /api/v1/specs/{id}
func (h *Handlers) UpdateSpec(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	spec, ok := h.ownedSpec(w, r)
	if !ok {
		return
	}

	var req specstore.UpdateSpecRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Content != nil {
		if err := h.validator.ValidateSpec(req.Content).Err("spec"); err != nil {
			h.respondError(w, r, "spec failed validation", err)
			return
		}
	}
	if req.Public != nil && *req.Public && !spec.Public && !id.Admin {
		forbidden(w, r, "only admins may publish specs")
		return
	}
	req.Hash = nil

	updated, err := h.specs.Update(r.Context(), spec.ID, &req)
	if err != nil {
		h.respondError(w, r, "failed to update spec", err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// DeleteSpec handles DELETE /api/v1/specs/{id}
func (h *Handlers) DeleteSpec(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.ownedSpec(w, r)
	if !ok {
		return
	}
	if err := h.specs.Delete(r.Context(), spec.ID); err != nil {
		h.respondError(w, r, "failed to delete spec", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConvertSpec handles POST /api/v1/specs/convert. The body is a spec in
// display form; the response is the model YAML the runner reads.
func (h *Handlers) ConvertSpec(w http.ResponseWriter, r *http.Request) {
	var spec types.CatalogSpec
	if !h.decodeJSON(w, r, &spec) {
		return
	}
	if err := h.validator.ValidateSpec(&spec).Err("spec"); err != nil {
		h.respondError(w, r, "spec failed validation", err)
		return
	}
	out, err := translator.EncodeModel(translator.ToExecutionForm(spec))
	if err != nil {
		h.respondError(w, r, "failed to encode model", err)
		return
	}
	h.respondYAML(w, out)
}

// IngestSpecs handles PUT /api/v1/specs/ingest
func (h *Handlers) IngestSpecs(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "no catalog source configured", nil)
		return
	}
	report, err := h.syncer.Sync(r.Context())
	if err != nil {
		h.respondError(w, r, "catalog ingest failed", err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// ownedSpec loads the {id} spec and checks the caller may change it.
// Ingested specs have no owner and are admin-only.
func (h *Handlers) ownedSpec(w http.ResponseWriter, r *http.Request) (*specstore.Spec, bool) {
	id := caller(r)
	spec, err := h.specs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, "failed to get spec", err)
		return nil, false
	}
	if !id.Admin && (spec.CreatedBy == "" || spec.CreatedBy != id.Username) {
		forbidden(w, r, "only the owner may change this spec")
		return nil, false
	}
	return spec, true
}
