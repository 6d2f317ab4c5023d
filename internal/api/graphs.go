package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"github.com/cropsinsilico/cis-dispatcher/internal/driver"
	"github.com/cropsinsilico/cis-dispatcher/internal/graphstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/translator"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// ListGraphs handles GET /api/v1/graphs. ?mine=true narrows the result to
// the caller's own graphs.
func (h *Handlers) ListGraphs(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	limit, offset := pageParams(r)
	opts := &graphstore.ListOptions{
		Limit:  limit,
		Offset: offset,
		Viewer: id.Username,
		Admin:  id.Admin,
	}
	if r.URL.Query().Get("mine") == "true" && id.Username != "" {
		opts.CreatedBy = id.Username
	}

	graphs, err := h.graphs.List(r.Context(), opts)
	if err != nil {
		h.respondError(w, r, "failed to list graphs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"graphs": graphs})
}

// CreateGraph handles POST /api/v1/graphs
func (h *Handlers) CreateGraph(w http.ResponseWriter, r *http.Request) {
	id := caller(r)

	var req graphstore.CreateGraphRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, r, "invalid graph", err)
		return
	}
	if err := h.validator.ValidateGraphJSON(req.Content).Err("graph"); err != nil {
		h.respondError(w, r, "graph failed validation", err)
		return
	}
	if req.Public && !id.Admin {
		forbidden(w, r, "only admins may publish graphs")
		return
	}
	req.CreatedBy = id.Username

	g, err := h.graphs.Create(r.Context(), &req)
	if err != nil {
		h.respondError(w, r, "failed to save graph", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, g)
}

// GetGraph handles GET /api/v1/graphs/{id}
func (h *Handlers) GetGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := h.visibleGraph(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, g)
}

// UpdateGraph handles PUT /api/v1/graphs/{id}
func (h *Handlers) UpdateGraph(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	g, ok := h.ownedGraph(w, r)
	if !ok {
		return
	}

	var req graphstore.UpdateGraphRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Content != nil {
		if err := h.validator.ValidateGraphJSON(req.Content).Err("graph"); err != nil {
			h.respondError(w, r, "graph failed validation", err)
			return
		}
	}
	if req.Public != nil && *req.Public && !g.Public && !id.Admin {
		forbidden(w, r, "only admins may publish graphs")
		return
	}

	updated, err := h.graphs.Update(r.Context(), g.ID, &req)
	if err != nil {
		h.respondError(w, r, "failed to update graph", err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// DeleteGraph handles DELETE /api/v1/graphs/{id}
func (h *Handlers) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := h.ownedGraph(w, r)
	if !ok {
		return
	}
	if err := h.graphs.Delete(r.Context(), g.ID); err != nil {
		h.respondError(w, r, "failed to delete graph", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConvertGraph handles POST /api/v1/graphs/convert. The body is an FBP
// graph; the response is the execution model YAML.
func (h *Handlers) ConvertGraph(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.validator.ValidateGraphJSON(data).Err("graph"); err != nil {
		h.respondError(w, r, "graph failed validation", err)
		return
	}
	graph, err := types.ParseGraph(data)
	if err != nil {
		badRequest(w, r, "invalid graph", err)
		return
	}

	model, err := translator.Translate(r.Context(), graph, h.specs)
	if err != nil {
		h.respondError(w, r, "failed to translate graph", err)
		return
	}
	if err := h.validator.ValidateModel(model).Err("execution model"); err != nil {
		h.respondError(w, r, "translated model failed validation", err)
		return
	}
	out, err := translator.Encode(model)
	if err != nil {
		h.respondError(w, r, "failed to encode model", err)
		return
	}
	h.respondYAML(w, out)
}

// RunGraphRequest overrides the dispatch defaults for one run. All fields
// are optional.
type RunGraphRequest struct {
	DockerImage    string `json:"docker_image,omitempty"`
	NumCPUs        int    `json:"num_cpus,omitempty"`
	MaxRAMMB       int    `json:"max_ram_mb,omitempty"`
	TimeoutSeconds int64  `json:"timeout_seconds,omitempty"`
}

// RunGraph handles POST /api/v1/graphs/{id}/run
func (h *Handlers) RunGraph(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	g, ok := h.visibleGraph(w, r)
	if !ok {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var req RunGraphRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			badRequest(w, r, "invalid request body", err)
			return
		}
	}

	if req.DockerImage != "" && !id.Admin && !h.imageAllowed(req.DockerImage) {
		forbidden(w, r, "image "+req.DockerImage+" is not allowed")
		return
	}

	graph, err := types.ParseGraph(g.Content)
	if err != nil {
		badRequest(w, r, "stored graph is unreadable", err)
		return
	}

	rec, err := h.driver.Dispatch(r.Context(), &driver.DispatchRequest{
		Username:       id.Username,
		GraphID:        g.ID,
		Graph:          graph,
		DockerImage:    req.DockerImage,
		NumCPUs:        req.NumCPUs,
		MaxRAMMB:       req.MaxRAMMB,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		h.respondError(w, r, "failed to dispatch graph", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, rec)
}

// imageAllowed reports whether non-admins may run image. Admins may run any.
func (h *Handlers) imageAllowed(image string) bool {
	return image == h.config.JobImage || slices.Contains(h.config.JobImageAllowlist, image)
}

// visibleGraph loads the {id} graph and checks the caller may read it.
func (h *Handlers) visibleGraph(w http.ResponseWriter, r *http.Request) (*graphstore.Graph, bool) {
	id := caller(r)
	g, err := h.graphs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, "failed to get graph", err)
		return nil, false
	}
	if !g.VisibleTo(id.Username, id.Admin) {
		forbidden(w, r, "graph is not shared with you")
		return nil, false
	}
	return g, true
}

// ownedGraph loads the {id} graph and checks the caller may change it.
func (h *Handlers) ownedGraph(w http.ResponseWriter, r *http.Request) (*graphstore.Graph, bool) {
	id := caller(r)
	g, err := h.graphs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, "failed to get graph", err)
		return nil, false
	}
	if !id.Admin && (g.CreatedBy == "" || g.CreatedBy != id.Username) {
		forbidden(w, r, "only the owner may change this graph")
		return nil, false
	}
	return g, true
}
