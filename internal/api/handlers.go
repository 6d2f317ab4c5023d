package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cropsinsilico/cis-dispatcher/internal/auth"
	"github.com/cropsinsilico/cis-dispatcher/internal/catalog"
	"github.com/cropsinsilico/cis-dispatcher/internal/config"
	"github.com/cropsinsilico/cis-dispatcher/internal/driver"
	"github.com/cropsinsilico/cis-dispatcher/internal/graphstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/jobstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/specstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/validator"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Dependencies are the components the handlers call into. Syncer may be nil
// when no catalog source is configured.
type Dependencies struct {
	Graphs    graphstore.Store
	Specs     specstore.Store
	Jobs      jobstore.Store
	Driver    driver.Driver
	Validator *validator.Validator
	Syncer    *catalog.Syncer
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	graphs    graphstore.Store
	specs     specstore.Store
	jobs      jobstore.Store
	driver    driver.Driver
	validator *validator.Validator
	syncer    *catalog.Syncer
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps *Dependencies, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handlers{
		graphs:    deps.Graphs,
		specs:     deps.Specs,
		jobs:      deps.Jobs,
		driver:    deps.Driver,
		validator: deps.Validator,
		syncer:    deps.Syncer,
		config:    cfg,
		logger:    logger.With("component", "api"),
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking the cluster connection.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.driver.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "cluster unreachable", nil)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

// caller returns the request identity, or an empty one for anonymous calls.
func caller(r *http.Request) auth.Identity {
	if id := auth.FromContext(r.Context()); id != nil {
		return *id
	}
	return auth.Identity{}
}

func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body", map[string]interface{}{"reason": err.Error()})
		return false
	}
	return true
}

func (h *Handlers) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body", map[string]interface{}{"reason": err.Error()})
		return nil, false
	}
	return data, true
}

// pageParams reads limit and offset query parameters. Invalid values are
// ignored.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondYAML(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// respondError maps err to a status code and writes the error envelope.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "error", err, "status", status, "request_id", GetRequestID(r.Context(), r))
	} else {
		h.logger.Debug(message, "error", err, "status", status)
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), fmt.Sprintf("%s: %v", message, err), errorDetails(err))
}

func forbidden(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusForbidden, ErrCodeForbidden, message, nil)
}

func badRequest(w http.ResponseWriter, r *http.Request, message string, err error) {
	var details map[string]interface{}
	if err != nil {
		details = map[string]interface{}{"reason": err.Error()}
	}
	writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeBadRequest, message, details)
}
