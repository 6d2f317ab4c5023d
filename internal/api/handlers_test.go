package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cropsinsilico/cis-dispatcher/internal/auth"
	"github.com/cropsinsilico/cis-dispatcher/internal/catalog"
	"github.com/cropsinsilico/cis-dispatcher/internal/config"
	"github.com/cropsinsilico/cis-dispatcher/internal/driver"
	"github.com/cropsinsilico/cis-dispatcher/internal/graphstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/jobstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/k8s"
	"github.com/cropsinsilico/cis-dispatcher/internal/specstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/validator"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

const lightGraph = `{
  "processes": {
    "in": {"component": "inport", "metadata": {"name": "ambient", "type": "table", "read_meth": "table"}},
    "light": {"component": "lightmodel"}
  },
  "connections": [
    {"src": {"process": "in", "port": "out"}, "tgt": {"process": "light", "port": "ambient_light"}}
  ]
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDriver records dispatches in the job store without a cluster.
type fakeDriver struct {
	mu          sync.Mutex
	jobs        jobstore.Store
	dispatched  []*driver.DispatchRequest
	dispatchErr error
	healthErr   error
}

func (f *fakeDriver) Dispatch(ctx context.Context, req *driver.DispatchRequest) (*types.JobRecord, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, req)
	n := len(f.dispatched)
	f.mu.Unlock()

	if f.dispatchErr != nil {
		return nil, f.dispatchErr
	}
	rec := &types.JobRecord{
		Name:     fmt.Sprintf("%s-job-%d", req.Username, n),
		Username: req.Username,
		GraphID:  req.GraphID,
		Phase:    types.JobPhaseSubmitted,
	}
	if err := f.jobs.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (f *fakeDriver) Status(ctx context.Context, name string) (*driver.JobStatus, error) {
	rec, err := f.jobs.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &driver.JobStatus{Record: rec}, nil
}

func (f *fakeDriver) Logs(_ context.Context, name string) (string, error) {
	return "logs of " + name, nil
}

func (f *fakeDriver) Cancel(ctx context.Context, name string) (*types.JobRecord, error) {
	return f.jobs.UpdatePhase(ctx, name, types.JobPhaseDeleted, "")
}

func (f *fakeDriver) HealthCheck(context.Context) error {
	return f.healthErr
}

type staticSource []catalog.Document

func (s staticSource) Load(context.Context) ([]catalog.Document, error) {
	return s, nil
}

type testEnv struct {
	handler http.Handler
	graphs  *graphstore.MemoryStore
	specs   *specstore.MemoryStore
	jobs    *jobstore.MemoryStore
	driver  *fakeDriver
}

func newTestEnv(t *testing.T, source catalog.Source) *testEnv {
	t.Helper()
	v, err := validator.New()
	if err != nil {
		t.Fatalf("validator.New failed: %v", err)
	}

	env := &testEnv{
		graphs: graphstore.NewMemoryStore(),
		specs:  specstore.NewMemoryStore(),
		jobs:   jobstore.NewMemoryStore(),
	}
	env.driver = &fakeDriver{jobs: env.jobs}

	_, err = env.specs.Create(context.Background(), &specstore.CreateSpecRequest{
		Content: types.CatalogSpec{
			Name:     "lightmodel",
			Label:    "LightModel",
			Language: "c",
			Args:     types.StringList{"light.c"},
			Inports:  []types.Port{{Name: "ambient_light", Type: "all"}},
			Outports: []types.Port{{Name: "light_intensity"}},
		},
		Hash:   "abc",
		Public: true,
	})
	if err != nil {
		t.Fatalf("seed spec failed: %v", err)
	}

	deps := &Dependencies{
		Graphs:    env.graphs,
		Specs:     env.specs,
		Jobs:      env.jobs,
		Driver:    env.driver,
		Validator: v,
	}
	if source != nil {
		deps.Syncer = catalog.NewSyncer(source, env.specs, v, testLogger())
	}

	cfg := &config.Config{
		CORSOrigins:       []string{"http://localhost:3000"},
		JobImage:          "cropsinsilico/jupyterlab:latest",
		JobImageAllowlist: []string{"cropsinsilico/cis:v2"},
	}
	h := NewHandlers(deps, cfg, testLogger())
	authMW := auth.NewMiddleware(nil, &auth.MiddlewareConfig{}, testLogger())
	env.handler = NewServer(h, authMW, nil).Router()
	return env
}

// do sends a request as user ("" for anonymous; a "!" suffix makes an admin).
func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		if name, ok := strings.CutSuffix(user, "!"); ok {
			req.Header.Set(auth.HeaderUser, name)
			req.Header.Set(auth.HeaderAdmin, "true")
		} else {
			req.Header.Set(auth.HeaderUser, user)
		}
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func createGraph(t *testing.T, env *testEnv, user string, public bool) *graphstore.Graph {
	t.Helper()
	body := fmt.Sprintf(`{"name":"light","public":%t,"content":%s}`, public, lightGraph)
	rr := env.do(t, http.MethodPost, "/api/v1/graphs", user, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create graph: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	return decode[*graphstore.Graph](t, rr)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	if rr := env.do(t, http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/ready", "", ""); rr.Code != http.StatusOK {
		t.Errorf("ready: expected 200, got %d", rr.Code)
	}

	env.driver.healthErr = errors.New("connection refused")
	rr := env.do(t, http.MethodGet, "/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("ready: expected 503, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Error != ErrCodeServiceUnavail || resp.RequestID == "" {
		t.Errorf("unexpected error body %+v", resp)
	}
}

func TestGraphs(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("anonymous create is rejected", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/graphs", "", `{"name":"x","content":{}}`)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	g := createGraph(t, env, "alice", false)
	if g.CreatedBy != "alice" || g.Public {
		t.Fatalf("unexpected graph %+v", g)
	}

	tests := []struct {
		name   string
		method string
		user   string
		body   string
		status int
	}{
		{"owner reads", http.MethodGet, "alice", "", http.StatusOK},
		{"admin reads", http.MethodGet, "root!", "", http.StatusOK},
		{"other user cannot read", http.MethodGet, "bob", "", http.StatusForbidden},
		{"other user cannot update", http.MethodPut, "bob", `{"name":"mine"}`, http.StatusForbidden},
		{"owner cannot publish", http.MethodPut, "alice", `{"public":true}`, http.StatusForbidden},
		{"owner renames", http.MethodPut, "alice", `{"name":"light v2"}`, http.StatusOK},
		{"invalid content", http.MethodPut, "alice", `{"content":{"processes":{}}}`, http.StatusBadRequest},
		{"other user cannot delete", http.MethodDelete, "bob", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, "/api/v1/graphs/"+g.ID, tt.user, tt.body)
			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}

	t.Run("schema violations are reported", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/graphs", "alice", `{"name":"bad","content":{"processes":{}}}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if resp := decode[ErrorResponse](t, rr); resp.Details["violations"] == nil {
			t.Errorf("expected violations in details, got %+v", resp)
		}
	})

	t.Run("list shows own and public graphs", func(t *testing.T) {
		createGraph(t, env, "root!", true)

		bob := decode[map[string][]*graphstore.Graph](t, env.do(t, http.MethodGet, "/api/v1/graphs", "bob", ""))
		if len(bob["graphs"]) != 1 || !bob["graphs"][0].Public {
			t.Errorf("bob should see only the public graph, got %d", len(bob["graphs"]))
		}
		alice := decode[map[string][]*graphstore.Graph](t, env.do(t, http.MethodGet, "/api/v1/graphs?mine=true", "alice", ""))
		if len(alice["graphs"]) != 1 || alice["graphs"][0].ID != g.ID {
			t.Errorf("alice should see only her graph, got %d", len(alice["graphs"]))
		}
	})

	t.Run("owner deletes", func(t *testing.T) {
		if rr := env.do(t, http.MethodDelete, "/api/v1/graphs/"+g.ID, "alice", ""); rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodGet, "/api/v1/graphs/"+g.ID, "alice", ""); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", rr.Code)
		}
	})
}

func TestConvertGraph(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/v1/graphs/convert", "", lightGraph)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("unexpected content type %s", ct)
	}
	out := rr.Body.String()
	for _, want := range []string{"models:", "name: LightModel", "connections:", "filetype: table"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	t.Run("unknown component", func(t *testing.T) {
		body := strings.Replace(lightGraph, `"component": "lightmodel"`, `"component": "nosuchmodel"`, 1)
		rr := env.do(t, http.MethodPost, "/api/v1/graphs/convert", "", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestRunGraph(t *testing.T) {
	env := newTestEnv(t, nil)
	g := createGraph(t, env, "alice", false)
	path := "/api/v1/graphs/" + g.ID + "/run"

	rr := env.do(t, http.MethodPost, path, "alice", `{"num_cpus":2}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rec := decode[types.JobRecord](t, rr)
	if rec.Username != "alice" || rec.GraphID != g.ID {
		t.Errorf("unexpected record %+v", rec)
	}
	req := env.driver.dispatched[0]
	if req.NumCPUs != 2 || req.Graph == nil || req.Graph.Processes.Len() != 2 {
		t.Errorf("unexpected dispatch request %+v", req)
	}

	t.Run("empty body uses defaults", func(t *testing.T) {
		if rr := env.do(t, http.MethodPost, path, "alice", ""); rr.Code != http.StatusCreated {
			t.Errorf("expected 201, got %d", rr.Code)
		}
	})

	t.Run("image override", func(t *testing.T) {
		images := []struct {
			user   string
			image  string
			status int
		}{
			{"alice", "evil/miner:latest", http.StatusForbidden},
			{"alice", "cropsinsilico/cis:v2", http.StatusCreated},
			{"alice", "cropsinsilico/jupyterlab:latest", http.StatusCreated},
			{"root!", "evil/miner:latest", http.StatusCreated},
		}
		for _, tt := range images {
			before := len(env.driver.dispatched)
			rr := env.do(t, http.MethodPost, path, tt.user, `{"docker_image":"`+tt.image+`"}`)
			if rr.Code != tt.status {
				t.Errorf("%s running %s: expected %d, got %d", tt.user, tt.image, tt.status, rr.Code)
			}
			dispatched := len(env.driver.dispatched) > before
			if dispatched != (tt.status == http.StatusCreated) {
				t.Errorf("%s running %s: dispatched=%v", tt.user, tt.image, dispatched)
			}
		}
	})

	t.Run("private graph of another user", func(t *testing.T) {
		if rr := env.do(t, http.MethodPost, path, "bob", ""); rr.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rr.Code)
		}
	})

	errs := []struct {
		name   string
		err    error
		status int
	}{
		{"rejected", fmt.Errorf("%w: bad graph", driver.ErrRejected), http.StatusBadRequest},
		{"cluster refused", &k8s.ClusterRequestError{Operation: "create job", Code: 403, Err: errors.New("forbidden")}, http.StatusBadGateway},
		{"cluster flaky", &k8s.TransientClusterError{Operation: "create job", Attempts: 3, Err: errors.New("timeout")}, http.StatusServiceUnavailable},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			env.driver.dispatchErr = tt.err
			defer func() { env.driver.dispatchErr = nil }()
			if rr := env.do(t, http.MethodPost, path, "alice", ""); rr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestSpecs(t *testing.T) {
	env := newTestEnv(t, nil)
	spec := `{"content":{"name":"growthmodel","label":"GrowthModel","language":"python","args":"growth.py","inports":[{"name":"photosynthesis_rate"}]}}`

	rr := env.do(t, http.MethodPost, "/api/v1/specs", "alice", spec)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[*specstore.Spec](t, rr)
	if created.CreatedBy != "alice" || created.Hash != "" {
		t.Errorf("unexpected spec %+v", created)
	}

	t.Run("publishing requires admin", func(t *testing.T) {
		body := `{"public":true,"content":{"name":"other"}}`
		if rr := env.do(t, http.MethodPost, "/api/v1/specs", "alice", body); rr.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rr.Code)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		if rr := env.do(t, http.MethodPost, "/api/v1/specs", "bob", spec); rr.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rr.Code)
		}
	})

	t.Run("ingested specs are admin only", func(t *testing.T) {
		light, err := env.specs.GetByName(context.Background(), "lightmodel")
		if err != nil {
			t.Fatal(err)
		}
		if rr := env.do(t, http.MethodDelete, "/api/v1/specs/"+light.ID, "alice", ""); rr.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodGet, "/api/v1/specs/"+light.ID, "", ""); rr.Code != http.StatusOK {
			t.Errorf("public spec should be readable anonymously, got %d", rr.Code)
		}
	})

	t.Run("list", func(t *testing.T) {
		anon := decode[map[string][]*specstore.Spec](t, env.do(t, http.MethodGet, "/api/v1/specs", "", ""))
		if len(anon["specs"]) != 1 {
			t.Errorf("anonymous should see 1 spec, got %d", len(anon["specs"]))
		}
		alice := decode[map[string][]*specstore.Spec](t, env.do(t, http.MethodGet, "/api/v1/specs", "alice", ""))
		if len(alice["specs"]) != 2 {
			t.Errorf("alice should see 2 specs, got %d", len(alice["specs"]))
		}
	})

	t.Run("owner deletes", func(t *testing.T) {
		if rr := env.do(t, http.MethodDelete, "/api/v1/specs/"+created.ID, "alice", ""); rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
	})
}

func TestConvertSpec(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"name":"lightmodel","label":"LightModel","language":"c","args":"light.c","inports":[{"name":"ambient_light"}],"outports":[{"name":"light_intensity"}]}`
	rr := env.do(t, http.MethodPost, "/api/v1/specs/convert", "", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	out := rr.Body.String()
	for _, want := range []string{"model:", "name: LightModel", "- ambient_light", "- light_intensity"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	rr = env.do(t, http.MethodPost, "/api/v1/specs/convert", "", `{"name":"x","inports":[{"label":"unnamed"}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid spec, got %d", rr.Code)
	}
}

func TestIngestSpecs(t *testing.T) {
	t.Run("no source configured", func(t *testing.T) {
		env := newTestEnv(t, nil)
		if rr := env.do(t, http.MethodPut, "/api/v1/specs/ingest", "root!", ""); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rr.Code)
		}
	})

	source := staticSource{{
		Path: "models/growth.yml",
		Hash: "h1",
		Data: []byte("model:\n  name: GrowthModel\n  language: python\n  args: growth.py\n"),
	}}
	env := newTestEnv(t, source)

	if rr := env.do(t, http.MethodPut, "/api/v1/specs/ingest", "alice", ""); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", rr.Code)
	}

	rr := env.do(t, http.MethodPut, "/api/v1/specs/ingest", "root!", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	report := decode[catalog.Report](t, rr)
	if len(report.Created) != 1 || report.Created[0] != "growthmodel" {
		t.Errorf("unexpected created %v", report.Created)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "lightmodel" {
		t.Errorf("unexpected removed %v", report.Removed)
	}
}

func TestJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	g := createGraph(t, env, "alice", false)
	rr := env.do(t, http.MethodPost, "/api/v1/graphs/"+g.ID+"/run", "alice", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("dispatch: expected 201, got %d", rr.Code)
	}
	job := decode[types.JobRecord](t, rr)
	path := "/api/v1/jobs/" + job.Name

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		status int
	}{
		{"anonymous", http.MethodGet, path, "", http.StatusUnauthorized},
		{"other user", http.MethodGet, path, "bob", http.StatusForbidden},
		{"unknown job", http.MethodGet, "/api/v1/jobs/nope", "alice", http.StatusNotFound},
		{"owner status", http.MethodGet, path, "alice", http.StatusOK},
		{"admin status", http.MethodGet, path, "root!", http.StatusOK},
		{"other user logs", http.MethodGet, path + "/logs", "bob", http.StatusForbidden},
		{"other user delete", http.MethodDelete, path, "bob", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, tt.method, tt.path, tt.user, ""); rr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}

	t.Run("logs", func(t *testing.T) {
		resp := decode[map[string]string](t, env.do(t, http.MethodGet, path+"/logs", "alice", ""))
		if resp["logs"] != "logs of "+job.Name {
			t.Errorf("unexpected logs %q", resp["logs"])
		}
	})

	t.Run("list", func(t *testing.T) {
		bob := decode[map[string][]*types.JobRecord](t, env.do(t, http.MethodGet, "/api/v1/jobs", "bob", ""))
		if len(bob["jobs"]) != 0 {
			t.Errorf("bob should see no jobs, got %d", len(bob["jobs"]))
		}
		admin := decode[map[string][]*types.JobRecord](t, env.do(t, http.MethodGet, "/api/v1/jobs?user=alice", "root!", ""))
		if len(admin["jobs"]) != 1 {
			t.Errorf("admin should see alice's job, got %d", len(admin["jobs"]))
		}
	})

	t.Run("delete", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, path, "alice", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if rec := decode[types.JobRecord](t, rr); rec.Phase != types.JobPhaseDeleted {
			t.Errorf("expected deleted, got %s", rec.Phase)
		}
		active := decode[map[string][]*types.JobRecord](t, env.do(t, http.MethodGet, "/api/v1/jobs?active=true", "alice", ""))
		if len(active["jobs"]) != 0 {
			t.Errorf("deleted job listed as active")
		}
	})
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/graphs", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("unexpected allow origin %q", got)
		}
	})

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/specs", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
			t.Errorf("expected req-42, got %q", got)
		}
	})
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"rejected", fmt.Errorf("%w: x", driver.ErrRejected), http.StatusBadRequest},
		{"invalid document", &validator.InvalidDocumentError{Kind: "graph"}, http.StatusBadRequest},
		{"invalid resources", &k8s.InvalidResourceError{Resource: "cpu"}, http.StatusBadRequest},
		{"graph missing", fmt.Errorf("get: %w", graphstore.ErrGraphNotFound), http.StatusNotFound},
		{"job missing", jobstore.ErrJobNotFound, http.StatusNotFound},
		{"phase final", jobstore.ErrPhaseFinal, http.StatusConflict},
		{"transient", &k8s.TransientClusterError{Err: errors.New("x")}, http.StatusServiceUnavailable},
		{"request", &k8s.ClusterRequestError{Code: 422, Err: errors.New("x")}, http.StatusBadGateway},
		{"empty catalog", catalog.ErrEmptyCatalog, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusForError(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	got := normalizePath("/api/v1/graphs/123e4567-e89b-12d3-a456-426614174000/run")
	if got != "/api/v1/graphs/{id}/run" {
		t.Errorf("unexpected path %s", got)
	}
}
