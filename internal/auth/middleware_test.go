package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeVerifier map[string]*Claims

func (f fakeVerifier) Verify(_ context.Context, raw string) (*Claims, error) {
	c, ok := f[raw]
	if !ok {
		return nil, errors.New("bad token")
	}
	return c, nil
}

// echoIdentity writes the caller seen by the handler.
func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		switch {
		case id == nil:
			w.Write([]byte("anonymous"))
		case id.Admin:
			w.Write([]byte(id.Username + ":admin"))
		default:
			w.Write([]byte(id.Username))
		}
	})
}

func TestMiddleware_Enabled(t *testing.T) {
	verifier := fakeVerifier{
		"alice-token": {PreferredUsername: "alice"},
		"root-token":  {Email: "root@example.org", Groups: []string{"cis-admins"}},
		"old-token":   {Subject: "bob", Expiry: time.Now().Add(-time.Hour)},
	}
	h := NewMiddleware(verifier, &MiddlewareConfig{Enabled: true, AdminRole: "cis-admins"}, nil).Handler(echoIdentity())

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{name: "user token", path: "/api/v1/graphs", header: "Bearer alice-token", status: 200, body: "alice"},
		{name: "admin by group", path: "/api/v1/graphs", header: "Bearer root-token", status: 200, body: "root:admin"},
		{name: "no header is anonymous", path: "/api/v1/graphs", status: 200, body: "anonymous"},
		{name: "bad scheme", path: "/api/v1/graphs", header: "Basic abc", status: 401},
		{name: "bad token", path: "/api/v1/graphs", header: "Bearer nope", status: 401},
		{name: "expired token", path: "/api/v1/graphs", header: "Bearer old-token", status: 401},
		{name: "public path skips checks", path: "/health", header: "Bearer nope", status: 200, body: "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			if tt.body != "" && rr.Body.String() != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, rr.Body.String())
			}
		})
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	h := NewMiddleware(nil, &MiddlewareConfig{Enabled: true}, nil).Handler(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set(HeaderUser, "carol")
	req.Header.Set(HeaderAdmin, "true")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Body.String() != "carol:admin" {
		t.Errorf("expected header identity, got %q", rr.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(echoIdentity())

	tests := []struct {
		name   string
		id     *Identity
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"user", &Identity{Username: "alice"}, http.StatusForbidden},
		{"admin", &Identity{Username: "root", Admin: true}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/specs/ingest", nil)
			if tt.id != nil {
				req = req.WithContext(WithIdentity(req.Context(), tt.id))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestClaims_Username(t *testing.T) {
	tests := []struct {
		claims Claims
		want   string
	}{
		{Claims{PreferredUsername: "alice", Email: "a@x.org", Subject: "1"}, "alice"},
		{Claims{Email: "bob@x.org", Subject: "2"}, "bob"},
		{Claims{Subject: "3"}, "3"},
	}
	for _, tt := range tests {
		if got := tt.claims.Username(); got != tt.want {
			t.Errorf("Username() = %q, want %q", got, tt.want)
		}
	}
}

func TestClaims_Grants(t *testing.T) {
	c := &Claims{Roles: []string{"editor"}, Groups: []string{"cis-admins"}}
	tests := []struct {
		name string
		want bool
	}{
		{"editor", true},
		{"cis-admins", true},
		{"viewer", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := c.Grants(tt.name); got != tt.want {
			t.Errorf("Grants(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPerIPRateLimiter(t *testing.T) {
	h := NewPerIPRateLimiter(1, 2).Handler(echoIdentity())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.RemoteAddr = "10.0.0.5:41000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected codes %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.RemoteAddr = "10.0.0.6:41000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Errorf("other client limited: %d", rr.Code)
	}
}
