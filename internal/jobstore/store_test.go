package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/cropsinsilico/cis-dispatcher/internal/metrics"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

func record(name, user string, phase types.JobPhase, created time.Time) *types.JobRecord {
	return &types.JobRecord{
		Name:           name,
		Namespace:      "cis",
		Username:       user,
		DockerImage:    "cropsinsilico/jupyterlab:latest",
		Command:        "cisrun model.yml",
		NumCPUs:        1,
		MaxRAMMB:       1024,
		TimeoutSeconds: 3600,
		Phase:          phase,
		CreatedAt:      created,
	}
}

// testStore runs the behaviour every Store implementation must share.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		rec := record("cis-alice-1", "alice", types.JobPhaseSubmitted, base)
		rec.GraphID = "g1"
		rec.InitCommand = "mkdir -p /pvc/x"
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if rec.UpdatedAt.IsZero() {
			t.Error("UpdatedAt should be filled on create")
		}

		got, err := s.Get(ctx, "cis-alice-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Username != "alice" || got.GraphID != "g1" || got.InitCommand != rec.InitCommand {
			t.Errorf("unexpected record: %+v", got)
		}
		if got.Phase != types.JobPhaseSubmitted || got.NumCPUs != 1 || got.MaxRAMMB != 1024 {
			t.Errorf("unexpected record: %+v", got)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("expected CreatedAt %v, got %v", base, got.CreatedAt)
		}
		if got.FinishedAt != nil {
			t.Errorf("active job must not have FinishedAt, got %v", got.FinishedAt)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.Create(ctx, record("dup", "alice", "", base)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := s.Create(ctx, record("dup", "bob", "", base)); !errors.Is(err, ErrJobExists) {
			t.Errorf("expected ErrJobExists, got %v", err)
		}
	})

	t.Run("default phase", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		s.Create(ctx, record("fresh", "alice", "", base))
		got, _ := s.Get(ctx, "fresh")
		if got.Phase != types.JobPhaseNotSubmitted {
			t.Errorf("expected %s, got %s", types.JobPhaseNotSubmitted, got.Phase)
		}
	})

	t.Run("missing job", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		if _, err := s.UpdatePhase(ctx, "nope", types.JobPhaseRunning, ""); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("phase transitions", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		s.Create(ctx, record("job", "alice", types.JobPhaseSubmitted, base))

		rec, err := s.UpdatePhase(ctx, "job", types.JobPhaseRunning, "")
		if err != nil {
			t.Fatalf("UpdatePhase failed: %v", err)
		}
		if rec.Phase != types.JobPhaseRunning || rec.FinishedAt != nil {
			t.Errorf("unexpected record: %+v", rec)
		}

		rec, err = s.UpdatePhase(ctx, "job", types.JobPhaseFailed, "Traceback ...")
		if err != nil {
			t.Fatalf("UpdatePhase failed: %v", err)
		}
		if rec.FinishedAt == nil || rec.Message != "Traceback ..." {
			t.Errorf("terminal phase should set FinishedAt and message: %+v", rec)
		}
		finished := *rec.FinishedAt

		if _, err := s.UpdatePhase(ctx, "job", types.JobPhaseComplete, ""); !errors.Is(err, ErrPhaseFinal) {
			t.Errorf("expected ErrPhaseFinal, got %v", err)
		}

		rec, err = s.UpdatePhase(ctx, "job", types.JobPhaseDeleted, "")
		if err != nil {
			t.Fatalf("deleting a finished job should be allowed: %v", err)
		}
		if !rec.FinishedAt.Equal(finished) {
			t.Errorf("FinishedAt changed from %v to %v", finished, rec.FinishedAt)
		}
		if rec.Message != "Traceback ..." {
			t.Errorf("deleting must keep the captured logs, got %q", rec.Message)
		}

		stored, _ := s.Get(ctx, "job")
		if stored.Phase != types.JobPhaseDeleted {
			t.Errorf("expected stored phase deleted, got %s", stored.Phase)
		}
	})

	t.Run("list filters and order", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		s.Create(ctx, record("c", "alice", types.JobPhaseComplete, base.Add(2*time.Minute)))
		s.Create(ctx, record("a", "alice", types.JobPhaseRunning, base))
		s.Create(ctx, record("b", "bob", types.JobPhaseSubmitted, base.Add(time.Minute)))

		tests := []struct {
			name string
			opts *ListOptions
			want []string
		}{
			{name: "all", opts: nil, want: []string{"a", "b", "c"}},
			{name: "by user", opts: &ListOptions{Username: "alice"}, want: []string{"a", "c"}},
			{name: "active only", opts: &ListOptions{ActiveOnly: true}, want: []string{"a", "b"}},
			{name: "limit", opts: &ListOptions{Limit: 1}, want: []string{"a"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				list, err := s.List(ctx, tt.opts)
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				if len(list) != len(tt.want) {
					t.Fatalf("expected %v, got %d records", tt.want, len(list))
				}
				for i, name := range tt.want {
					if list[i].Name != name {
						t.Errorf("position %d: expected %s, got %s", i, name, list[i].Name)
					}
				}
			})
		}
	})

	t.Run("validates input", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.Create(ctx, record("", "alice", "", base)); err == nil {
			t.Error("expected error for missing name")
		}
		if err := s.Create(ctx, record("x", "", "", base)); err == nil {
			t.Error("expected error for missing username")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store { return NewMemoryStore() })

	t.Run("returned records are copies", func(t *testing.T) {
		s := NewMemoryStore()
		ctx := context.Background()
		s.Create(ctx, record("job", "alice", types.JobPhaseSubmitted, time.Now()))

		got, _ := s.Get(ctx, "job")
		got.Phase = types.JobPhaseFailed

		again, _ := s.Get(ctx, "job")
		if again.Phase != types.JobPhaseSubmitted {
			t.Errorf("stored record was mutated: %s", again.Phase)
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		return s
	})

	t.Run("survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "jobs.db")
		ctx := context.Background()

		s, err := NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		s.Create(ctx, record("job", "alice", types.JobPhaseSubmitted, time.Now().UTC()))
		s.UpdatePhase(ctx, "job", types.JobPhaseComplete, "")
		s.Close()

		s, err = NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer s.Close()

		got, err := s.Get(ctx, "job")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Phase != types.JobPhaseComplete || got.FinishedAt == nil {
			t.Errorf("unexpected record after reopen: %+v", got)
		}
	})
}

func TestInstrumentedStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store { return Instrument("memory", NewMemoryStore()) })

	t.Run("operations are counted", func(t *testing.T) {
		ctx := context.Background()
		s := Instrument("instrument-test", NewMemoryStore())
		notFound := metrics.StoreOperations.WithLabelValues("instrument-test", "get", "not_found")
		created := metrics.StoreOperations.WithLabelValues("instrument-test", "create", "ok")

		if err := s.Create(ctx, record("job", "alice", types.JobPhaseSubmitted, time.Now())); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
			t.Fatalf("expected ErrJobNotFound, got %v", err)
		}

		if got := counterValue(t, created); got != 1 {
			t.Errorf("expected 1 create, got %v", got)
		}
		if got := counterValue(t, notFound); got != 1 {
			t.Errorf("expected 1 not_found get, got %v", got)
		}
	})
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
