// Package monitor polls the cluster for the state of dispatched jobs and
// records phase changes in the job store.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cropsinsilico/cis-dispatcher/internal/jobstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/k8s"
	"github.com/cropsinsilico/cis-dispatcher/internal/metrics"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// VanishedMessage is recorded for jobs that disappeared from the cluster
// before a terminal state was observed.
const VanishedMessage = "job no longer exists in the cluster"

// JobProber is the subset of k8s.Manager the monitor polls with.
type JobProber interface {
	IsFailed(ctx context.Context, name string) (bool, error)
	IsDone(ctx context.Context, name string) (bool, error)
	ErrorMessage(ctx context.Context, name string) string
}

// Config holds monitor configuration.
type Config struct {
	// Interval between sweeps
	Interval time.Duration

	// Parallelism limits concurrent job checks (0 = unlimited)
	Parallelism int

	// RPS and Burst bound control-plane calls made by the monitor
	RPS   float64
	Burst int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:    10 * time.Second,
		Parallelism: 4,
		RPS:         10,
		Burst:       10,
	}
}

// Monitor drives job records toward their terminal phase. It never cancels
// jobs; stopping it only stops the polling.
type Monitor struct {
	prober  JobProber
	store   jobstore.Store
	cfg     *Config
	limiter *rate.Limiter
	sem     chan struct{} // Parallelism limiter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new monitor.
func New(prober JobProber, store jobstore.Store, cfg *Config, logger *slog.Logger) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	var sem chan struct{}
	if cfg.Parallelism > 0 {
		sem = make(chan struct{}, cfg.Parallelism)
	}

	return &Monitor{
		prober:  prober,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		sem:     sem,
		logger:  logger.With("component", "monitor"),
		now:     time.Now,
	}
}

// Run sweeps immediately and then every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("job monitor started", "interval", m.cfg.Interval, "parallelism", m.cfg.Parallelism)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("job sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("job monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick checks every active job once and waits for all checks to finish.
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.MonitorTickDuration.Observe(time.Since(start).Seconds())
	}()

	recs, err := m.store.List(ctx, &jobstore.ListOptions{ActiveOnly: true})
	if err != nil {
		return err
	}
	metrics.JobsActive.Set(float64(len(recs)))

	var wg sync.WaitGroup
	for _, rec := range recs {
		if rec.Phase == types.JobPhaseNotSubmitted {
			continue
		}

		if m.sem != nil {
			select {
			case m.sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			}
		}

		wg.Add(1)
		go func(rec *types.JobRecord) {
			defer wg.Done()
			if m.sem != nil {
				defer func() { <-m.sem }()
			}
			m.check(ctx, rec)
		}(rec)
	}
	wg.Wait()
	return nil
}

// check polls one job and records what it finds.
func (m *Monitor) check(ctx context.Context, rec *types.JobRecord) {
	logger := m.logger.With("job", rec.Name)

	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	failed, err := m.prober.IsFailed(ctx, rec.Name)
	if k8s.IsNotFound(err) {
		m.update(ctx, logger, rec, types.JobPhaseDeleted, VanishedMessage)
		return
	}
	if err != nil {
		logger.Warn("job status check failed", "error", err)
		return
	}
	if failed {
		m.finish(ctx, logger, rec, types.JobPhaseFailed)
		return
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	done, err := m.prober.IsDone(ctx, rec.Name)
	if err != nil {
		logger.Warn("job status check failed", "error", err)
		return
	}
	if done {
		m.finish(ctx, logger, rec, types.JobPhaseComplete)
		return
	}

	if rec.Phase == types.JobPhaseSubmitted {
		m.update(ctx, logger, rec, types.JobPhaseRunning, "")
	}
}

// finish records a terminal phase together with the job's log.
func (m *Monitor) finish(ctx context.Context, logger *slog.Logger, rec *types.JobRecord, phase types.JobPhase) {
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	msg := m.prober.ErrorMessage(ctx, rec.Name)
	if !m.update(ctx, logger, rec, phase, msg) {
		return
	}
	metrics.JobsFinished.WithLabelValues(string(phase)).Inc()
	metrics.JobDuration.WithLabelValues(string(phase)).Observe(m.now().Sub(rec.CreatedAt).Seconds())
}

func (m *Monitor) update(ctx context.Context, logger *slog.Logger, rec *types.JobRecord, phase types.JobPhase, msg string) bool {
	_, err := m.store.UpdatePhase(ctx, rec.Name, phase, msg)
	switch {
	case err == nil:
		logger.Info("job phase changed", "from", rec.Phase, "to", phase)
		return true
	case errors.Is(err, jobstore.ErrPhaseFinal), errors.Is(err, jobstore.ErrJobNotFound):
		// Cancelled or expired while the check was in flight.
		logger.Debug("job phase not updated", "phase", phase, "error", err)
	default:
		logger.Error("record job phase failed", "phase", phase, "error", err)
	}
	return false
}
