package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	clientretry "k8s.io/client-go/util/retry"

	"github.com/cropsinsilico/cis-dispatcher/internal/metrics"
	"github.com/cropsinsilico/cis-dispatcher/internal/tracing"
)

// PendingLogsMessage is returned by ErrorMessage while the job has no pod.
const PendingLogsMessage = "Please wait, fetching logs..."

// Label keys the job controller puts on the pods it creates. Older clusters
// only set the first, newer ones set both.
var controllerUIDLabels = []string{"controller-uid", "batch.kubernetes.io/controller-uid"}

// ManagerConfig holds retry and teardown settings.
type ManagerConfig struct {
	// Retry applies to every control-plane call
	Retry RetryPolicy

	// DrainAttempts bounds the pod listing rounds in Delete
	DrainAttempts int

	// DrainInterval is the pause after each pod deletion
	DrainInterval time.Duration
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Retry:         DefaultRetryPolicy(),
		DrainAttempts: 60,
		DrainInterval: time.Second,
	}
}

// Manager drives the lifecycle of dispatched jobs. Its methods are blocking
// polling primitives; callers own the loop that invokes them.
type Manager struct {
	client *Client
	cfg    *ManagerConfig
	logger *slog.Logger
}

// NewManager creates a new job lifecycle manager.
func NewManager(client *Client, cfg *ManagerConfig, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultManagerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "k8s-manager"),
	}
}

// Client returns the underlying client.
func (m *Manager) Client() *Client {
	return m.client
}

// Namespace returns the namespace jobs are created in.
func (m *Manager) Namespace() string {
	return m.client.Namespace()
}

func (m *Manager) startSpan(ctx context.Context, op, job string) (context.Context, trace.Span) {
	return tracing.Tracer().Start(ctx, "k8s."+op, trace.WithAttributes(
		tracing.JobKey.String(job),
		tracing.NamespaceKey.String(m.client.Namespace()),
	))
}

func (m *Manager) getJob(ctx context.Context, name string) (*batchv1.Job, error) {
	return Retry(ctx, m.cfg.Retry, m.logger.With("job", name), "get_job", func(ctx context.Context) (*batchv1.Job, error) {
		return m.client.GetJob(ctx, name)
	})
}

// IsRunning reports whether the job object exists. A 404 is reported as
// false; any other failure is returned.
func (m *Manager) IsRunning(ctx context.Context, name string) (bool, error) {
	_, err := m.getJob(ctx, name)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Submit creates job unless a job of the same name already exists.
func (m *Manager) Submit(ctx context.Context, job *batchv1.Job) (err error) {
	ctx, span := m.startSpan(ctx, "Submit", job.Name)
	defer func() { tracing.End(span, err) }()

	running, err := m.IsRunning(ctx, job.Name)
	if err != nil {
		metrics.JobsSubmitted.WithLabelValues("error").Inc()
		return fmt.Errorf("probe job %s: %w", job.Name, err)
	}
	if running {
		m.logger.Info("job already exists, skipping submit", "job", job.Name)
		metrics.JobsSubmitted.WithLabelValues("exists").Inc()
		return nil
	}

	_, err = Retry(ctx, m.cfg.Retry, m.logger.With("job", job.Name), "create_job", func(ctx context.Context) (*batchv1.Job, error) {
		return m.client.CreateJob(ctx, job)
	})
	if isAlreadyExists(err) {
		metrics.JobsSubmitted.WithLabelValues("exists").Inc()
		return nil
	}
	if err != nil {
		metrics.JobsSubmitted.WithLabelValues("error").Inc()
		return fmt.Errorf("create job %s: %w", job.Name, err)
	}

	metrics.JobsSubmitted.WithLabelValues("created").Inc()
	m.logger.Info("job submitted", "job", job.Name, "namespace", m.client.Namespace())
	return nil
}

// IsDone reports whether the job has a Complete condition with status True.
func (m *Manager) IsDone(ctx context.Context, name string) (bool, error) {
	job, err := m.getJob(ctx, name)
	if err != nil {
		return false, err
	}
	return hasCondition(job, batchv1.JobComplete), nil
}

// IsFailed reports whether the job has a Failed condition with status True.
func (m *Manager) IsFailed(ctx context.Context, name string) (bool, error) {
	job, err := m.getJob(ctx, name)
	if err != nil {
		return false, err
	}
	return hasCondition(job, batchv1.JobFailed), nil
}

// Status returns the job's current status summary.
func (m *Manager) Status(ctx context.Context, name string) (*JobStatus, error) {
	job, err := m.getJob(ctx, name)
	if err != nil {
		return nil, err
	}
	return GetJobStatus(job), nil
}

// Logs returns the log of the job's pod. With several pods (restarts under
// OnFailure) the most recently created one is read. LogsUnavailableError is
// returned while no pod has started.
func (m *Manager) Logs(ctx context.Context, name string) (logs string, err error) {
	ctx, span := m.startSpan(ctx, "Logs", name)
	defer func() { tracing.End(span, err) }()

	logger := m.logger.With("job", name)
	pods, err := Retry(ctx, m.cfg.Retry, logger, "list_pods", func(ctx context.Context) (*corev1.PodList, error) {
		return m.client.ListPods(ctx, "job-name="+name)
	})
	if err != nil {
		return "", fmt.Errorf("find pod for job %s: %w", name, err)
	}

	pod := latestPod(pods.Items)
	if pod == nil || pod.Status.Phase == corev1.PodPending {
		return "", &LogsUnavailableError{Job: name}
	}

	logs, err = Retry(ctx, m.cfg.Retry, logger, "get_pod_logs", func(ctx context.Context) (string, error) {
		return m.client.GetPodLogs(ctx, pod.Name, &corev1.PodLogOptions{Container: name})
	})
	if err != nil {
		return "", fmt.Errorf("read logs of pod %s: %w", pod.Name, err)
	}
	return logs, nil
}

// ErrorMessage returns the job's log for display: the log text, a
// placeholder while no pod exists, or an explanation when logs could not be
// read.
func (m *Manager) ErrorMessage(ctx context.Context, name string) string {
	logs, err := m.Logs(ctx, name)
	switch {
	case err == nil:
		return logs
	case IsLogsUnavailable(err):
		return PendingLogsMessage
	default:
		return "Error reading logs: " + err.Error()
	}
}

// latestPod returns the most recently created pod, ties broken by name.
func latestPod(pods []corev1.Pod) *corev1.Pod {
	var best *corev1.Pod
	for i := range pods {
		p := &pods[i]
		if best == nil {
			best = p
			continue
		}
		switch {
		case p.CreationTimestamp.After(best.CreationTimestamp.Time):
			best = p
		case p.CreationTimestamp.Equal(&best.CreationTimestamp) && p.Name > best.Name:
			best = p
		}
	}
	return best
}

// Delete tears the job down in order: fetch it, scale parallelism to zero,
// delete its pods one at a time until none remain, then delete the job.
// The control plane does not remove a job's pods on its own. A failing step
// stops the teardown and leaves the rest in place.
func (m *Manager) Delete(ctx context.Context, name string) (err error) {
	ctx, span := m.startSpan(ctx, "Delete", name)
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.JobsDeleted.WithLabelValues(result).Inc()
		tracing.End(span, err)
	}()

	logger := m.logger.With("job", name)

	job, err := m.getJob(ctx, name)
	if err != nil {
		return fmt.Errorf("get job %s: %w", name, err)
	}

	if err := m.scaleToZero(ctx, logger, job); err != nil {
		return fmt.Errorf("scale down job %s: %w", name, err)
	}
	logger.Debug("job parallelism set to zero")

	key, uid, err := controllerUID(job)
	if err != nil {
		return err
	}
	if err := m.drainPods(ctx, logger, key+"="+uid); err != nil {
		return fmt.Errorf("drain pods of job %s: %w", name, err)
	}

	if _, err := Retry(ctx, m.cfg.Retry, logger, "delete_job", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.client.DeleteJob(ctx, name)
	}); err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete job %s: %w", name, err)
	}

	logger.Info("job deleted")
	return nil
}

// scaleToZero sets the job's parallelism to zero. A 409 from a concurrent
// status write refetches the job and tries again.
func (m *Manager) scaleToZero(ctx context.Context, logger *slog.Logger, job *batchv1.Job) error {
	current := job
	return clientretry.RetryOnConflict(clientretry.DefaultRetry, func() error {
		if current == nil {
			fresh, err := m.getJob(ctx, job.Name)
			if err != nil {
				return err
			}
			current = fresh
		}
		zero := int32(0)
		current.Spec.Parallelism = &zero
		_, err := Retry(ctx, m.cfg.Retry, logger, "update_job", func(ctx context.Context) (*batchv1.Job, error) {
			return m.client.UpdateJob(ctx, current)
		})
		if err != nil {
			current = nil
		}
		return err
	})
}

// drainPods deletes pods matching selector one at a time, listing again
// after each delete, until none are left. DrainAttempts bounds the number of
// deletes.
func (m *Manager) drainPods(ctx context.Context, logger *slog.Logger, selector string) error {
	attempts := m.cfg.DrainAttempts
	if attempts < 1 {
		attempts = 1
	}

	for deleted := 0; ; deleted++ {
		pods, err := Retry(ctx, m.cfg.Retry, logger, "list_pods", func(ctx context.Context) (*corev1.PodList, error) {
			return m.client.ListPods(ctx, selector)
		})
		if err != nil {
			return err
		}
		if len(pods.Items) == 0 {
			logger.Debug("all pods removed", "deleted", deleted)
			return nil
		}
		if deleted == attempts {
			return fmt.Errorf("%w (%d)", ErrDrainIncomplete, attempts)
		}

		pod := pods.Items[0].Name
		logger.Debug("deleting orphaned pod", "pod", pod)
		_, err = Retry(ctx, m.cfg.Retry, logger, "delete_pod", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.client.DeletePod(ctx, pod)
		})
		if err != nil && !IsNotFound(err) {
			return err
		}
		metrics.PodsDrained.Inc()

		if m.cfg.DrainInterval > 0 {
			timer := time.NewTimer(m.cfg.DrainInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// controllerUID finds the label linking the job to its pods.
func controllerUID(job *batchv1.Job) (string, string, error) {
	sources := []map[string]string{job.Labels, job.Spec.Template.Labels}
	if job.Spec.Selector != nil {
		sources = append(sources, job.Spec.Selector.MatchLabels)
	}
	for _, key := range controllerUIDLabels {
		for _, labels := range sources {
			if v := labels[key]; v != "" {
				return key, v, nil
			}
		}
	}
	if job.UID != "" {
		return controllerUIDLabels[0], string(job.UID), nil
	}
	return "", "", fmt.Errorf("job %s has no controller-uid", job.Name)
}

// ListJobNames returns the names of all jobs in the namespace, sorted.
func (m *Manager) ListJobNames(ctx context.Context) ([]string, error) {
	list, err := Retry(ctx, m.cfg.Retry, m.logger, "list_jobs", func(ctx context.Context) (*batchv1.JobList, error) {
		return m.client.ListJobs(ctx, "")
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list.Items))
	for _, j := range list.Items {
		names = append(names, j.Name)
	}
	sort.Strings(names)
	return names, nil
}

// HealthCheck verifies connectivity to the control plane.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.client.HealthCheck(ctx)
}
