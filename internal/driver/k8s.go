package driver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cropsinsilico/cis-dispatcher/internal/jobstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/k8s"
	"github.com/cropsinsilico/cis-dispatcher/internal/metrics"
	"github.com/cropsinsilico/cis-dispatcher/internal/tracing"
	"github.com/cropsinsilico/cis-dispatcher/internal/translator"
	"github.com/cropsinsilico/cis-dispatcher/internal/validator"
	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// ErrRejected wraps every failure that stops a dispatch before the cluster
// is contacted: translation, validation and job description errors.
var ErrRejected = errors.New("dispatch rejected")

// ModelPlaceholder in the command template is replaced by the model file name.
const ModelPlaceholder = "{model}"

// K8sDriverConfig holds the defaults applied to every dispatch.
type K8sDriverConfig struct {
	// Image runs the translated model
	Image string

	// CommandTemplate is run with bash -c after placeholder substitution
	CommandTemplate string

	// ModelFile is the execution model's file name inside the job directory
	ModelFile string

	// MountPath must match the job builder's user mount path
	MountPath string

	NumCPUs  int
	MaxRAMMB int
	Timeout  time.Duration
}

// DefaultK8sDriverConfig returns sensible defaults.
func DefaultK8sDriverConfig() *K8sDriverConfig {
	return &K8sDriverConfig{
		Image:           "cropsinsilico/jupyterlab:latest",
		CommandTemplate: "cisrun " + ModelPlaceholder,
		ModelFile:       "model.yml",
		MountPath:       "/pvc",
		NumCPUs:         1,
		MaxRAMMB:        1024,
		Timeout:         time.Hour,
	}
}

// K8sDriver runs graphs as Kubernetes Jobs.
type K8sDriver struct {
	manager   *k8s.Manager
	builder   *k8s.JobBuilder
	lookup    translator.ComponentLookup
	store     jobstore.Store
	validator *validator.Validator
	cfg       *K8sDriverConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewK8sDriver creates a new K8s driver. The builder's namespace is forced to
// the manager's.
func NewK8sDriver(
	manager *k8s.Manager,
	builder *k8s.JobBuilder,
	lookup translator.ComponentLookup,
	store jobstore.Store,
	v *validator.Validator,
	cfg *K8sDriverConfig,
	logger *slog.Logger,
) *K8sDriver {
	if cfg == nil {
		cfg = DefaultK8sDriverConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	builder.Config().Namespace = manager.Namespace()

	return &K8sDriver{
		manager:   manager,
		builder:   builder,
		lookup:    lookup,
		store:     store,
		validator: v,
		cfg:       cfg,
		logger:    logger.With("component", "k8s-driver"),
		now:       time.Now,
	}
}

// Dispatch translates the graph, writes the execution model into the job's
// directory through the init step, submits the job and records it.
func (d *K8sDriver) Dispatch(ctx context.Context, req *DispatchRequest) (rec *types.JobRecord, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "driver.Dispatch", trace.WithAttributes(
		tracing.UserKey.String(req.Username),
		tracing.GraphKey.String(req.GraphID),
	))
	defer func() { tracing.End(span, err) }()

	if req.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrRejected)
	}

	model, err := translator.Translate(ctx, req.Graph, d.lookup)
	if err != nil {
		metrics.Translations.WithLabelValues(translationResult(err)).Inc()
		return nil, fmt.Errorf("%w: translate graph: %w", ErrRejected, err)
	}

	if d.validator != nil {
		if err := d.validator.ValidateModel(model).Err("execution model"); err != nil {
			metrics.Translations.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	metrics.Translations.WithLabelValues("success").Inc()

	encoded, err := translator.Encode(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	jobReq := d.jobRequest(req, encoded)
	job, err := d.builder.Build(jobReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	span.SetAttributes(tracing.JobKey.String(job.Name))

	rec = &types.JobRecord{
		Name:           jobReq.Name,
		Namespace:      d.manager.Namespace(),
		Username:       req.Username,
		GraphID:        req.GraphID,
		DockerImage:    jobReq.DockerImage,
		Command:        jobReq.Command,
		InitCommand:    jobReq.InitCommand,
		NumCPUs:        jobReq.NumCPUs,
		MaxRAMMB:       jobReq.MaxRAMMB,
		TimeoutSeconds: jobReq.TimeoutSeconds,
		Phase:          types.JobPhaseSubmitted,
	}

	logger := d.logger.With("job", rec.Name, "username", rec.Username)
	submitErr := d.manager.Submit(ctx, job)
	if submitErr != nil {
		rec.Phase = types.JobPhaseSubmitFailed
		rec.Message = submitErr.Error()
		logger.Error("job submit failed", "error", submitErr)
	}

	if err := d.store.Create(ctx, rec); err != nil {
		logger.Error("record job failed", "error", err)
		if submitErr != nil {
			return nil, submitErr
		}
		return nil, fmt.Errorf("record job %s: %w", rec.Name, err)
	}
	if submitErr != nil {
		return nil, submitErr
	}

	logger.Info("graph dispatched", "graph_id", rec.GraphID, "models", len(model.Models))
	return rec, nil
}

func translationResult(err error) string {
	var upe *translator.UnresolvedPortError
	switch {
	case errors.As(err, &upe):
		return "unresolved_port"
	case errors.Is(err, translator.ErrComponentNotFound):
		return "unknown_component"
	default:
		return "error"
	}
}

// jobRequest fills the job description from the request and the defaults.
func (d *K8sDriver) jobRequest(req *DispatchRequest, model []byte) *k8s.JobRequest {
	name := k8s.NewJobName(req.Username, d.now())

	image := req.DockerImage
	if image == "" {
		image = d.cfg.Image
	}
	cpus := req.NumCPUs
	if cpus == 0 {
		cpus = d.cfg.NumCPUs
	}
	ram := req.MaxRAMMB
	if ram == 0 {
		ram = d.cfg.MaxRAMMB
	}
	timeout := req.TimeoutSeconds
	if timeout == 0 {
		timeout = int64(d.cfg.Timeout / time.Second)
	}

	return &k8s.JobRequest{
		Name:           name,
		Username:       req.Username,
		GraphID:        req.GraphID,
		DockerImage:    image,
		Command:        strings.ReplaceAll(d.cfg.CommandTemplate, ModelPlaceholder, d.cfg.ModelFile),
		InitCommand:    d.initCommand(name, model),
		NumCPUs:        cpus,
		MaxRAMMB:       ram,
		TimeoutSeconds: timeout,
	}
}

// initCommand writes the encoded model into the job's directory on the
// user claim. The main container sees that directory as its working dir.
func (d *K8sDriver) initCommand(job string, model []byte) string {
	dir := path.Join(d.cfg.MountPath, job)
	file := path.Join(dir, d.cfg.ModelFile)
	payload := base64.StdEncoding.EncodeToString(model)
	return fmt.Sprintf("mkdir -p %s && echo '%s' | base64 -d > %s", dir, payload, file)
}

// Status returns the stored record plus the cluster view while the job
// object exists.
func (d *K8sDriver) Status(ctx context.Context, name string) (*JobStatus, error) {
	rec, err := d.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	out := &JobStatus{Record: rec}
	if rec.Phase == types.JobPhaseSubmitFailed || rec.Phase == types.JobPhaseDeleted {
		return out, nil
	}

	st, err := d.manager.Status(ctx, name)
	switch {
	case err == nil:
		out.Cluster = st
	case k8s.IsNotFound(err):
	default:
		d.logger.Warn("cluster status unavailable", "job", name, "error", err)
	}
	return out, nil
}

// Logs returns the job's log. Finished jobs whose pods are gone fall back to
// the message captured when the job finished.
func (d *K8sDriver) Logs(ctx context.Context, name string) (string, error) {
	rec, err := d.store.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if rec.Phase == types.JobPhaseSubmitFailed || rec.Phase == types.JobPhaseDeleted {
		return rec.Message, nil
	}

	logs, err := d.manager.Logs(ctx, name)
	switch {
	case err == nil:
		return logs, nil
	case rec.Phase.IsTerminal() && rec.Message != "":
		return rec.Message, nil
	case k8s.IsLogsUnavailable(err):
		return k8s.PendingLogsMessage, nil
	default:
		return "", err
	}
}

// Cancel deletes the job and its pods, then marks the record deleted. A job
// that is already gone from the cluster is still marked.
func (d *K8sDriver) Cancel(ctx context.Context, name string) (*types.JobRecord, error) {
	rec, err := d.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.Phase == types.JobPhaseDeleted {
		return rec, nil
	}

	if err := d.manager.Delete(ctx, name); err != nil && !k8s.IsNotFound(err) {
		return nil, fmt.Errorf("cancel job %s: %w", name, err)
	}

	rec, err = d.store.UpdatePhase(ctx, name, types.JobPhaseDeleted, "")
	if err != nil {
		return nil, err
	}
	d.logger.Info("job cancelled", "job", name)
	return rec, nil
}

// HealthCheck verifies K8s connectivity.
func (d *K8sDriver) HealthCheck(ctx context.Context) error {
	return d.manager.HealthCheck(ctx)
}

// Ensure K8sDriver implements Driver
var _ Driver = (*K8sDriver)(nil)
