package k8s

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
)

// Run levels select the volume and placement strategy.
const (
	RunLevelDevelopment = "development"
	RunLevelProduction  = "production"
)

// Labels set on every dispatched job and its pods.
const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelUsername  = "cis.io/username"
	LabelGraphID   = "cis.io/graph-id"
	ManagedByValue = "cis-dispatcher"
)

const (
	userVolumeName    = "userdata"
	initContainerName = "init-copy-source"
)

// HostVolume is an extra host directory mounted into the job container.
type HostVolume struct {
	Name      string
	HostPath  string
	MountPath string
}

// ParseHostVolume parses "name:hostPath:mountPath".
func ParseHostVolume(s string) (HostVolume, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return HostVolume{}, fmt.Errorf("host volume %q: expected name:hostPath:mountPath", s)
	}
	if errs := validation.IsDNS1123Label(parts[0]); len(errs) > 0 {
		return HostVolume{}, fmt.Errorf("host volume %q: %s", s, strings.Join(errs, "; "))
	}
	return HostVolume{Name: parts[0], HostPath: parts[1], MountPath: parts[2]}, nil
}

// JobConfig holds configuration for Job creation.
type JobConfig struct {
	// Namespace for the job
	Namespace string

	// RunLevel is "development" (host paths) or "production" (network claims
	// and node selector)
	RunLevel string

	// NodeLabelName/NodeLabelValue select nodes in production. An empty
	// value selects nodes labelled "true".
	NodeLabelName  string
	NodeLabelValue string

	// InitImage runs the init command
	InitImage string

	// UserMountPath is where the user's claim is mounted
	UserMountPath string

	// HostVolumes are mounted into the main container
	HostVolumes []HostVolume

	// ServiceAccountName for the pod
	ServiceAccountName string

	// ImagePullSecrets for private registries
	ImagePullSecrets []string

	// Fixed baseline requests
	RequestCPUMilli int64
	RequestMemoryMB int64

	// TTLSecondsAfterFinished for cleanup (nil keeps finished jobs)
	TTLSecondsAfterFinished *int32

	// BackoffLimit for pod retries (nil uses the cluster default)
	BackoffLimit *int32
}

// DefaultJobConfig returns sensible defaults.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Namespace:       "default",
		RunLevel:        RunLevelDevelopment,
		InitImage:       "alpine",
		UserMountPath:   "/pvc",
		RequestCPUMilli: 500,
		RequestMemoryMB: 512,
	}
}

// JobRequest describes one job to build.
type JobRequest struct {
	Name           string
	Username       string
	GraphID        string
	DockerImage    string
	Command        string
	InitCommand    string // optional
	NumCPUs        int
	MaxRAMMB       int
	TimeoutSeconds int64
}

// JobBuilder creates Kubernetes Jobs from JobRequests. It never talks to
// the cluster.
type JobBuilder struct {
	config *JobConfig
}

// NewJobBuilder creates a new JobBuilder.
func NewJobBuilder(cfg *JobConfig) *JobBuilder {
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	return &JobBuilder{config: cfg}
}

// Config returns the builder configuration.
func (b *JobBuilder) Config() *JobConfig {
	return b.config
}

// Build creates a batch Job for req. Requests above limits fail with
// InvalidResourceError before anything else is checked.
func (b *JobBuilder) Build(req *JobRequest) (*batchv1.Job, error) {
	limitCPU := 1000 * int64(req.NumCPUs)
	limitRAM := int64(req.MaxRAMMB)
	if b.config.RequestCPUMilli > limitCPU {
		return nil, &InvalidResourceError{
			Resource: "cpu",
			Request:  fmt.Sprintf("%dm", b.config.RequestCPUMilli),
			Limit:    fmt.Sprintf("%dm", limitCPU),
		}
	}
	if b.config.RequestMemoryMB > limitRAM {
		return nil, &InvalidResourceError{
			Resource: "memory",
			Request:  fmt.Sprintf("%dM", b.config.RequestMemoryMB),
			Limit:    fmt.Sprintf("%dM", limitRAM),
		}
	}

	if errs := validation.IsDNS1123Label(req.Name); len(errs) > 0 {
		return nil, fmt.Errorf("job name %q: %s", req.Name, strings.Join(errs, "; "))
	}
	if req.Username == "" {
		return nil, fmt.Errorf("job %s: username is required", req.Name)
	}
	claim := UserClaimName(req.Username)
	if errs := validation.IsDNS1123Subdomain(claim); len(errs) > 0 || claim == userClaimPrefix {
		return nil, fmt.Errorf("job %s: username %q gives no valid volume claim", req.Name, req.Username)
	}
	if req.Command == "" {
		return nil, fmt.Errorf("job %s: command is required", req.Name)
	}
	if _, err := name.ParseReference(req.DockerImage); err != nil {
		return nil, fmt.Errorf("job %s: invalid image %q: %w", req.Name, req.DockerImage, err)
	}

	labels := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelUsername:  sanitizeK8sLabel(req.Username),
	}
	if req.GraphID != "" {
		labels[LabelGraphID] = sanitizeK8sLabel(req.GraphID)
	}

	mountPath := b.config.UserMountPath
	if mountPath == "" {
		mountPath = "/pvc"
	}

	volumes := []corev1.Volume{{
		Name: userVolumeName,
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: claim,
			},
		},
	}}
	mounts := []corev1.VolumeMount{{
		Name:      userVolumeName,
		MountPath: mountPath,
		SubPath:   req.Name,
	}}
	for _, hv := range b.config.HostVolumes {
		volumes = append(volumes, corev1.Volume{
			Name: hv.Name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: hv.HostPath},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: hv.Name, MountPath: hv.MountPath})
	}

	container := corev1.Container{
		Name:            req.Name,
		Image:           req.DockerImage,
		ImagePullPolicy: corev1.PullAlways,
		WorkingDir:      mountPath,
		Command:         []string{"bash"},
		Args:            []string{"-c", req.Command},
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    *resource.NewMilliQuantity(limitCPU, resource.DecimalSI),
				corev1.ResourceMemory: *resource.NewScaledQuantity(limitRAM, resource.Mega),
			},
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    *resource.NewMilliQuantity(b.config.RequestCPUMilli, resource.DecimalSI),
				corev1.ResourceMemory: *resource.NewScaledQuantity(b.config.RequestMemoryMB, resource.Mega),
			},
		},
		VolumeMounts: mounts,
	}

	podSpec := corev1.PodSpec{
		Containers:         []corev1.Container{container},
		RestartPolicy:      corev1.RestartPolicyOnFailure,
		ServiceAccountName: b.config.ServiceAccountName,
		SecurityContext: &corev1.PodSecurityContext{
			RunAsUser: int64Ptr(1000),
			FSGroup:   int64Ptr(100),
		},
		Volumes: volumes,
	}

	if req.InitCommand != "" {
		initImage := b.config.InitImage
		if initImage == "" {
			initImage = "alpine"
		}
		podSpec.InitContainers = []corev1.Container{{
			Name:    initContainerName,
			Image:   initImage,
			Command: []string{"/bin/sh"},
			Args:    []string{"-c", req.InitCommand},
			VolumeMounts: []corev1.VolumeMount{{
				Name:      userVolumeName,
				MountPath: mountPath,
			}},
		}}
	}

	for _, secret := range b.config.ImagePullSecrets {
		podSpec.ImagePullSecrets = append(podSpec.ImagePullSecrets,
			corev1.LocalObjectReference{Name: secret})
	}

	if b.config.RunLevel == RunLevelProduction {
		applyProduction(&podSpec, b.config.NodeLabelName, b.config.NodeLabelValue)
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.Name,
			Namespace: b.config.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Name:   req.Name,
					Labels: labels,
				},
				Spec: podSpec,
			},
			BackoffLimit:            b.config.BackoffLimit,
			TTLSecondsAfterFinished: b.config.TTLSecondsAfterFinished,
		},
	}
	if req.TimeoutSeconds > 0 {
		deadline := req.TimeoutSeconds
		job.Spec.ActiveDeadlineSeconds = &deadline
	}

	return job, nil
}

// applyProduction swaps every volume for the network claim "nfs-<name>" and
// pins pods to the labelled node group.
func applyProduction(spec *corev1.PodSpec, labelName, labelValue string) {
	for i, vol := range spec.Volumes {
		spec.Volumes[i] = corev1.Volume{
			Name: vol.Name,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: "nfs-" + vol.Name,
				},
			},
		}
	}
	if labelName == "" {
		return
	}
	if labelValue == "" {
		labelValue = "true"
	}
	spec.NodeSelector = map[string]string{labelName: labelValue}
}

// JobStatus extracts status from a Job.
type JobStatus struct {
	Phase      string                 `json:"phase"`
	StartTime  *metav1.Time           `json:"start_time,omitempty"`
	EndTime    *metav1.Time           `json:"end_time,omitempty"`
	Succeeded  int32                  `json:"succeeded"`
	Failed     int32                  `json:"failed"`
	Active     int32                  `json:"active"`
	Conditions []batchv1.JobCondition `json:"conditions,omitempty"`
}

// GetJobStatus extracts status from a Job object.
func GetJobStatus(job *batchv1.Job) *JobStatus {
	status := &JobStatus{
		StartTime:  job.Status.StartTime,
		EndTime:    job.Status.CompletionTime,
		Succeeded:  job.Status.Succeeded,
		Failed:     job.Status.Failed,
		Active:     job.Status.Active,
		Conditions: job.Status.Conditions,
	}

	switch {
	case hasCondition(job, batchv1.JobComplete):
		status.Phase = "complete"
	case hasCondition(job, batchv1.JobFailed):
		status.Phase = "failed"
	case job.Status.Active > 0:
		status.Phase = "running"
	default:
		status.Phase = "pending"
	}
	return status
}

// hasCondition reports whether job carries condition t with status True.
// A job without conditions has not finished either way.
func hasCondition(job *batchv1.Job, t batchv1.JobConditionType) bool {
	for _, cond := range job.Status.Conditions {
		if cond.Type == t && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

const userClaimPrefix = "claim-"

// UserClaimName returns the persistent volume claim holding username's data,
// with the username reduced to the characters a claim name allows.
func UserClaimName(username string) string {
	return userClaimPrefix + sanitizeK8sName(username)
}

func sanitizeK8sName(name string) string {
	// K8s names must be lowercase, alphanumeric, -, and max 63 chars
	name = strings.ToLower(name)
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		} else if r == '_' || r == '.' || r == '@' {
			result.WriteRune('-')
		}
	}
	s := strings.Trim(result.String(), "-")
	if len(s) > 63 {
		s = strings.TrimRight(s[:63], "-")
	}
	return s
}

func sanitizeK8sLabel(value string) string {
	// Label values must be 63 chars or less, alphanumeric, -, _, .
	var result strings.Builder
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' {
			result.WriteRune(r)
		}
	}
	s := result.String()
	if len(s) > 63 {
		s = s[:63]
	}
	// Must start and end with an alphanumeric character
	return strings.Trim(s, "-_.")
}

func int64Ptr(i int64) *int64 {
	return &i
}
