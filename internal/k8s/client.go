// Package k8s provides the Kubernetes integration used to run translated
// graphs as batch Jobs: client construction, job descriptions, and the job
// lifecycle manager.
package k8s

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// DefaultTokenFile is the service account token mounted into every pod.
const DefaultTokenFile = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// Client wraps a Kubernetes clientset scoped to one namespace. The clientset
// can be swapped by Reload when the bearer token rotates.
type Client struct {
	mu        sync.RWMutex
	clientset kubernetes.Interface
	token     string

	cfg       *Config
	namespace string
}

// Config holds K8s client configuration.
type Config struct {
	// Host is the API server URL, e.g. https://10.0.0.1:443. When empty the
	// client uses Kubeconfig, or in-cluster config when that is empty too.
	Host string

	// TokenFile holds the bearer token sent with every request when Host is set.
	TokenFile string

	// CAFile verifies the API server certificate. Ignored when Insecure is set.
	CAFile string

	// Insecure skips TLS verification of the API server.
	Insecure bool

	// Kubeconfig path, used when Host is empty.
	Kubeconfig string

	// Namespace for dispatched jobs.
	Namespace string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TokenFile: DefaultTokenFile,
		Namespace: "default",
	}
}

// NewClient creates a new K8s client. The token file is read once here and
// again only on Reload.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Client{
		cfg:       cfg,
		namespace: cfg.Namespace,
	}
	if c.namespace == "" {
		c.namespace = "default"
	}

	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClientWithInterface wraps an existing clientset, typically a fake one.
// Reload is not available on such a client.
func NewClientWithInterface(cs kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = "default"
	}
	return &Client{clientset: cs, namespace: namespace}
}

// Reload re-reads the credential and rebuilds the clientset. Requests that
// already hold the old clientset finish with it.
func (c *Client) Reload() error {
	if c.cfg == nil {
		return errors.New("client was not built from a config")
	}

	restConfig, token, err := restConfigFor(c.cfg)
	if err != nil {
		return err
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("create clientset: %w", err)
	}

	c.mu.Lock()
	c.clientset = clientset
	c.token = token
	c.mu.Unlock()
	return nil
}

func restConfigFor(cfg *Config) (*rest.Config, string, error) {
	if cfg.Host == "" {
		if cfg.Kubeconfig != "" {
			rc, err := clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
			if err != nil {
				return nil, "", fmt.Errorf("kubeconfig: %w", err)
			}
			return rc, "", nil
		}
		rc, err := rest.InClusterConfig()
		if err != nil {
			return nil, "", fmt.Errorf("in-cluster config: %w", err)
		}
		return rc, "", nil
	}

	tokenFile := cfg.TokenFile
	if tokenFile == "" {
		tokenFile = DefaultTokenFile
	}
	token, err := readToken(tokenFile)
	if err != nil {
		return nil, "", err
	}

	rc := &rest.Config{
		Host:          cfg.Host,
		BearerToken:   token,
		ContentConfig: rest.ContentConfig{ContentType: "application/json"},
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: cfg.Insecure,
		},
	}
	if !cfg.Insecure {
		rc.TLSClientConfig.CAFile = cfg.CAFile
	}
	return rc, token, nil
}

func readToken(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

func (c *Client) cs() kubernetes.Interface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientset
}

// TokenFile returns the credential path watched for rotation, or "" when
// the client does not use a token file.
func (c *Client) TokenFile() string {
	if c.cfg == nil || c.cfg.Host == "" {
		return ""
	}
	if c.cfg.TokenFile == "" {
		return DefaultTokenFile
	}
	return c.cfg.TokenFile
}

// Namespace returns the configured namespace.
func (c *Client) Namespace() string {
	return c.namespace
}

// CreateJob creates a new Job in the configured namespace.
func (c *Client) CreateJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	return c.cs().BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
}

// GetJob retrieves a Job by name.
func (c *Client) GetJob(ctx context.Context, name string) (*batchv1.Job, error) {
	return c.cs().BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
}

// UpdateJob replaces a Job with the given object.
func (c *Client) UpdateJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	return c.cs().BatchV1().Jobs(c.namespace).Update(ctx, job, metav1.UpdateOptions{})
}

// DeleteJob deletes a Job by name.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationBackground
	return c.cs().BatchV1().Jobs(c.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
}

// ListJobs lists Jobs with the given label selector.
func (c *Client) ListJobs(ctx context.Context, labelSelector string) (*batchv1.JobList, error) {
	return c.cs().BatchV1().Jobs(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
}

// ListPods lists pods with the given label selector.
func (c *Client) ListPods(ctx context.Context, labelSelector string) (*corev1.PodList, error) {
	return c.cs().CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
}

// DeletePod deletes a pod by name.
func (c *Client) DeletePod(ctx context.Context, name string) error {
	return c.cs().CoreV1().Pods(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

// GetPodLogs retrieves logs from a pod.
func (c *Client) GetPodLogs(ctx context.Context, podName string, opts *corev1.PodLogOptions) (string, error) {
	req := c.cs().CoreV1().Pods(c.namespace).GetLogs(podName, opts)
	result, err := req.DoRaw(ctx)
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// HealthCheck verifies connectivity to the K8s API.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.cs().Discovery().ServerVersion()
	return err
}
