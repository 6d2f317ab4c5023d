// Package config provides configuration loading for the dispatcher service.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the dispatcher service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Document stores
	StoreType string // "memory" or "redis"
	RedisURL  string

	// Job store
	JobStoreType string // "memory", "redis" or "sqlite"
	JobStoreTTL  time.Duration
	SQLitePath   string

	// OIDC configuration
	OIDCIssuer    string
	OIDCClientID  string
	OIDCAudience  string
	OIDCEnabled   bool
	OIDCAdminRole string

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Cluster connection
	RunLevel             string
	TokenFile            string
	KubernetesHost       string
	KubernetesPort       string
	K8sNamespace         string
	K8sInsecureTLS       bool
	K8sCAFile            string
	K8sKubeconfig        string
	WatchTokenFile       bool
	ClusterRetryAttempts int
	ClusterRetryDelay    time.Duration
	PodDrainAttempts     int
	PodDrainInterval     time.Duration

	// Job description
	NodeLabelName      string
	NodeLabelValue     string
	InitImage          string
	HostVolumes        []string // name:hostPath:mountPath
	ServiceAccountName string
	ImagePullSecrets   []string
	JobTTLAfterFinish  int // seconds, 0 keeps finished jobs

	// Dispatch defaults
	JobImage   string
	JobCommand string
	// JobImageAllowlist holds images non-admins may pick instead of JobImage.
	JobImageAllowlist []string
	JobModelFile      string
	JobNumCPUs        int
	JobMaxRAMMB       int
	JobTimeout        time.Duration

	// Catalog ingest
	CatalogDir        string
	CatalogS3Bucket   string
	CatalogS3Prefix   string
	CatalogS3Endpoint string
	CatalogS3Region   string
	CatalogS3UseSSL   bool
	AWSAccessKeyID    string
	AWSSecretKey      string
	CatalogSyncOnBoot bool

	// Job monitor
	MonitorInterval    time.Duration
	MonitorParallelism int
	MonitorRPS         float64

	// Tracing
	OTELEnabled    bool
	OTELEndpoint   string
	OTELInsecure   bool
	OTELSampleRate float64

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7070"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 60*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Stores
		StoreType:    getEnv("STORE_TYPE", "memory"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JobStoreType: getEnv("JOBSTORE_TYPE", "memory"),
		JobStoreTTL:  getDuration("JOBSTORE_TTL", 30*24*time.Hour),
		SQLitePath:   getEnv("SQLITE_PATH", "cis-jobs.db"),

		// OIDC
		OIDCIssuer:    getEnv("OIDC_ISSUER", ""),
		OIDCClientID:  getEnv("OIDC_CLIENT_ID", ""),
		OIDCAudience:  getEnv("OIDC_AUDIENCE", ""),
		OIDCEnabled:   getBool("OIDC_ENABLED", false),
		OIDCAdminRole: getEnv("OIDC_ADMIN_ROLE", "admin"),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:8080", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 50.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 100),

		// Cluster
		RunLevel:             getEnv("RUNLEVEL", "development"),
		TokenFile:            getEnv("TOKEN_FILE_PATH", "/var/run/secrets/kubernetes.io/serviceaccount/token"),
		KubernetesHost:       getEnv("KUBERNETES_SERVICE_HOST", "10.0.0.1"),
		KubernetesPort:       getEnv("KUBERNETES_SERVICE_PORT", "443"),
		K8sNamespace:         getEnv("K8S_NAMESPACE", "default"),
		K8sInsecureTLS:       getBool("K8S_INSECURE_TLS", true),
		K8sCAFile:            getEnv("K8S_CA_FILE", ""),
		K8sKubeconfig:        getEnv("KUBECONFIG", ""),
		WatchTokenFile:       getBool("WATCH_TOKEN_FILE", true),
		ClusterRetryAttempts: getInt("CLUSTER_RETRY_ATTEMPTS", 3),
		ClusterRetryDelay:    getDuration("CLUSTER_RETRY_DELAY", time.Second),
		PodDrainAttempts:     getInt("POD_DRAIN_ATTEMPTS", 60),
		PodDrainInterval:     getDuration("POD_DRAIN_INTERVAL", time.Second),

		// Job description
		NodeLabelName:      getEnv("NODE_LABEL_NAME", ""),
		NodeLabelValue:     getEnv("NODE_LABEL_VALUE", ""),
		InitImage:          getEnv("JOB_INIT_IMAGE", "alpine"),
		HostVolumes:        getStringSlice("JOB_HOST_VOLUMES", nil),
		ServiceAccountName: getEnv("JOB_SERVICE_ACCOUNT", ""),
		ImagePullSecrets:   getStringSlice("JOB_IMAGE_PULL_SECRETS", nil),
		JobTTLAfterFinish:  getInt("JOB_TTL_AFTER_FINISHED", 0),

		// Dispatch
		JobImage:          getEnv("JOB_IMAGE", "cropsinsilico/jupyterlab:latest"),
		JobImageAllowlist: getStringSlice("JOB_IMAGE_ALLOWLIST", nil),
		JobCommand:        getEnv("JOB_COMMAND", "cisrun {model}"),
		JobModelFile:      getEnv("JOB_MODEL_FILE", "model.yml"),
		JobNumCPUs:        getInt("JOB_NUM_CPUS", 1),
		JobMaxRAMMB:       getInt("JOB_MAX_RAM_MB", 1024),
		JobTimeout:        getDuration("JOB_TIMEOUT", time.Hour),

		// Catalog
		CatalogDir:        getEnv("CATALOG_DIR", ""),
		CatalogS3Bucket:   getEnv("CATALOG_S3_BUCKET", ""),
		CatalogS3Prefix:   getEnv("CATALOG_S3_PREFIX", "cis-specs"),
		CatalogS3Endpoint: getEnv("CATALOG_S3_ENDPOINT", ""),
		CatalogS3Region:   getEnv("CATALOG_S3_REGION", ""),
		CatalogS3UseSSL:   getBool("CATALOG_S3_USE_SSL", false),
		AWSAccessKeyID:    getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		CatalogSyncOnBoot: getBool("CATALOG_SYNC_ON_BOOT", false),

		// Monitor
		MonitorInterval:    getDuration("MONITOR_INTERVAL", 10*time.Second),
		MonitorParallelism: getInt("MONITOR_PARALLELISM", 4),
		MonitorRPS:         getFloat("MONITOR_RPS", 10),

		// Tracing
		OTELEnabled:    getBool("OTEL_ENABLED", false),
		OTELEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELInsecure:   getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELSampleRate: getFloat("OTEL_SAMPLE_RATE", 1.0),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.RunLevel {
	case "development", "production":
	default:
		return fmt.Errorf("RUNLEVEL must be development or production, got %q", c.RunLevel)
	}
	switch c.StoreType {
	case "memory", "redis":
	default:
		return fmt.Errorf("STORE_TYPE must be memory or redis, got %q", c.StoreType)
	}
	switch c.JobStoreType {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("JOBSTORE_TYPE must be memory, redis or sqlite, got %q", c.JobStoreType)
	}
	if c.OIDCEnabled && (c.OIDCIssuer == "" || c.OIDCClientID == "") {
		return fmt.Errorf("OIDC_ENABLED requires OIDC_ISSUER and OIDC_CLIENT_ID")
	}
	if c.CatalogDir != "" && c.CatalogS3Bucket != "" {
		return fmt.Errorf("set only one of CATALOG_DIR and CATALOG_S3_BUCKET")
	}
	return nil
}

// ClusterHost returns the API server URL. It is empty when a kubeconfig is
// configured, which selects kubeconfig credentials instead of the token file.
func (c *Config) ClusterHost() string {
	if c.K8sKubeconfig != "" || c.KubernetesHost == "" {
		return ""
	}
	return "https://" + net.JoinHostPort(c.KubernetesHost, c.KubernetesPort)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
