// Package main is the entry point for the dispatcher service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cropsinsilico/cis-dispatcher/internal/api"
	"github.com/cropsinsilico/cis-dispatcher/internal/auth"
	"github.com/cropsinsilico/cis-dispatcher/internal/catalog"
	"github.com/cropsinsilico/cis-dispatcher/internal/config"
	"github.com/cropsinsilico/cis-dispatcher/internal/driver"
	"github.com/cropsinsilico/cis-dispatcher/internal/graphstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/jobstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/k8s"
	"github.com/cropsinsilico/cis-dispatcher/internal/monitor"
	"github.com/cropsinsilico/cis-dispatcher/internal/specstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/tracing"
	"github.com/cropsinsilico/cis-dispatcher/internal/validator"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting dispatcher",
		slog.String("version", version),
		slog.String("port", cfg.Port),
		slog.String("run_level", cfg.RunLevel),
		slog.String("namespace", cfg.K8sNamespace),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tp, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "cis-dispatcher",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		Enabled:        cfg.OTELEnabled,
		SampleRate:     cfg.OTELSampleRate,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	// Cluster connection
	client, err := k8s.NewClient(&k8s.Config{
		Host:       cfg.ClusterHost(),
		TokenFile:  cfg.TokenFile,
		CAFile:     cfg.K8sCAFile,
		Insecure:   cfg.K8sInsecureTLS,
		Kubeconfig: cfg.K8sKubeconfig,
		Namespace:  cfg.K8sNamespace,
	})
	if err != nil {
		logger.Error("failed to create cluster client", "error", err)
		os.Exit(1)
	}
	if cfg.WatchTokenFile && cfg.ClusterHost() != "" {
		if err := k8s.WatchToken(ctx, client, logger); err != nil {
			logger.Warn("token file watch disabled", "error", err)
		}
	}

	manager := k8s.NewManager(client, &k8s.ManagerConfig{
		Retry: k8s.RetryPolicy{
			Attempts: cfg.ClusterRetryAttempts,
			Delay:    cfg.ClusterRetryDelay,
		},
		DrainAttempts: cfg.PodDrainAttempts,
		DrainInterval: cfg.PodDrainInterval,
	}, logger)

	builder, err := newJobBuilder(cfg)
	if err != nil {
		logger.Error("invalid job configuration", "error", err)
		os.Exit(1)
	}

	// Stores
	graphs, specs, err := openDocumentStores(cfg)
	if err != nil {
		logger.Error("failed to open document stores", "error", err)
		os.Exit(1)
	}
	defer graphs.Close()
	defer specs.Close()

	jobs, err := openJobStore(cfg)
	if err != nil {
		logger.Error("failed to open job store", "error", err)
		os.Exit(1)
	}
	defer jobs.Close()

	logger.Info("stores ready",
		slog.String("documents", cfg.StoreType),
		slog.String("jobs", cfg.JobStoreType),
	)

	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		os.Exit(1)
	}

	// Driver and job monitor
	k8sDriver := driver.NewK8sDriver(manager, builder, specs, jobs, v, &driver.K8sDriverConfig{
		Image:           cfg.JobImage,
		CommandTemplate: cfg.JobCommand,
		ModelFile:       cfg.JobModelFile,
		MountPath:       builder.Config().UserMountPath,
		NumCPUs:         cfg.JobNumCPUs,
		MaxRAMMB:        cfg.JobMaxRAMMB,
		Timeout:         cfg.JobTimeout,
	}, logger)

	mon := monitor.New(manager, jobs, &monitor.Config{
		Interval:    cfg.MonitorInterval,
		Parallelism: cfg.MonitorParallelism,
		RPS:         cfg.MonitorRPS,
		Burst:       cfg.MonitorParallelism,
	}, logger)
	go mon.Run(ctx)

	// Catalog ingest
	var syncer *catalog.Syncer
	source, err := newCatalogSource(ctx, cfg)
	if err != nil {
		logger.Error("failed to configure catalog source", "error", err)
		os.Exit(1)
	}
	if source != nil {
		syncer = catalog.NewSyncer(source, specs, v, logger)
		if cfg.CatalogSyncOnBoot {
			if report, err := syncer.Sync(ctx); err != nil {
				logger.Warn("initial catalog sync failed", "error", err)
			} else {
				logger.Info("catalog synced",
					slog.Int("created", len(report.Created)),
					slog.Int("updated", len(report.Updated)),
					slog.Int("removed", len(report.Removed)),
				)
			}
		}
	}

	// Authentication
	var verifier auth.Verifier
	if cfg.OIDCEnabled {
		provider, err := auth.NewProvider(ctx, &auth.Config{
			Issuer:   cfg.OIDCIssuer,
			ClientID: cfg.OIDCClientID,
			Audience: cfg.OIDCAudience,
		})
		if err != nil {
			logger.Error("failed to initialize OIDC provider", "error", err)
			os.Exit(1)
		}
		verifier = provider
		logger.Info("OIDC authentication enabled", slog.String("issuer", cfg.OIDCIssuer))
	} else {
		logger.Warn("OIDC disabled, trusting identity headers")
	}
	authMW := auth.NewMiddleware(verifier, &auth.MiddlewareConfig{
		Enabled:   cfg.OIDCEnabled,
		AdminRole: cfg.OIDCAdminRole,
	}, logger)

	var limiter *auth.PerIPRateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = auth.NewPerIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	// HTTP API
	handlers := api.NewHandlers(&api.Dependencies{
		Graphs:    graphs,
		Specs:     specs,
		Jobs:      jobs,
		Driver:    k8sDriver,
		Validator: v,
		Syncer:    syncer,
	}, cfg, logger)
	server := api.NewServer(handlers, authMW, limiter)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

func newJobBuilder(cfg *config.Config) (*k8s.JobBuilder, error) {
	jobCfg := k8s.DefaultJobConfig()
	jobCfg.Namespace = cfg.K8sNamespace
	jobCfg.RunLevel = cfg.RunLevel
	jobCfg.NodeLabelName = cfg.NodeLabelName
	jobCfg.NodeLabelValue = cfg.NodeLabelValue
	jobCfg.InitImage = cfg.InitImage
	jobCfg.ServiceAccountName = cfg.ServiceAccountName
	jobCfg.ImagePullSecrets = cfg.ImagePullSecrets
	if cfg.JobTTLAfterFinish > 0 {
		ttl := int32(cfg.JobTTLAfterFinish)
		jobCfg.TTLSecondsAfterFinished = &ttl
	}
	for _, spec := range cfg.HostVolumes {
		hv, err := k8s.ParseHostVolume(spec)
		if err != nil {
			return nil, err
		}
		jobCfg.HostVolumes = append(jobCfg.HostVolumes, hv)
	}
	return k8s.NewJobBuilder(jobCfg), nil
}

func openDocumentStores(cfg *config.Config) (graphstore.Store, specstore.Store, error) {
	if cfg.StoreType != "redis" {
		return graphstore.NewMemoryStore(), specstore.NewMemoryStore(), nil
	}
	graphs, err := graphstore.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("graph store: %w", err)
	}
	specs, err := specstore.NewRedisStore(cfg.RedisURL)
	if err != nil {
		graphs.Close()
		return nil, nil, fmt.Errorf("spec store: %w", err)
	}
	return graphs, specs, nil
}

func openJobStore(cfg *config.Config) (jobstore.Store, error) {
	var store jobstore.Store
	switch cfg.JobStoreType {
	case "redis":
		redisCfg := jobstore.DefaultRedisConfig()
		redisCfg.URL = cfg.RedisURL
		redisCfg.TTL = cfg.JobStoreTTL
		rs, err := jobstore.NewRedisStore(redisCfg)
		if err != nil {
			return nil, err
		}
		store = rs
	case "sqlite":
		ss, err := jobstore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = ss
	default:
		store = jobstore.NewMemoryStore()
	}
	return jobstore.Instrument(cfg.JobStoreType, store), nil
}

// newCatalogSource returns nil when no catalog location is configured.
func newCatalogSource(ctx context.Context, cfg *config.Config) (catalog.Source, error) {
	switch {
	case cfg.CatalogDir != "":
		return catalog.NewDirSource(cfg.CatalogDir), nil
	case cfg.CatalogS3Bucket != "":
		return catalog.NewS3Source(ctx, &catalog.S3Config{
			Endpoint:        cfg.CatalogS3Endpoint,
			Bucket:          cfg.CatalogS3Bucket,
			Region:          cfg.CatalogS3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
			UseSSL:          cfg.CatalogS3UseSSL,
			Prefix:          cfg.CatalogS3Prefix,
		})
	default:
		return nil, nil
	}
}
