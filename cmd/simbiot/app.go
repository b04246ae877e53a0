package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LukaK/simbiot/internal/api"
	"github.com/LukaK/simbiot/internal/clients"
	"github.com/LukaK/simbiot/internal/codec"
	"github.com/LukaK/simbiot/internal/config"
	"github.com/LukaK/simbiot/internal/hosting"
	"github.com/LukaK/simbiot/internal/role"
	"github.com/LukaK/simbiot/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	orchestrator *hosting.Orchestrator
	defaults     api.Defaults
	router       *api.Router
	closers      []func()
}

// registryBackend is a deployment registry that can also be health-checked.
type registryBackend interface {
	hosting.Registry
	hosting.Prober
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Loads the shared AWS configuration
//  3. Creates one circuit breaker per client
//  4. Creates the AWS clients, the registry and the event publisher
//  5. Creates the role provisioner and the orchestrator
//  6. Creates the HTTP router
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	// A missing collector must never block startup. With no endpoint
	// configured telemetry stays off.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Debug("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPInsecure)
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "error", err)
		} else {
			app.otelProvider = tp
			slog.SetDefault(slog.New(telemetry.NewTeeHandler(slog.Default().Handler(), tp.LogHandler)))
		}
	}
	logger := slog.Default()

	roleCfg, err := role.NewRoleConfig(cfg.Role.Name, role.WithPolicyARN(cfg.Role.PolicyARN))
	if err != nil {
		return nil, fmt.Errorf("role config: %w", err)
	}
	defaults, err := deployDefaults(cfg)
	if err != nil {
		return nil, err
	}
	app.defaults = defaults
	cdc, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	awsCfg, err := clients.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	// One circuit breaker per client so each dependency trips independently.
	iam := clients.NewIAMClient(awsCfg, clients.NewCircuitBreaker("iam"), roleCfg.Name())
	sm := clients.NewSageMakerClient(awsCfg, clients.NewCircuitBreaker("sagemaker"), cfg.Deployment.Timeout)
	runtime := clients.NewRuntimeClient(awsCfg, clients.NewCircuitBreaker("sagemaker-runtime"))
	store := clients.NewS3Store(awsCfg, clients.NewCircuitBreaker("s3"), cfg.Model.Bucket)

	registry, err := app.newRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}

	probes := map[string]hosting.Prober{
		"iam":       iam,
		"sagemaker": sm,
		"s3":        store,
		"registry":  registry,
	}

	var events hosting.EventPublisher = hosting.NopPublisher{}
	if cfg.Events.Enabled {
		nats := clients.NewNATSPublisher(cfg.Events, clients.NewCircuitBreaker("nats"))
		app.closers = append(app.closers, nats.Close)
		events = nats
		probes["events"] = nats
	}

	provisioner := role.NewProvisioner(iam, logger, role.WithRetryPolicy(role.RetryPolicy{
		LookupAttempts:    cfg.Role.LookupAttempts,
		LookupDelay:       cfg.Role.LookupDelay,
		ReadyInitialDelay: cfg.Role.ReadyInitialDelay,
		ReadyMaxDelay:     cfg.Role.ReadyMaxDelay,
		ReadyTimeout:      cfg.Role.ReadyTimeout,
	}))

	app.orchestrator = hosting.New(hosting.Deps{
		Roles:     provisioner,
		Artifacts: store,
		Trainer:   sm,
		Host:      sm,
		Invoker:   runtime,
		Registry:  registry,
		Events:    events,
		Codec:     cdc,
		Probes:    probes,
		Logger:    logger,
	}, hosting.Settings{
		Role:   roleCfg,
		Region: awsCfg.Region,
		Bucket: cfg.Model.Bucket,
		Prefix: cfg.Model.Prefix,
	})
	app.router = api.NewRouter(app.orchestrator, defaults, logger)

	return app, nil
}

func (a *AppContext) newRegistry(cfg config.RegistryConfig) (registryBackend, error) {
	switch cfg.Driver {
	case "", "memory":
		return hosting.NewMemoryRegistry(), nil
	case "redis":
		r := clients.NewRedisRegistry(cfg.Redis, clients.NewCircuitBreaker("registry-redis"))
		a.closers = append(a.closers, func() { _ = r.Close() })
		return r, nil
	case "postgres":
		r := clients.NewPostgresRegistry(cfg.Postgres, clients.NewCircuitBreaker("registry-postgres"))
		a.closers = append(a.closers, r.Close)
		return r, nil
	default:
		return nil, fmt.Errorf("unknown registry driver %q", cfg.Driver)
	}
}

// deployDefaults translates the model and deployment sections of cfg.
func deployDefaults(cfg *config.Config) (api.Defaults, error) {
	kind, err := hosting.ParseKind(cfg.Model.Kind)
	if err != nil {
		return api.Defaults{}, fmt.Errorf("model.kind: %w", err)
	}
	return api.Defaults{
		Model: hosting.ModelSpec{
			Kind:             kind,
			Name:             cfg.Model.Name,
			EntryPoint:       cfg.Model.EntryPoint,
			SourceDir:        cfg.Model.SourceDir,
			InstanceType:     cfg.Model.InstanceType,
			PyVersion:        cfg.Model.PyVersion,
			FrameworkVersion: cfg.Model.FrameworkVersion,
			ImageURI:         cfg.Model.ImageURI,
			ModelData:        cfg.Model.ModelData,
		},
		Deployment: hosting.DeploymentConfig{
			MemoryMB:       cfg.Deployment.MemoryMB,
			MaxConcurrency: cfg.Deployment.MaxConcurrency,
		},
		DeployTimeout: cfg.Deployment.Timeout,
	}, nil
}

// Close releases registry and broker connections and flushes telemetry.
func (a *AppContext) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if err := a.otelProvider.Shutdown(ctx); err != nil {
		slog.Warn("OTEL shutdown error", "error", err)
	}
}
