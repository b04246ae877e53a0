package hosting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/LukaK/simbiot/internal/codec"
	"github.com/LukaK/simbiot/internal/role"
)

// ErrDeployInProgress is returned when Deploy is called for a name that is
// already being deployed by this process.
var ErrDeployInProgress = errors.New("deployment already in progress")

// ErrDeploymentExists is returned when Deploy is called for a name that
// already has a recorded endpoint. The old deployment must be torn down
// first so its endpoint is not orphaned.
var ErrDeploymentExists = errors.New("deployment already exists")

const tracerName = "simbiot"

// Deps are the collaborators of an Orchestrator. Events, Codec, Logger and
// Now are optional.
type Deps struct {
	Roles     RoleEnsurer
	Artifacts ArtifactStore
	Trainer   Trainer
	Host      Host
	Invoker   Invoker
	Registry  Registry
	Events    EventPublisher
	Codec     codec.Codec
	Probes    map[string]Prober
	Logger    *slog.Logger
	Now       func() time.Time
}

// Settings are the account-level inputs shared by every deployment.
type Settings struct {
	Role   role.RoleConfig
	Region string
	Bucket string
	Prefix string
}

// Orchestrator runs the model lifecycle: role, training or loading,
// deployment, prediction and teardown.
type Orchestrator struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger

	role atomic.Pointer[role.Role]

	inProgressMu sync.Mutex
	inProgress   map[string]struct{}
}

// New constructs an Orchestrator.
func New(deps Deps, settings Settings) *Orchestrator {
	if deps.Events == nil {
		deps.Events = NopPublisher{}
	}
	if deps.Codec == nil {
		deps.Codec = codec.NPY{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		deps:       deps,
		settings:   settings,
		logger:     deps.Logger.With("component", "hosting"),
		inProgress: make(map[string]struct{}),
	}
}

// EnsureRole resolves the execution role, creating it if needed. The
// resolved role is cached for IsReady and later deployments.
func (o *Orchestrator) EnsureRole(ctx context.Context) (*role.Role, error) {
	if r := o.role.Load(); r != nil {
		return r, nil
	}
	r, err := o.deps.Roles.Initialize(ctx, o.settings.Role)
	if err != nil {
		return nil, err
	}
	o.role.Store(r)
	return r, nil
}

// IsReady reports whether the execution role has been resolved.
func (o *Orchestrator) IsReady() bool {
	return o.role.Load() != nil
}

// IsDeploying reports whether a deployment named name is running.
func (o *Orchestrator) IsDeploying(name string) bool {
	o.inProgressMu.Lock()
	defer o.inProgressMu.Unlock()
	_, ok := o.inProgress[name]
	return ok
}

func (o *Orchestrator) claim(name string) bool {
	o.inProgressMu.Lock()
	defer o.inProgressMu.Unlock()
	if _, ok := o.inProgress[name]; ok {
		return false
	}
	o.inProgress[name] = struct{}{}
	return true
}

func (o *Orchestrator) release(name string) {
	o.inProgressMu.Lock()
	defer o.inProgressMu.Unlock()
	delete(o.inProgress, name)
}

// Deploy obtains model artifacts according to spec.Kind and serves them
// behind a serverless endpoint sized by cfg. Resources created before a
// failure are deleted again. A name that is already recorded is rejected
// with ErrDeploymentExists.
func (o *Orchestrator) Deploy(ctx context.Context, spec ModelSpec, cfg DeploymentConfig) (*Predictor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !o.claim(spec.Name) {
		return nil, ErrDeployInProgress
	}
	defer o.release(spec.Name)

	existing, err := o.deps.Registry.Get(ctx, spec.Name)
	switch {
	case err == nil:
		o.logger.WarnContext(ctx, "refusing to replace live deployment",
			"deployment", spec.Name, "endpoint", existing.EndpointName)
		return nil, fmt.Errorf("%w: %s is served by endpoint %s", ErrDeploymentExists, spec.Name, existing.EndpointName)
	case !errors.Is(err, ErrDeploymentNotFound):
		return nil, fmt.Errorf("reading registry: %w", err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "hosting.deploy")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.name", spec.Name),
		attribute.String("model.kind", string(spec.Kind)),
	)

	d, err := o.deploy(ctx, span, spec, cfg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.publish(ctx, Event{Type: EventDeploymentFailed, Deployment: spec.Name, Kind: spec.Kind, Error: err.Error()})
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	o.publish(ctx, Event{Type: EventDeploymentCreated, Deployment: d.Name, EndpointName: d.EndpointName, Kind: d.Kind})
	return o.predictor(*d), nil
}

func (o *Orchestrator) deploy(ctx context.Context, span trace.Span, spec ModelSpec, cfg DeploymentConfig) (_ *Deployment, err error) {
	if o.settings.Bucket == "" {
		return nil, errors.New("an artifact bucket is required")
	}

	r, err := o.EnsureRole(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensuring role: %w", err)
	}

	image := spec.ImageURI
	if image == "" {
		image, err = ImageURI(o.settings.Region, spec.FrameworkVersion, spec.PyVersion)
		if err != nil {
			return nil, err
		}
	}

	src := ResolveSource(spec.SourceDir)
	if _, err := fs.Stat(src, spec.EntryPoint); err != nil {
		return nil, fmt.Errorf("entry point %s: %w", spec.EntryPoint, err)
	}

	base := resourceName(spec.Name, o.deps.Now())
	span.SetAttributes(attribute.String("endpoint.name", base))
	logger := o.logger.With("deployment", spec.Name, "endpoint", base)

	submitDir, err := o.deps.Artifacts.UploadSource(ctx, o.key(base, "source", SourceArchiveName), src)
	if err != nil {
		return nil, fmt.Errorf("uploading source: %w", err)
	}
	logger.InfoContext(ctx, "source uploaded", "uri", submitDir)

	var modelData string
	switch spec.Kind {
	case KindTrained:
		logger.InfoContext(ctx, "training model", "instance_type", spec.InstanceType)
		modelData, err = o.deps.Trainer.Train(ctx, TrainingJob{
			Name:         base,
			RoleARN:      r.ARN,
			ImageURI:     image,
			InstanceType: spec.InstanceType,
			EntryPoint:   spec.EntryPoint,
			SubmitDir:    submitDir,
			OutputPath:   o.uri(o.key(base, "output")),
		})
		if err != nil {
			return nil, fmt.Errorf("training model: %w", err)
		}
		logger.InfoContext(ctx, "model training completed", "model_data", modelData)
	case KindPretrained:
		modelData = spec.ModelData
		logger.InfoContext(ctx, "using pretrained model", "model_data", modelData)
	}

	d := Deployment{
		Name:               spec.Name,
		Kind:               spec.Kind,
		RoleARN:            r.ARN,
		ModelName:          base,
		EndpointConfigName: base,
		EndpointName:       base,
		ModelData:          modelData,
		Config:             cfg,
		Status:             StatusCreating,
		CreatedAt:          o.deps.Now().UTC(),
	}

	var created []func(context.Context) error
	defer func() {
		if err != nil {
			o.rollback(ctx, logger, created)
		}
	}()

	if err = o.deps.Host.CreateModel(ctx, ModelDefinition{
		Name:       d.ModelName,
		RoleARN:    r.ARN,
		ImageURI:   image,
		ModelData:  modelData,
		EntryPoint: spec.EntryPoint,
		SubmitDir:  submitDir,
	}); err != nil {
		return nil, fmt.Errorf("creating model: %w", err)
	}
	created = append(created, func(ctx context.Context) error { return o.deps.Host.DeleteModel(ctx, d.ModelName) })

	if err = o.deps.Host.CreateEndpointConfig(ctx, d.EndpointConfigName, d.ModelName, cfg); err != nil {
		return nil, fmt.Errorf("creating endpoint config: %w", err)
	}
	created = append(created, func(ctx context.Context) error {
		return o.deps.Host.DeleteEndpointConfig(ctx, d.EndpointConfigName)
	})

	logger.InfoContext(ctx, "deploying endpoint", "memory_mb", cfg.MemoryMB, "max_concurrency", cfg.MaxConcurrency)
	if err = o.deps.Host.CreateEndpoint(ctx, d.EndpointName, d.EndpointConfigName); err != nil {
		created = append(created, func(ctx context.Context) error { return o.deps.Host.DeleteEndpoint(ctx, d.EndpointName) })
		return nil, fmt.Errorf("creating endpoint: %w", err)
	}
	d.Status = StatusInService

	if err = o.deps.Registry.Put(ctx, d); err != nil {
		created = append(created, func(ctx context.Context) error { return o.deps.Host.DeleteEndpoint(ctx, d.EndpointName) })
		return nil, fmt.Errorf("recording deployment: %w", err)
	}
	logger.InfoContext(ctx, "model deployment completed successfully")
	return &d, nil
}

// rollback deletes resources in reverse creation order. Failures are logged
// and do not stop the remaining deletions.
func (o *Orchestrator) rollback(ctx context.Context, logger *slog.Logger, created []func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	for i := len(created) - 1; i >= 0; i-- {
		if err := created[i](ctx); err != nil {
			logger.WarnContext(ctx, "rollback step failed", "error", err)
		}
	}
}

// Get returns the deployment named name. Names unknown to the registry are
// looked up as endpoint names on the hosting platform.
func (o *Orchestrator) Get(ctx context.Context, name string) (*Deployment, error) {
	d, err := o.deps.Registry.Get(ctx, name)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrDeploymentNotFound) {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	return o.deps.Host.DescribeEndpoint(ctx, name)
}

// List returns every recorded deployment.
func (o *Orchestrator) List(ctx context.Context) ([]Deployment, error) {
	return o.deps.Registry.List(ctx)
}

// Predictor returns a handle on the deployment named name.
func (o *Orchestrator) Predictor(ctx context.Context, name string) (*Predictor, error) {
	d, err := o.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return o.predictor(*d), nil
}

func (o *Orchestrator) predictor(d Deployment) *Predictor {
	return &Predictor{deployment: d, invoker: o.deps.Invoker, codec: o.deps.Codec, orchestrator: o}
}

// Predict clusters the rows of m on the deployment named name.
func (o *Orchestrator) Predict(ctx context.Context, name string, m *mat.Dense) ([]int, error) {
	p, err := o.Predictor(ctx, name)
	if err != nil {
		return nil, err
	}
	return p.Classify(ctx, m)
}

// TearDown deletes the endpoint, endpoint config and model of the
// deployment named name, then forgets it. Resources already gone are
// skipped.
func (o *Orchestrator) TearDown(ctx context.Context, name string) error {
	d, err := o.Get(ctx, name)
	if err != nil {
		return err
	}
	return o.tearDown(ctx, *d)
}

func (o *Orchestrator) tearDown(ctx context.Context, d Deployment) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "hosting.teardown")
	defer span.End()
	span.SetAttributes(attribute.String("endpoint.name", d.EndpointName))

	logger := o.logger.With("deployment", d.Name, "endpoint", d.EndpointName)
	logger.InfoContext(ctx, "tearing down deployment")

	if err := o.deps.Host.DeleteEndpoint(ctx, d.EndpointName); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting endpoint %s: %w", d.EndpointName, err)
	}

	// The endpoint no longer references them, so both can go at once.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := o.deps.Host.DeleteEndpointConfig(gctx, d.EndpointConfigName); err != nil {
			return fmt.Errorf("deleting endpoint config %s: %w", d.EndpointConfigName, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := o.deps.Host.DeleteModel(gctx, d.ModelName); err != nil {
			return fmt.Errorf("deleting model %s: %w", d.ModelName, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := o.deps.Registry.Delete(ctx, d.Name); err != nil {
		return fmt.Errorf("removing deployment record: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	logger.InfoContext(ctx, "deployment deleted")
	o.publish(ctx, Event{Type: EventDeploymentDeleted, Deployment: d.Name, EndpointName: d.EndpointName, Kind: d.Kind})
	return nil
}

// RunDeepHealth probes all dependencies concurrently and returns a map of
// dependency name to ProbeResult.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, len(o.deps.Probes))
	var mu sync.Mutex
	var g errgroup.Group

	for name, p := range o.deps.Probes {
		g.Go(func() error {
			probe := p.Probe(ctx)
			mu.Lock()
			results[name] = probe
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// publish emits e. Delivery failures are logged and never fail the
// operation that produced the event.
func (o *Orchestrator) publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = o.deps.Now().UTC()
	}
	if err := o.deps.Events.Publish(ctx, e); err != nil {
		o.logger.WarnContext(ctx, "publishing event failed", "type", e.Type, "error", err)
	}
}

func (o *Orchestrator) key(parts ...string) string {
	return path.Join(append([]string{o.settings.Prefix}, parts...)...)
}

func (o *Orchestrator) uri(key string) string {
	return fmt.Sprintf("s3://%s/%s", o.settings.Bucket, key)
}

// resourceName derives a SageMaker resource name from the deployment name
// and a timestamp, truncated to the 63 character limit.
func resourceName(name string, now time.Time) string {
	suffix := now.UTC().Format("2006-01-02-15-04-05")
	const limit = 63
	if room := limit - len(suffix) - 1; len(name) > room {
		name = name[:room]
	}
	return name + "-" + suffix
}
