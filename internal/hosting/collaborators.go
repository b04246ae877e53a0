package hosting

import (
	"context"
	"errors"
	"io/fs"

	"github.com/LukaK/simbiot/internal/role"
)

// ErrDeploymentNotFound is returned when no deployment or endpoint matches.
var ErrDeploymentNotFound = errors.New("deployment not found")

// RoleEnsurer is satisfied by *role.Provisioner.
type RoleEnsurer interface {
	Initialize(ctx context.Context, cfg role.RoleConfig) (*role.Role, error)
}

// ArtifactStore is satisfied by *clients.S3Store.
type ArtifactStore interface {
	// UploadSource archives fsys as a gzipped tarball under key and returns
	// its s3:// URI.
	UploadSource(ctx context.Context, key string, fsys fs.FS) (string, error)
}

// TrainingJob is the input of Trainer.Train.
type TrainingJob struct {
	Name         string
	RoleARN      string
	ImageURI     string
	InstanceType string
	EntryPoint   string
	SubmitDir    string
	OutputPath   string
}

// Trainer is satisfied by *clients.SageMakerClient.
type Trainer interface {
	// Train runs job to completion and returns the S3 URI of the model
	// artifacts it produced.
	Train(ctx context.Context, job TrainingJob) (string, error)
}

// ModelDefinition is the input of Host.CreateModel.
type ModelDefinition struct {
	Name       string
	RoleARN    string
	ImageURI   string
	ModelData  string
	EntryPoint string
	SubmitDir  string
}

// Host is satisfied by *clients.SageMakerClient. Delete methods treat
// missing resources as already deleted.
type Host interface {
	CreateModel(ctx context.Context, def ModelDefinition) error
	CreateEndpointConfig(ctx context.Context, name, modelName string, cfg DeploymentConfig) error
	// CreateEndpoint returns once the endpoint is InService.
	CreateEndpoint(ctx context.Context, name, configName string) error
	// DeleteEndpoint returns once the endpoint is gone.
	DeleteEndpoint(ctx context.Context, name string) error
	DeleteEndpointConfig(ctx context.Context, name string) error
	DeleteModel(ctx context.Context, name string) error
	// DescribeEndpoint resolves the endpoint config and model behind name.
	// It returns ErrDeploymentNotFound when the endpoint does not exist.
	DescribeEndpoint(ctx context.Context, name string) (*Deployment, error)
}

// Invoker is satisfied by *clients.RuntimeClient.
type Invoker interface {
	Invoke(ctx context.Context, endpoint, contentType, accept string, body []byte) ([]byte, error)
}

// Registry stores deployment records. Get returns ErrDeploymentNotFound for
// unknown names; Delete of an unknown name is not an error.
type Registry interface {
	Put(ctx context.Context, d Deployment) error
	Get(ctx context.Context, name string) (*Deployment, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Deployment, error)
}

// EventPublisher is satisfied by *clients.NATSPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// Prober reports the health of one dependency.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
