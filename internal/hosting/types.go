package hosting

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects how the model artifacts are obtained.
type Kind string

const (
	// KindTrained runs a training job and deploys its output.
	KindTrained Kind = "trained"
	// KindPretrained deploys existing model artifacts from S3.
	KindPretrained Kind = "pretrained"
)

// ErrUnknownKind is returned by ParseKind.
var ErrUnknownKind = errors.New("unknown model kind")

// ParseKind parses "trained" or "pretrained", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindTrained, KindPretrained:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// ModelSpec describes the model to deploy. Fields not relevant to Kind are
// ignored.
type ModelSpec struct {
	Kind             Kind   `json:"kind"`
	Name             string `json:"name"`
	EntryPoint       string `json:"entryPoint"`
	SourceDir        string `json:"sourceDir,omitempty"`
	InstanceType     string `json:"instanceType,omitempty"`
	PyVersion        string `json:"pyVersion,omitempty"`
	FrameworkVersion string `json:"frameworkVersion"`
	ImageURI         string `json:"imageUri,omitempty"`
	ModelData        string `json:"modelData,omitempty"`
}

// Validate checks the fields the selected Kind depends on.
func (s ModelSpec) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.EntryPoint == "" {
		errs = append(errs, errors.New("entry point is required"))
	}
	if s.FrameworkVersion == "" && s.ImageURI == "" {
		errs = append(errs, errors.New("framework version or image URI is required"))
	}

	switch s.Kind {
	case KindTrained:
		if s.InstanceType == "" {
			errs = append(errs, errors.New("instance type is required for trained models"))
		}
		if s.PyVersion == "" && s.ImageURI == "" {
			errs = append(errs, errors.New("python version is required for trained models"))
		}
	case KindPretrained:
		if !strings.HasPrefix(s.ModelData, "s3://") {
			errs = append(errs, fmt.Errorf("model data must be an s3:// URI, got %q", s.ModelData))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid model spec: %w", errors.Join(errs...))
	}
	return nil
}

// Serverless inference limits.
const (
	MinMemoryMB       = 1024
	MaxMemoryMB       = 6144
	memoryStepMB      = 1024
	MinMaxConcurrency = 1
	MaxMaxConcurrency = 200
)

// DeploymentConfig sizes the serverless endpoint.
type DeploymentConfig struct {
	MemoryMB       int32 `json:"memoryMb"`
	MaxConcurrency int32 `json:"maxConcurrency"`
}

// Validate enforces the serverless memory and concurrency limits.
func (c DeploymentConfig) Validate() error {
	if c.MemoryMB < MinMemoryMB || c.MemoryMB > MaxMemoryMB || c.MemoryMB%memoryStepMB != 0 {
		return fmt.Errorf("memory must be a multiple of %d between %d and %d MB, got %d",
			memoryStepMB, MinMemoryMB, MaxMemoryMB, c.MemoryMB)
	}
	if c.MaxConcurrency < MinMaxConcurrency || c.MaxConcurrency > MaxMaxConcurrency {
		return fmt.Errorf("max concurrency must be between %d and %d, got %d",
			MinMaxConcurrency, MaxMaxConcurrency, c.MaxConcurrency)
	}
	return nil
}

// Status values used by Deployment.
const (
	StatusCreating  = "Creating"
	StatusInService = "InService"
	StatusDeleting  = "Deleting"
	StatusFailed    = "Failed"
)

// Deployment is the persisted record of a live endpoint and the resources
// backing it.
type Deployment struct {
	Name               string           `json:"name"`
	Kind               Kind             `json:"kind"`
	RoleARN            string           `json:"roleArn"`
	ModelName          string           `json:"modelName"`
	EndpointConfigName string           `json:"endpointConfigName"`
	EndpointName       string           `json:"endpointName"`
	ModelData          string           `json:"modelData,omitempty"`
	Config             DeploymentConfig `json:"config"`
	Status             string           `json:"status"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// ProbeResult is returned by RunDeepHealth for each dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Event types published on deployment lifecycle changes.
const (
	EventDeploymentCreated = "deployment.created"
	EventDeploymentDeleted = "deployment.deleted"
	EventDeploymentFailed  = "deployment.failed"
)

// Event is a deployment lifecycle notification.
type Event struct {
	Type         string    `json:"type"`
	Deployment   string    `json:"deployment"`
	EndpointName string    `json:"endpointName,omitempty"`
	Kind         Kind      `json:"kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
