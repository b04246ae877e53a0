package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"

	"github.com/LukaK/simbiot/internal/hosting"
)

const (
	sageMakerProbeName = "sagemaker"
	variantName        = "AllTraffic"
	containerLogLevel  = "20"
)

// sageMakerAPI is the subset of *sagemaker.Client used by SageMakerClient.
// It also satisfies the Describe*APIClient interfaces the waiters need.
type sageMakerAPI interface {
	CreateTrainingJob(ctx context.Context, in *sagemaker.CreateTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error)
	DescribeTrainingJob(ctx context.Context, in *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
	CreateModel(ctx context.Context, in *sagemaker.CreateModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error)
	DeleteModel(ctx context.Context, in *sagemaker.DeleteModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteModelOutput, error)
	CreateEndpointConfig(ctx context.Context, in *sagemaker.CreateEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error)
	DescribeEndpointConfig(ctx context.Context, in *sagemaker.DescribeEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointConfigOutput, error)
	DeleteEndpointConfig(ctx context.Context, in *sagemaker.DeleteEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointConfigOutput, error)
	CreateEndpoint(ctx context.Context, in *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error)
	DescribeEndpoint(ctx context.Context, in *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)
	DeleteEndpoint(ctx context.Context, in *sagemaker.DeleteEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointOutput, error)
	ListEndpoints(ctx context.Context, in *sagemaker.ListEndpointsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListEndpointsOutput, error)
}

// SageMakerClient implements hosting.Trainer and hosting.Host. Control plane
// calls go through the circuit breaker; waits for training and endpoint
// transitions are bounded by the timeout passed to NewSageMakerClient.
type SageMakerClient struct {
	api     sageMakerAPI
	cb      *gobreaker.CircuitBreaker
	region  string
	timeout time.Duration
}

// NewSageMakerClient builds a SageMakerClient from awsCfg.
func NewSageMakerClient(awsCfg aws.Config, cb *gobreaker.CircuitBreaker, timeout time.Duration) *SageMakerClient {
	return &SageMakerClient{
		api:     sagemaker.NewFromConfig(awsCfg),
		cb:      cb,
		region:  awsCfg.Region,
		timeout: timeout,
	}
}

func (c *SageMakerClient) do(fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return breakerErr("sagemaker", err)
}

// Train starts a training job and blocks until it completes.
func (c *SageMakerClient) Train(ctx context.Context, job hosting.TrainingJob) (string, error) {
	hp, err := hyperParameters(map[string]string{
		"sagemaker_program":             job.EntryPoint,
		"sagemaker_submit_directory":    job.SubmitDir,
		"sagemaker_region":              c.region,
		"sagemaker_container_log_level": containerLogLevel,
	})
	if err != nil {
		return "", err
	}

	err = c.do(func() error {
		_, err := c.api.CreateTrainingJob(ctx, &sagemaker.CreateTrainingJobInput{
			TrainingJobName: aws.String(job.Name),
			RoleArn:         aws.String(job.RoleARN),
			AlgorithmSpecification: &smtypes.AlgorithmSpecification{
				TrainingImage:     aws.String(job.ImageURI),
				TrainingInputMode: smtypes.TrainingInputModeFile,
			},
			HyperParameters: hp,
			OutputDataConfig: &smtypes.OutputDataConfig{
				S3OutputPath: aws.String(job.OutputPath),
			},
			ResourceConfig: &smtypes.ResourceConfig{
				InstanceType:   smtypes.TrainingInstanceType(job.InstanceType),
				InstanceCount:  aws.Int32(1),
				VolumeSizeInGB: aws.Int32(30),
			},
			StoppingCondition: &smtypes.StoppingCondition{
				MaxRuntimeInSeconds: aws.Int32(int32(c.timeout / time.Second)),
			},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("creating training job %s: %w", job.Name, err)
	}

	describe := &sagemaker.DescribeTrainingJobInput{TrainingJobName: aws.String(job.Name)}
	waiter := sagemaker.NewTrainingJobCompletedOrStoppedWaiter(c.api)
	if err := waiter.Wait(ctx, describe, c.timeout); err != nil {
		return "", fmt.Errorf("waiting for training job %s: %w", job.Name, err)
	}

	out, err := c.api.DescribeTrainingJob(ctx, describe)
	if err != nil {
		return "", fmt.Errorf("describing training job %s: %w", job.Name, err)
	}
	if out.TrainingJobStatus != smtypes.TrainingJobStatusCompleted {
		return "", fmt.Errorf("training job %s ended %s: %s",
			job.Name, out.TrainingJobStatus, aws.ToString(out.FailureReason))
	}
	if out.ModelArtifacts == nil || out.ModelArtifacts.S3ModelArtifacts == nil {
		return "", fmt.Errorf("training job %s produced no model artifacts", job.Name)
	}
	return aws.ToString(out.ModelArtifacts.S3ModelArtifacts), nil
}

// hyperParameters JSON-encodes each value, which is how the framework
// containers expect their sagemaker_* settings.
func hyperParameters(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding hyperparameter %s: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

func (c *SageMakerClient) CreateModel(ctx context.Context, def hosting.ModelDefinition) error {
	return c.do(func() error {
		_, err := c.api.CreateModel(ctx, &sagemaker.CreateModelInput{
			ModelName:        aws.String(def.Name),
			ExecutionRoleArn: aws.String(def.RoleARN),
			PrimaryContainer: &smtypes.ContainerDefinition{
				Image:        aws.String(def.ImageURI),
				ModelDataUrl: aws.String(def.ModelData),
				Environment: map[string]string{
					"SAGEMAKER_PROGRAM":             def.EntryPoint,
					"SAGEMAKER_SUBMIT_DIRECTORY":    def.SubmitDir,
					"SAGEMAKER_REGION":              c.region,
					"SAGEMAKER_CONTAINER_LOG_LEVEL": containerLogLevel,
				},
			},
		})
		return err
	})
}

func (c *SageMakerClient) CreateEndpointConfig(ctx context.Context, name, modelName string, cfg hosting.DeploymentConfig) error {
	return c.do(func() error {
		_, err := c.api.CreateEndpointConfig(ctx, &sagemaker.CreateEndpointConfigInput{
			EndpointConfigName: aws.String(name),
			ProductionVariants: []smtypes.ProductionVariant{{
				VariantName: aws.String(variantName),
				ModelName:   aws.String(modelName),
				ServerlessConfig: &smtypes.ProductionVariantServerlessConfig{
					MemorySizeInMB: aws.Int32(cfg.MemoryMB),
					MaxConcurrency: aws.Int32(cfg.MaxConcurrency),
				},
			}},
		})
		return err
	})
}

// CreateEndpoint creates the endpoint and waits until it is InService.
func (c *SageMakerClient) CreateEndpoint(ctx context.Context, name, configName string) error {
	err := c.do(func() error {
		_, err := c.api.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
			EndpointName:       aws.String(name),
			EndpointConfigName: aws.String(configName),
		})
		return err
	})
	if err != nil {
		return err
	}

	waiter := sagemaker.NewEndpointInServiceWaiter(c.api)
	if err := waiter.Wait(ctx, &sagemaker.DescribeEndpointInput{EndpointName: aws.String(name)}, c.timeout); err != nil {
		return fmt.Errorf("waiting for endpoint %s: %w", name, err)
	}
	return nil
}

// DeleteEndpoint deletes the endpoint and waits until it is gone. A missing
// endpoint is not an error.
func (c *SageMakerClient) DeleteEndpoint(ctx context.Context, name string) error {
	err := c.do(func() error {
		_, err := c.api.DeleteEndpoint(ctx, &sagemaker.DeleteEndpointInput{EndpointName: aws.String(name)})
		return ignoreMissing(err)
	})
	if err != nil {
		return err
	}

	waiter := sagemaker.NewEndpointDeletedWaiter(c.api)
	if err := waiter.Wait(ctx, &sagemaker.DescribeEndpointInput{EndpointName: aws.String(name)}, c.timeout); err != nil {
		return fmt.Errorf("waiting for endpoint %s deletion: %w", name, err)
	}
	return nil
}

func (c *SageMakerClient) DeleteEndpointConfig(ctx context.Context, name string) error {
	return c.do(func() error {
		_, err := c.api.DeleteEndpointConfig(ctx, &sagemaker.DeleteEndpointConfigInput{EndpointConfigName: aws.String(name)})
		return ignoreMissing(err)
	})
}

func (c *SageMakerClient) DeleteModel(ctx context.Context, name string) error {
	return c.do(func() error {
		_, err := c.api.DeleteModel(ctx, &sagemaker.DeleteModelInput{ModelName: aws.String(name)})
		return ignoreMissing(err)
	})
}

// DescribeEndpoint rebuilds a Deployment from the live endpoint and its
// endpoint config.
func (c *SageMakerClient) DescribeEndpoint(ctx context.Context, name string) (*hosting.Deployment, error) {
	var d *hosting.Deployment
	err := c.do(func() error {
		ep, err := c.api.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{EndpointName: aws.String(name)})
		if err != nil {
			if isMissing(err) {
				return hosting.ErrDeploymentNotFound
			}
			return err
		}

		d = &hosting.Deployment{
			Name:               name,
			EndpointName:       aws.ToString(ep.EndpointName),
			EndpointConfigName: aws.ToString(ep.EndpointConfigName),
			Status:             string(ep.EndpointStatus),
			CreatedAt:          aws.ToTime(ep.CreationTime),
		}

		cfg, err := c.api.DescribeEndpointConfig(ctx, &sagemaker.DescribeEndpointConfigInput{
			EndpointConfigName: ep.EndpointConfigName,
		})
		if err != nil {
			return fmt.Errorf("describing endpoint config %s: %w", d.EndpointConfigName, err)
		}
		if len(cfg.ProductionVariants) > 0 {
			v := cfg.ProductionVariants[0]
			d.ModelName = aws.ToString(v.ModelName)
			if v.ServerlessConfig != nil {
				d.Config = hosting.DeploymentConfig{
					MemoryMB:       aws.ToInt32(v.ServerlessConfig.MemorySizeInMB),
					MaxConcurrency: aws.ToInt32(v.ServerlessConfig.MaxConcurrency),
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Probe lists at most one endpoint.
func (c *SageMakerClient) Probe(ctx context.Context) hosting.ProbeResult {
	return probe(sageMakerProbeName, c.cb, func() error {
		_, err := c.api.ListEndpoints(ctx, &sagemaker.ListEndpointsInput{MaxResults: aws.Int32(1)})
		return err
	})
}

// isMissing reports whether err is SageMaker's way of saying a resource does
// not exist. Most control plane APIs signal this with a ValidationException.
func isMissing(err error) bool {
	var nf *smtypes.ResourceNotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" {
		return strings.Contains(apiErr.ErrorMessage(), "Could not find")
	}
	return false
}

func ignoreMissing(err error) error {
	if err == nil || isMissing(err) {
		return nil
	}
	return err
}
