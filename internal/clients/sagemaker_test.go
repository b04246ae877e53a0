package clients

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukaK/simbiot/internal/hosting"
)

func couldNotFind(what string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: "Could not find " + what}
}

// fakeSageMaker keeps just enough state for the waiters to observe
// transitions: created endpoints are immediately InService and deleted ones
// disappear.
type fakeSageMaker struct {
	mu sync.Mutex

	trainingInput  *sagemaker.CreateTrainingJobInput
	trainingStatus smtypes.TrainingJobStatus
	artifacts      string

	modelInput  *sagemaker.CreateModelInput
	configInput *sagemaker.CreateEndpointConfigInput

	endpoints map[string]string
	configs   map[string]smtypes.ProductionVariant
	deleted   []string

	endpointStatus smtypes.EndpointStatus
	createErr      error
	deleteErr      error
	listErr        error
}

func newFakeSageMaker() *fakeSageMaker {
	return &fakeSageMaker{
		trainingStatus: smtypes.TrainingJobStatusCompleted,
		artifacts:      "s3://bucket/out/job/output/model.tar.gz",
		endpoints:      make(map[string]string),
		configs:        make(map[string]smtypes.ProductionVariant),
		endpointStatus: smtypes.EndpointStatusInService,
	}
}

func (f *fakeSageMaker) CreateTrainingJob(_ context.Context, in *sagemaker.CreateTrainingJobInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error) {
	f.trainingInput = in
	return &sagemaker.CreateTrainingJobOutput{}, f.createErr
}

func (f *fakeSageMaker) DescribeTrainingJob(_ context.Context, in *sagemaker.DescribeTrainingJobInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error) {
	out := &sagemaker.DescribeTrainingJobOutput{
		TrainingJobName:   in.TrainingJobName,
		TrainingJobStatus: f.trainingStatus,
	}
	if f.trainingStatus == smtypes.TrainingJobStatusCompleted {
		out.ModelArtifacts = &smtypes.ModelArtifacts{S3ModelArtifacts: aws.String(f.artifacts)}
	} else {
		out.FailureReason = aws.String("AlgorithmError: boom")
	}
	return out, nil
}

func (f *fakeSageMaker) CreateModel(_ context.Context, in *sagemaker.CreateModelInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error) {
	f.modelInput = in
	return &sagemaker.CreateModelOutput{}, f.createErr
}

func (f *fakeSageMaker) DeleteModel(_ context.Context, in *sagemaker.DeleteModelInput, _ ...func(*sagemaker.Options)) (*sagemaker.DeleteModelOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, "model/"+aws.ToString(in.ModelName))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &sagemaker.DeleteModelOutput{}, nil
}

func (f *fakeSageMaker) CreateEndpointConfig(_ context.Context, in *sagemaker.CreateEndpointConfigInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error) {
	f.configInput = in
	f.configs[aws.ToString(in.EndpointConfigName)] = in.ProductionVariants[0]
	return &sagemaker.CreateEndpointConfigOutput{}, f.createErr
}

func (f *fakeSageMaker) DescribeEndpointConfig(_ context.Context, in *sagemaker.DescribeEndpointConfigInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointConfigOutput, error) {
	v, ok := f.configs[aws.ToString(in.EndpointConfigName)]
	if !ok {
		return nil, couldNotFind("endpoint configuration")
	}
	return &sagemaker.DescribeEndpointConfigOutput{
		EndpointConfigName: in.EndpointConfigName,
		ProductionVariants: []smtypes.ProductionVariant{v},
	}, nil
}

func (f *fakeSageMaker) DeleteEndpointConfig(_ context.Context, in *sagemaker.DeleteEndpointConfigInput, _ ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointConfigOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, "config/"+aws.ToString(in.EndpointConfigName))
	if _, ok := f.configs[aws.ToString(in.EndpointConfigName)]; !ok {
		return nil, couldNotFind("endpoint configuration")
	}
	delete(f.configs, aws.ToString(in.EndpointConfigName))
	return &sagemaker.DeleteEndpointConfigOutput{}, nil
}

func (f *fakeSageMaker) CreateEndpoint(_ context.Context, in *sagemaker.CreateEndpointInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.endpoints[aws.ToString(in.EndpointName)] = aws.ToString(in.EndpointConfigName)
	return &sagemaker.CreateEndpointOutput{}, nil
}

func (f *fakeSageMaker) DescribeEndpoint(_ context.Context, in *sagemaker.DescribeEndpointInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error) {
	cfg, ok := f.endpoints[aws.ToString(in.EndpointName)]
	if !ok {
		return nil, couldNotFind("endpoint")
	}
	return &sagemaker.DescribeEndpointOutput{
		EndpointName:       in.EndpointName,
		EndpointConfigName: aws.String(cfg),
		EndpointStatus:     f.endpointStatus,
		CreationTime:       aws.Time(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)),
	}, nil
}

func (f *fakeSageMaker) DeleteEndpoint(_ context.Context, in *sagemaker.DeleteEndpointInput, _ ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointOutput, error) {
	f.deleted = append(f.deleted, "endpoint/"+aws.ToString(in.EndpointName))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	if _, ok := f.endpoints[aws.ToString(in.EndpointName)]; !ok {
		return nil, couldNotFind("endpoint")
	}
	delete(f.endpoints, aws.ToString(in.EndpointName))
	return &sagemaker.DeleteEndpointOutput{}, nil
}

func (f *fakeSageMaker) ListEndpoints(_ context.Context, _ *sagemaker.ListEndpointsInput, _ ...func(*sagemaker.Options)) (*sagemaker.ListEndpointsOutput, error) {
	return &sagemaker.ListEndpointsOutput{}, f.listErr
}

func newTestSageMaker(name string, api *fakeSageMaker) *SageMakerClient {
	return &SageMakerClient{api: api, cb: NewCircuitBreaker(name), region: "us-east-1", timeout: time.Minute}
}

func TestSageMakerClient_Train(t *testing.T) {
	t.Parallel()
	api := newFakeSageMaker()
	c := newTestSageMaker("sm-train", api)

	uri, err := c.Train(context.Background(), hosting.TrainingJob{
		Name:         "clustering-2024-03-01-12-30-00",
		RoleARN:      "arn:aws:iam::123456789012:role/MySagemakerRole",
		ImageURI:     "683313688378.dkr.ecr.us-east-1.amazonaws.com/sagemaker-scikit-learn:0.23-1-cpu-py3",
		InstanceType: "ml.m5.large",
		EntryPoint:   "clustering.py",
		SubmitDir:    "s3://bucket/simbiot/source/sourcedir.tar.gz",
		OutputPath:   "s3://bucket/simbiot/output",
	})

	require.NoError(t, err)
	assert.Equal(t, api.artifacts, uri)

	in := api.trainingInput
	require.NotNil(t, in)
	assert.Equal(t, smtypes.TrainingInstanceType("ml.m5.large"), in.ResourceConfig.InstanceType)
	assert.Equal(t, int32(1), aws.ToInt32(in.ResourceConfig.InstanceCount))
	assert.Equal(t, "s3://bucket/simbiot/output", aws.ToString(in.OutputDataConfig.S3OutputPath))
	assert.Equal(t, int32(60), aws.ToInt32(in.StoppingCondition.MaxRuntimeInSeconds))

	var program string
	require.NoError(t, json.Unmarshal([]byte(in.HyperParameters["sagemaker_program"]), &program))
	assert.Equal(t, "clustering.py", program)
	assert.Equal(t, `"us-east-1"`, in.HyperParameters["sagemaker_region"])
	assert.Equal(t, `"s3://bucket/simbiot/source/sourcedir.tar.gz"`, in.HyperParameters["sagemaker_submit_directory"])
}

func TestSageMakerClient_TrainFailed(t *testing.T) {
	t.Parallel()
	api := newFakeSageMaker()
	api.trainingStatus = smtypes.TrainingJobStatusFailed
	c := newTestSageMaker("sm-train-failed", api)

	_, err := c.Train(context.Background(), hosting.TrainingJob{Name: "job"})

	assert.ErrorContains(t, err, "waiting for training job job")
}

func TestSageMakerClient_CreateModelAndConfig(t *testing.T) {
	t.Parallel()
	api := newFakeSageMaker()
	c := newTestSageMaker("sm-model", api)
	ctx := context.Background()

	require.NoError(t, c.CreateModel(ctx, hosting.ModelDefinition{
		Name:       "m",
		RoleARN:    "arn:role",
		ImageURI:   "image",
		ModelData:  "s3://bucket/model.tar.gz",
		EntryPoint: "clustering.py",
		SubmitDir:  "s3://bucket/source/sourcedir.tar.gz",
	}))
	container := api.modelInput.PrimaryContainer
	assert.Equal(t, "s3://bucket/model.tar.gz", aws.ToString(container.ModelDataUrl))
	assert.Equal(t, map[string]string{
		"SAGEMAKER_PROGRAM":             "clustering.py",
		"SAGEMAKER_SUBMIT_DIRECTORY":    "s3://bucket/source/sourcedir.tar.gz",
		"SAGEMAKER_REGION":              "us-east-1",
		"SAGEMAKER_CONTAINER_LOG_LEVEL": "20",
	}, container.Environment)

	require.NoError(t, c.CreateEndpointConfig(ctx, "cfg", "m", hosting.DeploymentConfig{MemoryMB: 4096, MaxConcurrency: 10}))
	v := api.configInput.ProductionVariants[0]
	assert.Equal(t, "m", aws.ToString(v.ModelName))
	assert.Equal(t, int32(4096), aws.ToInt32(v.ServerlessConfig.MemorySizeInMB))
	assert.Equal(t, int32(10), aws.ToInt32(v.ServerlessConfig.MaxConcurrency))
	assert.Nil(t, v.InstanceType)
}

func TestSageMakerClient_EndpointLifecycle(t *testing.T) {
	t.Parallel()
	api := newFakeSageMaker()
	c := newTestSageMaker("sm-endpoint", api)
	ctx := context.Background()

	require.NoError(t, c.CreateEndpointConfig(ctx, "cfg", "model", hosting.DeploymentConfig{MemoryMB: 2048, MaxConcurrency: 5}))
	require.NoError(t, c.CreateEndpoint(ctx, "ep", "cfg"))

	d, err := c.DescribeEndpoint(ctx, "ep")
	require.NoError(t, err)
	assert.Equal(t, "ep", d.EndpointName)
	assert.Equal(t, "cfg", d.EndpointConfigName)
	assert.Equal(t, "model", d.ModelName)
	assert.Equal(t, hosting.StatusInService, d.Status)
	assert.Equal(t, hosting.DeploymentConfig{MemoryMB: 2048, MaxConcurrency: 5}, d.Config)

	require.NoError(t, c.DeleteEndpoint(ctx, "ep"))
	_, err = c.DescribeEndpoint(ctx, "ep")
	assert.ErrorIs(t, err, hosting.ErrDeploymentNotFound)
}

func TestSageMakerClient_EndpointFailedToStart(t *testing.T) {
	t.Parallel()
	api := newFakeSageMaker()
	api.endpointStatus = smtypes.EndpointStatusFailed
	c := newTestSageMaker("sm-endpoint-failed", api)

	err := c.CreateEndpoint(context.Background(), "ep", "cfg")
	assert.ErrorContains(t, err, "waiting for endpoint ep")
}

func TestSageMakerClient_DeletesAreIdempotent(t *testing.T) {
	t.Parallel()
	api := newFakeSageMaker()
	c := newTestSageMaker("sm-idempotent", api)
	ctx := context.Background()

	api.deleteErr = couldNotFind("model")
	assert.NoError(t, c.DeleteModel(ctx, "gone"))
	api.deleteErr = nil

	assert.NoError(t, c.DeleteEndpointConfig(ctx, "gone"))
	assert.NoError(t, c.DeleteEndpoint(ctx, "gone"))
	assert.ElementsMatch(t, []string{"model/gone", "config/gone", "endpoint/gone"}, api.deleted)
}

func TestSageMakerClient_DeleteOtherErrorsSurface(t *testing.T) {
	t.Parallel()
	api := newFakeSageMaker()
	api.deleteErr = &smithy.GenericAPIError{Code: "ValidationException", Message: "Cannot delete model in use"}
	c := newTestSageMaker("sm-delete-err", api)

	assert.ErrorContains(t, c.DeleteModel(context.Background(), "m"), "in use")
}

func TestSageMakerClient_Probe(t *testing.T) {
	t.Parallel()

	ok := newTestSageMaker("sm-probe-ok", newFakeSageMaker()).Probe(context.Background())
	assert.True(t, ok.OK)
	assert.Equal(t, sageMakerProbeName, ok.Name)

	api := newFakeSageMaker()
	api.listErr = errors.New("expired token")
	bad := newTestSageMaker("sm-probe-bad", api).Probe(context.Background())
	assert.False(t, bad.OK)
	assert.Contains(t, bad.Error, "expired token")
}

func TestHyperParameters(t *testing.T) {
	t.Parallel()

	hp, err := hyperParameters(map[string]string{"sagemaker_program": `a "quoted" name.py`})
	require.NoError(t, err)
	assert.Equal(t, `"a \"quoted\" name.py"`, hp["sagemaker_program"])
}
