package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	rttypes "github.com/aws/aws-sdk-go-v2/service/sagemakerruntime/types"
	"github.com/sony/gobreaker"
)

type runtimeAPI interface {
	InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// RuntimeClient implements hosting.Invoker on the SageMaker runtime API.
type RuntimeClient struct {
	api runtimeAPI
	cb  *gobreaker.CircuitBreaker
}

// NewRuntimeClient builds a RuntimeClient from awsCfg.
func NewRuntimeClient(awsCfg aws.Config, cb *gobreaker.CircuitBreaker) *RuntimeClient {
	return &RuntimeClient{api: sagemakerruntime.NewFromConfig(awsCfg), cb: cb}
}

// Invoke posts body to endpoint and returns the response body.
func (c *RuntimeClient) Invoke(ctx context.Context, endpoint, contentType, accept string, body []byte) ([]byte, error) {
	out, err := c.cb.Execute(func() (any, error) {
		resp, err := c.api.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
			EndpointName: aws.String(endpoint),
			ContentType:  aws.String(contentType),
			Accept:       aws.String(accept),
			Body:         body,
		})
		if err != nil {
			var modelErr *rttypes.ModelError
			if errors.As(err, &modelErr) {
				return nil, fmt.Errorf("model returned %d: %s",
					aws.ToInt32(modelErr.OriginalStatusCode), aws.ToString(modelErr.OriginalMessage))
			}
			return nil, err
		}
		return resp.Body, nil
	})
	if err != nil {
		return nil, breakerErr("sagemaker-runtime", err)
	}
	return out.([]byte), nil
}
