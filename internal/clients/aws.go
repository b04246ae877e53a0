package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"

	"github.com/LukaK/simbiot/internal/config"
	"github.com/LukaK/simbiot/internal/hosting"
)

// LoadAWSConfig resolves credentials and region the way the AWS CLI does and
// applies the retry and endpoint overrides from cfg.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	load := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		load = append(load, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}

	if cfg.MaxAttempts > 0 {
		attempts := cfg.MaxAttempts
		awsCfg.Retryer = func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) { o.MaxAttempts = attempts })
		}
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// apiErrorCode returns the service error code carried by err, or "".
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isThrottle reports whether err is a throttling or transient service fault
// that survived the SDK's own retries.
func isThrottle(err error) bool {
	switch apiErrorCode(err) {
	case "Throttling", "ThrottlingException", "RequestLimitExceeded",
		"TooManyRequestsException", "ServiceUnavailable", "ServiceFailure",
		"InternalFailure":
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer
}

// probe runs check through cb and converts the outcome into a ProbeResult.
func probe(name string, cb *gobreaker.CircuitBreaker, check func() error) hosting.ProbeResult {
	start := time.Now()

	_, err := cb.Execute(func() (any, error) {
		return nil, check()
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return hosting.ProbeResult{Name: name, OK: false, LatencyMs: latency, Error: errMsg}
	}
	return hosting.ProbeResult{Name: name, OK: true, LatencyMs: latency}
}

// breakerErr maps the breaker's open states to a readable error.
func breakerErr(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: circuit open: %w", name, err)
	}
	return err
}
