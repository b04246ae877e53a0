package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/sony/gobreaker"

	"github.com/LukaK/simbiot/internal/hosting"
	"github.com/LukaK/simbiot/internal/role"
)

const iamProbeName = "iam"

// iamAPI is the subset of *iam.Client used by IAMClient.
type iamAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, in *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DeleteRole(ctx context.Context, in *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// IAMClient implements role.IdentityService on AWS IAM. Every call goes
// through the circuit breaker.
type IAMClient struct {
	api       iamAPI
	cb        *gobreaker.CircuitBreaker
	probeRole string
}

// NewIAMClient builds an IAMClient from awsCfg. probeRole is the role name
// looked up by Probe; a missing role still counts as healthy.
func NewIAMClient(awsCfg aws.Config, cb *gobreaker.CircuitBreaker, probeRole string) *IAMClient {
	return &IAMClient{api: iam.NewFromConfig(awsCfg), cb: cb, probeRole: probeRole}
}

// GetRole returns the ARN of the role called name.
func (c *IAMClient) GetRole(ctx context.Context, name string) (string, error) {
	out, err := c.cb.Execute(func() (any, error) {
		resp, err := c.api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
		if err != nil {
			return nil, classifyIAM(err)
		}
		if resp.Role == nil || resp.Role.Arn == nil {
			return nil, fmt.Errorf("iam returned role %s without an arn", name)
		}
		return aws.ToString(resp.Role.Arn), nil
	})
	if err != nil {
		return "", breakerErr("iam", err)
	}
	return out.(string), nil
}

// CreateRole creates the role with trustPolicy and attaches policyARN. If
// the attach fails the new role is deleted again, so a later lookup never
// resolves a role that lacks its policy.
func (c *IAMClient) CreateRole(ctx context.Context, name, trustPolicy, policyARN string) (string, error) {
	out, err := c.cb.Execute(func() (any, error) {
		resp, err := c.api.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(name),
			AssumeRolePolicyDocument: aws.String(trustPolicy),
		})
		if err != nil {
			return nil, classifyIAM(err)
		}

		if _, err := c.api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: aws.String(policyARN),
		}); err != nil {
			attachErr := fmt.Errorf("attaching %s to %s: %w", policyARN, name, err)
			if _, delErr := c.api.DeleteRole(context.WithoutCancel(ctx), &iam.DeleteRoleInput{
				RoleName: aws.String(name),
			}); delErr != nil {
				return nil, errors.Join(attachErr, fmt.Errorf("deleting role %s left without its policy: %w", name, delErr))
			}
			return nil, attachErr
		}

		if resp.Role == nil {
			return "", nil
		}
		return aws.ToString(resp.Role.Arn), nil
	})
	if err != nil {
		return "", breakerErr("iam", err)
	}
	return out.(string), nil
}

// Probe looks up the configured role.
func (c *IAMClient) Probe(ctx context.Context) hosting.ProbeResult {
	return probe(iamProbeName, c.cb, func() error {
		_, err := c.api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(c.probeRole)})
		var missing *iamtypes.NoSuchEntityException
		if errors.As(err, &missing) {
			return nil
		}
		return err
	})
}

// classifyIAM maps IAM service errors onto the role package sentinels and
// keeps the original error in the chain.
func classifyIAM(err error) error {
	var (
		missing *iamtypes.NoSuchEntityException
		exists  *iamtypes.EntityAlreadyExistsException
		failure *iamtypes.ServiceFailureException
	)
	switch {
	case errors.As(err, &missing):
		return errors.Join(role.ErrNotFound, err)
	case errors.As(err, &exists):
		return errors.Join(role.ErrAlreadyExists, err)
	case errors.As(err, &failure), isThrottle(err):
		return errors.Join(role.ErrTransientLookup, err)
	default:
		return err
	}
}
