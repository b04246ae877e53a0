package role

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// IdentityService is the external directory holding execution roles.
// Implementations map their own error codes onto ErrNotFound,
// ErrAlreadyExists and ErrTransientLookup.
type IdentityService interface {
	GetRole(ctx context.Context, name string) (string, error)
	// CreateRole creates the role with the given trust policy and attaches
	// policyARN to it.
	CreateRole(ctx context.Context, name, trustPolicy, policyARN string) (string, error)
}

// RetryPolicy bounds the lookup retries and the post-create readiness poll.
type RetryPolicy struct {
	LookupAttempts    int
	LookupDelay       time.Duration
	ReadyInitialDelay time.Duration
	ReadyMaxDelay     time.Duration
	ReadyTimeout      time.Duration
}

// DefaultRetryPolicy returns two lookup attempts five seconds apart and a
// readiness poll capped at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		LookupAttempts:    2,
		LookupDelay:       5 * time.Second,
		ReadyInitialDelay: time.Second,
		ReadyMaxDelay:     10 * time.Second,
		ReadyTimeout:      time.Minute,
	}
}

// Provisioner resolves execution roles, creating them when absent.
type Provisioner struct {
	identity IdentityService
	policy   RetryPolicy
	logger   *slog.Logger
}

// Option customises a Provisioner.
type Option func(*Provisioner)

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(pr *Provisioner) { pr.policy = p }
}

// NewProvisioner returns a Provisioner backed by identity. A nil logger
// discards output.
func NewProvisioner(identity IdentityService, logger *slog.Logger, opts ...Option) *Provisioner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Provisioner{
		identity: identity,
		policy:   DefaultRetryPolicy(),
		logger:   logger.With("component", "role"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.policy.LookupAttempts < 1 {
		p.policy.LookupAttempts = 1
	}
	return p
}

// Initialize returns the role described by cfg, creating it if it does not
// exist yet. Every failure is returned as a *ProvisioningError.
func (p *Provisioner) Initialize(ctx context.Context, cfg RoleConfig) (*Role, error) {
	ctx, span := otel.Tracer("simbiot").Start(ctx, "role.initialize")
	defer span.End()
	span.SetAttributes(attribute.String("role.name", cfg.Name()))

	r, state, err := p.initialize(ctx, cfg)
	span.SetAttributes(attribute.String("role.state", string(state)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.logger.ErrorContext(ctx, "role provisioning failed", "role", cfg.Name(), "state", state, "error", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	p.logger.InfoContext(ctx, "role resolved", "role", r.Name, "arn", r.ARN)
	return r, nil
}

func (p *Provisioner) initialize(ctx context.Context, cfg RoleConfig) (*Role, State, error) {
	state := StateUnresolved

	r, err := p.Retrieve(ctx, cfg)
	switch {
	case err == nil:
		return r, StateResolved, nil
	case errors.Is(err, ErrNotFound):
		p.logger.InfoContext(ctx, "role does not exist", "role", cfg.Name())
	default:
		return nil, StateFailed, &ProvisioningError{Config: cfg, State: state, Cause: err}
	}

	state = StateCreating
	r, err = p.Create(ctx, cfg)
	if err == nil {
		return r, StateResolved, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return nil, StateFailed, &ProvisioningError{Config: cfg, State: state, Cause: err}
	}

	// Another caller created the role between our lookup and create.
	p.logger.WarnContext(ctx, "role created concurrently, retrieving", "role", cfg.Name())
	r, retrieveErr := p.Retrieve(ctx, cfg)
	if retrieveErr != nil {
		return nil, StateFailed, &ProvisioningError{
			Config: cfg,
			State:  state,
			Cause:  errors.Join(err, retrieveErr),
		}
	}
	return r, StateResolved, nil
}

// Retrieve looks the role up by name. Only ErrTransientLookup is retried,
// up to RetryPolicy.LookupAttempts attempts in total.
func (p *Provisioner) Retrieve(ctx context.Context, cfg RoleConfig) (*Role, error) {
	p.logger.InfoContext(ctx, "retrieving role", "role", cfg.Name())

	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(p.policy.LookupDelay),
			uint64(p.policy.LookupAttempts-1),
		),
		ctx,
	)

	var arn string
	op := func() error {
		a, err := p.identity.GetRole(ctx, cfg.Name())
		if err != nil {
			if errors.Is(err, ErrTransientLookup) {
				return err
			}
			return backoff.Permanent(err)
		}
		arn = a
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.logger.WarnContext(ctx, "role lookup failed, retrying", "role", cfg.Name(), "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "role retrieved", "role", cfg.Name())
	return NewRole(arn, cfg), nil
}

// Create creates the role, attaches its policy and waits until the identity
// service returns it from a lookup.
func (p *Provisioner) Create(ctx context.Context, cfg RoleConfig) (*Role, error) {
	p.logger.InfoContext(ctx, "creating role", "role", cfg.Name(), "policy", cfg.PolicyARN())

	doc, err := cfg.TrustPolicyJSON()
	if err != nil {
		return nil, err
	}
	arn, err := p.identity.CreateRole(ctx, cfg.Name(), doc, cfg.PolicyARN())
	if err != nil {
		return nil, err
	}

	if err := p.waitReady(ctx, cfg); err != nil {
		return nil, err
	}
	return NewRole(arn, cfg), nil
}

// waitReady polls GetRole with exponential backoff until the new role is
// visible or ReadyTimeout elapses.
func (p *Provisioner) waitReady(ctx context.Context, cfg RoleConfig) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.policy.ReadyInitialDelay
	exp.MaxInterval = p.policy.ReadyMaxDelay
	exp.MaxElapsedTime = p.policy.ReadyTimeout

	ctx, cancel := context.WithTimeout(ctx, p.policy.ReadyTimeout)
	defer cancel()

	var lastErr error
	op := func() error {
		_, err := p.identity.GetRole(ctx, cfg.Name())
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransientLookup) {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, backoff.WithContext(exp, ctx)); err != nil {
		if lastErr != nil && !errors.Is(err, lastErr) {
			return fmt.Errorf("role %s not ready after %s: %w", cfg.Name(), p.policy.ReadyTimeout, errors.Join(err, lastErr))
		}
		return fmt.Errorf("role %s not ready after %s: %w", cfg.Name(), p.policy.ReadyTimeout, err)
	}
	return nil
}
