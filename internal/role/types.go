package role

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// DefaultPolicyARN is the managed policy attached to every provisioned role.
	DefaultPolicyARN = "arn:aws:iam::aws:policy/AmazonSageMakerFullAccess"

	// ServicePrincipal is the service allowed to assume the role.
	ServicePrincipal = "sagemaker.amazonaws.com"

	policyVersion = "2012-10-17"
)

// ErrEmptyName is returned by NewRoleConfig when no role name is given.
var ErrEmptyName = errors.New("role name must not be empty")

// PolicyDocument is an IAM policy document. Only the fields used by the
// trust policy template are modelled.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is a single statement of a PolicyDocument.
type Statement struct {
	Effect    string    `json:"Effect"`
	Principal Principal `json:"Principal"`
	Action    string    `json:"Action"`
}

// Principal names the entity a statement applies to.
type Principal struct {
	Service string `json:"Service"`
}

// RoleConfig describes the execution role to resolve or create. It is
// immutable once built; use NewRoleConfig.
type RoleConfig struct {
	name        string
	policyARN   string
	trustPolicy PolicyDocument
}

// ConfigOption customises a RoleConfig.
type ConfigOption func(*RoleConfig)

// WithPolicyARN overrides the managed policy attached on creation. An empty
// value keeps DefaultPolicyARN.
func WithPolicyARN(arn string) ConfigOption {
	return func(c *RoleConfig) {
		if arn != "" {
			c.policyARN = arn
		}
	}
}

// NewRoleConfig builds a RoleConfig for name. The trust policy is always
// derived from the fixed template naming ServicePrincipal.
func NewRoleConfig(name string, opts ...ConfigOption) (RoleConfig, error) {
	if name == "" {
		return RoleConfig{}, ErrEmptyName
	}
	cfg := RoleConfig{
		name:        name,
		policyARN:   DefaultPolicyARN,
		trustPolicy: trustPolicyTemplate(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}

func trustPolicyTemplate() PolicyDocument {
	return PolicyDocument{
		Version: policyVersion,
		Statement: []Statement{{
			Effect:    "Allow",
			Principal: Principal{Service: ServicePrincipal},
			Action:    "sts:AssumeRole",
		}},
	}
}

// Name returns the role name.
func (c RoleConfig) Name() string { return c.name }

// PolicyARN returns the managed policy attached on creation.
func (c RoleConfig) PolicyARN() string { return c.policyARN }

// TrustPolicy returns a copy of the trust policy document.
func (c RoleConfig) TrustPolicy() PolicyDocument {
	doc := c.trustPolicy
	doc.Statement = append([]Statement(nil), c.trustPolicy.Statement...)
	return doc
}

// TrustPolicyJSON renders the trust policy as the JSON string IAM expects.
func (c RoleConfig) TrustPolicyJSON() (string, error) {
	b, err := json.Marshal(c.trustPolicy)
	if err != nil {
		return "", fmt.Errorf("marshalling trust policy: %w", err)
	}
	return string(b), nil
}

// String implements fmt.Stringer.
func (c RoleConfig) String() string {
	return fmt.Sprintf("RoleConfig{name=%s, policy=%s}", c.name, c.policyARN)
}

// Role is a resolved execution role.
type Role struct {
	ARN    string     `json:"arn"`
	Name   string     `json:"name"`
	Config RoleConfig `json:"-"`
}

// NewRole binds arn to cfg. The role name is always taken from cfg.
func NewRole(arn string, cfg RoleConfig) *Role {
	return &Role{ARN: arn, Name: cfg.name, Config: cfg}
}

// State is a step of the provisioning state machine.
type State string

const (
	StateUnresolved State = "UNRESOLVED"
	StateCreating   State = "CREATING"
	StateResolved   State = "RESOLVED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateFailed
}
