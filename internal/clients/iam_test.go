package clients

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukaK/simbiot/internal/role"
)

type fakeIAM struct {
	getErr    error
	createErr error
	attachErr error
	deleteErr error

	deletedRole   string
	createdName   string
	trustPolicy   string
	attachedARN   string
	attachedRole  string
	getRoleCalls  int
	responseARN   string
	omitRoleField bool
}

func (f *fakeIAM) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	f.getRoleCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.omitRoleField {
		return &iam.GetRoleOutput{}, nil
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{
		RoleName: in.RoleName,
		Arn:      aws.String("arn:aws:iam::123456789012:role/" + aws.ToString(in.RoleName)),
	}}, nil
}

func (f *fakeIAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdName = aws.ToString(in.RoleName)
	f.trustPolicy = aws.ToString(in.AssumeRolePolicyDocument)
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{
		RoleName: in.RoleName,
		Arn:      aws.String("arn:aws:iam::123456789012:role/" + f.createdName),
	}}, nil
}

func (f *fakeIAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	f.attachedRole = aws.ToString(in.RoleName)
	f.attachedARN = aws.ToString(in.PolicyArn)
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DeleteRole(_ context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deletedRole = aws.ToString(in.RoleName)
	return &iam.DeleteRoleOutput{}, nil
}

func newTestIAM(name string, api *fakeIAM) *IAMClient {
	return &IAMClient{api: api, cb: NewCircuitBreaker(name), probeRole: "MySagemakerRole"}
}

func TestIAMClient_GetRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		getErr   error
		wantARN  string
		wantIs   error
		wantText string
	}{
		{
			name:    "found",
			wantARN: "arn:aws:iam::123456789012:role/MySagemakerRole",
		},
		{
			name:   "no such entity maps to not found",
			getErr: &iamtypes.NoSuchEntityException{Message: aws.String("role not found")},
			wantIs: role.ErrNotFound,
		},
		{
			name:   "throttling is transient",
			getErr: &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"},
			wantIs: role.ErrTransientLookup,
		},
		{
			name:   "service failure is transient",
			getErr: &iamtypes.ServiceFailureException{Message: aws.String("boom")},
			wantIs: role.ErrTransientLookup,
		},
		{
			name:     "access denied passes through",
			getErr:   &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"},
			wantText: "not authorized",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newTestIAM("iam-get-"+tc.name, &fakeIAM{getErr: tc.getErr})

			arn, err := c.GetRole(context.Background(), "MySagemakerRole")

			switch {
			case tc.wantIs != nil:
				assert.ErrorIs(t, err, tc.wantIs)
			case tc.wantText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantText)
				assert.False(t, errors.Is(err, role.ErrNotFound))
				assert.False(t, errors.Is(err, role.ErrTransientLookup))
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.wantARN, arn)
			}
		})
	}
}

func TestIAMClient_GetRoleWithoutARN(t *testing.T) {
	t.Parallel()
	c := newTestIAM("iam-no-arn", &fakeIAM{omitRoleField: true})

	_, err := c.GetRole(context.Background(), "MySagemakerRole")
	assert.ErrorContains(t, err, "without an arn")
}

func TestIAMClient_CreateRoleAttachesPolicy(t *testing.T) {
	t.Parallel()
	api := &fakeIAM{}
	c := newTestIAM("iam-create", api)

	arn, err := c.CreateRole(context.Background(), "MySagemakerRole", `{"Version":"2012-10-17"}`, role.DefaultPolicyARN)

	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::123456789012:role/MySagemakerRole", arn)
	assert.Equal(t, `{"Version":"2012-10-17"}`, api.trustPolicy)
	assert.Equal(t, "MySagemakerRole", api.attachedRole)
	assert.Equal(t, role.DefaultPolicyARN, api.attachedARN)
}

func TestIAMClient_CreateRoleAlreadyExists(t *testing.T) {
	t.Parallel()
	c := newTestIAM("iam-exists", &fakeIAM{
		createErr: &iamtypes.EntityAlreadyExistsException{Message: aws.String("exists")},
	})

	_, err := c.CreateRole(context.Background(), "MySagemakerRole", "{}", role.DefaultPolicyARN)
	assert.ErrorIs(t, err, role.ErrAlreadyExists)
}

func TestIAMClient_AttachFailureDeletesRole(t *testing.T) {
	t.Parallel()
	api := &fakeIAM{attachErr: errors.New("policy not attachable")}
	c := newTestIAM("iam-attach", api)

	_, err := c.CreateRole(context.Background(), "MySagemakerRole", "{}", role.DefaultPolicyARN)

	assert.ErrorContains(t, err, "attaching "+role.DefaultPolicyARN)
	assert.Equal(t, "MySagemakerRole", api.deletedRole)
}

func TestIAMClient_AttachAndDeleteFailureReportsBoth(t *testing.T) {
	t.Parallel()
	api := &fakeIAM{
		attachErr: errors.New("policy not attachable"),
		deleteErr: errors.New("delete conflict"),
	}
	c := newTestIAM("iam-attach-delete", api)

	_, err := c.CreateRole(context.Background(), "MySagemakerRole", "{}", role.DefaultPolicyARN)

	assert.ErrorContains(t, err, "policy not attachable")
	assert.ErrorContains(t, err, "delete conflict")
}

// roleStore is a stateful iamAPI: roles exist only after CreateRole and
// until DeleteRole.
type roleStore struct {
	mu        sync.Mutex
	roles     map[string]bool
	policies  map[string][]string
	attachErr error
}

func newRoleStore() *roleStore {
	return &roleStore{roles: map[string]bool{}, policies: map[string][]string{}}
}

func (s *roleStore) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if !s.roles[name] {
		return nil, &iamtypes.NoSuchEntityException{Message: aws.String("role " + name + " not found")}
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{
		RoleName: in.RoleName,
		Arn:      aws.String("arn:aws:iam::123456789012:role/" + name),
	}}, nil
}

func (s *roleStore) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if s.roles[name] {
		return nil, &iamtypes.EntityAlreadyExistsException{Message: aws.String("exists")}
	}
	s.roles[name] = true
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{
		RoleName: in.RoleName,
		Arn:      aws.String("arn:aws:iam::123456789012:role/" + name),
	}}, nil
}

func (s *roleStore) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return nil, s.attachErr
	}
	name := aws.ToString(in.RoleName)
	s.policies[name] = append(s.policies[name], aws.ToString(in.PolicyArn))
	return &iam.AttachRolePolicyOutput{}, nil
}

func (s *roleStore) DeleteRole(_ context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, aws.ToString(in.RoleName))
	return &iam.DeleteRoleOutput{}, nil
}

func (s *roleStore) setAttachErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachErr = err
}

func TestInitialize_RetryAfterFailedAttachAttachesPolicy(t *testing.T) {
	t.Parallel()
	store := newRoleStore()
	store.setAttachErr(&smithy.GenericAPIError{Code: "Throttling", Message: "throttled attach"})
	c := &IAMClient{api: store, cb: NewCircuitBreaker("iam-attach-retry"), probeRole: "MySagemakerRole"}
	p := role.NewProvisioner(c, nil, role.WithRetryPolicy(role.RetryPolicy{
		LookupAttempts:    1,
		ReadyInitialDelay: time.Millisecond,
		ReadyMaxDelay:     time.Millisecond,
		ReadyTimeout:      time.Second,
	}))
	cfg, err := role.NewRoleConfig("MySagemakerRole")
	require.NoError(t, err)

	_, err = p.Initialize(context.Background(), cfg)
	var perr *role.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, role.StateCreating, perr.State)
	assert.ErrorContains(t, err, "throttled attach")

	store.setAttachErr(nil)
	r, err := p.Initialize(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::123456789012:role/MySagemakerRole", r.ARN)
	assert.Equal(t, []string{role.DefaultPolicyARN}, store.policies["MySagemakerRole"])
}

func TestIAMClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	t.Parallel()
	api := &fakeIAM{getErr: &iamtypes.NoSuchEntityException{Message: aws.String("missing")}}
	c := newTestIAM("iam-breaker-notfound", api)

	for range 5 {
		_, err := c.GetRole(context.Background(), "MySagemakerRole")
		assert.ErrorIs(t, err, role.ErrNotFound)
	}
	assert.Equal(t, 5, api.getRoleCalls)
}

func TestIAMClient_BreakerOpens(t *testing.T) {
	t.Parallel()
	api := &fakeIAM{getErr: errors.New("dial tcp: timeout")}
	c := newTestIAM("iam-breaker-open", api)

	for range 3 {
		_, _ = c.GetRole(context.Background(), "MySagemakerRole")
	}
	_, err := c.GetRole(context.Background(), "MySagemakerRole")

	assert.ErrorContains(t, err, "circuit open")
	assert.Equal(t, 3, api.getRoleCalls)
}

func TestIAMClient_Probe(t *testing.T) {
	t.Parallel()

	ok := newTestIAM("iam-probe-ok", &fakeIAM{}).Probe(context.Background())
	assert.True(t, ok.OK)
	assert.Equal(t, iamProbeName, ok.Name)

	missing := newTestIAM("iam-probe-missing", &fakeIAM{
		getErr: &iamtypes.NoSuchEntityException{Message: aws.String("missing")},
	}).Probe(context.Background())
	assert.True(t, missing.OK)

	denied := newTestIAM("iam-probe-denied", &fakeIAM{
		getErr: &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"},
	}).Probe(context.Background())
	assert.False(t, denied.OK)
	assert.Contains(t, denied.Error, "not authorized")
}
