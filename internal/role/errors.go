package role

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no role with the requested name exists. It drives
	// the creation path and is never retried during the initial lookup.
	ErrNotFound = errors.New("role not found")

	// ErrAlreadyExists means the role was created by someone else between
	// the lookup and the create call.
	ErrAlreadyExists = errors.New("role already exists")

	// ErrTransientLookup marks lookup failures worth retrying, such as
	// throttling or a directory that has not converged yet.
	ErrTransientLookup = errors.New("transient role lookup failure")
)

// ProvisioningError is the terminal error returned by Initialize. It carries
// the configuration that failed and the state where it failed.
type ProvisioningError struct {
	Config RoleConfig
	State  State
	Cause  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning role %q failed while %s: %v", e.Config.Name(), e.State, e.Cause)
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }
