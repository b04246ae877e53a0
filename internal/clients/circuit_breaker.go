package clients

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LukaK/simbiot/internal/hosting"
	"github.com/LukaK/simbiot/internal/role"
)

// NewCircuitBreaker returns a gobreaker configured to trip after 3 consecutive
// failures and reset after 30 seconds in the open state. Business outcomes
// such as a missing role or deployment count as successes.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: isSuccessful,
	})
}

func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, role.ErrNotFound) ||
		errors.Is(err, role.ErrAlreadyExists) ||
		errors.Is(err, hosting.ErrDeploymentNotFound)
}
