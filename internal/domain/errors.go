package domain

import (
	"errors"
	"fmt"
)

// Standard domain-level errors. Components wrap these with fmt.Errorf("%w")
// so callers can classify failures with errors.Is.
var (
	// ErrValidation indicates malformed construction parameters. Surfaced
	// synchronously to the caller and never retried.
	ErrValidation = errors.New("validation failed")
	// ErrState indicates an illegal state transition (mutating a terminal
	// order, treating a ticket out of turn). The caller must re-derive
	// current state before retrying.
	ErrState = errors.New("illegal state transition")
	// ErrCapacity indicates slot exhaustion in the allocator.
	ErrCapacity = errors.New("no free slot")
	// ErrInsufficientFunds indicates a withdrawal exceeding the spot balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotFound indicates a missing resource (unknown ticket, empty room,
	// missing snapshot).
	ErrNotFound = errors.New("not found")
)

// ExecutionFailure reports that the broker rejected or failed to fill an
// order. It is recovered locally per the engine's retry policy and only
// reaches the error sink once that policy is exhausted.
type ExecutionFailure struct {
	OrderID string
	Pair    Pair
	Err     error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failed for order %s on %s: %v", e.OrderID, e.Pair, e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// NetworkFailure reports an unreachable or timed-out broker. The engine
// retries the same step on the next cycle; the failure only becomes fatal for
// that engine instance once the consecutive-failure threshold is exceeded.
type NetworkFailure struct {
	Op  string
	Err error
}

func (e *NetworkFailure) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkFailure) Unwrap() error { return e.Err }

// IsNetworkFailure reports whether err wraps a NetworkFailure.
func IsNetworkFailure(err error) bool {
	var nf *NetworkFailure
	return errors.As(err, &nf)
}

// IsExecutionFailure reports whether err wraps an ExecutionFailure.
func IsExecutionFailure(err error) bool {
	var ef *ExecutionFailure
	return errors.As(err, &ef)
}
