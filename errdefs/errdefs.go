// Package errdefs defines the error taxonomy shared by all burrow layers.
// Callers classify failures with errors.Is against these sentinels; the
// concrete message is carried by fmt.Errorf("%w") wrapping at the call site.
package errdefs

import "errors"

var (
	// ErrNotFound means an unknown guest reference.
	ErrNotFound = errors.New("guest not found")
	// ErrInvalidState means the operation is not valid from the guest's
	// current state.
	ErrInvalidState = errors.New("invalid guest state")
	// ErrPolicyViolation means the request was rejected by the security
	// policy evaluator.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrChannelUnavailable means the execution channel's transport failed
	// before the guest-side command could run. Recovered by gateway fallback;
	// only surfaced once the last eligible channel also fails.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrTimeout means an execution exceeded its deadline. Never retried: a
	// retry could double-apply a non-idempotent guest command.
	ErrTimeout = errors.New("timeout")
	// ErrNotImplemented is returned by the console execution channel stub.
	ErrNotImplemented = errors.New("not implemented")
	// ErrTransportFailure means a host-side process or protocol error
	// unrelated to the guest command's own logic.
	ErrTransportFailure = errors.New("transport failure")
	// ErrRegistryFull means the registry reached its configured guest
	// capacity.
	ErrRegistryFull = errors.New("registry full")
	// ErrDuplicate means the guest ID or name is already registered.
	ErrDuplicate = errors.New("guest already exists")
)
