package internal

import (
	"errors"
	"fmt"
)

// Error classes shared by the aggregator, the command server and the
// dispatcher. Callers classify with errors.Is.
var (
	ErrAuthFailure       = errors.New("authentication failed")
	ErrBadAddress        = errors.New("bad session address")
	ErrNotFound          = errors.New("session not found")
	ErrStoreUnavailable  = errors.New("session store unavailable")
	ErrTunnelUnavailable = errors.New("tunnel unavailable")
	ErrTimedOut          = errors.New("command timed out")
	ErrUnreachableHost   = errors.New("host unreachable")
	ErrNonZeroExit       = errors.New("command exited non-zero")
	ErrUnknownServer     = errors.New("unknown server")
)

// StoreError represents errors reading or writing the session database.
// It always unwraps to ErrStoreUnavailable as well as the underlying cause.
type StoreError struct {
	Path string
	Op   string // "open", "lock", "migrate", "create", "touch", ...
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// ConfigError represents an invalid or unreadable registry or env file
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error [%s]: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// AddressError represents an operator-supplied session reference that
// could not be parsed.
type AddressError struct {
	Input  string
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("bad address %q: %s", e.Input, e.Reason)
}

func (e *AddressError) Unwrap() error {
	return ErrBadAddress
}

// DispatchError is returned by the dispatcher for every failed execution.
// Kind is one of ErrTimedOut, ErrUnreachableHost or ErrNonZeroExit; Result
// holds whatever output was captured before the failure.
type DispatchError struct {
	Kind     error
	Target   string
	ExitCode int
	Result   *DispatchResult
	Err      error
}

func (e *DispatchError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrNonZeroExit):
		return fmt.Sprintf("dispatch [%s]: exit status %d", e.Target, e.ExitCode)
	case e.Err != nil:
		return fmt.Sprintf("dispatch [%s]: %v: %v", e.Target, e.Kind, e.Err)
	default:
		return fmt.Sprintf("dispatch [%s]: %v", e.Target, e.Kind)
	}
}

func (e *DispatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
