package cluster

import (
	"fmt"
	"time"
)

var (
	_ error = &ValidationError{}
	_ error = &ConnectivityError{}
	_ error = &RemoteCommandError{}
	_ error = &ResourceInsufficientError{}
	_ error = &TimeoutError{}
	_ error = &PersistenceError{}
)

// ValidationError means the spec was rejected before any host was touched
type ValidationError struct {
	m string
}

func (e *ValidationError) Error() string {
	return "invalid cluster spec: " + e.m
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{m: fmt.Sprintf(format, args...)}
}

// ConnectivityError means a host, or a port on it, could not be reached in time
type ConnectivityError struct {
	Host string
	Err  error
}

func (e *ConnectivityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("host %s unreachable", e.Host)
	}
	return fmt.Sprintf("host %s unreachable: %v", e.Host, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

func (e *ConnectivityError) Is(target error) bool {
	_, ok := target.(*ConnectivityError)
	return ok
}

// RemoteCommandError is a non-zero exit of a remote command
type RemoteCommandError struct {
	Host       string
	ExitStatus int
	Stderr     string
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("command on %s exited with status %d: %s", e.Host, e.ExitStatus, e.Stderr)
}

func (e *RemoteCommandError) Is(target error) bool {
	_, ok := target.(*RemoteCommandError)
	return ok
}

// ResourceInsufficientError means the inventory could not supply enough machines
type ResourceInsufficientError struct {
	Location  string
	Requested int
	Available int
}

func (e *ResourceInsufficientError) Error() string {
	return fmt.Sprintf("only %d/%d free machines available in %s", e.Available, e.Requested, e.Location)
}

func (e *ResourceInsufficientError) Is(target error) bool {
	_, ok := target.(*ResourceInsufficientError)
	return ok
}

// TimeoutError means an operation exceeded its ceiling
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// PersistenceError is a failed status write. It is logged, never fatal.
type PersistenceError struct {
	ClusterID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist status of cluster %s: %v", e.ClusterID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	_, ok := target.(*PersistenceError)
	return ok
}
