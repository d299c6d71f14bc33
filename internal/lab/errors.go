package lab

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown or already-deleted lab IDs
	ErrNotFound = errors.New("lab not found")
	// ErrInvalidRequest is returned for malformed creation requests,
	// rejected before the registry is touched
	ErrInvalidRequest = errors.New("invalid lab request")
	// ErrCapacity is returned when the active-lab ceiling is reached
	ErrCapacity = errors.New("active lab capacity reached")
)

// RuntimeError wraps a container engine failure so callers can distinguish
// engine trouble from validation or capacity problems
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("container runtime %s failed: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
