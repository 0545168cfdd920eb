package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the ledger, the manager and the API layer.
// Callers wrap these with fmt.Errorf("...: %w") and test with errors.Is.
var (
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotFound        = errors.New("not found")
	ErrNoCapacity      = errors.New("no node with sufficient capacity")
	ErrRuntimeFailure  = errors.New("runtime failure")
	ErrInvalidArgument = errors.New("invalid argument")
)

// NewInvalidArgument formats an ErrInvalidArgument with context
func NewInvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
