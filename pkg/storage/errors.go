package storage

import (
	"errors"
	"fmt"

	"github.com/speedrun-hq/intentmesh/pkg/metrics"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose id already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when an update carries an unknown status.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreFault is matched by transient I/O failures of the backing storage.
	ErrStoreFault = errors.New("store fault")
)

// FaultError wraps a backend failure of a store operation
type FaultError struct {
	Op  string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("store fault during %s: %v", e.Op, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// Is matches ErrStoreFault
func (e *FaultError) Is(target error) bool {
	return target == ErrStoreFault
}

// Fault wraps err as a FaultError for op and counts it
func Fault(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return &FaultError{Op: op, Err: err}
}
