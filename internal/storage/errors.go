package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Fetch when no row exists for the URL. It is a
// lookup outcome, not a store failure.
var ErrNotFound = errors.New("visitor not found")

// StoreError wraps a failure reported by the database while running Op.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
