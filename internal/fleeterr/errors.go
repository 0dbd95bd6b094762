// Package fleeterr holds the error taxonomy shared by the lifecycle core.
package fleeterr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// InvalidDateError reports a malformed or missing date.
type InvalidDateError struct {
	Value string
	Err   error
}

func (e *InvalidDateError) Error() string {
	if e.Value == "" {
		return "invalid date: missing value"
	}
	return fmt.Sprintf("invalid date %q", e.Value)
}

func (e *InvalidDateError) Unwrap() error { return e.Err }

// NoWorkflowError is returned when a vehicle has no validation workflow to work from.
type NoWorkflowError struct {
	VehicleID string
}

func (e *NoWorkflowError) Error() string {
	return fmt.Sprintf("vehicle %s has no validation workflow", e.VehicleID)
}

// TransientError wraps an I/O failure. The operation did not take effect and may be retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IllegalTransitionError is returned when an entry point is invoked from a stage
// that does not permit it.
type IllegalTransitionError struct {
	VehicleID string
	Event     string
	State     string
	Reason    string
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("vehicle %s: %s not allowed from %s", e.VehicleID, e.Event, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// InconsistentStateError is detected when status and validation_requise disagree on read.
type InconsistentStateError struct {
	VehicleID         string
	Status            string
	ValidationRequise bool
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("vehicle %s: status %s inconsistent with validation_requise=%t",
		e.VehicleID, e.Status, e.ValidationRequise)
}

// Transient wraps err as a TransientError unless it is nil or already transient.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsIllegalTransition reports whether err is (or wraps) an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var it *IllegalTransitionError
	return errors.As(err, &it)
}

// IsNoWorkflow reports whether err is (or wraps) a NoWorkflowError.
func IsNoWorkflow(err error) bool {
	var nw *NoWorkflowError
	return errors.As(err, &nw)
}
