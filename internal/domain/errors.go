package domain

import "errors"

// ErrStaleWrite means a conditional update's precondition no longer held
// at write time: a concurrent actor reached a terminal or more-advanced
// state first. Callers log and discard the write, never retry it.
var ErrStaleWrite = errors.New("stale write: record precondition no longer holds")

// ErrWorkflowNotFound is returned by the store when no record exists for
// the requested workflow ID.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ValidationError marks bad input: missing trigger fields at ingestion,
// or a structurally invalid payload at invocation. Non-retriable.
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Advisory is the result of a best-effort operation (recording a timer
// name, cancelling a superseded timer). Failure is logged by the caller
// and never propagated; the type makes the non-critical nature explicit.
type Advisory struct {
	Err error
}

func (a Advisory) Failed() bool {
	return a.Err != nil
}

func AdvisoryOK() Advisory {
	return Advisory{}
}

func AdvisoryFrom(err error) Advisory {
	return Advisory{Err: err}
}
