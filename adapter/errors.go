package adapter

import (
	"errors"
)

// Error classification for adapter failures. The executor maps these onto
// the stable run error kinds: transient failures retry per policy,
// permanent failures mark the step failed, budget failures surface to the
// executor to drain the run.

// TransientError wraps a temporary failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransient wraps an error as transient (retryable).
func NewTransient(err error) error {
	return &TransientError{err: err}
}

// PermanentError wraps a failure that will not succeed on retry.
type PermanentError struct {
	err error
}

func (e *PermanentError) Error() string {
	return e.err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.err
}

// NewPermanent wraps an error as permanent (non-retryable).
func NewPermanent(err error) error {
	return &PermanentError{err: err}
}

// BudgetError wraps a failure caused by exhausting the adapter's own
// spend allowance mid-invocation.
type BudgetError struct {
	err error
}

func (e *BudgetError) Error() string {
	return e.err.Error()
}

func (e *BudgetError) Unwrap() error {
	return e.err
}

// NewBudget wraps an error as a budget failure.
func NewBudget(err error) error {
	return &BudgetError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsPermanent returns true if the error is permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// IsBudget returns true if the error is a budget failure.
func IsBudget(err error) bool {
	var budget *BudgetError
	return errors.As(err, &budget)
}
