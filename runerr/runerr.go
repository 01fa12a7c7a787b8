// Package runerr defines the stable error taxonomy shared by all
// orchestration components. Every failure mode maps to exactly one Kind;
// the kind strings appear verbatim in audit log events, step results, and
// run summaries, so they must never change.
package runerr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure mode. The string values are part of the
// on-disk audit log format.
type Kind string

// Stable error kinds.
const (
	KindSchemaValidation Kind = "SchemaValidationError"
	KindPlan             Kind = "PlanError"
	KindNoAdapter        Kind = "NoAdapterAvailable"
	KindBudgetExhausted  Kind = "BudgetExhausted"
	KindMissingArtifact  Kind = "MissingEmittedArtifact"
	KindGateFailed       Kind = "GateFailed"
	KindAdapterTransient Kind = "AdapterTransient"
	KindAdapterPermanent Kind = "AdapterPermanent"
	KindTimeout          Kind = "Timeout"
	KindCancelled        Kind = "Cancelled"
	KindInternal         Kind = "InternalError"
)

// IsValid reports whether k is one of the stable kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindSchemaValidation, KindPlan, KindNoAdapter, KindBudgetExhausted,
		KindMissingArtifact, KindGateFailed, KindAdapterTransient,
		KindAdapterPermanent, KindTimeout, KindCancelled, KindInternal:
		return true
	}
	return false
}

// String returns the stable string form of the kind.
func (k Kind) String() string {
	return string(k)
}

// Retryable reports whether a failure of this kind may be retried per
// policy. Timeout is retryable at most once; the executor enforces the cap.
func (k Kind) Retryable() bool {
	switch k {
	case KindAdapterTransient, KindTimeout:
		return true
	}
	return false
}

// Error is the orchestration error type. It carries the stable kind, the
// step it occurred on (empty for run-level errors), and an optional cause.
type Error struct {
	Kind    Kind
	StepID  string
	Message string
	err     error
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping a cause. The cause's text is preserved
// through Unwrap; message describes the orchestration context.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

// ForStep returns a copy of e attributed to the given step ID.
func (e *Error) ForStep(stepID string) *Error {
	clone := *e
	clone.StepID = stepID
	return &clone
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.err != nil:
		return string(e.Kind) + ": " + e.Message + ": " + e.err.Error()
	case e.Message != "":
		return string(e.Kind) + ": " + e.Message
	case e.err != nil:
		return string(e.Kind) + ": " + e.err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Retryable reports whether the error may be retried per policy.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf extracts the Kind from err. Unclassified errors map to
// KindInternal; nil maps to the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == kind
}

// IsRetryable reports whether err may be retried per policy.
func IsRetryable(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Retryable()
}

// Exit status values for CLI consumers.
const (
	ExitSucceeded = 0
	ExitFailed    = 1
	ExitAborted   = 2
	ExitPlanning  = 3
)

// ExitCode maps an error to the CLI exit status. A nil error maps to
// ExitSucceeded.
func ExitCode(err error) int {
	if err == nil {
		return ExitSucceeded
	}
	switch KindOf(err) {
	case KindSchemaValidation, KindPlan:
		return ExitPlanning
	case KindCancelled:
		return ExitAborted
	default:
		return ExitFailed
	}
}
