package commands

import (
	"errors"

	"github.com/c360studio/semflow/runerr"
)

// ExitError carries a process exit code alongside the cause. Commands
// return it when the outcome is a run status rather than an error kind.
type ExitError struct {
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "exit"
}

// Unwrap exposes the cause.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error onto the process exit code: 0 for
// success, 2 for cancellation, 3 for validation and planning errors,
// 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return runerr.ExitCode(err)
}
