package tidy

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExecutableRequired is returned when no executable path was supplied.
	ErrExecutableRequired = errors.New("tidy executable path is required")
	// ErrExecutableNotFound is returned when no usable executable could be located.
	ErrExecutableNotFound = errors.New("tidy executable not found")
)

const (
	launchFailureFormat  = "launch %s: %v"
	timeoutFailureFormat = "tidy did not finish within %s"
	processFailureFormat = "tidy terminated abnormally with exit code %d"
)

// LaunchFailure reports that the executable could not be started.
type LaunchFailure struct {
	Executable string
	Err        error
}

func (failure *LaunchFailure) Error() string {
	return fmt.Sprintf(launchFailureFormat, failure.Executable, failure.Err)
}

// Unwrap exposes the operating system error.
func (failure *LaunchFailure) Unwrap() error {
	return failure.Err
}

// TimeoutFailure reports a process killed after exceeding its time budget.
type TimeoutFailure struct {
	Timeout time.Duration
	Err     error
}

func (failure *TimeoutFailure) Error() string {
	return fmt.Sprintf(timeoutFailureFormat, failure.Timeout)
}

// Unwrap exposes the context error.
func (failure *TimeoutFailure) Unwrap() error {
	return failure.Err
}

// ProcessFailure reports an exit code outside the 0/1/2 convention, including termination by signal.
type ProcessFailure struct {
	ExitCode    int
	Diagnostics string
}

func (failure *ProcessFailure) Error() string {
	return fmt.Sprintf(processFailureFormat, failure.ExitCode)
}
