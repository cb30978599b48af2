package tidy

import (
	"fmt"
	"strings"
)

// Exit codes reported by tidy.
const (
	ExitCodeClean   = 0
	ExitCodeWarning = 1
	ExitCodeError   = 2
)

// SuccessSentinel is printed on stderr when the input had no issues.
const SuccessSentinel = "No warnings or errors were found."

// Status summarizes a classified result.
type Status string

const (
	StatusClean   Status = "clean"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Result is the outcome of one tidy invocation.
type Result struct {
	Output      string
	Diagnostics string
	ExitCode    int
	IsWarning   bool
	IsError     bool
}

// Classification is the meaning of an exit code.
type Classification struct {
	IsWarning bool
	IsError   bool
}

// Classify maps an exit code onto the 0/1/2 convention.
// Codes outside that range are reported as a ProcessFailure.
func Classify(exitCode int) (Classification, error) {
	switch exitCode {
	case ExitCodeClean:
		return Classification{}, nil
	case ExitCodeWarning:
		return Classification{IsWarning: true}, nil
	case ExitCodeError:
		return Classification{IsError: true}, nil
	default:
		return Classification{}, &ProcessFailure{ExitCode: exitCode}
	}
}

// NewResult builds a classified Result.
func NewResult(output string, diagnostics string, exitCode int) (Result, error) {
	classification, classifyErr := Classify(exitCode)
	if classifyErr != nil {
		return Result{}, &ProcessFailure{ExitCode: exitCode, Diagnostics: diagnostics}
	}
	return Result{
		Output:      output,
		Diagnostics: diagnostics,
		ExitCode:    exitCode,
		IsWarning:   classification.IsWarning,
		IsError:     classification.IsError,
	}, nil
}

// Status reports the result as clean, warning or error.
func (result Result) Status() Status {
	switch {
	case result.IsError:
		return StatusError
	case result.IsWarning:
		return StatusWarning
	default:
		return StatusClean
	}
}

// HasDiagnostics reports whether stderr carried anything beyond the success sentinel.
func (result Result) HasDiagnostics() bool {
	return !IsInformational(result.Diagnostics)
}

// IsInformational reports whether diagnostics are empty or only the success sentinel.
func IsInformational(diagnostics string) bool {
	trimmed := strings.TrimSpace(diagnostics)
	if trimmed == "" {
		return true
	}
	return strings.TrimSpace(strings.Replace(trimmed, SuccessSentinel, "", 1)) == ""
}

// Summary returns the first diagnostic line, suitable for a status message.
func (result Result) Summary() string {
	for _, line := range strings.Split(result.Diagnostics, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return fmt.Sprintf("tidy exited with code %d", result.ExitCode)
}
