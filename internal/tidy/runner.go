// Package tidy runs the HTML Tidy executable and classifies its results.
package tidy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/htmltidy/internal/options"
)

const (
	// DefaultTimeout bounds a single tidy invocation.
	DefaultTimeout = 30 * time.Second
	// DiagnosticShowErrors is the verbosity used when collecting lint diagnostics.
	DiagnosticShowErrors = 10

	tidyMarkKey    = "tidyMark"
	forceOutputKey = "forceOutput"
	quietKey       = "quiet"
	showErrorsKey  = "showErrors"

	processWaitDelay = time.Second

	errorStdinPipeFormat  = "open tidy stdin: %w"
	errorStdoutPipeFormat = "open tidy stdout: %w"
	errorStderrPipeFormat = "open tidy stderr: %w"
	errorWriteInputFormat = "write tidy input: %w"
	errorReadOutputFormat = "read tidy output: %w"
	errorReadErrorsFormat = "read tidy diagnostics: %w"
	errorWaitFormat       = "wait for tidy: %w"
	errorCanceledFormat   = "tidy run canceled: %w"
)

// Runner executes tidy once per call. A Runner holds no per-request state and is safe for concurrent use.
type Runner struct {
	executablePath string
	timeout        time.Duration
	environment    []string
	logger         *zap.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithTimeout bounds each invocation. A non-positive duration disables the bound.
func WithTimeout(timeout time.Duration) RunnerOption {
	return func(runner *Runner) {
		runner.timeout = timeout
	}
}

// WithLogger attaches a logger for invocation traces.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(runner *Runner) {
		if logger != nil {
			runner.logger = logger
		}
	}
}

// WithEnvironment replaces the environment of the spawned process.
func WithEnvironment(environment []string) RunnerOption {
	return func(runner *Runner) {
		runner.environment = append([]string(nil), environment...)
	}
}

// NewRunner constructs a Runner for the executable at executablePath.
func NewRunner(executablePath string, runnerOptions ...RunnerOption) (*Runner, error) {
	trimmedPath := strings.TrimSpace(executablePath)
	if trimmedPath == "" {
		return nil, ErrExecutableRequired
	}
	runner := &Runner{
		executablePath: trimmedPath,
		timeout:        DefaultTimeout,
		logger:         zap.NewNop(),
	}
	for _, option := range runnerOptions {
		option(runner)
	}
	return runner, nil
}

// Executable returns the path the runner spawns.
func (runner *Runner) Executable() string {
	return runner.executablePath
}

// Arguments returns the command line for optionSet with the fixed output options applied last.
func (runner *Runner) Arguments(optionSet *options.Set) ([]string, error) {
	invocationOptions := optionSet.Clone()
	invocationOptions.Force(tidyMarkKey, options.Bool(false))
	invocationOptions.Force(forceOutputKey, options.Bool(true))
	invocationOptions.Force(quietKey, options.Bool(false))
	return options.Serialize(invocationOptions)
}

// Run formats input with tidy and returns the classified result once the process exits.
// Exit codes 1 and 2 are reported through the Result; spawn failures, timeouts,
// cancellation and abnormal exit codes are returned as errors.
func (runner *Runner) Run(ctx context.Context, optionSet *options.Set, input string) (Result, error) {
	arguments, argumentsErr := runner.Arguments(optionSet)
	if argumentsErr != nil {
		return Result{}, argumentsErr
	}

	runContext := ctx
	cancel := func() {}
	if runner.timeout > 0 {
		runContext, cancel = context.WithTimeout(ctx, runner.timeout)
	}
	defer cancel()

	// #nosec G204
	command := exec.CommandContext(runContext, runner.executablePath, arguments...)
	command.WaitDelay = processWaitDelay
	if runner.environment != nil {
		command.Env = runner.environment
	}

	stdinPipe, stdinErr := command.StdinPipe()
	if stdinErr != nil {
		return Result{}, fmt.Errorf(errorStdinPipeFormat, stdinErr)
	}
	stdoutPipe, stdoutErr := command.StdoutPipe()
	if stdoutErr != nil {
		return Result{}, fmt.Errorf(errorStdoutPipeFormat, stdoutErr)
	}
	stderrPipe, stderrErr := command.StderrPipe()
	if stderrErr != nil {
		return Result{}, fmt.Errorf(errorStderrPipeFormat, stderrErr)
	}

	startedAt := time.Now()
	if startErr := command.Start(); startErr != nil {
		return Result{}, &LaunchFailure{Executable: runner.executablePath, Err: startErr}
	}

	var outputBuffer bytes.Buffer
	var diagnosticBuffer bytes.Buffer
	var streams errgroup.Group
	streams.Go(func() error {
		_, writeErr := io.WriteString(stdinPipe, input)
		closeErr := stdinPipe.Close()
		if writeErr != nil && !isClosedPipe(writeErr) {
			return fmt.Errorf(errorWriteInputFormat, writeErr)
		}
		if closeErr != nil && !isClosedPipe(closeErr) {
			return fmt.Errorf(errorWriteInputFormat, closeErr)
		}
		return nil
	})
	streams.Go(func() error {
		if _, readErr := io.Copy(&outputBuffer, stdoutPipe); readErr != nil && !isClosedPipe(readErr) {
			return fmt.Errorf(errorReadOutputFormat, readErr)
		}
		return nil
	})
	streams.Go(func() error {
		if _, readErr := io.Copy(&diagnosticBuffer, stderrPipe); readErr != nil && !isClosedPipe(readErr) {
			return fmt.Errorf(errorReadErrorsFormat, readErr)
		}
		return nil
	})
	streamErr := streams.Wait()
	waitErr := command.Wait()
	elapsed := time.Since(startedAt)

	if contextErr := runContext.Err(); contextErr != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf(errorCanceledFormat, ctx.Err())
		}
		return Result{}, &TimeoutFailure{Timeout: runner.timeout, Err: contextErr}
	}

	exitCode := 0
	if waitErr != nil {
		var exitError *exec.ExitError
		if !errors.As(waitErr, &exitError) {
			return Result{}, fmt.Errorf(errorWaitFormat, waitErr)
		}
		exitCode = exitError.ExitCode()
	}
	if streamErr != nil {
		return Result{}, streamErr
	}

	runner.logger.Debug("tidy finished",
		zap.String("executable", runner.executablePath),
		zap.Strings("arguments", arguments),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", elapsed),
	)

	return NewResult(outputBuffer.String(), diagnosticBuffer.String(), exitCode)
}

// Diagnose runs tidy with maximal error reporting and returns only the diagnostic text.
func (runner *Runner) Diagnose(ctx context.Context, optionSet *options.Set, input string) (string, error) {
	diagnosticOptions := optionSet.Clone()
	diagnosticOptions.Force(showErrorsKey, options.Int(DiagnosticShowErrors))
	result, runErr := runner.Run(ctx, diagnosticOptions, input)
	if runErr != nil {
		return "", runErr
	}
	return result.Diagnostics, nil
}

func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
