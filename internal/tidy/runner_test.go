package tidy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/temirov/htmltidy/internal/options"
)

const fakeTidyModeVariable = "HTMLTIDY_FAKE_TIDY"

// TestMain lets the test binary stand in for the tidy executable.
func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeTidyModeVariable); mode != "" {
		os.Exit(runFakeTidy(mode))
	}
	os.Exit(m.Run())
}

func runFakeTidy(mode string) int {
	switch mode {
	case "echo":
		_, _ = io.Copy(os.Stdout, os.Stdin)
		return ExitCodeClean
	case "sentinel":
		_, _ = io.Copy(os.Stdout, os.Stdin)
		fmt.Fprintln(os.Stderr, SuccessSentinel)
		return ExitCodeClean
	case "warn":
		_, _ = io.Copy(os.Stdout, os.Stdin)
		fmt.Fprintln(os.Stderr, "line 1 column 1 - Warning: missing <!DOCTYPE> declaration")
		return ExitCodeWarning
	case "error":
		_, _ = io.Copy(io.Discard, os.Stdin)
		fmt.Fprintln(os.Stderr, "line 2 column 3 - Error: <foo> is not recognized!")
		return ExitCodeError
	case "args":
		_, _ = io.Copy(io.Discard, os.Stdin)
		fmt.Fprint(os.Stdout, strings.Join(os.Args[1:], "\n"))
		return ExitCodeClean
	case "noread":
		return ExitCodeClean
	case "crash":
		_, _ = io.Copy(io.Discard, os.Stdin)
		return 3
	case "hang":
		time.Sleep(time.Minute)
		return ExitCodeClean
	default:
		return 99
	}
}

func newFakeRunner(t *testing.T, mode string, runnerOptions ...RunnerOption) *Runner {
	t.Helper()
	executablePath, executableErr := os.Executable()
	if executableErr != nil {
		t.Fatalf("resolve test executable: %v", executableErr)
	}
	environment := append(os.Environ(), fakeTidyModeVariable+"="+mode)
	runnerOptions = append([]RunnerOption{WithEnvironment(environment)}, runnerOptions...)
	runner, runnerErr := NewRunner(executablePath, runnerOptions...)
	if runnerErr != nil {
		t.Fatalf("NewRunner error: %v", runnerErr)
	}
	return runner
}

func TestRunEchoesInput(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner(t, "echo")
	result, err := runner.Run(context.Background(), options.NewSet(), "<p>x</p>")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Output != "<p>x</p>" {
		t.Fatalf("expected echoed output, got %q", result.Output)
	}
	if result.IsError || result.IsWarning {
		t.Fatalf("expected clean result, got %+v", result)
	}
	if result.Status() != StatusClean || result.HasDiagnostics() {
		t.Fatalf("unexpected status %s diagnostics %q", result.Status(), result.Diagnostics)
	}
}

func TestRunClassifiesExitCodes(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		mode             string
		expectedStatus   Status
		expectedExitCode int
		expectedMessages int
	}{
		{mode: "sentinel", expectedStatus: StatusClean, expectedExitCode: 0, expectedMessages: 0},
		{mode: "warn", expectedStatus: StatusWarning, expectedExitCode: 1, expectedMessages: 1},
		{mode: "error", expectedStatus: StatusError, expectedExitCode: 2, expectedMessages: 1},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.mode, func(t *testing.T) {
			t.Parallel()
			result, err := newFakeRunner(t, testCase.mode).Run(context.Background(), options.NewSet(), "<foo>")
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if result.Status() != testCase.expectedStatus || result.ExitCode != testCase.expectedExitCode {
				t.Fatalf("expected %s/%d, got %s/%d", testCase.expectedStatus, testCase.expectedExitCode, result.Status(), result.ExitCode)
			}
			if messages := ParseDiagnostics(result.Diagnostics); len(messages) != testCase.expectedMessages {
				t.Fatalf("expected %d messages, got %v", testCase.expectedMessages, messages)
			}
			if testCase.mode == "sentinel" && result.HasDiagnostics() {
				t.Fatalf("sentinel should be informational: %q", result.Diagnostics)
			}
		})
	}
}

func TestRunForcesFixedOptionsLast(t *testing.T) {
	t.Parallel()
	callerOptions := options.NewSet()
	callerOptions.Put("quiet", options.Bool(true))
	callerOptions.Put("wrap", options.Int(80))
	callerOptions.Put("tidy-mark", options.Bool(true))

	result, err := newFakeRunner(t, "args").Run(context.Background(), callerOptions, "")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	expected := strings.Join([]string{"--wrap", "80", "--tidy-mark", "no", "--force-output", "yes", "--quiet", "no"}, "\n")
	if result.Output != expected {
		t.Fatalf("expected arguments\n%s\ngot\n%s", expected, result.Output)
	}
	if callerOptions.Len() != 3 {
		t.Fatalf("caller options mutated: %v", callerOptions.Keys())
	}
}

func TestRunReportsProcessFailure(t *testing.T) {
	t.Parallel()
	_, err := newFakeRunner(t, "crash").Run(context.Background(), options.NewSet(), "<p>")
	var failure *ProcessFailure
	if !errors.As(err, &failure) || failure.ExitCode != 3 {
		t.Fatalf("expected ProcessFailure with exit code 3, got %v", err)
	}
}

func TestRunToleratesUnreadInput(t *testing.T) {
	t.Parallel()
	largeInput := strings.Repeat("<p>unread</p>\n", 1<<16)
	result, err := newFakeRunner(t, "noread").Run(context.Background(), options.NewSet(), largeInput)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Output != "" || result.Status() != StatusClean {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunReportsLaunchFailure(t *testing.T) {
	t.Parallel()
	missing := t.TempDir() + "/missing-tidy"
	runner, runnerErr := NewRunner(missing)
	if runnerErr != nil {
		t.Fatalf("NewRunner error: %v", runnerErr)
	}
	_, err := runner.Run(context.Background(), options.NewSet(), "<p>")
	var failure *LaunchFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected LaunchFailure, got %v", err)
	}
	if failure.Executable != missing || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unexpected launch failure %v", failure)
	}
}

func TestRunTimesOut(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner(t, "hang", WithTimeout(200*time.Millisecond))
	startedAt := time.Now()
	_, err := runner.Run(context.Background(), options.NewSet(), "<p>")
	var failure *TimeoutFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected TimeoutFailure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded cause, got %v", err)
	}
	if elapsed := time.Since(startedAt); elapsed > 10*time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := newFakeRunner(t, "hang").Run(ctx, options.NewSet(), "<p>")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	var failure *TimeoutFailure
	if errors.As(err, &failure) {
		t.Fatalf("cancellation must not be reported as timeout")
	}
}

func TestRunFailsFastOnUnsupportedOption(t *testing.T) {
	t.Parallel()
	callerOptions := options.NewSet()
	callerOptions.Put("newBlocklevelTags", options.Unsupported("array"))
	_, err := newFakeRunner(t, "echo").Run(context.Background(), callerOptions, "<p>")
	var fault *options.SerializationFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected SerializationFault, got %v", err)
	}
}

func TestDiagnoseRaisesVerbosity(t *testing.T) {
	t.Parallel()
	callerOptions := options.NewSet()
	callerOptions.Put("show-errors", options.Int(2))
	runner := newFakeRunner(t, "error")
	diagnostics, err := runner.Diagnose(context.Background(), callerOptions, "<foo>")
	if err != nil {
		t.Fatalf("Diagnose error: %v", err)
	}
	if !strings.Contains(diagnostics, "Error: <foo> is not recognized!") {
		t.Fatalf("unexpected diagnostics %q", diagnostics)
	}

	arguments, argumentsErr := runner.Arguments(callerOptions)
	if argumentsErr != nil {
		t.Fatalf("Arguments error: %v", argumentsErr)
	}
	if arguments[0] != "--show-errors" || arguments[1] != "2" {
		t.Fatalf("Arguments must not include diagnostic verbosity: %q", arguments)
	}
}

func TestNewRunnerRequiresExecutable(t *testing.T) {
	t.Parallel()
	if _, err := NewRunner("   "); !errors.Is(err, ErrExecutableRequired) {
		t.Fatalf("expected ErrExecutableRequired, got %v", err)
	}
}
