package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/temirov/htmltidy/internal/config"
	"github.com/temirov/htmltidy/internal/formatter"
	"github.com/temirov/htmltidy/internal/options"
	"github.com/temirov/htmltidy/internal/services/server"
	"github.com/temirov/htmltidy/internal/tidy"
	"github.com/temirov/htmltidy/internal/utils"
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
	input, _ := io.ReadAll(os.Stdin)
	switch mode {
	case "echo":
		_, _ = os.Stdout.Write(input)
		return tidy.ExitCodeClean
	case "upper":
		_, _ = os.Stdout.Write(bytes.ToUpper(input))
		return tidy.ExitCodeClean
	case "warn":
		_, _ = os.Stdout.Write(input)
		fmt.Fprintln(os.Stderr, "line 1 column 1 - Warning: missing <!DOCTYPE> declaration")
		return tidy.ExitCodeWarning
	case "error":
		fmt.Fprintln(os.Stderr, "line 2 column 3 - Error: <foo> is not recognized!")
		return tidy.ExitCodeError
	default:
		return 99
	}
}

// prepareWorkspace isolates configuration lookup and selects the fake tidy behaviour.
func prepareWorkspace(t *testing.T, mode string) string {
	t.Helper()
	workspace := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(fakeTidyModeVariable, mode)
	previousDirectory, getwdErr := os.Getwd()
	if getwdErr != nil {
		t.Fatalf("getwd: %v", getwdErr)
	}
	if chdirErr := os.Chdir(workspace); chdirErr != nil {
		t.Fatalf("chdir: %v", chdirErr)
	}
	t.Cleanup(func() { _ = os.Chdir(previousDirectory) })
	return workspace
}

func testExecutable(t *testing.T) string {
	t.Helper()
	executablePath, executableErr := os.Executable()
	if executableErr != nil {
		t.Fatalf("resolve test executable: %v", executableErr)
	}
	return executablePath
}

func runCommand(t *testing.T, stdin string, arguments ...string) (string, error) {
	t.Helper()
	rootCommand := createRootCommand(zap.NewNop(), zap.NewAtomicLevel())
	var output bytes.Buffer
	rootCommand.SetOut(&output)
	rootCommand.SetErr(io.Discard)
	rootCommand.SetIn(strings.NewReader(stdin))
	arguments = append(arguments, "--"+tidyPathFlagName, testExecutable(t))
	rootCommand.SetArgs(normalizeBooleanFlagArguments(rootCommand, arguments))
	executeErr := rootCommand.ExecuteContext(context.Background())
	return output.String(), executeErr
}

func writeDocument(t *testing.T, path string, content string) {
	t.Helper()
	if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
		t.Fatalf("mkdir: %v", mkdirErr)
	}
	if writeErr := os.WriteFile(path, []byte(content), 0o644); writeErr != nil {
		t.Fatalf("write %s: %v", path, writeErr)
	}
}

func readDocument(t *testing.T, path string) string {
	t.Helper()
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("read %s: %v", path, readErr)
	}
	return string(content)
}

func TestFormatStandardInput(t *testing.T) {
	prepareWorkspace(t, "upper")
	output, err := runCommand(t, "<p>hello</p>", "format")
	if err != nil {
		t.Fatalf("format error: %v", err)
	}
	if output != "<P>HELLO</P>" {
		t.Fatalf("unexpected output %q", output)
	}
}

func TestFormatWithholdsOutputOnError(t *testing.T) {
	prepareWorkspace(t, "error")
	output, err := runCommand(t, "<foo>", "format")
	if err == nil {
		t.Fatalf("expected failure for tidy errors")
	}
	if !strings.Contains(err.Error(), "1 of 1 documents not formatted") {
		t.Fatalf("unexpected error %v", err)
	}
	if output != "" {
		t.Fatalf("expected no output, got %q", output)
	}
}

func TestFormatStopOnWarning(t *testing.T) {
	testCases := []struct {
		name          string
		arguments     []string
		expectFailure bool
	}{
		{name: "warnings_applied_by_default", arguments: []string{"format"}},
		{name: "warnings_block_with_flag", arguments: []string{"format", "--stop-on-warning"}, expectFailure: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			prepareWorkspace(t, "warn")
			output, err := runCommand(t, "<p>x</p>", testCase.arguments...)
			if testCase.expectFailure {
				if err == nil || output != "" {
					t.Fatalf("expected withheld output, got %q (%v)", output, err)
				}
				return
			}
			if err != nil || output != "<p>x</p>" {
				t.Fatalf("expected applied output, got %q (%v)", output, err)
			}
		})
	}
}

func TestFormatWritesDirectory(t *testing.T) {
	workspace := prepareWorkspace(t, "upper")
	writeDocument(t, filepath.Join(workspace, "site", "index.html"), "<p>index</p>")
	writeDocument(t, filepath.Join(workspace, "site", "nested", "about.html"), "<p>about</p>")
	writeDocument(t, filepath.Join(workspace, "site", "notes.txt"), "<p>notes</p>")
	writeDocument(t, filepath.Join(workspace, "site", ".cache", "hidden.html"), "<p>hidden</p>")

	if _, err := runCommand(t, "", "format", "--write", "site"); err != nil {
		t.Fatalf("format error: %v", err)
	}
	expectations := map[string]string{
		filepath.Join(workspace, "site", "index.html"):            "<P>INDEX</P>",
		filepath.Join(workspace, "site", "nested", "about.html"):  "<P>ABOUT</P>",
		filepath.Join(workspace, "site", "notes.txt"):             "<p>notes</p>",
		filepath.Join(workspace, "site", ".cache", "hidden.html"): "<p>hidden</p>",
	}
	for path, expected := range expectations {
		if actual := readDocument(t, path); actual != expected {
			t.Fatalf("%s: expected %q, got %q", path, expected, actual)
		}
	}
}

func TestFormatMultipleDocumentsRequiresWrite(t *testing.T) {
	workspace := prepareWorkspace(t, "echo")
	writeDocument(t, filepath.Join(workspace, "a.html"), "<p>a</p>")
	writeDocument(t, filepath.Join(workspace, "b.html"), "<p>b</p>")
	_, err := runCommand(t, "", "format", "a.html", "b.html")
	if err == nil || !strings.Contains(err.Error(), "requires --write") {
		t.Fatalf("expected --write requirement, got %v", err)
	}
}

func TestFormatPrintArgumentsUsesOverrideFile(t *testing.T) {
	workspace := prepareWorkspace(t, "echo")
	writeDocument(t, filepath.Join(workspace, "pages", "card.html"), "<my-card>hi</my-card>")
	writeDocument(t, filepath.Join(workspace, "pages", ".htmlTidy"), `{"indent": false, "wrap": 80}`)

	output, err := runCommand(t, "", "format", "--print-args", "pages/card.html")
	if err != nil {
		t.Fatalf("format error: %v", err)
	}
	expectedFragments := []string{
		testExecutable(t) + " --indent no --wrap 80",
		"--new-blocklevel-tags my-card",
		"--show-body-only yes",
		"--tidy-mark no",
		"--force-output yes",
	}
	for _, fragment := range expectedFragments {
		if !strings.Contains(output, fragment) {
			t.Fatalf("expected %q in %q", fragment, output)
		}
	}
	if strings.Contains(output, "--indent-spaces") {
		t.Fatalf("override file should replace the configured options: %q", output)
	}
	overrideLine := "# options from " + filepath.Join(workspace, "pages", ".htmlTidy") + "\n"
	if !strings.HasPrefix(output, overrideLine) {
		t.Fatalf("expected override source line %q, got %q", overrideLine, output)
	}
}

func TestFormatPrintArgumentsWithoutOverrideFile(t *testing.T) {
	workspace := prepareWorkspace(t, "echo")
	writeDocument(t, filepath.Join(workspace, "card.html"), "<p>hi</p>")

	output, err := runCommand(t, "", "format", "--print-args", "card.html")
	if err != nil {
		t.Fatalf("format error: %v", err)
	}
	if strings.Contains(output, "# options from") {
		t.Fatalf("unexpected override source in %q", output)
	}
	if !strings.HasPrefix(output, testExecutable(t)+" --indent yes") {
		t.Fatalf("expected configured options, got %q", output)
	}
}

func TestRootCommandSetsLogLevel(t *testing.T) {
	testCases := []struct {
		name          string
		arguments     []string
		expectedLevel zapcore.Level
		expectFailure bool
	}{
		{name: "default_info", arguments: []string{"format"}, expectedLevel: zapcore.InfoLevel},
		{name: "debug", arguments: []string{"format", "--log-level", "debug"}, expectedLevel: zapcore.DebugLevel},
		{name: "error", arguments: []string{"--log-level=error", "format"}, expectedLevel: zapcore.ErrorLevel},
		{name: "invalid", arguments: []string{"format", "--log-level", "chatty"}, expectFailure: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			prepareWorkspace(t, "echo")
			logLevel := zap.NewAtomicLevelAt(zapcore.WarnLevel)
			rootCommand := createRootCommand(zap.NewNop(), logLevel)
			rootCommand.SetOut(io.Discard)
			rootCommand.SetErr(io.Discard)
			rootCommand.SetIn(strings.NewReader("<p>x</p>"))
			rootCommand.SetArgs(append(testCase.arguments, "--"+tidyPathFlagName, testExecutable(t)))
			executeErr := rootCommand.ExecuteContext(context.Background())
			if testCase.expectFailure {
				if executeErr == nil || !strings.Contains(executeErr.Error(), "invalid --log-level") {
					t.Fatalf("expected log level error, got %v", executeErr)
				}
				return
			}
			if executeErr != nil {
				t.Fatalf("execute error: %v", executeErr)
			}
			if logLevel.Level() != testCase.expectedLevel {
				t.Fatalf("expected level %s, got %s", testCase.expectedLevel, logLevel.Level())
			}
		})
	}
}

func TestLintReportsMessages(t *testing.T) {
	testCases := []struct {
		name           string
		mode           string
		expectedOutput string
		expectFailure  bool
	}{
		{
			name:           "warnings_do_not_fail",
			mode:           "warn",
			expectedOutput: "<stdin>:1:1: Warning: missing <!DOCTYPE> declaration\n",
		},
		{
			name:           "errors_fail",
			mode:           "error",
			expectedOutput: "<stdin>:2:3: Error: <foo> is not recognized!\n",
			expectFailure:  true,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			prepareWorkspace(t, testCase.mode)
			output, err := runCommand(t, "<foo>", "lint")
			if output != testCase.expectedOutput {
				t.Fatalf("expected %q, got %q", testCase.expectedOutput, output)
			}
			if testCase.expectFailure != (err != nil) {
				t.Fatalf("unexpected error state: %v", err)
			}
		})
	}
}

func TestInitWritesConfiguration(t *testing.T) {
	workspace := prepareWorkspace(t, "echo")
	output, err := runCommand(t, "", "init")
	if err != nil {
		t.Fatalf("init error: %v", err)
	}
	configurationPath := filepath.Join(workspace, utils.ConfigFileName)
	if !strings.Contains(output, configurationPath) {
		t.Fatalf("expected written path in %q", output)
	}
	if _, err := runCommand(t, "", "init"); err == nil {
		t.Fatalf("expected existing configuration to be kept")
	}
	if _, err := runCommand(t, "", "init", "--force"); err != nil {
		t.Fatalf("init --force error: %v", err)
	}
	settings, loadErr := config.LoadSettings(config.LoadOptions{WorkingDirectory: workspace, IgnoreEnvironment: true})
	if loadErr != nil {
		t.Fatalf("load initialized configuration: %v", loadErr)
	}
	if len(settings.Sources) != 1 || settings.Sources[0] != configurationPath {
		t.Fatalf("unexpected sources %v", settings.Sources)
	}
}

func newTestPipeline(t *testing.T, workspace string) *pipeline {
	t.Helper()
	settings := config.DefaultSettings()
	settings.TidyExecutablePath = testExecutable(t)
	settings.WorkspaceRoot = workspace
	activePipeline, pipelineErr := newPipeline(settings, zap.NewNop())
	if pipelineErr != nil {
		t.Fatalf("newPipeline error: %v", pipelineErr)
	}
	return activePipeline
}

func TestServerExecutors(t *testing.T) {
	workspace := prepareWorkspace(t, "upper")
	activePipeline := newTestPipeline(t, workspace)
	handler := server.NewServer(server.Config{
		Capabilities: serverCapabilities(),
		Executors:    serverExecutors(activePipeline.service),
	}).Handler()

	testCases := []struct {
		name           string
		command        string
		body           string
		expectedStatus int
		expectedOutput string
	}{
		{name: "format", command: commandFormat, body: `{"text":"<p>hi</p>"}`, expectedStatus: http.StatusOK, expectedOutput: "<P>HI</P>"},
		{name: "lint", command: commandLint, body: `{"text":"<p>hi</p>"}`, expectedStatus: http.StatusOK},
		{name: "malformed", command: commandFormat, body: `{"text":`, expectedStatus: http.StatusBadRequest},
		{name: "unknown_field", command: commandLint, body: `{"content":"<p>"}`, expectedStatus: http.StatusBadRequest},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodPost, "/commands/"+testCase.command, strings.NewReader(testCase.body))
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)
			if recorder.Code != testCase.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", testCase.expectedStatus, recorder.Code, recorder.Body.String())
			}
			if testCase.expectedStatus != http.StatusOK {
				return
			}
			var response server.CommandResponse
			if decodeErr := json.NewDecoder(recorder.Body).Decode(&response); decodeErr != nil {
				t.Fatalf("decode response: %v", decodeErr)
			}
			if response.Output != testCase.expectedOutput {
				t.Fatalf("expected output %q, got %q", testCase.expectedOutput, response.Output)
			}
			if response.Status != tidy.StatusClean {
				t.Fatalf("expected clean status, got %s", response.Status)
			}
		})
	}
}

func TestStatusCodeForError(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "serialization", err: fmt.Errorf("run: %w", &options.SerializationFault{Key: "wrap", Type: "object"}), expected: http.StatusUnprocessableEntity},
		{name: "timeout", err: &tidy.TimeoutFailure{}, expected: http.StatusGatewayTimeout},
		{name: "superseded", err: formatter.ErrSuperseded, expected: http.StatusConflict},
		{name: "other", err: io.ErrUnexpectedEOF, expected: http.StatusInternalServerError},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if actual := statusCodeForError(testCase.err); actual != testCase.expected {
				t.Fatalf("expected %d, got %d", testCase.expected, actual)
			}
		})
	}
}

func TestWatcherFormatsSavedDocumentsOnce(t *testing.T) {
	workspace := prepareWorkspace(t, "upper")
	activePipeline := newTestPipeline(t, workspace)
	activeWatcher := newWatcher(settingsLoader{options: &rootOptions{}, logger: zap.NewNop()}, nil, activePipeline, nil)

	documentPath := filepath.Join(workspace, "page.html")
	notesPath := filepath.Join(workspace, "notes.txt")
	writeDocument(t, documentPath, "<p>page</p>")
	writeDocument(t, notesPath, "<p>notes</p>")

	activeWatcher.handleEvent(context.Background(), fsnotify.Event{Name: documentPath, Op: fsnotify.Write})
	activeWatcher.handleEvent(context.Background(), fsnotify.Event{Name: notesPath, Op: fsnotify.Write})
	activeWatcher.pending.Wait()

	if actual := readDocument(t, documentPath); actual != "<P>PAGE</P>" {
		t.Fatalf("expected formatted page, got %q", actual)
	}
	if actual := readDocument(t, notesPath); actual != "<p>notes</p>" {
		t.Fatalf("expected notes untouched, got %q", actual)
	}

	// The write made by the watcher must not be formatted again.
	writeDocument(t, documentPath, "<P>PAGE</P>")
	activeWatcher.handleEvent(context.Background(), fsnotify.Event{Name: documentPath, Op: fsnotify.Write})
	activeWatcher.pending.Wait()
	activeWatcher.mutex.Lock()
	recorded := activeWatcher.lastWritten[documentPath]
	activeWatcher.mutex.Unlock()
	if recorded != "<P>PAGE</P>" {
		t.Fatalf("unexpected recorded write %q", recorded)
	}
}

func TestWatcherRefreshesOnOverrideChange(t *testing.T) {
	workspace := prepareWorkspace(t, "echo")
	activePipeline := newTestPipeline(t, workspace)
	activeWatcher := newWatcher(settingsLoader{options: &rootOptions{}, logger: zap.NewNop()}, nil, activePipeline, nil)

	documentPath := filepath.Join(workspace, "page.html")
	before, _ := activePipeline.resolver.Options(documentPath)
	if _, found := before.Get("wrap"); !found {
		t.Fatalf("expected configured wrap option")
	}

	overridePath := filepath.Join(workspace, ".htmlTidy")
	writeDocument(t, overridePath, `{"indent": true}`)
	activeWatcher.handleEvent(context.Background(), fsnotify.Event{Name: overridePath, Op: fsnotify.Create})

	after, _ := activePipeline.resolver.Options(documentPath)
	if _, found := after.Get("wrap"); found {
		t.Fatalf("expected override file to replace configured options, got %v", after.Keys())
	}
}
