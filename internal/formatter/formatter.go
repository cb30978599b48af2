// Package formatter applies tidy results to host documents.
package formatter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/htmltidy/internal/config"
	"github.com/temirov/htmltidy/internal/dynamic"
	"github.com/temirov/htmltidy/internal/options"
	"github.com/temirov/htmltidy/internal/tidy"
)

const (
	applyFailureFormat   = "apply formatted output to %s: %w"
	executorRequiredText = "formatter executor is required"
	optionsRequiredText  = "formatter options source is required"

	logFieldRequest  = "request"
	logFieldDocument = "document"
)

// ErrSuperseded reports a request discarded because a newer request for the same document started.
var ErrSuperseded = errors.New("format request superseded by a newer request")

// Document provides the current full text of a host document.
type Document interface {
	Text() string
	// Path identifies the document. It may be empty for unnamed buffers.
	Path() string
}

// Sink receives formatted text for a document.
type Sink interface {
	Apply(text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(text string) error

// Apply calls the function.
func (sinkFunc SinkFunc) Apply(text string) error {
	return sinkFunc(text)
}

// Executor runs tidy over a document.
type Executor interface {
	Run(ctx context.Context, optionSet *options.Set, input string) (tidy.Result, error)
	Diagnose(ctx context.Context, optionSet *options.Set, input string) (string, error)
}

// OptionsSource supplies settings and resolved base options. *config.Resolver implements it.
type OptionsSource interface {
	Settings() config.Settings
	Options(documentPath string) (*options.Set, error)
}

// Outcome describes a completed format request.
type Outcome struct {
	RequestID string
	Result    tidy.Result
	Messages  []tidy.Message
	// Applied is true when the sink received the formatted output.
	Applied bool
	// Blocked is true when the result was withheld because of tool errors or stop-on-warning.
	Blocked  bool
	Warnings []string
}

// Status returns the classified status of the underlying result.
func (outcome Outcome) Status() tidy.Status {
	return outcome.Result.Status()
}

// LintReport describes the diagnostics of a document.
type LintReport struct {
	RequestID   string
	Diagnostics string
	Messages    []tidy.Message
	Warnings    []string
}

type inFlightRequest struct {
	requestID string
	cancel    context.CancelFunc
}

// Service formats documents. Concurrent requests for different documents are
// independent; a new request for a document cancels the one in flight.
type Service struct {
	optionsSource OptionsSource
	logger        *zap.Logger

	mutex    sync.Mutex
	executor Executor
	inFlight map[string]inFlightRequest
}

// NewService constructs a formatting service.
func NewService(executor Executor, optionsSource OptionsSource, logger *zap.Logger) (*Service, error) {
	if executor == nil {
		return nil, errors.New(executorRequiredText)
	}
	if optionsSource == nil {
		return nil, errors.New(optionsRequiredText)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		executor:      executor,
		optionsSource: optionsSource,
		logger:        logger,
		inFlight:      make(map[string]inFlightRequest),
	}, nil
}

// UseExecutor replaces the executor used by subsequent requests.
func (service *Service) UseExecutor(executor Executor) {
	if executor == nil {
		return
	}
	service.mutex.Lock()
	defer service.mutex.Unlock()
	service.executor = executor
}

func (service *Service) currentExecutor() Executor {
	service.mutex.Lock()
	defer service.mutex.Unlock()
	return service.executor
}

// Format runs tidy over the document and applies the output to sink unless the
// result is an error, a warning under stop-on-warning, or empty. Empty documents
// are skipped without running tidy.
func (service *Service) Format(ctx context.Context, document Document, sink Sink) (Outcome, error) {
	outcome := Outcome{RequestID: uuid.NewString()}
	text := document.Text()
	if text == "" {
		return outcome, nil
	}
	documentPath := document.Path()
	requestLogger := service.logger.With(zap.String(logFieldRequest, outcome.RequestID), zap.String(logFieldDocument, documentPath))

	requestContext, release := service.begin(ctx, documentPath, outcome.RequestID)
	defer release()

	settings := service.optionsSource.Settings()
	effectiveOptions, warnings := service.effectiveOptions(text, documentPath, settings)
	outcome.Warnings = warnings

	startedAt := time.Now()
	result, runErr := service.currentExecutor().Run(requestContext, effectiveOptions, text)
	if service.superseded(ctx, requestContext, documentPath, outcome.RequestID) {
		requestLogger.Debug("format request superseded")
		return outcome, ErrSuperseded
	}
	if runErr != nil {
		return outcome, runErr
	}
	outcome.Result = result
	outcome.Messages = tidy.ParseDiagnostics(result.Diagnostics)
	requestLogger.Debug("tidy finished",
		zap.String("status", string(result.Status())),
		zap.Duration("elapsed", time.Since(startedAt)),
	)

	if result.IsError || (settings.StopOnWarning && result.IsWarning) {
		outcome.Blocked = true
		return outcome, nil
	}
	if result.Output == "" {
		return outcome, nil
	}
	if settings.SecureTagCount {
		if tagWarning := TagCountWarning(text, result.Output); tagWarning != "" {
			outcome.Warnings = append(outcome.Warnings, tagWarning)
			requestLogger.Warn(tagWarning)
		}
	}
	if applyErr := sink.Apply(result.Output); applyErr != nil {
		return outcome, fmt.Errorf(applyFailureFormat, describeDocument(documentPath), applyErr)
	}
	outcome.Applied = true
	return outcome, nil
}

// Lint runs tidy with maximum diagnostic verbosity and returns the parsed messages.
func (service *Service) Lint(ctx context.Context, document Document) (LintReport, error) {
	report := LintReport{RequestID: uuid.NewString()}
	text := document.Text()
	if text == "" {
		return report, nil
	}
	settings := service.optionsSource.Settings()
	effectiveOptions, warnings := service.effectiveOptions(text, document.Path(), settings)
	report.Warnings = warnings

	diagnostics, diagnoseErr := service.currentExecutor().Diagnose(ctx, effectiveOptions, text)
	if diagnoseErr != nil {
		return report, diagnoseErr
	}
	report.Diagnostics = diagnostics
	report.Messages = tidy.ParseDiagnostics(diagnostics)
	return report, nil
}

// EffectiveOptions returns the option set a request for document would run with,
// together with configuration warnings.
func (service *Service) EffectiveOptions(document Document) (*options.Set, []string) {
	return service.effectiveOptions(document.Text(), document.Path(), service.optionsSource.Settings())
}

func (service *Service) effectiveOptions(text string, documentPath string, settings config.Settings) (*options.Set, []string) {
	var warnings []string
	baseOptions, resolveErr := service.optionsSource.Options(documentPath)
	if resolveErr != nil {
		warnings = append(warnings, resolveErr.Error())
	}
	if baseOptions == nil {
		baseOptions = options.NewSet()
	}
	derivationSettings := dynamic.Settings{
		EnableDynamicTags: settings.EnableDynamicTags,
		EnableDynamicBody: settings.EnableDynamicBody,
		ShowErrors:        settings.ShowErrors,
	}
	return dynamic.Apply(text, baseOptions, derivationSettings), warnings
}

// begin registers a request for the document and cancels the one it supersedes.
func (service *Service) begin(ctx context.Context, documentPath string, requestID string) (context.Context, func()) {
	requestContext, cancel := context.WithCancel(ctx)
	if documentPath == "" {
		return requestContext, cancel
	}
	service.mutex.Lock()
	if previous, found := service.inFlight[documentPath]; found {
		previous.cancel()
	}
	service.inFlight[documentPath] = inFlightRequest{requestID: requestID, cancel: cancel}
	service.mutex.Unlock()

	return requestContext, func() {
		service.mutex.Lock()
		if current, found := service.inFlight[documentPath]; found && current.requestID == requestID {
			delete(service.inFlight, documentPath)
		}
		service.mutex.Unlock()
		cancel()
	}
}

func (service *Service) superseded(parent context.Context, requestContext context.Context, documentPath string, requestID string) bool {
	if documentPath == "" || parent.Err() != nil {
		return false
	}
	service.mutex.Lock()
	current, found := service.inFlight[documentPath]
	service.mutex.Unlock()
	if found && current.requestID != requestID {
		return true
	}
	return requestContext.Err() != nil
}

func describeDocument(documentPath string) string {
	if documentPath == "" {
		return "document"
	}
	return documentPath
}
