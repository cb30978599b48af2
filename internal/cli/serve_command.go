package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/temirov/htmltidy/internal/formatter"
	"github.com/temirov/htmltidy/internal/options"
	"github.com/temirov/htmltidy/internal/services/server"
	"github.com/temirov/htmltidy/internal/tidy"
)

const (
	serveUse              = "serve"
	serveShortDescription = "serve format and lint over HTTP"
	serveLongDescription  = `Start an HTTP server exposing the format and lint commands.
GET /capabilities lists the commands; POST /commands/<name> runs one with a JSON body {"text": "...", "path": "..."}.
The path selects the override file used for the document and is never read or written.`
	serveUsageExample = `  # Serve on a fixed port
  htmltidy serve --address 127.0.0.1:8765

  # Format through the server
  curl -s -X POST -d '{"text":"<p>hi"}' http://127.0.0.1:8765/commands/format`

	addressFlagName        = "address"
	addressFlagDescription = "address the server listens on"
	defaultServeAddress    = "127.0.0.1:0"
	serverListeningFormat  = "htmltidy server listening on %s\n"

	commandFormat = "format"
	commandLint   = "lint"
)

// createServeCommand returns the serve subcommand.
func createServeCommand(loader settingsLoader) *cobra.Command {
	var address string

	serveCommand := &cobra.Command{
		Use:     serveUse,
		Short:   serveShortDescription,
		Long:    serveLongDescription,
		Example: serveUsageExample,
		Args:    cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			settings, loadErr := loader.load(command)
			if loadErr != nil {
				return loadErr
			}
			activePipeline, pipelineErr := newPipeline(settings, loader.logger)
			if pipelineErr != nil {
				return pipelineErr
			}
			commandServer := server.NewServer(server.Config{
				Address:      address,
				Capabilities: serverCapabilities(),
				Executors:    serverExecutors(activePipeline.service),
				Logger:       loader.logger,
			})
			return commandServer.Run(command.Context(), func(boundAddress string) {
				fmt.Fprintf(command.OutOrStdout(), serverListeningFormat, boundAddress)
			})
		},
	}
	serveCommand.Flags().StringVar(&address, addressFlagName, defaultServeAddress, addressFlagDescription)
	return serveCommand
}

func serverCapabilities() []server.Capability {
	return []server.Capability{
		{Name: commandFormat, Description: "format a document and return the tidy output"},
		{Name: commandLint, Description: "report tidy diagnostics for a document"},
	}
}

func serverExecutors(service *formatter.Service) map[string]server.CommandExecutor {
	return map[string]server.CommandExecutor{
		commandFormat: server.CommandExecutorFunc(func(ctx context.Context, request server.CommandRequest) (server.CommandResponse, error) {
			payload, decodeErr := server.DecodeDocumentPayload(request)
			if decodeErr != nil {
				return server.CommandResponse{}, decodeErr
			}
			var sink formatter.BufferSink
			outcome, formatErr := service.Format(ctx, formatter.NewTextDocument(payload.Text, payload.Path), &sink)
			if formatErr != nil {
				return server.CommandResponse{}, server.NewCommandExecutionError(statusCodeForError(formatErr), fmt.Errorf("format document: %w", formatErr))
			}
			output, _ := sink.Text()
			return server.CommandResponse{
				Output:      output,
				Status:      outcome.Status(),
				Applied:     outcome.Applied,
				Diagnostics: outcome.Result.Diagnostics,
				Messages:    outcome.Messages,
				Warnings:    outcome.Warnings,
			}, nil
		}),
		commandLint: server.CommandExecutorFunc(func(ctx context.Context, request server.CommandRequest) (server.CommandResponse, error) {
			payload, decodeErr := server.DecodeDocumentPayload(request)
			if decodeErr != nil {
				return server.CommandResponse{}, decodeErr
			}
			report, lintErr := service.Lint(ctx, formatter.NewTextDocument(payload.Text, payload.Path))
			if lintErr != nil {
				return server.CommandResponse{}, server.NewCommandExecutionError(statusCodeForError(lintErr), fmt.Errorf("lint document: %w", lintErr))
			}
			return server.CommandResponse{
				Status:      lintStatus(report.Messages),
				Diagnostics: report.Diagnostics,
				Messages:    report.Messages,
				Warnings:    report.Warnings,
			}, nil
		}),
	}
}

// statusCodeForError maps pipeline failures to HTTP status codes.
func statusCodeForError(err error) int {
	var serializationFault *options.SerializationFault
	var timeoutFailure *tidy.TimeoutFailure
	switch {
	case errors.As(err, &serializationFault):
		return http.StatusUnprocessableEntity
	case errors.As(err, &timeoutFailure):
		return http.StatusGatewayTimeout
	case errors.Is(err, formatter.ErrSuperseded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func lintStatus(messages []tidy.Message) tidy.Status {
	status := tidy.StatusClean
	for _, message := range messages {
		switch message.Severity {
		case tidy.SeverityError:
			return tidy.StatusError
		case tidy.SeverityWarning:
			status = tidy.StatusWarning
		}
	}
	return status
}
