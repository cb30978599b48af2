package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/htmltidy/internal/formatter"
	"github.com/temirov/htmltidy/internal/services/clipboard"
	"github.com/temirov/htmltidy/internal/tidy"
	"github.com/temirov/htmltidy/internal/utils"
)

const (
	formatUse              = "format [paths...]"
	formatAlias            = "f"
	formatShortDescription = "format documents with tidy (" + formatAlias + ")"
	formatLongDescription  = `Format HTML documents with tidy.
Without paths, or with "-", standard input is formatted to standard output.
Directories are searched for files with the configured extensions.
Output is withheld when tidy reports errors, or warnings with --stop-on-warning.`
	formatUsageExample = `  # Rewrite every page of a site
  htmltidy format --write ./site

  # Format a fragment and copy the result
  htmltidy format --copy card.html

  # Show the tidy invocation without running it
  htmltidy format --print-args index.html`

	writeFlagName            = "write"
	writeFlagShorthand       = "w"
	copyFlagName             = "copy"
	printArgumentsFlagName   = "print-args"
	extensionFlagName        = "ext"
	writeFlagDescription     = "write formatted output back to the files"
	copyFlagDescription      = "copy formatted output to the clipboard"
	printArgsFlagDescription = "print the override file and tidy command line instead of running tidy"
	extensionFlagDescription = "extensions searched in directories (default: format_on_save)"

	errorMultipleOutputs   = "formatting %d documents requires --write"
	errorDocumentsFailed   = "%d of %d documents not formatted"
	errorReadStdinFormat   = "read standard input: %w"
	warningBlockedDocument = "output withheld"
	stdinDisplayName       = "<stdin>"
	overrideSourceFormat   = "# options from %s\n"
)

type formatOptions struct {
	write          bool
	copyOutput     bool
	printArguments bool
	extensions     []string
}

// createFormatCommand returns the format subcommand.
func createFormatCommand(loader settingsLoader) *cobra.Command {
	var commandOptions formatOptions

	formatCommand := &cobra.Command{
		Use:     formatUse,
		Aliases: []string{formatAlias},
		Short:   formatShortDescription,
		Long:    formatLongDescription,
		Example: formatUsageExample,
		Args:    cobra.ArbitraryArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			settings, loadErr := loader.load(command)
			if loadErr != nil {
				return loadErr
			}
			activePipeline, pipelineErr := newPipeline(settings, loader.logger)
			if pipelineErr != nil {
				return pipelineErr
			}
			if isStdinRequest(arguments) {
				return runFormatStdin(command, activePipeline, commandOptions)
			}
			extensions := commandOptions.extensions
			if len(extensions) == 0 {
				extensions = settings.FormatOnSave
			}
			documents, collectErr := collectDocuments(arguments, extensions, loader.logger)
			if collectErr != nil {
				return collectErr
			}
			if commandOptions.printArguments {
				return printInvocations(command.OutOrStdout(), activePipeline, documents)
			}
			if len(documents) > 1 && !commandOptions.write {
				return fmt.Errorf(errorMultipleOutputs, len(documents))
			}
			return runFormatFiles(command, activePipeline, documents, commandOptions)
		},
	}

	registerBooleanFlagP(formatCommand.Flags(), &commandOptions.write, writeFlagName, writeFlagShorthand, false, writeFlagDescription)
	registerBooleanFlag(formatCommand.Flags(), &commandOptions.copyOutput, copyFlagName, false, copyFlagDescription)
	registerBooleanFlag(formatCommand.Flags(), &commandOptions.printArguments, printArgumentsFlagName, false, printArgsFlagDescription)
	formatCommand.Flags().StringSliceVar(&commandOptions.extensions, extensionFlagName, nil, extensionFlagDescription)
	return formatCommand
}

func runFormatStdin(command *cobra.Command, activePipeline *pipeline, commandOptions formatOptions) error {
	content, readErr := io.ReadAll(command.InOrStdin())
	if readErr != nil {
		return fmt.Errorf(errorReadStdinFormat, readErr)
	}
	document := formatter.NewTextDocument(string(content), "")
	if commandOptions.printArguments {
		return printInvocation(command.OutOrStdout(), activePipeline, document)
	}
	sink := outputSink(command.OutOrStdout(), "", commandOptions)
	outcome, formatErr := activePipeline.service.Format(command.Context(), document, sink)
	if formatErr != nil {
		return formatErr
	}
	reportOutcome(activePipeline.logger, stdinDisplayName, outcome)
	if outcome.Blocked {
		return fmt.Errorf(errorDocumentsFailed, 1, 1)
	}
	return nil
}

func runFormatFiles(command *cobra.Command, activePipeline *pipeline, documents []string, commandOptions formatOptions) error {
	workingDirectory, _ := os.Getwd()
	group, groupContext := errgroup.WithContext(command.Context())
	group.SetLimit(runtime.GOMAXPROCS(0))
	failures := make([]bool, len(documents))

	for documentIndex, documentPath := range documents {
		documentIndex, documentPath := documentIndex, documentPath
		group.Go(func() error {
			displayName := utils.RelativePathOrSelf(documentPath, workingDirectory)
			document, readErr := formatter.ReadFileDocument(documentPath)
			if readErr != nil {
				activePipeline.logger.Error(readErr.Error())
				failures[documentIndex] = true
				return nil
			}
			sink := outputSink(command.OutOrStdout(), documentPath, commandOptions)
			outcome, formatErr := activePipeline.service.Format(groupContext, document, sink)
			if formatErr != nil {
				if errors.Is(formatErr, context.Canceled) {
					return formatErr
				}
				activePipeline.logger.Error(formatErr.Error(), zap.String("document", displayName))
				failures[documentIndex] = true
				return nil
			}
			reportOutcome(activePipeline.logger, displayName, outcome)
			failures[documentIndex] = outcome.Blocked
			return nil
		})
	}
	if waitErr := group.Wait(); waitErr != nil {
		return waitErr
	}

	failureCount := 0
	for _, failed := range failures {
		if failed {
			failureCount++
		}
	}
	if failureCount > 0 {
		return fmt.Errorf(errorDocumentsFailed, failureCount, len(documents))
	}
	return nil
}

func outputSink(writer io.Writer, documentPath string, commandOptions formatOptions) formatter.Sink {
	var sinks []formatter.Sink
	if commandOptions.write && documentPath != "" {
		sinks = append(sinks, formatter.FileSink{Path: documentPath})
	} else if !commandOptions.copyOutput {
		sinks = append(sinks, formatter.WriterSink{Writer: writer})
	}
	if commandOptions.copyOutput {
		sinks = append(sinks, clipboard.NewService())
	}
	return formatter.SinkFunc(func(text string) error {
		for _, sink := range sinks {
			if applyErr := sink.Apply(text); applyErr != nil {
				return applyErr
			}
		}
		return nil
	})
}

// reportOutcome logs tidy diagnostics and pipeline warnings for a document.
func reportOutcome(logger *zap.Logger, displayName string, outcome formatter.Outcome) {
	documentField := zap.String("document", displayName)
	for _, warning := range outcome.Warnings {
		logger.Warn(warning, documentField)
	}
	switch outcome.Status() {
	case tidy.StatusError:
		logger.Error(outcome.Result.Summary(), documentField, zap.Int("messages", len(outcome.Messages)))
	case tidy.StatusWarning:
		logger.Warn(outcome.Result.Summary(), documentField, zap.Int("messages", len(outcome.Messages)))
	}
	if outcome.Blocked {
		logger.Warn(warningBlockedDocument, documentField)
	}
}

func printInvocations(writer io.Writer, activePipeline *pipeline, documents []string) error {
	for _, documentPath := range documents {
		document, readErr := formatter.ReadFileDocument(documentPath)
		if readErr != nil {
			return readErr
		}
		if printErr := printInvocation(writer, activePipeline, document); printErr != nil {
			return printErr
		}
	}
	return nil
}

func printInvocation(writer io.Writer, activePipeline *pipeline, document formatter.TextDocument) error {
	effectiveOptions, warnings := activePipeline.service.EffectiveOptions(document)
	for _, warning := range warnings {
		activePipeline.logger.Warn(warning)
	}
	arguments, argumentsErr := activePipeline.runner.Arguments(effectiveOptions)
	if argumentsErr != nil {
		return argumentsErr
	}
	if overrideSource := activePipeline.resolver.OverrideSource(document.Path()); overrideSource != "" {
		if _, writeErr := fmt.Fprintf(writer, overrideSourceFormat, overrideSource); writeErr != nil {
			return writeErr
		}
	}
	commandLine := append([]string{activePipeline.runner.Executable()}, arguments...)
	_, writeErr := fmt.Fprintln(writer, strings.Join(commandLine, " "))
	return writeErr
}
