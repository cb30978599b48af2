package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/htmltidy/internal/formatter"
	"github.com/temirov/htmltidy/internal/tidy"
	"github.com/temirov/htmltidy/internal/utils"
)

const (
	lintUse              = "lint [paths...]"
	lintAlias            = "l"
	lintShortDescription = "report tidy diagnostics (" + lintAlias + ")"
	lintLongDescription  = `Report tidy warnings and errors for HTML documents without changing them.
Without paths, or with "-", standard input is checked.
The command fails when any document has errors.`
	lintUsageExample = `  # Check a site
  htmltidy lint ./site

  # Check a fragment from standard input
  htmltidy lint < card.html`

	lintMessageFormat       = "%s:%d:%d: %s: %s\n"
	errorLintFailuresFormat = "%d of %d documents have errors"
)

type lintOptions struct {
	extensions []string
}

// createLintCommand returns the lint subcommand.
func createLintCommand(loader settingsLoader) *cobra.Command {
	var commandOptions lintOptions

	lintCommand := &cobra.Command{
		Use:     lintUse,
		Aliases: []string{lintAlias},
		Short:   lintShortDescription,
		Long:    lintLongDescription,
		Example: lintUsageExample,
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
				content, readErr := io.ReadAll(command.InOrStdin())
				if readErr != nil {
					return fmt.Errorf(errorReadStdinFormat, readErr)
				}
				failed, lintErr := lintDocument(command, activePipeline, formatter.NewTextDocument(string(content), ""), stdinDisplayName)
				if lintErr != nil {
					return lintErr
				}
				if failed {
					return fmt.Errorf(errorLintFailuresFormat, 1, 1)
				}
				return nil
			}

			extensions := commandOptions.extensions
			if len(extensions) == 0 {
				extensions = settings.FormatOnSave
			}
			documents, collectErr := collectDocuments(arguments, extensions, loader.logger)
			if collectErr != nil {
				return collectErr
			}
			workingDirectory, _ := os.Getwd()
			failureCount := 0
			for _, documentPath := range documents {
				document, readErr := formatter.ReadFileDocument(documentPath)
				if readErr != nil {
					loader.logger.Error(readErr.Error())
					failureCount++
					continue
				}
				failed, lintErr := lintDocument(command, activePipeline, document, utils.RelativePathOrSelf(documentPath, workingDirectory))
				if lintErr != nil {
					return lintErr
				}
				if failed {
					failureCount++
				}
			}
			if failureCount > 0 {
				return fmt.Errorf(errorLintFailuresFormat, failureCount, len(documents))
			}
			return nil
		},
	}

	lintCommand.Flags().StringSliceVar(&commandOptions.extensions, extensionFlagName, nil, extensionFlagDescription)
	return lintCommand
}

// lintDocument prints the positioned messages of one document and reports whether any is an error.
func lintDocument(command *cobra.Command, activePipeline *pipeline, document formatter.TextDocument, displayName string) (bool, error) {
	report, lintErr := activePipeline.service.Lint(command.Context(), document)
	if lintErr != nil {
		return false, lintErr
	}
	for _, warning := range report.Warnings {
		activePipeline.logger.Warn(warning, zap.String("document", displayName))
	}
	hasErrors := false
	for _, message := range report.Messages {
		if message.Severity == tidy.SeverityError {
			hasErrors = true
		}
		fmt.Fprintf(command.OutOrStdout(), lintMessageFormat, displayName, message.Line, message.Column, message.Severity, message.Text)
	}
	return hasErrors, nil
}
