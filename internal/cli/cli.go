// Package cli provides the command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/temirov/htmltidy/internal/config"
	"github.com/temirov/htmltidy/internal/utils"
)

const (
	versionFlagName       = "version"
	configFlagName        = "config"
	tidyPathFlagName      = "tidy-path"
	timeoutFlagName       = "timeout"
	stopOnWarningFlagName = "stop-on-warning"
	logLevelFlagName      = "log-level"
	versionTemplate       = "htmltidy version: %s\n"
	rootUse               = "htmltidy"
	rootShortDescription  = "htmltidy command line interface"
	rootLongDescription   = `htmltidy formats HTML documents with the HTML Tidy executable.
Options come from ~/.htmltidy/config.yaml, ./config.yaml or --config, and from a .htmlTidy file next to the documents.
Custom elements are registered as block-level tags automatically and fragments are formatted without an html/body wrapper.`
	rootUsageExample = `  # Format a page in place
  htmltidy format --write index.html

  # Format standard input
  cat fragment.html | htmltidy format

  # Report diagnostics for a site
  htmltidy lint ./site`

	versionFlagDescription       = "display application version"
	configFlagDescription        = "configuration file overriding ./config.yaml"
	tidyPathFlagDescription      = "tidy executable overriding tidy_exec_path"
	timeoutFlagDescription       = "maximum duration of a single tidy run"
	stopOnWarningFlagDescription = "do not apply output when tidy reports warnings"
	logLevelFlagDescription      = "log level: debug, info, warn or error"
	defaultLogLevel              = "info"

	workingDirectoryErrorFormat = "unable to determine working directory: %w"
	logLevelErrorFormat         = "invalid --log-level %q: %w"
)

// Execute runs the htmltidy application. logLevel controls the level of logger.
func Execute(logger *zap.Logger, logLevel zap.AtomicLevel) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCommand := createRootCommand(logger, logLevel)
	rootCommand.SetArgs(normalizeBooleanFlagArguments(rootCommand, os.Args[1:]))
	executeErr := rootCommand.ExecuteContext(ctx)
	if errors.Is(executeErr, context.Canceled) {
		return nil
	}
	return executeErr
}

// rootOptions stores the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath    string
	tidyPath      string
	timeout       time.Duration
	stopOnWarning bool
	logLevel      string
}

// createRootCommand builds the root Cobra command.
func createRootCommand(logger *zap.Logger, logLevel zap.AtomicLevel) *cobra.Command {
	if logger == nil {
		logger = zap.NewNop()
	}
	var showVersion bool
	var persistentOptions rootOptions

	rootCommand := &cobra.Command{
		Use:           rootUse,
		Short:         rootShortDescription,
		Long:          rootLongDescription,
		Example:       rootUsageExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			if showVersion {
				fmt.Fprintf(command.OutOrStdout(), versionTemplate, utils.GetApplicationVersion())
				os.Exit(0)
			}
			parsedLevel, parseErr := zapcore.ParseLevel(persistentOptions.logLevel)
			if parseErr != nil {
				return fmt.Errorf(logLevelErrorFormat, persistentOptions.logLevel, parseErr)
			}
			logLevel.SetLevel(parsedLevel)
			return nil
		},
	}
	rootCommand.PersistentFlags().BoolVar(&showVersion, versionFlagName, false, versionFlagDescription)
	rootCommand.PersistentFlags().StringVar(&persistentOptions.configPath, configFlagName, "", configFlagDescription)
	rootCommand.PersistentFlags().StringVar(&persistentOptions.tidyPath, tidyPathFlagName, "", tidyPathFlagDescription)
	rootCommand.PersistentFlags().DurationVar(&persistentOptions.timeout, timeoutFlagName, 0, timeoutFlagDescription)
	registerBooleanFlag(rootCommand.PersistentFlags(), &persistentOptions.stopOnWarning, stopOnWarningFlagName, false, stopOnWarningFlagDescription)
	rootCommand.PersistentFlags().StringVar(&persistentOptions.logLevel, logLevelFlagName, defaultLogLevel, logLevelFlagDescription)

	loader := settingsLoader{options: &persistentOptions, logger: logger}
	rootCommand.AddCommand(
		createFormatCommand(loader),
		createLintCommand(loader),
		createWatchCommand(loader),
		createServeCommand(loader),
		createInitCommand(),
	)
	rootCommand.InitDefaultHelpCmd()
	rootCommand.InitDefaultCompletionCmd()
	return rootCommand
}

// settingsLoader loads configuration and applies the persistent flag overrides.
type settingsLoader struct {
	options *rootOptions
	logger  *zap.Logger
}

func (loader settingsLoader) load(command *cobra.Command) (config.Settings, error) {
	workingDirectory, workingDirectoryError := os.Getwd()
	if workingDirectoryError != nil {
		return config.Settings{}, fmt.Errorf(workingDirectoryErrorFormat, workingDirectoryError)
	}
	settings, loadErr := config.LoadSettings(config.LoadOptions{
		WorkingDirectory: workingDirectory,
		ExplicitFilePath: loader.options.configPath,
	})
	if loadErr != nil {
		return config.Settings{}, loadErr
	}
	return loader.applyFlags(command, settings), nil
}

func (loader settingsLoader) applyFlags(command *cobra.Command, settings config.Settings) config.Settings {
	if loader.options.tidyPath != "" {
		settings.TidyExecutablePath = loader.options.tidyPath
	}
	if loader.options.timeout > 0 {
		settings.Timeout = loader.options.timeout
	}
	if command != nil && command.Flags().Changed(stopOnWarningFlagName) {
		settings.StopOnWarning = loader.options.stopOnWarning
	}
	for _, source := range settings.Sources {
		loader.logger.Debug("configuration loaded", zap.String("source", source))
	}
	return settings
}
