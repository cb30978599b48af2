package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/temirov/htmltidy/internal/config"
	"github.com/temirov/htmltidy/internal/formatter"
	"github.com/temirov/htmltidy/internal/tidy"
	"github.com/temirov/htmltidy/internal/utils"
)

const (
	stdinArgument = "-"

	// errorAbsolutePathFormat reports failure to resolve an absolute path.
	errorAbsolutePathFormat = "abs failed for '%s': %w"
	// errorPathMissingFormat reports a missing path.
	errorPathMissingFormat = "path '%s' does not exist"
	// errorStatFormat reports failure to retrieve file statistics.
	errorStatFormat = "stat failed for '%s': %w"
	// errorWalkFormat reports a directory walk failure.
	errorWalkFormat = "walk '%s': %w"
	// errorNoDocuments indicates that no documents matched the arguments.
	errorNoDocuments = "no documents found"
	// warningSkipBinaryMessage reports a binary file passed as an argument.
	warningSkipBinaryMessage = "skipping binary file"
)

// pipeline wires the runner, resolver and formatting service for one configuration.
type pipeline struct {
	settings config.Settings
	resolver *config.Resolver
	runner   *tidy.Runner
	service  *formatter.Service
	logger   *zap.Logger
}

func newPipeline(settings config.Settings, logger *zap.Logger) (*pipeline, error) {
	runner, runnerErr := newRunner(settings, logger)
	if runnerErr != nil {
		return nil, runnerErr
	}
	resolver := config.NewResolver(settings, logger)
	service, serviceErr := formatter.NewService(runner, resolver, logger)
	if serviceErr != nil {
		return nil, serviceErr
	}
	return &pipeline{
		settings: settings,
		resolver: resolver,
		runner:   runner,
		service:  service,
		logger:   logger,
	}, nil
}

func newRunner(settings config.Settings, logger *zap.Logger) (*tidy.Runner, error) {
	executablePath, warnings, locateErr := tidy.LocateExecutable(tidy.LocateOptions{ConfiguredPath: settings.TidyExecutablePath})
	for _, warning := range warnings {
		logger.Warn(warning, zap.String("configured", settings.TidyExecutablePath))
	}
	if locateErr != nil {
		return nil, locateErr
	}
	return tidy.NewRunner(executablePath, tidy.WithTimeout(settings.Timeout), tidy.WithLogger(logger))
}

// refresh swaps in new settings. The cached options are dropped and a new runner is
// used when the settings can locate an executable; otherwise the previous runner stays.
func (activePipeline *pipeline) refresh(settings config.Settings) error {
	runner, runnerErr := newRunner(settings, activePipeline.logger)
	activePipeline.resolver.Refresh(settings)
	activePipeline.settings = settings
	if runnerErr != nil {
		return runnerErr
	}
	activePipeline.runner = runner
	activePipeline.service.UseExecutor(runner)
	return nil
}

// isStdinRequest reports whether the arguments ask for standard input.
func isStdinRequest(arguments []string) bool {
	return len(arguments) == 0 || (len(arguments) == 1 && arguments[0] == stdinArgument)
}

// collectDocuments expands arguments into absolute document paths. Files named
// explicitly are always included; directories contribute files with one of the extensions.
func collectDocuments(arguments []string, extensions []string, logger *zap.Logger) ([]string, error) {
	seen := make(map[string]struct{})
	var documents []string
	addDocument := func(path string) {
		if _, found := seen[path]; found {
			return
		}
		seen[path] = struct{}{}
		documents = append(documents, path)
	}

	for _, argument := range arguments {
		absolutePath, absolutePathError := filepath.Abs(argument)
		if absolutePathError != nil {
			return nil, fmt.Errorf(errorAbsolutePathFormat, argument, absolutePathError)
		}
		cleanPath := filepath.Clean(absolutePath)
		fileInformation, statError := os.Stat(cleanPath)
		if statError != nil {
			if os.IsNotExist(statError) {
				return nil, fmt.Errorf(errorPathMissingFormat, argument)
			}
			return nil, fmt.Errorf(errorStatFormat, argument, statError)
		}
		if !fileInformation.IsDir() {
			if utils.IsFileBinary(cleanPath) {
				logger.Warn(warningSkipBinaryMessage, zap.String("document", argument))
				continue
			}
			addDocument(cleanPath)
			continue
		}

		var directoryDocuments []string
		walkErr := filepath.WalkDir(cleanPath, func(path string, directoryEntry fs.DirEntry, walkError error) error {
			if walkError != nil {
				return walkError
			}
			if path != cleanPath && utils.ShouldSkipDirectory(directoryEntry) {
				return filepath.SkipDir
			}
			if directoryEntry.Type().IsRegular() && utils.HasExtension(path, extensions) && !utils.IsFileBinary(path) {
				directoryDocuments = append(directoryDocuments, path)
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf(errorWalkFormat, argument, walkErr)
		}
		sort.Strings(directoryDocuments)
		for _, documentPath := range directoryDocuments {
			addDocument(documentPath)
		}
	}
	if len(documents) == 0 {
		return nil, errors.New(errorNoDocuments)
	}
	return documents, nil
}
