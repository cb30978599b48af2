package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/htmltidy/internal/formatter"
	"github.com/temirov/htmltidy/internal/utils"
)

const (
	watchUse              = "watch [directories...]"
	watchShortDescription = "format documents whenever they are saved"
	watchLongDescription  = `Watch directories and format documents with a format_on_save extension each time they are written.
Changes to the configuration files reload the settings; changes to an override file drop the cached options.`
	watchUsageExample = `  # Format pages of the current directory as they are saved
  htmltidy watch

  # Watch two trees
  htmltidy watch ./site ./templates`

	errorWatcherCreateFormat = "create file watcher: %w"
	errorWatchAddFormat      = "watch %s: %w"
	watchStartedMessage      = "watching for changes"
	watchFormattedMessage    = "document formatted"
	watchReloadedMessage     = "configuration reloaded"
	watchOverrideMessage     = "override options changed"
)

// watcher formats saved documents and keeps the pipeline in sync with configuration changes.
type watcher struct {
	loader   settingsLoader
	command  *cobra.Command
	pipeline *pipeline
	notifier *fsnotify.Watcher
	logger   *zap.Logger

	mutex       sync.Mutex
	lastWritten map[string]string
	pending     sync.WaitGroup
}

// createWatchCommand returns the watch subcommand.
func createWatchCommand(loader settingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:     watchUse,
		Short:   watchShortDescription,
		Long:    watchLongDescription,
		Example: watchUsageExample,
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
			notifier, notifierErr := fsnotify.NewWatcher()
			if notifierErr != nil {
				return fmt.Errorf(errorWatcherCreateFormat, notifierErr)
			}
			defer notifier.Close()

			activeWatcher := newWatcher(loader, command, activePipeline, notifier)
			if len(arguments) == 0 {
				arguments = []string{"."}
			}
			for _, argument := range arguments {
				if addErr := activeWatcher.addTree(argument); addErr != nil {
					return addErr
				}
			}
			activeWatcher.watchConfiguration()
			loader.logger.Info(watchStartedMessage, zap.Strings("directories", notifier.WatchList()))
			return activeWatcher.run(command.Context())
		},
	}
}

func newWatcher(loader settingsLoader, command *cobra.Command, activePipeline *pipeline, notifier *fsnotify.Watcher) *watcher {
	return &watcher{
		loader:      loader,
		command:     command,
		pipeline:    activePipeline,
		notifier:    notifier,
		logger:      loader.logger,
		lastWritten: make(map[string]string),
	}
}

// addTree watches root and every directory below it that is not skipped.
func (activeWatcher *watcher) addTree(root string) error {
	absoluteRoot, absoluteErr := filepath.Abs(root)
	if absoluteErr != nil {
		return fmt.Errorf(errorAbsolutePathFormat, root, absoluteErr)
	}
	if !utils.IsDirectory(absoluteRoot) {
		return fmt.Errorf(errorPathMissingFormat, root)
	}
	return filepath.WalkDir(absoluteRoot, func(path string, directoryEntry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if !directoryEntry.IsDir() {
			return nil
		}
		if path != absoluteRoot && utils.ShouldSkipDirectory(directoryEntry) {
			return filepath.SkipDir
		}
		if addErr := activeWatcher.notifier.Add(path); addErr != nil {
			return fmt.Errorf(errorWatchAddFormat, path, addErr)
		}
		return nil
	})
}

// watchConfiguration adds the directories holding configuration files to the watch list.
func (activeWatcher *watcher) watchConfiguration() {
	for _, configurationPath := range activeWatcher.configurationFiles() {
		directory := filepath.Dir(configurationPath)
		if !utils.IsDirectory(directory) {
			continue
		}
		if addErr := activeWatcher.notifier.Add(directory); addErr != nil {
			activeWatcher.logger.Debug(addErr.Error())
		}
	}
}

func (activeWatcher *watcher) configurationFiles() []string {
	settings := activeWatcher.pipeline.resolver.Settings()
	files := append([]string(nil), settings.Sources...)
	if settings.WorkspaceRoot != "" {
		files = append(files, filepath.Join(settings.WorkspaceRoot, utils.ConfigFileName))
	}
	return utils.DeduplicateStrings(files)
}

func (activeWatcher *watcher) run(ctx context.Context) error {
	defer activeWatcher.pending.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, open := <-activeWatcher.notifier.Events:
			if !open {
				return nil
			}
			activeWatcher.handleEvent(ctx, event)
		case watchErr, open := <-activeWatcher.notifier.Errors:
			if !open {
				return nil
			}
			activeWatcher.logger.Warn(watchErr.Error())
		}
	}
}

// handleEvent dispatches a single file system event.
func (activeWatcher *watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	eventPath := filepath.Clean(event.Name)
	if activeWatcher.isConfigurationFile(eventPath) {
		activeWatcher.reload()
		return
	}
	settings := activeWatcher.pipeline.resolver.Settings()
	if filepath.Base(eventPath) == settings.OverrideFileName() {
		activeWatcher.pipeline.resolver.Refresh(settings)
		activeWatcher.logger.Info(watchOverrideMessage, zap.String("file", eventPath))
		return
	}
	if event.Has(fsnotify.Create) && utils.IsDirectory(eventPath) {
		if addErr := activeWatcher.addTree(eventPath); addErr != nil {
			activeWatcher.logger.Warn(addErr.Error())
		}
		return
	}
	if !settings.FormatsOnSave(eventPath) {
		return
	}
	activeWatcher.pending.Add(1)
	go func() {
		defer activeWatcher.pending.Done()
		activeWatcher.formatSaved(ctx, eventPath)
	}()
}

func (activeWatcher *watcher) isConfigurationFile(path string) bool {
	for _, configurationPath := range activeWatcher.configurationFiles() {
		if filepath.Clean(configurationPath) == path {
			return true
		}
	}
	return false
}

// reload rereads the configuration. The previous settings stay active when loading fails.
func (activeWatcher *watcher) reload() {
	settings, loadErr := activeWatcher.loader.load(activeWatcher.command)
	if loadErr != nil {
		activeWatcher.logger.Warn(loadErr.Error())
		return
	}
	if refreshErr := activeWatcher.pipeline.refresh(settings); refreshErr != nil {
		activeWatcher.logger.Warn(refreshErr.Error())
	}
	activeWatcher.logger.Info(watchReloadedMessage, zap.Strings("sources", settings.Sources))
}

// formatSaved formats a saved document in place. Content written by a previous
// format of the same document is not formatted again.
func (activeWatcher *watcher) formatSaved(ctx context.Context, documentPath string) {
	document, readErr := formatter.ReadFileDocument(documentPath)
	if readErr != nil {
		if !errors.Is(readErr, os.ErrNotExist) {
			activeWatcher.logger.Warn(readErr.Error())
		}
		return
	}
	activeWatcher.mutex.Lock()
	previous, found := activeWatcher.lastWritten[documentPath]
	activeWatcher.mutex.Unlock()
	if found && previous == document.Text() {
		return
	}

	sink := formatter.SinkFunc(func(text string) error {
		if text == document.Text() {
			return nil
		}
		activeWatcher.mutex.Lock()
		activeWatcher.lastWritten[documentPath] = text
		activeWatcher.mutex.Unlock()
		return formatter.FileSink{Path: documentPath}.Apply(text)
	})
	outcome, formatErr := activeWatcher.pipeline.service.Format(ctx, document, sink)
	if formatErr != nil {
		if errors.Is(formatErr, formatter.ErrSuperseded) || errors.Is(formatErr, context.Canceled) {
			return
		}
		activeWatcher.logger.Error(formatErr.Error(), zap.String("document", documentPath))
		return
	}
	reportOutcome(activeWatcher.logger, documentPath, outcome)
	if outcome.Applied {
		activeWatcher.logger.Info(watchFormattedMessage, zap.String("document", documentPath), zap.String("request", outcome.RequestID))
	}
}
