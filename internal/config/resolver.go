package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/htmltidy/internal/options"
)

const (
	configParseFailureFormat        = "options in file %s not valid: %v"
	configParseFailureUnknownFormat = "override options not valid: %v"
	overrideReadFailureFormat       = "read override options %s: %w"
	overrideWarningMessage          = "falling back to configured tidy options"
)

// ConfigParseFailure reports an override file that could not be decoded.
// Callers receive usable base options alongside it.
type ConfigParseFailure struct {
	Source string
	Err    error
}

func (failure *ConfigParseFailure) Error() string {
	if failure.Source == "" {
		return fmt.Sprintf(configParseFailureUnknownFormat, failure.Err)
	}
	return fmt.Sprintf(configParseFailureFormat, failure.Source, failure.Err)
}

func (failure *ConfigParseFailure) Unwrap() error {
	return failure.Err
}

// ResolveOptions returns the effective base option set. A nil override yields a
// copy of base. A decodable override replaces base entirely; an undecodable one
// yields a copy of base together with a *ConfigParseFailure.
func ResolveOptions(base *options.Set, override []byte) (*options.Set, error) {
	return resolveFromSource(base, override, "")
}

func resolveFromSource(base *options.Set, override []byte, source string) (*options.Set, error) {
	if override == nil {
		return base.Clone(), nil
	}
	decoded, decodeErr := options.DecodeJSON(override)
	if decodeErr != nil {
		return base.Clone(), &ConfigParseFailure{Source: source, Err: decodeErr}
	}
	return decoded, nil
}

type resolution struct {
	options *options.Set
	source  string
	failure error
}

// Resolver caches resolved base options per lookup directory.
// It is safe for concurrent use.
type Resolver struct {
	mutex      sync.RWMutex
	settings   Settings
	generation uint64
	cache      map[string]resolution
	logger     *zap.Logger
}

// NewResolver constructs a Resolver for the provided settings.
func NewResolver(settings Settings, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		settings: settings.Clone(),
		cache:    make(map[string]resolution),
		logger:   logger,
	}
}

// Settings returns a copy of the settings currently in effect.
func (resolver *Resolver) Settings() Settings {
	resolver.mutex.RLock()
	defer resolver.mutex.RUnlock()
	return resolver.settings.Clone()
}

// Refresh replaces the settings and drops every cached resolution.
func (resolver *Resolver) Refresh(settings Settings) {
	resolver.mutex.Lock()
	defer resolver.mutex.Unlock()
	resolver.settings = settings.Clone()
	resolver.generation++
	resolver.cache = make(map[string]resolution)
	resolver.logger.Debug("tidy options cache invalidated", zap.Strings("sources", settings.Sources))
}

// Options returns the base option set for the document at documentPath. The
// returned set is a private copy. A *ConfigParseFailure is returned alongside
// usable options the first time a malformed override file is resolved.
func (resolver *Resolver) Options(documentPath string) (*options.Set, error) {
	resolver.mutex.RLock()
	settings := resolver.settings
	generation := resolver.generation
	lookupDirectory := overrideLookupDirectory(settings, documentPath)
	cached, found := resolver.cache[lookupDirectory]
	resolver.mutex.RUnlock()
	if found {
		return cached.options.Clone(), nil
	}

	computed := resolveOverride(settings, lookupDirectory)

	resolver.mutex.Lock()
	if resolver.generation == generation {
		resolver.cache[lookupDirectory] = computed
	}
	resolver.mutex.Unlock()

	if computed.failure != nil {
		var parseFailure *ConfigParseFailure
		if errors.As(computed.failure, &parseFailure) {
			resolver.logger.Warn(overrideWarningMessage, zap.String("source", computed.source), zap.Error(computed.failure))
		} else {
			resolver.logger.Error(overrideWarningMessage, zap.String("source", computed.source), zap.Error(computed.failure))
		}
	}
	return computed.options.Clone(), computed.failure
}

// OverrideSource returns the override file that applies to documentPath, or an empty string.
func (resolver *Resolver) OverrideSource(documentPath string) string {
	settings := resolver.Settings()
	return findOverrideFile(overrideLookupDirectory(settings, documentPath), settings.OverrideFileName(), settings.FileSearch.Enabled)
}

func resolveOverride(settings Settings, lookupDirectory string) resolution {
	base := settings.OptionsTidy
	if base == nil {
		base = options.NewSet()
	}
	overridePath := findOverrideFile(lookupDirectory, settings.OverrideFileName(), settings.FileSearch.Enabled)
	if overridePath == "" {
		return resolution{options: base.Clone()}
	}
	// #nosec G304
	content, readErr := os.ReadFile(overridePath)
	if readErr != nil {
		return resolution{options: base.Clone(), source: overridePath, failure: fmt.Errorf(overrideReadFailureFormat, overridePath, readErr)}
	}
	if content == nil {
		content = []byte{}
	}
	resolved, resolveErr := resolveFromSource(base, content, overridePath)
	return resolution{options: resolved, source: overridePath, failure: resolveErr}
}

func overrideLookupDirectory(settings Settings, documentPath string) string {
	if settings.FileSearch.Enabled && documentPath != "" {
		absolutePath, absErr := filepath.Abs(documentPath)
		if absErr == nil {
			return filepath.Dir(absolutePath)
		}
		return filepath.Dir(documentPath)
	}
	return settings.WorkspaceRoot
}

// findOverrideFile checks directory for fileName and, when walk is set, every parent up to the filesystem root.
func findOverrideFile(directory string, fileName string, walk bool) string {
	if directory == "" {
		return ""
	}
	currentDirectory := filepath.Clean(directory)
	for {
		candidate := filepath.Join(currentDirectory, fileName)
		if fileInformation, statErr := os.Stat(candidate); statErr == nil && fileInformation.Mode().IsRegular() {
			return candidate
		}
		if !walk {
			return ""
		}
		parentDirectory := filepath.Dir(currentDirectory)
		if parentDirectory == currentDirectory {
			return ""
		}
		currentDirectory = parentDirectory
	}
}
