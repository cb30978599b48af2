package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/temirov/htmltidy/internal/options"
	"github.com/temirov/htmltidy/internal/tidy"
	"github.com/temirov/htmltidy/internal/utils"
)

const (
	optionsTidyKey      = "options_tidy"
	environmentPrefix   = "HTMLTIDY"
	defaultOverrideFile = ".htmlTidy"
)

var environmentKeys = []string{
	"tidy_exec_path",
	"enable_dynamic_tags",
	"enable_dynamic_body",
	"show_errors",
	"stop_on_warning",
	"secure_tag_count",
	"timeout",
	"format_on_save",
	"file_search.enabled",
	"file_search.filename",
}

// LoadOptions controls how application configuration is discovered.
type LoadOptions struct {
	WorkingDirectory string
	ExplicitFilePath string
	// IgnoreEnvironment skips HTMLTIDY_* overrides.
	IgnoreEnvironment bool
}

// FileSearchSettings controls discovery of the per-project option override file.
type FileSearchSettings struct {
	// Enabled walks up from the document directory instead of checking only the workspace root.
	Enabled  bool
	FileName string
}

// Settings is the effective configuration consumed by the formatting pipeline.
type Settings struct {
	TidyExecutablePath string
	EnableDynamicTags  bool
	EnableDynamicBody  bool
	ShowErrors         bool
	StopOnWarning      bool
	SecureTagCount     bool
	Timeout            time.Duration
	OptionsTidy        *options.Set
	FileSearch         FileSearchSettings
	WorkspaceRoot      string
	FormatOnSave       []string
	// Sources lists the configuration files that contributed to the settings.
	Sources []string
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		EnableDynamicTags: true,
		EnableDynamicBody: true,
		ShowErrors:        true,
		StopOnWarning:     false,
		SecureTagCount:    true,
		Timeout:           tidy.DefaultTimeout,
		OptionsTidy:       DefaultTidyOptions(),
		FileSearch:        FileSearchSettings{Enabled: true, FileName: defaultOverrideFile},
		FormatOnSave:      []string{".html"},
	}
}

// DefaultTidyOptions returns the base option set applied when no configuration supplies one.
func DefaultTidyOptions() *options.Set {
	defaults := options.NewSet()
	defaults.Put("indent", options.Bool(true))
	defaults.Put("indentSpaces", options.Int(4))
	defaults.Put("wrap", options.Int(180))
	defaults.Put("markup", options.Bool(true))
	defaults.Put("outputXml", options.Bool(false))
	defaults.Put("numericEntities", options.Bool(true))
	defaults.Put("quoteMarks", options.Bool(true))
	defaults.Put("quoteNbsp", options.Bool(false))
	defaults.Put("breakBeforeBr", options.Bool(true))
	defaults.Put("uppercaseTags", options.Bool(false))
	defaults.Put("uppercaseAttributes", options.Bool(false))
	defaults.Put("dropEmptyElements", options.Bool(false))
	return defaults
}

// Clone returns a copy whose option set and slices can be modified independently.
func (settings Settings) Clone() Settings {
	cloned := settings
	cloned.OptionsTidy = settings.OptionsTidy.Clone()
	cloned.FormatOnSave = append([]string(nil), settings.FormatOnSave...)
	cloned.Sources = append([]string(nil), settings.Sources...)
	return cloned
}

// OverrideFileName returns the configured override file name.
func (settings Settings) OverrideFileName() string {
	if strings.TrimSpace(settings.FileSearch.FileName) == "" {
		return defaultOverrideFile
	}
	return settings.FileSearch.FileName
}

// FormatsOnSave reports whether files with the extension of path are formatted when written.
func (settings Settings) FormatsOnSave(path string) bool {
	return utils.HasExtension(path, settings.FormatOnSave)
}

type fileConfiguration struct {
	TidyExecutablePath string                  `mapstructure:"tidy_exec_path"`
	EnableDynamicTags  *bool                   `mapstructure:"enable_dynamic_tags"`
	EnableDynamicBody  *bool                   `mapstructure:"enable_dynamic_body"`
	ShowErrors         *bool                   `mapstructure:"show_errors"`
	StopOnWarning      *bool                   `mapstructure:"stop_on_warning"`
	SecureTagCount     *bool                   `mapstructure:"secure_tag_count"`
	Timeout            string                  `mapstructure:"timeout"`
	FormatOnSave       []string                `mapstructure:"format_on_save"`
	FileSearch         fileSearchConfiguration `mapstructure:"file_search"`
	optionsTidy        *options.Set
}

type fileSearchConfiguration struct {
	Enabled  *bool  `mapstructure:"enabled"`
	FileName string `mapstructure:"filename"`
}

// LoadSettings loads configuration from the global file, then the local or explicit file, then HTMLTIDY_* variables.
func LoadSettings(loadOptions LoadOptions) (Settings, error) {
	workingDirectory := loadOptions.WorkingDirectory
	if workingDirectory == "" {
		currentDirectory, err := os.Getwd()
		if err != nil {
			return Settings{}, fmt.Errorf("determine working directory: %w", err)
		}
		workingDirectory = currentDirectory
	}

	settings := DefaultSettings()
	settings.WorkspaceRoot = workingDirectory

	if homeDirectory, err := os.UserHomeDir(); err == nil && homeDirectory != "" {
		globalPath := filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName, utils.ConfigFileName)
		globalConfig, found, loadErr := loadConfigurationFromPath(globalPath)
		if loadErr != nil {
			return Settings{}, loadErr
		}
		if found {
			settings = settings.apply(globalConfig)
			settings.Sources = append(settings.Sources, globalPath)
		}
	}

	localPath := resolveLocalConfigPath(workingDirectory, loadOptions.ExplicitFilePath)
	localConfig, found, loadErr := loadConfigurationFromPath(localPath)
	if loadErr != nil {
		return Settings{}, loadErr
	}
	if loadOptions.ExplicitFilePath != "" && !found {
		return Settings{}, fmt.Errorf("configuration file %s not found", localPath)
	}
	if found {
		settings = settings.apply(localConfig)
		settings.Sources = append(settings.Sources, localPath)
	}

	if !loadOptions.IgnoreEnvironment {
		environmentConfig, environmentErr := loadEnvironmentConfiguration()
		if environmentErr != nil {
			return Settings{}, environmentErr
		}
		settings = settings.apply(environmentConfig)
	}
	return settings, nil
}

func resolveLocalConfigPath(workingDirectory, explicitPath string) string {
	if explicitPath != "" {
		if filepath.IsAbs(explicitPath) {
			return explicitPath
		}
		return filepath.Join(workingDirectory, explicitPath)
	}
	return filepath.Join(workingDirectory, utils.ConfigFileName)
}

func loadConfigurationFromPath(path string) (fileConfiguration, bool, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return fileConfiguration{}, false, nil
		}
		return fileConfiguration{}, false, fmt.Errorf("stat configuration %s: %w", path, statErr)
	}
	if info.IsDir() {
		return fileConfiguration{}, false, fmt.Errorf("configuration path %s is a directory", path)
	}

	reader := viper.New()
	reader.SetConfigFile(path)
	if readErr := reader.ReadInConfig(); readErr != nil {
		return fileConfiguration{}, false, fmt.Errorf("read configuration from %s: %w", path, readErr)
	}
	var configuration fileConfiguration
	if decodeErr := reader.Unmarshal(&configuration); decodeErr != nil {
		return fileConfiguration{}, false, fmt.Errorf("decode configuration from %s: %w", path, decodeErr)
	}

	optionsTidy, optionsErr := loadOptionsTidy(path)
	if optionsErr != nil {
		return fileConfiguration{}, false, optionsErr
	}
	configuration.optionsTidy = optionsTidy
	return configuration, true, nil
}

// loadOptionsTidy reads options_tidy with yaml.v3 because viper lowercases keys,
// which would turn newBlocklevelTags into an unknown tidy flag.
func loadOptionsTidy(path string) (*options.Set, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil, nil
	}
	// #nosec G304
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("read %s from %s: %w", optionsTidyKey, path, readErr)
	}
	var document yaml.Node
	if parseErr := yaml.Unmarshal(content, &document); parseErr != nil {
		return nil, fmt.Errorf("parse %s from %s: %w", optionsTidyKey, path, parseErr)
	}
	if len(document.Content) == 0 {
		return nil, nil
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}
	for index := 0; index+1 < len(root.Content); index += 2 {
		if root.Content[index].Value != optionsTidyKey {
			continue
		}
		decoded, decodeErr := options.DecodeYAMLNode(root.Content[index+1])
		if decodeErr != nil {
			return nil, fmt.Errorf("decode %s from %s: %w", optionsTidyKey, path, decodeErr)
		}
		return decoded, nil
	}
	return nil, nil
}

func loadEnvironmentConfiguration() (fileConfiguration, error) {
	reader := viper.New()
	reader.SetEnvPrefix(environmentPrefix)
	reader.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range environmentKeys {
		if bindErr := reader.BindEnv(key); bindErr != nil {
			return fileConfiguration{}, fmt.Errorf("bind environment key %s: %w", key, bindErr)
		}
	}
	var configuration fileConfiguration
	if decodeErr := reader.Unmarshal(&configuration); decodeErr != nil {
		return fileConfiguration{}, fmt.Errorf("decode environment configuration: %w", decodeErr)
	}
	return configuration, nil
}

func (settings Settings) apply(override fileConfiguration) Settings {
	result := settings.Clone()
	if override.TidyExecutablePath != "" {
		result.TidyExecutablePath = override.TidyExecutablePath
	}
	if override.EnableDynamicTags != nil {
		result.EnableDynamicTags = *override.EnableDynamicTags
	}
	if override.EnableDynamicBody != nil {
		result.EnableDynamicBody = *override.EnableDynamicBody
	}
	if override.ShowErrors != nil {
		result.ShowErrors = *override.ShowErrors
	}
	if override.StopOnWarning != nil {
		result.StopOnWarning = *override.StopOnWarning
	}
	if override.SecureTagCount != nil {
		result.SecureTagCount = *override.SecureTagCount
	}
	if timeout, parseErr := time.ParseDuration(strings.TrimSpace(override.Timeout)); parseErr == nil {
		result.Timeout = timeout
	}
	if len(override.FormatOnSave) > 0 {
		result.FormatOnSave = append([]string(nil), override.FormatOnSave...)
	}
	if override.FileSearch.Enabled != nil {
		result.FileSearch.Enabled = *override.FileSearch.Enabled
	}
	if override.FileSearch.FileName != "" {
		result.FileSearch.FileName = override.FileSearch.FileName
	}
	if override.optionsTidy != nil {
		result.OptionsTidy = override.optionsTidy.Clone()
	}
	return result
}
