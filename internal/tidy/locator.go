package tidy

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	bundledDirectoryName    = "tidy"
	bundledExecutableName   = "tidy"
	windowsExecutableSuffix = ".exe"
	windowsOperatingSystem  = "windows"

	// MissingConfiguredExecutableWarning is reported when the configured path does not exist.
	MissingConfiguredExecutableWarning = "configured tidy executable is missing. Fallback to default"
	unsupportedPlatformFormat          = "unsupported platform %s. Please configure own tidy executable: %w"
)

var executableCandidates = []string{"tidy", "tidy5"}

// LocateOptions describes where to look for tidy.
type LocateOptions struct {
	// ConfiguredPath is the user supplied executable path or command name.
	ConfiguredPath string
	// BundleDirectory holds tidy/<GOOS>/tidy binaries shipped next to htmltidy.
	// Empty means the directory of the running binary.
	BundleDirectory  string
	OperatingSystem  string
	LookPath         func(string) (string, error)
	executableFinder func() (string, error)
}

// LocateExecutable resolves the tidy executable: the configured path, then the
// bundled binary, then tidy on PATH. Warnings describe fallbacks the user should know about.
func LocateExecutable(locateOptions LocateOptions) (string, []string, error) {
	operatingSystem := locateOptions.OperatingSystem
	if operatingSystem == "" {
		operatingSystem = runtime.GOOS
	}
	lookPath := locateOptions.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var warnings []string
	configuredPath := strings.TrimSpace(locateOptions.ConfiguredPath)
	if configuredPath != "" {
		if isRegularFile(configuredPath) {
			return configuredPath, warnings, nil
		}
		if resolvedPath, lookErr := lookPath(configuredPath); lookErr == nil {
			return resolvedPath, warnings, nil
		}
		warnings = append(warnings, MissingConfiguredExecutableWarning)
	}

	if bundledPath := bundledExecutablePath(locateOptions, operatingSystem); bundledPath != "" && isRegularFile(bundledPath) {
		return bundledPath, warnings, nil
	}

	for _, candidate := range executableCandidates {
		if resolvedPath, lookErr := lookPath(candidate); lookErr == nil {
			return resolvedPath, warnings, nil
		}
	}
	return "", warnings, fmt.Errorf(unsupportedPlatformFormat, operatingSystem, ErrExecutableNotFound)
}

func bundledExecutablePath(locateOptions LocateOptions, operatingSystem string) string {
	bundleDirectory := locateOptions.BundleDirectory
	if bundleDirectory == "" {
		finder := locateOptions.executableFinder
		if finder == nil {
			finder = os.Executable
		}
		executablePath, finderErr := finder()
		if finderErr != nil {
			return ""
		}
		bundleDirectory = filepath.Dir(executablePath)
	}
	executableName := bundledExecutableName
	if operatingSystem == windowsOperatingSystem {
		executableName += windowsExecutableSuffix
	}
	return filepath.Join(bundleDirectory, bundledDirectoryName, operatingSystem, executableName)
}

func isRegularFile(path string) bool {
	fileInformation, statErr := os.Stat(path)
	return statErr == nil && fileInformation.Mode().IsRegular()
}
