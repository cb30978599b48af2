// Package utils provides helper functions, including version retrieval.
package utils

import (
	"runtime/debug"
	"strings"
)

const (
	unknownVersion     = "unknown"
	developmentVersion = "(devel)"
)

// Version is injected at build time with -ldflags "-X github.com/temirov/htmltidy/internal/utils.Version=v1.2.3".
var Version string

// GetApplicationVersion returns the injected version, then the module version
// recorded in the build info. The working directory is never consulted, so
// running inside another repository does not change the result.
func GetApplicationVersion() string {
	if injected := strings.TrimSpace(Version); injected != "" {
		return injected
	}
	return versionFromBuildInfo(debug.ReadBuildInfo)
}

func versionFromBuildInfo(readBuildInfo func() (*debug.BuildInfo, bool)) string {
	buildInfo, buildInfoAvailable := readBuildInfo()
	if !buildInfoAvailable || buildInfo == nil {
		return unknownVersion
	}
	if moduleVersion := buildInfo.Main.Version; moduleVersion != "" && moduleVersion != developmentVersion {
		return moduleVersion
	}
	return unknownVersion
}
