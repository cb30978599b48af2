package utils

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"testing"
)

func TestGetApplicationVersionIgnoresWorkingDirectoryRepository(testingInstance *testing.T) {
	gitExecutable, lookErr := exec.LookPath("git")
	if lookErr != nil {
		testingInstance.Skip("git is not installed")
	}
	repositoryDirectory := testingInstance.TempDir()
	commands := [][]string{
		{"init", "--quiet"},
		{"-c", "user.name=site", "-c", "user.email=site@example.com", "commit", "--quiet", "--allow-empty", "-m", "site"},
		{"tag", "v9.9.9-site-repository"},
	}
	for _, arguments := range commands {
		command := exec.Command(gitExecutable, arguments...)
		command.Dir = repositoryDirectory
		if output, runErr := command.CombinedOutput(); runErr != nil {
			testingInstance.Fatalf("git %v: %v: %s", arguments, runErr, output)
		}
	}
	if _, statErr := os.Stat(filepath.Join(repositoryDirectory, GitDirectoryName)); statErr != nil {
		testingInstance.Fatalf("expected repository: %v", statErr)
	}
	previousDirectory, getwdErr := os.Getwd()
	if getwdErr != nil {
		testingInstance.Fatalf("getwd: %v", getwdErr)
	}
	if chdirErr := os.Chdir(repositoryDirectory); chdirErr != nil {
		testingInstance.Fatalf("chdir: %v", chdirErr)
	}
	testingInstance.Cleanup(func() { _ = os.Chdir(previousDirectory) })

	if version := GetApplicationVersion(); version == "v9.9.9-site-repository" {
		testingInstance.Fatalf("version taken from the working directory repository: %s", version)
	}
}

func TestGetApplicationVersionPrefersInjectedVersion(testingInstance *testing.T) {
	previous := Version
	testingInstance.Cleanup(func() { Version = previous })
	Version = " v1.4.0 "
	if version := GetApplicationVersion(); version != "v1.4.0" {
		testingInstance.Fatalf("expected injected version, got %q", version)
	}
}

func TestVersionFromBuildInfo(testingInstance *testing.T) {
	testCases := []struct {
		name      string
		buildInfo *debug.BuildInfo
		available bool
		expected  string
	}{
		{name: "module_version", buildInfo: &debug.BuildInfo{Main: debug.Module{Version: "v0.3.1"}}, available: true, expected: "v0.3.1"},
		{name: "development_build", buildInfo: &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, available: true, expected: unknownVersion},
		{name: "empty_version", buildInfo: &debug.BuildInfo{}, available: true, expected: unknownVersion},
		{name: "unavailable", available: false, expected: unknownVersion},
	}
	for _, testCase := range testCases {
		testCase := testCase
		testingInstance.Run(testCase.name, func(subTest *testing.T) {
			actual := versionFromBuildInfo(func() (*debug.BuildInfo, bool) { return testCase.buildInfo, testCase.available })
			if actual != testCase.expected {
				subTest.Fatalf("expected %q, got %q", testCase.expected, actual)
			}
		})
	}
}
