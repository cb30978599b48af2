// Package utils contains general helper functions used across htmltidy.
package utils

import (
	"os"
	"path/filepath"
	"strings"
)

const extensionSeparator = "."

// DeduplicateStrings removes duplicate values from a slice while preserving order.
// The first occurrence of each unique value is kept.
func DeduplicateStrings(values []string) []string {
	encounteredValues := make(map[string]struct{})
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, exists := encounteredValues[value]; !exists {
			encounteredValues[value] = struct{}{}
			result = append(result, value)
		}
	}
	return result
}

// NormalizeExtension lower-cases an extension and ensures it starts with a dot.
// Blank input yields an empty string.
func NormalizeExtension(extension string) string {
	normalized := strings.ToLower(strings.TrimSpace(extension))
	if normalized == "" {
		return ""
	}
	if !strings.HasPrefix(normalized, extensionSeparator) {
		normalized = extensionSeparator + normalized
	}
	return normalized
}

// HasExtension reports whether path ends with one of the extensions, compared case-insensitively.
func HasExtension(path string, extensions []string) bool {
	pathExtension := strings.ToLower(filepath.Ext(path))
	if pathExtension == "" {
		return false
	}
	for _, extension := range extensions {
		if NormalizeExtension(extension) == pathExtension {
			return true
		}
	}
	return false
}

// RelativePathOrSelf calculates the relative path from root to fullPath.
// Returns the cleaned fullPath if relative calculation fails.
// Returns "." if fullPath and root resolve to the same directory.
func RelativePathOrSelf(fullPath, root string) string {
	cleanPath := filepath.Clean(fullPath)
	absoluteRoot, err := filepath.Abs(root)
	if err != nil {
		return cleanPath
	}
	cleanAbsoluteRoot := filepath.Clean(absoluteRoot)

	if cleanPath == cleanAbsoluteRoot {
		return "."
	}

	relativePath, relErr := filepath.Rel(cleanAbsoluteRoot, cleanPath)
	if relErr != nil || strings.HasPrefix(relativePath, "..") {
		return cleanPath
	}
	return filepath.ToSlash(relativePath)
}

// IsDirectory reports whether path exists and is a directory.
func IsDirectory(path string) bool {
	fileInformation, statError := os.Stat(path)
	return statError == nil && fileInformation.IsDir()
}

// ShouldSkipDirectory reports whether a directory entry is a version control or hidden directory
// that directory walks should not descend into.
func ShouldSkipDirectory(directoryEntry os.DirEntry) bool {
	if !directoryEntry.IsDir() {
		return false
	}
	entryName := directoryEntry.Name()
	return entryName == GitDirectoryName || entryName == "node_modules" || (strings.HasPrefix(entryName, ".") && entryName != "." && entryName != "..")
}
