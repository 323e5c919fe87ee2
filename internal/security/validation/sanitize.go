package validation

import (
	"path/filepath"
	"runtime"
	"strings"
)

// WindowsReservedNames are device names that cannot be used as filenames on Windows.
var WindowsReservedNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

// WindowsInvalidChars are characters that cannot be used in Windows filenames.
var WindowsInvalidChars = []byte{'<', '>', ':', '"', '|', '?', '*'}

// ShellMetaCharacters that could indicate injection attempts, used to
// reject a Docker image reference rather than a shell_exec command —
// the latter is meant to run an arbitrary shell command, so sanitizing
// its content would defeat the feature.
var ShellMetaCharacters = []byte{
	';', '|', '&', '$', '`', '(', ')', '{', '}', '[', ']',
	'<', '>', '\n', '\r',
}

// SanitizePath validates and resolves path against basePath, rejecting
// traversal outside of it. Returns empty string if the path is invalid
// or attempts traversal. Used to confine a shell_exec task's
// working_dir to the slave's configured work_dir root (spec §4.4).
func SanitizePath(basePath, path string) string {
	if path == "" {
		return ""
	}

	cleaned := filepath.Clean(path)

	if containsPathTraversal(cleaned) {
		return ""
	}

	if runtime.GOOS == "windows" {
		if errMsg := ValidatePathForWindows(cleaned); errMsg != "" {
			return ""
		}
	}

	if filepath.IsAbs(cleaned) {
		if basePath != "" && !pathStartsWithBase(cleaned, basePath) {
			return ""
		}
		return cleaned
	}

	if basePath != "" {
		abs := filepath.Join(basePath, cleaned)
		abs = filepath.Clean(abs)
		if !pathStartsWithBase(abs, basePath) {
			return ""
		}
		return abs
	}

	return cleaned
}

// ValidateDockerImage checks if a Docker image reference is a plausible
// image name rather than an injection attempt, for the slave's
// configured docker_image setting (spec_full §7).
func ValidateDockerImage(image string) bool {
	if image == "" {
		return true // optional field, native/venv execution ignores it
	}

	if hasShellMetaChars(image) {
		return false
	}

	validChars := func(r rune) bool {
		return (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == ':' || r == '@'
	}

	for _, r := range image {
		if !validChars(r) {
			return false
		}
	}

	return true
}

func hasShellMetaChars(s string) bool {
	for _, c := range ShellMetaCharacters {
		if strings.ContainsRune(s, rune(c)) {
			return true
		}
	}
	return false
}

func containsPathTraversal(path string) bool {
	normalizedPath := filepath.ToSlash(path)

	parts := strings.Split(normalizedPath, "/")
	for _, part := range parts {
		if part == ".." {
			return true
		}
	}

	if strings.Contains(path, "%2e%2e") || strings.Contains(path, "%2E%2E") {
		return true
	}

	return false
}

// isWindowsReservedName checks if the given name is a Windows reserved device name.
func isWindowsReservedName(name string) bool {
	base := strings.ToUpper(name)
	if idx := strings.LastIndex(base, "."); idx != -1 {
		base = base[:idx]
	}

	for _, reserved := range WindowsReservedNames {
		if base == reserved {
			return true
		}
	}
	return false
}

// hasWindowsInvalidChars checks if the path contains characters invalid on Windows.
// Colons are allowed as part of drive letters (e.g., "C:\") but not elsewhere.
func hasWindowsInvalidChars(path string) bool {
	for i, r := range path {
		if r == ':' {
			if i != 1 {
				return true
			}
			continue
		}
		for _, c := range WindowsInvalidChars {
			if r == rune(c) {
				return true
			}
		}
	}
	return false
}

// ValidatePathForWindows checks if a path is valid on Windows. Returns
// an error message if invalid, empty string if valid.
func ValidatePathForWindows(path string) string {
	if path == "" {
		return ""
	}

	if hasWindowsInvalidChars(path) {
		return "path contains invalid Windows characters"
	}

	normalizedPath := filepath.ToSlash(path)
	parts := strings.Split(normalizedPath, "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		if isWindowsReservedName(part) {
			return "path contains Windows reserved name: " + part
		}
	}

	return ""
}

// pathStartsWithBase checks if fullPath starts with basePath, using
// case-insensitive comparison on Windows.
func pathStartsWithBase(fullPath, basePath string) bool {
	fullPath = filepath.Clean(fullPath)
	basePath = filepath.Clean(basePath)

	if runtime.GOOS == "windows" {
		return strings.HasPrefix(strings.ToLower(fullPath), strings.ToLower(basePath))
	}
	return strings.HasPrefix(fullPath, basePath)
}
