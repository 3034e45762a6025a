// Package sandbox provides isolated execution of shell and file
// operations: containers with a writable tmpfs workspace, read-only
// root, no network, dropped capabilities, and resource caps.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath normalizes a sandbox-relative path and rejects anything
// that could escape the root:
//   - absolute inputs (unix "/…" and Windows drive "C:\…") on any platform
//   - any ".." that would climb above the root
//
// The result is relative to root; callers re-join it.
func ValidatePath(root, input string) (string, error) {
	// Cross-platform: reject Windows-style absolute paths even on unix.
	if len(input) >= 2 && input[1] == ':' &&
		((input[0] >= 'a' && input[0] <= 'z') || (input[0] >= 'A' && input[0] <= 'Z')) {
		return "", fmt.Errorf("absolute paths are not allowed in sandbox: %s", input)
	}
	if strings.HasPrefix(input, "/") || strings.HasPrefix(input, "\\") {
		return "", fmt.Errorf("absolute paths are not allowed in sandbox: %s", input)
	}

	var parts []string
	for _, component := range strings.Split(filepath.ToSlash(input), "/") {
		switch component {
		case "", ".":
			// skip
		case "..":
			if len(parts) == 0 {
				return "", fmt.Errorf("path traversal detected in path: %s", input)
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, component)
		}
	}

	normalized := filepath.Join(parts...)

	// Redundant guard against join edge cases.
	full := filepath.Join(root, normalized)
	if rel, err := filepath.Rel(root, full); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("access denied: path %s is outside of root %s", input, root)
	}
	return normalized, nil
}
