package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// deniedPatterns are path fragments no tool may read or write, matched
// case-insensitively against the cleaned relative path. Lockfiles are
// denied for writes because the agent must never hand-edit them; version
// control internals and credential material are denied outright.
var deniedPatterns = []string{
	".git/",
	".env",
	".netrc",
	"id_rsa",
	"id_ed25519",
	".aws/credentials",
	".ssh/",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"Cargo.lock",
	"go.sum",
}

// resolvePath joins a tool-supplied path against the sandbox root and
// rejects anything that escapes it or touches a denylisted pattern.
// Returns the resolved absolute path and the cleaned relative path.
func resolvePath(root, path string) (abs string, rel string, err error) {
	if path == "" || path == "." {
		return root, ".", nil
	}
	if filepath.IsAbs(path) {
		// Absolute paths are allowed only when already under the root.
		rel, relErr := filepath.Rel(root, filepath.Clean(path))
		if relErr != nil || strings.HasPrefix(rel, "..") {
			return "", "", fmt.Errorf("path %q escapes the sandbox root", path)
		}
		path = rel
	}

	rel = filepath.Clean(path)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q escapes the sandbox root", path)
	}

	abs = filepath.Join(root, rel)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q escapes the sandbox root", path)
	}

	if denied(rel) {
		return "", "", fmt.Errorf("path %q is not accessible to tools", path)
	}
	return abs, rel, nil
}

func denied(rel string) bool {
	probe := strings.ToLower(filepath.ToSlash(rel))
	for _, p := range deniedPatterns {
		pattern := strings.ToLower(p)
		if strings.HasSuffix(pattern, "/") {
			if strings.HasPrefix(probe, pattern) || strings.Contains(probe, "/"+pattern) {
				return true
			}
			continue
		}
		base := probe[strings.LastIndex(probe, "/")+1:]
		if base == pattern || strings.HasPrefix(base, pattern+".") {
			return true
		}
	}
	return false
}

// shellQuote wraps s in single quotes for safe interpolation into a shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
