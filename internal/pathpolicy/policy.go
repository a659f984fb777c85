// Package pathpolicy holds the path, ignore-pattern and shell-quoting rules
// applied to everything that leaves the workspace for a remote host.
package pathpolicy

import (
	"path"
	"regexp"
	"strings"
)

const (
	// MaxPathLength bounds relative paths and shell commands.
	MaxPathLength = 4096

	// MaxPatternLength bounds a single ignore pattern.
	MaxPatternLength = 256
)

// DefaultIgnorePatterns is used when a configuration carries no usable ignore list.
var DefaultIgnorePatterns = []string{".git", ".vscode", "node_modules"}

const forbiddenChars = `<>:"|?*`

var reservedName = regexp.MustCompile(`(?i)^(CON|PRN|AUX|NUL|COM[1-9]|LPT[1-9])(\..*)?$`)

// IsValidPath reports whether p is a safe workspace-relative path.
// Backslashes are treated as separators.
func IsValidPath(p string) bool {
	if p == "" || len(p) > MaxPathLength {
		return false
	}

	normalized := strings.ReplaceAll(p, `\`, "/")

	if strings.Contains(normalized, "../") || strings.Contains(normalized, "/..") || normalized == ".." {
		return false
	}
	if strings.HasPrefix(normalized, "/") {
		return false
	}
	if strings.ContainsAny(normalized, forbiddenChars) || strings.ContainsRune(normalized, 0) {
		return false
	}

	for _, segment := range strings.Split(normalized, "/") {
		if reservedName.MatchString(segment) {
			return false
		}
	}

	return true
}

// IsValidRemotePath applies IsValidPath to a POSIX remote path, which may
// be absolute. The remote root "/" is accepted.
func IsValidRemotePath(p string) bool {
	if p == "/" {
		return true
	}
	return IsValidPath(strings.TrimPrefix(p, "/"))
}

// ValidateRemotePath reports whether remote resolves inside base.
func ValidateRemotePath(remote, base string) bool {
	if !IsValidRemotePath(remote) {
		return false
	}
	remote = path.Clean(remote)
	base = path.Clean(base)
	if base == "/" {
		return strings.HasPrefix(remote, "/")
	}
	return remote == base || strings.HasPrefix(remote, base+"/")
}

// SanitizePath replaces forbidden characters with underscores and strips
// parent-directory traversal segments.
func SanitizePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, r := range p {
		if strings.ContainsRune(forbiddenChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}

	out := b.String()
	for _, traversal := range []string{"../", `..\`, "/..", `\..`} {
		for strings.Contains(out, traversal) {
			out = strings.ReplaceAll(out, traversal, "")
		}
	}

	return strings.TrimSpace(out)
}

// ValidateIgnorePatterns filters a decoded configuration value down to the
// usable ignore patterns. Anything that is not a list yields the defaults.
func ValidateIgnorePatterns(value any) []string {
	switch v := value.(type) {
	case []string:
		return FilterIgnorePatterns(v)
	case []any:
		patterns := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				patterns = append(patterns, s)
			}
		}
		return FilterIgnorePatterns(patterns)
	default:
		return append([]string(nil), DefaultIgnorePatterns...)
	}
}

// FilterIgnorePatterns drops empty, overlong and traversal-bearing patterns.
func FilterIgnorePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if len(p) == 0 || len(p) >= MaxPatternLength {
			continue
		}
		if strings.Contains(p, "..") {
			continue
		}
		out = append(out, p)
	}
	return out
}
