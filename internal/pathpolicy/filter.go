package pathpolicy

import (
	"path/filepath"
	"regexp"
	"strings"
)

// PathFilter decides whether a workspace entry is ignored. It returns the
// pattern that matched so callers can log it.
type PathFilter interface {
	Ignored(relPath, absPath string) (pattern string, ignored bool)
}

// FilterKind selects a PathFilter implementation.
type FilterKind string

const (
	FilterSubstring FilterKind = "substring"
	FilterGlob      FilterKind = "glob"
)

// NewFilter builds the filter of the given kind. Unknown kinds fall back to
// substring matching.
func NewFilter(kind FilterKind, patterns []string) PathFilter {
	if kind == FilterGlob {
		return NewGlobFilter(patterns)
	}
	return NewSubstringFilter(patterns)
}

// SubstringFilter ignores an entry when any pattern occurs anywhere in its
// relative or absolute path. "git" therefore also ignores "digit.txt".
type SubstringFilter struct {
	patterns []string
}

func NewSubstringFilter(patterns []string) *SubstringFilter {
	return &SubstringFilter{patterns: append([]string(nil), patterns...)}
}

func (f *SubstringFilter) Ignored(relPath, absPath string) (string, bool) {
	for _, p := range f.patterns {
		if strings.Contains(relPath, p) || strings.Contains(absPath, p) {
			return p, true
		}
	}
	return "", false
}

// GlobFilter matches patterns against path components. "*" stays within a
// component, "**" crosses separators, and a pattern containing "/" is
// matched against the whole relative path.
type GlobFilter struct {
	patterns []globPattern
}

type globPattern struct {
	raw   string
	regex *regexp.Regexp
	full  bool
}

func NewGlobFilter(patterns []string) *GlobFilter {
	f := &GlobFilter{}
	for _, raw := range patterns {
		trimmed := strings.Trim(raw, "/")
		if trimmed == "" {
			continue
		}
		re, err := regexp.Compile(globToRegex(trimmed))
		if err != nil {
			continue
		}
		f.patterns = append(f.patterns, globPattern{
			raw:   raw,
			regex: re,
			full:  strings.Contains(trimmed, "/"),
		})
	}
	return f
}

func (f *GlobFilter) Ignored(relPath, _ string) (string, bool) {
	rel := filepath.ToSlash(relPath)
	segments := strings.Split(rel, "/")

	for _, p := range f.patterns {
		if p.full {
			if p.regex.MatchString(rel) {
				return p.raw, true
			}
			continue
		}
		for _, seg := range segments {
			if p.regex.MatchString(seg) {
				return p.raw, true
			}
		}
	}
	return "", false
}

func globToRegex(glob string) string {
	var result strings.Builder
	result.WriteString("^")

	for i := 0; i < len(glob); i++ {
		ch := glob[i]
		switch ch {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				result.WriteString(".*")
				i++
			} else {
				result.WriteString("[^/]*")
			}
		case '?':
			result.WriteString("[^/]")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			result.WriteByte('\\')
			result.WriteByte(ch)
		default:
			result.WriteByte(ch)
		}
	}

	result.WriteString("$")
	return result.String()
}
