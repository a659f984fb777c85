package pathpolicy

import "testing"

func TestSubstringFilter(t *testing.T) {
	f := NewSubstringFilter([]string{".git", "node_modules", "git"})

	tests := []struct {
		rel, abs string
		ignored  bool
		pattern  string
	}{
		{".git/config", "/ws/.git/config", true, ".git"},
		{"web/node_modules/x.js", "/ws/web/node_modules/x.js", true, "node_modules"},
		// Substring matching is deliberately coarse.
		{"digit.txt", "/ws/digit.txt", true, "git"},
		{"src/main.go", "/ws/src/main.go", false, ""},
	}

	for _, tt := range tests {
		pattern, ignored := f.Ignored(tt.rel, tt.abs)
		if ignored != tt.ignored || pattern != tt.pattern {
			t.Errorf("Ignored(%q) = (%q, %v), want (%q, %v)", tt.rel, pattern, ignored, tt.pattern, tt.ignored)
		}
	}
}

func TestSubstringFilterMatchesAbsolutePath(t *testing.T) {
	f := NewSubstringFilter([]string{"secret"})
	if _, ignored := f.Ignored("notes.txt", "/home/secret/ws/notes.txt"); !ignored {
		t.Error("expected match against absolute path")
	}
}

func TestGlobFilter(t *testing.T) {
	f := NewGlobFilter([]string{".git", "*.log", "build/*.o", "node_modules/", "**/tmp"})

	tests := []struct {
		rel     string
		ignored bool
	}{
		{".git", true},
		{".git/HEAD", true},
		{"logs/today.log", true},
		{"build/main.o", true},
		{"src/build/main.o", false},
		{"web/node_modules/react/index.js", true},
		{"a/b/tmp", true},
		{"digit.txt", false},
		{"src/main.go", false},
		{"changelog.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			_, ignored := f.Ignored(tt.rel, "/ws/"+tt.rel)
			if ignored != tt.ignored {
				t.Errorf("Ignored(%q) = %v, want %v", tt.rel, ignored, tt.ignored)
			}
		})
	}
}

func TestNewFilter(t *testing.T) {
	if _, ok := NewFilter(FilterGlob, nil).(*GlobFilter); !ok {
		t.Error("glob kind should build a GlobFilter")
	}
	if _, ok := NewFilter("unknown", nil).(*SubstringFilter); !ok {
		t.Error("unknown kind should fall back to SubstringFilter")
	}
}
