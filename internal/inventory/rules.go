package inventory

import (
	"fmt"
	"path"
)

// DefaultExcludes are the basenames never synchronized to a build machine.
var DefaultExcludes = []string{
	"__pycache__",
	".git",
	".idea",
	"alibabacloud-nls-python-sdk-1.0.0",
	"build",
	"dist",
	"venv",
	"logs",
	"src",
	".gitignore",
	".DS_Store",
	"CourseForgeMini.spec",
	"*.pyc",
}

// Rules is a set of glob patterns matched against basenames.
type Rules struct {
	patterns []string
}

// NewRules validates patterns and returns a rule set.
func NewRules(patterns []string) (Rules, error) {
	for i, p := range patterns {
		if _, err := path.Match(p, "probe"); err != nil {
			return Rules{}, fmt.Errorf("invalid exclude pattern at index %d %q: %w", i, p, err)
		}
	}
	return Rules{patterns: append([]string(nil), patterns...)}, nil
}

// MustRules is NewRules that panics on invalid patterns.
func MustRules(patterns []string) Rules {
	r, err := NewRules(patterns)
	if err != nil {
		panic(err)
	}
	return r
}

// Patterns returns a copy of the configured patterns.
func (r Rules) Patterns() []string {
	return append([]string(nil), r.patterns...)
}

// Excludes reports whether name matches any pattern.
func (r Rules) Excludes(name string) bool {
	for _, p := range r.patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}
