package crawler

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Filter decides which URLs may be crawled from ignore and follow globs.
type Filter struct {
	ignore []string
	follow []string
}

// NewFilter creates a filter. It returns nil when both lists are empty.
func NewFilter(ignore, follow []string) *Filter {
	if len(ignore) == 0 && len(follow) == 0 {
		return nil
	}
	return &Filter{ignore: ignore, follow: follow}
}

// Allow reports whether rawURL passes the filter:
//  1. a path matching any ignore pattern is rejected
//  2. with follow patterns set, a path must match one of them
func (f *Filter) Allow(rawURL string) bool {
	if f == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range f.ignore {
		if matchPattern(pattern, path) {
			return false
		}
	}
	if len(f.follow) == 0 {
		return true
	}
	for _, pattern := range f.follow {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern matches a path against a glob.
//   - "/vendor/*" matches "/vendor" and everything below it
//   - "*.jpg" matches any path ending in .jpg
//   - other patterns use filepath.Match
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	matched, err := filepath.Match(pattern, path)
	return err == nil && matched
}
