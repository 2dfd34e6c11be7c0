package stub

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Match scores. Exact paths beat globs so that /api/users wins over /api/**
// when both are registered.
const (
	scorePathExact   = 100
	scorePathGlob    = 50
	scoreMethodExact = 10
	scoreHeader      = 5
)

// matchPath scores a path against a pattern. Returns 0 when not matched.
func matchPath(pattern, path string) int {
	if pattern == path {
		return scorePathExact
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		return 0
	}
	ok, err := doublestar.Match(pattern, path)
	if err != nil || !ok {
		return 0
	}
	return scorePathGlob
}
