package catalog

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher tests folder paths and job names against a search query.
//
// Plain queries match by case-insensitive substring. Queries containing glob
// metacharacters (*, ?, [) are matched with doublestar against the lowercase
// name and the lowercase path.
type Matcher struct {
	needle string
	glob   bool
}

// NewMatcher compiles query. An empty query matches everything.
func NewMatcher(query string) Matcher {
	q := strings.ToLower(strings.TrimSpace(query))
	glob := strings.ContainsAny(q, "*?[") && doublestar.ValidatePattern(q)
	return Matcher{needle: q, glob: glob}
}

// IsGlob reports whether the query is matched as a glob.
func (m Matcher) IsGlob() bool {
	return m.glob
}

// MatchFolder reports whether a folder path matches.
func (m Matcher) MatchFolder(path string) bool {
	return m.match(path)
}

// MatchJob reports whether a job matches by name, or by full path for glob
// queries that contain a separator.
func (m Matcher) MatchJob(name, path string) bool {
	if m.match(name) {
		return true
	}
	return m.glob && strings.Contains(m.needle, "/") && m.match(path)
}

func (m Matcher) match(s string) bool {
	if m.needle == "" {
		return true
	}
	s = strings.ToLower(s)
	if !m.glob {
		return strings.Contains(s, m.needle)
	}
	ok, err := doublestar.Match(m.needle, s)
	return err == nil && ok
}
