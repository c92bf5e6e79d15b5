// Package rules decides which requests the shield handles and derives
// their cache keys.
package rules

import (
	"fmt"
	"regexp"
	"time"
)

// PathMatcher is a predicate over a request path.
// *regexp.Regexp satisfies it.
type PathMatcher interface {
	MatchString(path string) bool
}

// PathMatcherFunc adapts a plain function to PathMatcher.
type PathMatcherFunc func(path string) bool

// MatchString implements PathMatcher.
func (f PathMatcherFunc) MatchString(path string) bool {
	return f(path)
}

// Rule describes one class of cacheable requests.
type Rule struct {
	// Matcher selects the paths this rule applies to (required)
	Matcher PathMatcher

	// MaxAge is the cache TTL; zero means the matcher default
	MaxAge time.Duration

	// WaitTimeout bounds how long requests wait for the leader; zero means the matcher default
	WaitTimeout time.Duration

	// KeyQueries restricts the cache key to these query parameters, in order
	KeyQueries []string

	// Compress enables caching a gzip variant next to the raw body
	Compress bool
}

// Pattern returns a rule matching paths against the regular expression expr.
func Pattern(expr string) (Rule, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("compile rule pattern %q: %w", expr, err)
	}
	return Rule{Matcher: re}, nil
}

// MustPattern is like Pattern but panics if expr does not compile.
func MustPattern(expr string) Rule {
	r, err := Pattern(expr)
	if err != nil {
		panic(err)
	}
	return r
}

// String describes the rule for logs.
func (r Rule) String() string {
	if s, ok := r.Matcher.(fmt.Stringer); ok {
		return s.String()
	}
	return "custom"
}
