package rules

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNilMatcher indicates a rule without a path matcher
	ErrNilMatcher = errors.New("rule has no path matcher")

	// ErrNegativeDuration indicates a rule with a negative max-age or timeout
	ErrNegativeDuration = errors.New("rule duration must not be negative")
)

// Defaults holds the values used when a rule leaves a field zero.
type Defaults struct {
	MaxAge      time.Duration
	WaitTimeout time.Duration
}

// Match is the result of a successful rule evaluation.
type Match struct {
	Rule        Rule
	Index       int
	Key         string
	MaxAge      time.Duration
	WaitTimeout time.Duration
	Compress    bool
}

// Matcher evaluates rules in order; the first matching rule wins.
type Matcher struct {
	rules    []Rule
	defaults Defaults
}

// NewMatcher validates and freezes rules.
func NewMatcher(rules []Rule, defaults Defaults) (*Matcher, error) {
	frozen := make([]Rule, len(rules))
	for i, r := range rules {
		if r.Matcher == nil {
			return nil, fmt.Errorf("rule %d: %w", i, ErrNilMatcher)
		}
		if r.MaxAge < 0 || r.WaitTimeout < 0 {
			return nil, fmt.Errorf("rule %d: %w", i, ErrNegativeDuration)
		}
		r.KeyQueries = append([]string(nil), r.KeyQueries...)
		frozen[i] = r
	}
	return &Matcher{rules: frozen, defaults: defaults}, nil
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// Match reports whether a request is eligible and, if so, how it is cached.
// Only GET requests are eligible.
func (m *Matcher) Match(method, path, rawQuery string) (Match, bool) {
	if !strings.EqualFold(method, http.MethodGet) {
		return Match{}, false
	}

	for i, r := range m.rules {
		if !r.Matcher.MatchString(path) {
			continue
		}

		match := Match{
			Rule:        r,
			Index:       i,
			Key:         Key(path, rawQuery, r.KeyQueries),
			MaxAge:      r.MaxAge,
			WaitTimeout: r.WaitTimeout,
			Compress:    r.Compress,
		}
		if match.MaxAge == 0 {
			match.MaxAge = m.defaults.MaxAge
		}
		if match.WaitTimeout == 0 {
			match.WaitTimeout = m.defaults.WaitTimeout
		}
		return match, true
	}

	return Match{}, false
}
