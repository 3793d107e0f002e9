// Package match provides the string matcher variants used for paths,
// header values and host patterns: exact equality, regular expression,
// or caller-supplied predicate.
package match

import "regexp"

// Matcher reports whether a string satisfies one registered criterion.
type Matcher interface {
	Match(s string) bool
	// String describes the criterion for diagnostics and event payloads.
	String() string
}

// Exact matches by full string equality.
func Exact(value string) Matcher {
	return exact(value)
}

// Pattern matches when the regular expression finds a match anywhere in
// the subject. Anchor the expression to force whole-string matching.
func Pattern(re *regexp.Regexp) Matcher {
	return pattern{re: re}
}

// Predicate matches when fn returns true. A nil fn never matches.
func Predicate(fn func(string) bool) Matcher {
	return predicate(fn)
}

type exact string

func (m exact) Match(s string) bool { return string(m) == s }
func (m exact) String() string      { return string(m) }

type pattern struct {
	re *regexp.Regexp
}

func (m pattern) Match(s string) bool { return m.re.MatchString(s) }
func (m pattern) String() string      { return "~" + m.re.String() }

type predicate func(string) bool

func (m predicate) Match(s string) bool { return m != nil && m(s) }
func (m predicate) String() string      { return "predicate" }
