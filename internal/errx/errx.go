// Package errx builds errors that chain a package sentinel with detail,
// so callers can branch with errors.Is while logs keep the full story.
package errx

import "fmt"

// Wrap chains a sentinel with its cause. Both remain matchable
// via errors.Is / errors.As.
func Wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With appends formatted detail to a sentinel. The format string is
// appended verbatim after the sentinel text, so callers supply their own
// separator ("...: %s"). %w verbs in args are honored.
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w"+format, append([]any{sentinel}, args...)...)
}
