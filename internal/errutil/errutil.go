// Package errutil provides the wrapped-error helper shared by every stage.
package errutil

import "fmt"

// Wrap builds a wrapped error in the same shape as the teacher's
// pkg/utils.MakeError: a sentinel base error plus a formatted detail body,
// joined with %w so callers can errors.Is/errors.As against the sentinel.
func Wrap(base error, detail string, args ...any) error {
	return fmt.Errorf("%w: "+detail, append([]any{base}, args...)...)
}
