package report

import "errors"

// ErrInvalidUsage marks a lifecycle method called while its precondition was
// violated (already started, never started, still running, or failed when
// success was required). Never retried; a programming-contract violation.
var ErrInvalidUsage = errors.New("invalid report job usage")
