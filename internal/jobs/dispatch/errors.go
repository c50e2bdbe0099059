package dispatch

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: rate limits, timeouts,
// flaky collaborators. Anything not wrapped as transient is treated as
// permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// InsufficientResults is raised at a stage barrier when the yield is below
// the configured minimum. It is permanent: retrying the barrier check cannot
// conjure more results.
type InsufficientResults struct {
	Stage string
	Got   int64
	Want  int64
}

func (e *InsufficientResults) Error() string {
	return fmt.Sprintf("stage %s yielded %d results, need at least %d", e.Stage, e.Got, e.Want)
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}
