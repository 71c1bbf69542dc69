package runner

import "errors"

// permanentError marks a sub-item failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return "permanent: " + e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps err so the runner skips the sub-item without retrying.
// Malformed or unsupported input is permanent; everything else is treated
// as transient and retried with backoff.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries a permanent marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
