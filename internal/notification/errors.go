package notification

import "errors"

// SendError marks delivery failures with retry classification.
type SendError struct {
	err       error
	permanent bool
}

func (e *SendError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// NewPermanentError wraps a failure that should go dead without retrying.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &SendError{err: err, permanent: true}
}

// IsPermanentError reports whether err is a non-retryable delivery failure.
func IsPermanentError(err error) bool {
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		return false
	}
	return sendErr.permanent
}
