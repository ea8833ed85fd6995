package queue

import "errors"

// PermanentError marks a failure that retrying cannot fix. The job is exhausted
// immediately instead of consuming its remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether any error in err's chain is a PermanentError
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
