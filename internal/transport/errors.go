package transport

import (
	"errors"
	"fmt"
)

// ErrUnauthorized means the platform rejected the credential. Nothing later in
// the run can succeed, so callers abort.
var ErrUnauthorized = errors.New("credential rejected by platform (401)")

// FatalError carries the request that hit a run-ending response.
type FatalError struct {
	Method string
	Path   string
	Status int
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
