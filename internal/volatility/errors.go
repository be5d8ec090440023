package volatility

import "errors"

// Error kinds. Every error returned by this package matches exactly one or
// more of these with errors.Is.
var (
	ErrInput         = errors.New("invalid input")
	ErrFitting       = errors.New("fitting failed")
	ErrConfiguration = errors.New("invalid configuration")
)

// Specific causes.
var (
	ErrNoObservations   = kindError("no positive-tenor observations", ErrInput)
	ErrUnderdetermined  = kindError("fewer than 3 distinct tenors", ErrInput, ErrFitting)
	ErrNotConverged     = kindError("solver did not converge", ErrFitting)
	ErrNonFinite        = kindError("non-finite parameters", ErrFitting)
	ErrDegenerateTenors = kindError("fewer than 2 distinct tenors", ErrInput)
)

type classifiedError struct {
	msg   string
	kinds []error
}

func kindError(msg string, kinds ...error) error {
	return &classifiedError{msg: msg, kinds: kinds}
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Is(target error) bool {
	for _, k := range e.kinds {
		if k == target {
			return true
		}
	}
	return false
}
