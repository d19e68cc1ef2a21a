// Package errs contains sentinel errors used across layers for stable error
// mapping between services and HTTP handlers.
package errs

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound indicates a referenced entity does not exist. For ledger
	// removes this also covers insufficient quantity; the two cases are not
	// distinguished to the caller.
	ErrNotFound = errors.New("not found")

	// ErrExternalService indicates the catalog, pricing or currency provider
	// returned a non-success result. The current job aborts and is retried
	// wholesale by its caller.
	ErrExternalService = errors.New("external service error")

	// ErrDataIntegrity indicates a conditional insert lost a race to a
	// concurrent writer. Callers treat it as benign and proceed as if the
	// existing row had been found.
	ErrDataIntegrity = errors.New("data integrity violation")
)

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsExternal reports whether err is an ErrExternalService.
func IsExternal(err error) bool {
	return errors.Is(err, ErrExternalService)
}

// NotFoundf returns an ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// External wraps err as an ErrExternalService, preserving the cause.
func External(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrExternalService)
}

// Externalf returns an ErrExternalService with a formatted detail message.
func Externalf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrExternalService)
}
