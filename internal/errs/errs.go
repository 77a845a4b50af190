// Package errs defines the sentinel error taxonomy from the error handling
// design: each category a caller can check with errors.Is, each wrapped with
// a stack trace at its point of origin via github.com/pkg/errors.
package errs

import (
	"github.com/pkg/errors"
)

// Sentinel categories, one per §7 taxonomy entry.
var (
	// ErrConfig marks a fatal configuration error (bad TOML, missing field).
	ErrConfig = errors.New("configuration error")

	// ErrInterfaceOpen marks a bind failure on one interface (missing,
	// down, or insufficient privilege). Fatal only if every interface fails.
	ErrInterfaceOpen = errors.New("interface open error")

	// ErrPublishBackpressure marks a publish queue depth exceeded, triggering
	// drop-oldest.
	ErrPublishBackpressure = errors.New("publish backpressure")

	// ErrStreamUnavailable marks a transient frame-stream connectivity error.
	ErrStreamUnavailable = errors.New("stream store unavailable")

	// ErrPersist marks a transient persistence failure (DB unavailable).
	ErrPersist = errors.New("persistence error")

	// ErrConstraintViolation marks a quarantined row (constraint violation
	// on upsert); the entity is skipped once and retried next cycle.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInvariant marks a logged, non-fatal invariant violation (e.g. a
	// flow whose device cannot be resolved).
	ErrInvariant = errors.New("invariant violation")
)

// Wrap attaches msg and a stack trace to err, preserving errors.Is/As
// against any sentinel wrapped inside.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Cause returns the innermost wrapped error, mirroring pkg/errors.Cause.
func Cause(err error) error {
	return errors.Cause(err)
}
