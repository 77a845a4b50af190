package errs

import "errors"

// Exit codes, one per fatal error category (§7 propagation policy): every
// fatal error exits with a distinct nonzero code so a supervisor can tell
// them apart.
const (
	ExitOK              = 0
	ExitConfigError     = 1
	ExitBindFailure     = 2
	ExitDatabaseFatal   = 3
	ExitStreamFatal     = 4
	ExitUnexpectedFatal = 10
)

// CodeFor maps a sentinel error to its process exit code. Unrecognized
// errors get ExitUnexpectedFatal.
func CodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case Is(err, ErrConfig):
		return ExitConfigError
	case Is(err, ErrInterfaceOpen):
		return ExitBindFailure
	case Is(err, ErrPersist):
		return ExitDatabaseFatal
	case Is(err, ErrStreamUnavailable):
		return ExitStreamFatal
	default:
		return ExitUnexpectedFatal
	}
}

// Is re-exports errors.Is under this package so callers only need one import
// when checking against our sentinels.
func Is(err, target error) bool { return errors.Is(err, target) }
