package mcpmgr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a server name or call ID is not registered.
	ErrNotFound = errors.New("mcpmgr: not found")
	// ErrAlreadyRunning is returned when registering a name that is already
	// present. The existing entry is left untouched.
	ErrAlreadyRunning = errors.New("mcpmgr: already running")
	// ErrCancelled is returned by cancellable calls that stopped waiting
	// because their cancellation signal fired or their context ended.
	ErrCancelled = errors.New("mcpmgr: cancelled")
	// ErrShutdownInProgress is returned for registrations and calls attempted
	// after shutdown has started.
	ErrShutdownInProgress = errors.New("mcpmgr: shutdown in progress")
)

// errCallCancelled is the cancellation cause attached by Cancel so explicit
// cancellation can be told apart from caller deadlines.
var errCallCancelled = errors.New("mcpmgr: call cancelled by request")

// ServiceError wraps a failure reported by a server connection, annotated with
// the server name. The underlying error is preserved for errors.Is/As.
type ServiceError struct {
	Server string
	Err    error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("mcpmgr: server %q: %v", e.Server, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// AsServiceError extracts the *ServiceError wrapped anywhere in err.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func notFound(kind, name string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
}

func alreadyRunning(kind, name string) error {
	return fmt.Errorf("%w: %s %q", ErrAlreadyRunning, kind, name)
}

func errNilHandle(name string) error {
	return fmt.Errorf("mcpmgr: nil handle for %q", name)
}
