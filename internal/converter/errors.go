package converter

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure a conversion can produce wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrProcessLaunch   = errors.New("process launch failed")
	ErrProcessExit     = errors.New("process exited with error")
	ErrAmbiguousOutput = errors.New("ambiguous converter output")
	ErrDatabase        = errors.New("database error")
	ErrFollowOnTask    = errors.New("follow-on task error")
)

// Error carries a human-readable message alongside its kind. The message is
// what ends up on the task, so it is not prefixed with the kind.
type Error struct {
	Kind     error
	Msg      string
	ExitCode int
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// relabel prefixes the message of a launch failure so the task reports which
// converter could not be started. Other errors pass through unchanged.
func relabel(err error, prefix string) error {
	var e *Error
	if errors.As(err, &e) && errors.Is(e.Kind, ErrProcessLaunch) {
		return &Error{Kind: ErrProcessLaunch, Msg: prefix + ": " + e.Msg, ExitCode: e.ExitCode}
	}
	return err
}
