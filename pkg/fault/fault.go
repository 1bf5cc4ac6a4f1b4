package fault

import (
	"errors"
	"fmt"
)

// Class is the error taxonomy shared by every remote call.
type Class string

const (
	None         Class = ""
	Network      Class = "network"
	Permission   Class = "permission"
	IndexMissing Class = "index_missing"
	LockTimeout  Class = "lock_timeout"
	Generic      Class = "generic"
)

// Retryable reports whether failures of this class are transient.
func (c Class) Retryable() bool {
	switch c {
	case Network, IndexMissing, LockTimeout:
		return true
	default:
		return false
	}
}

func (c Class) String() string {
	if c == None {
		return "none"
	}
	return string(c)
}

// Sentinels for errors.Is matching against a class.
var (
	ErrNetwork      = &Error{Class: Network}
	ErrPermission   = &Error{Class: Permission}
	ErrIndexMissing = &Error{Class: IndexMissing}
	ErrLockTimeout  = &Error{Class: LockTimeout}
	ErrGeneric      = &Error{Class: Generic}
)

// Error is a classified failure. Attempts is set by the retry coordinator.
type Error struct {
	Class    Class
	Op       string
	Attempts int
	Err      error
}

// New returns a classified error with a plain message.
func New(class Class, msg string) *Error {
	return &Error{Class: class, Err: errors.New(msg)}
}

// Wrap attaches a class to err. A nil err stays nil.
func Wrap(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Class.String() + " error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same class, so errors.Is(err, ErrPermission)
// works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Class == e.Class
}
