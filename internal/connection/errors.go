package connection

import (
	"errors"
	"fmt"
)

// Failure kinds. Every kind is recoverable by restarting the sequence.
var (
	ErrConfigLoad     = errors.New("config load failed")
	ErrConnect        = errors.New("failed to connect")
	ErrConnectionLost = errors.New("connection lost")
	ErrLogin          = errors.New("login failed")
	ErrRoomJoin       = errors.New("room join failed")
	ErrRoomCreation   = errors.New("room creation failed")
	ErrPrecondition   = errors.New("precondition violated")
)

// Failure is the reason the machine entered Failed.
type Failure struct {
	// Kind is one of the Err* sentinels.
	Kind error
	// Code is the server error code, or 0.
	Code int
	// Message is the human-readable reason shown to the operator.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (f *Failure) Error() string {
	return f.Message
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Err}
}

func newFailure(kind error, code int, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}
