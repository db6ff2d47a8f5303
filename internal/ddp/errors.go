package ddp

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode reports an inbound batch that is not a JSON array.
	ErrDecode = errors.New("ddp: malformed batch")
	// ErrEmptyMethodName is returned when registering a method without a name.
	ErrEmptyMethodName = errors.New("ddp: method name must not be empty")
	// ErrNilMethod is returned when registering a nil MethodFunc.
	ErrNilMethod = errors.New("ddp: method func must not be nil")
	// ErrMethodNotFound is the cause of the in-band error for unknown methods.
	ErrMethodNotFound = errors.New("ddp: method not found")
	// ErrUnsupportedArity is the cause of the in-band error for calls with
	// more than MaxArgs positional parameters.
	ErrUnsupportedArity = errors.New("ddp: unsupported arity")
	// ErrInvalidParams is the cause of the in-band error for params that are
	// not a JSON array.
	ErrInvalidParams = errors.New("ddp: invalid params")
	// ErrMethodTimeout is the cause of the in-band error for calls that
	// exceed the engine's method timeout.
	ErrMethodTimeout = errors.New("ddp: method timed out")
)

// CodeInternal is the error code used for every server-side failure.
const CodeInternal = "500"

// Error is the error object carried inside "result" and "nosub" messages.
// Methods may return an *Error to control the code and reason sent to the
// client.
type Error struct {
	Code   string `json:"error"`
	Reason string `json:"reason"`
	cause  error
}

// NewError builds an in-band error with the given code and reason.
func NewError(code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap exposes the sentinel error behind engine-generated errors.
func (e *Error) Unwrap() error { return e.cause }

func methodNotFound() *Error {
	return &Error{Code: CodeInternal, Reason: "Method not found", cause: ErrMethodNotFound}
}

func unsupportedArity(n int) *Error {
	return &Error{Code: CodeInternal, Reason: fmt.Sprintf("Unsupported arity: %d", n), cause: ErrUnsupportedArity}
}

func invalidParams() *Error {
	return &Error{Code: CodeInternal, Reason: "Invalid params", cause: ErrInvalidParams}
}

func methodTimedOut() *Error {
	return &Error{Code: CodeInternal, Reason: "Method timed out", cause: ErrMethodTimeout}
}

// errorFor shapes any error into the in-band error object. An *Error found
// anywhere in the chain is forwarded unchanged.
func errorFor(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Code: CodeInternal, Reason: err.Error(), cause: err}
}
