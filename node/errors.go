package node

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies an Error returned by a Node.
type Code int

const (
	// CodeError is a generic failure, such as an invalid static sizing
	// or a directory held by another node.
	CodeError Code = iota + 1
	// CodeMisuse is a violated precondition of the API: an invalid argument,
	// or a call made at the wrong stage of the Node lifecycle.
	CodeMisuse
	// CodeIOErr is a fault of the underlying filesystem.
	CodeIOErr
	// CodeEngine is a failure of the SQL engine.
	CodeEngine
	// CodeNotFound is a missing resource.
	CodeNotFound
	// CodeStopped is returned to operations interrupted by a stopping Node.
	CodeStopped
	// CodeNotOpen is returned by operations of a Node which isn't running.
	CodeNotOpen
)

func (c Code) String() string {
	switch c {
	case CodeError:
		return "ERROR"
	case CodeMisuse:
		return "MISUSE"
	case CodeIOErr:
		return "IOERR"
	case CodeEngine:
		return "ENGINE"
	case CodeNotFound:
		return "NOTFOUND"
	case CodeStopped:
		return "STOPPED"
	case CodeNotOpen:
		return "NOTOPEN"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is returned by Node operations, and carries a Code.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the cause of the Error, if any.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the Code of |err|. It's zero if |err| is nil, and CodeError
// if |err| doesn't wrap an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeError
}

func newError(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}
