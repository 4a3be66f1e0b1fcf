package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind int

// Error kinds.
const (
	// InvalidParameter is an out-of-domain argument.
	InvalidParameter ErrorKind = iota + 1
	// DescriptorMismatch is an input incompatible with an operation.
	DescriptorMismatch
	// OutOfBounds is a region outside an image's extent.
	OutOfBounds
	// SequentialAccessViolation is an out-of-order read of a sequential source.
	SequentialAccessViolation
	// UnsupportedFormat is a format or capability no codec provides.
	UnsupportedFormat
	// CodecFailure is a decode or encode error reported by a codec.
	CodecFailure
	// OutOfMemory means the memory limit was hit and eviction could not recover.
	OutOfMemory
)

var errorKindNames = map[ErrorKind]string{
	InvalidParameter:          "invalid parameter",
	DescriptorMismatch:        "descriptor mismatch",
	OutOfBounds:               "out of bounds",
	SequentialAccessViolation: "sequential access violation",
	UnsupportedFormat:         "unsupported format",
	CodecFailure:              "codec failure",
	OutOfMemory:               "out of memory",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the error type returned by every fallible pipeline operation.
type Error struct {
	Kind ErrorKind
	// Op names the operation that failed, e.g. "crop" or "evaluate".
	Op  string
	Msg string
	// Err is the underlying cause, usually from a codec.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "pipeline: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrInvalidParameter          = &Error{Kind: InvalidParameter}
	ErrDescriptorMismatch        = &Error{Kind: DescriptorMismatch}
	ErrOutOfBounds               = &Error{Kind: OutOfBounds}
	ErrSequentialAccessViolation = &Error{Kind: SequentialAccessViolation}
	ErrUnsupportedFormat         = &Error{Kind: UnsupportedFormat}
	ErrCodecFailure              = &Error{Kind: CodecFailure}
	ErrOutOfMemory               = &Error{Kind: OutOfMemory}
)

func errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodecError wraps a codec's own error as a CodecFailure. Codecs use it so
// callers can tell decode problems from caller mistakes.
func CodecError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return wrapError(CodecFailure, op, err)
}

// Unsupported builds an UnsupportedFormat error.
func Unsupported(op, format string, args ...any) error {
	return errorf(UnsupportedFormat, op, format, args...)
}
