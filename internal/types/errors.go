package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the CLI surface and JSON output.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindDB
	KindSchema
	KindParse
	KindAuth
	KindPermission
	KindNetwork
	KindConfig
	KindNotFound
	KindConflict
)

// String returns the surface-level kind name used in --json payloads.
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IoError"
	case KindDB:
		return "DbError"
	case KindSchema:
		return "SchemaError"
	case KindParse:
		return "ParseError"
	case KindAuth:
		return "AuthError"
	case KindPermission:
		return "PermissionError"
	case KindNetwork:
		return "NetworkError"
	case KindConfig:
		return "ConfigError"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	default:
		return "Error"
	}
}

// Error is the error type surfaced by every subsystem. It carries a kind,
// a human message, and an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E creates a new error of the given kind.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr wraps a cause with a kind and message.
func WrapErr(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or KindUnknown when the chain has none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the outermost *Error in err's chain has the given
// kind. Inner *Error values further down the chain are not consulted.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
