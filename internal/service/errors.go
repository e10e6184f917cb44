package service

import (
	"errors"
	"fmt"
)

// Kind classifies service errors for the API layer.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindEmpty
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindEmpty:
		return "empty"
	case KindDatabase:
		return "database"
	default:
		return "internal"
	}
}

// Error is a classified service error. Msg is safe to show to clients.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// NotFoundMessage is the client-facing text for an unknown image.
func NotFoundMessage(name string) string {
	return fmt.Sprintf("Requested image '%s' not found. Please check available images using '/api/available_images'", name)
}
