package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the pipelines report.
type Kind string

const (
	KindInsufficientData     Kind = "insufficient-data"
	KindInsufficientFaces    Kind = "insufficient-faces"
	KindAmbiguousPhoto       Kind = "ambiguous-photo"
	KindInsufficientCoverage Kind = "insufficient-coverage"
	KindNoTrainedModel       Kind = "no-trained-model"
	KindInsufficientClasses  Kind = "insufficient-classes"
	KindNoFaces              Kind = "no-faces"
	KindUnknownFace          Kind = "unknown-face"
	KindInternal             Kind = "internal-failure"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInsufficientData     = &Error{Kind: KindInsufficientData}
	ErrInsufficientFaces    = &Error{Kind: KindInsufficientFaces}
	ErrAmbiguousPhoto       = &Error{Kind: KindAmbiguousPhoto}
	ErrInsufficientCoverage = &Error{Kind: KindInsufficientCoverage}
	ErrNoTrainedModel       = &Error{Kind: KindNoTrainedModel}
	ErrInsufficientClasses  = &Error{Kind: KindInsufficientClasses}
	ErrNoFaces              = &Error{Kind: KindNoFaces}
	ErrUnknownFace          = &Error{Kind: KindUnknownFace}
	ErrInternal             = &Error{Kind: KindInternal}
)

// Error is returned by every Service operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}
