package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindStorage
	KindState
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	case KindState:
		return "state"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the typed error returned by the delivery core and its stores.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Statef(format string, args ...any) *Error {
	return &Error{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a persistence failure. Typed errors already in the chain are
// returned as is so a NotFound coming out of a store keeps its kind.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorage, Message: op, err: err}
}

var (
	// ErrQuizNotFound is returned when a quiz id is unknown.
	ErrQuizNotFound = NotFoundf("quiz not found")
	// ErrQuestionNotFound is returned when no question sits at the requested sequence position.
	ErrQuestionNotFound = NotFoundf("question not found")
	// ErrAttemptNotFound is returned when a result (attempt) id is unknown.
	ErrAttemptNotFound = NotFoundf("attempt not found")
	// ErrAnswerNotFound indicates an answer id that is not an option of the question.
	ErrAnswerNotFound = Validationf("answer is not an option of this question")
	// ErrAttemptOwner rejects responses whose user does not own the attempt.
	ErrAttemptOwner = Validationf("attempt belongs to another user")
	// ErrAttemptSubmitted is returned when an operation needs an attempt that is still open.
	ErrAttemptSubmitted = Statef("attempt already submitted")
	// ErrAttemptBusy is returned when another client already drives the attempt.
	ErrAttemptBusy = Conflictf("attempt is driven by another session")
)
