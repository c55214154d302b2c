package engine

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable code of an engine failure.
type Kind string

const (
	KindInvalidParticipants  Kind = "invalid_participants"
	KindUserNotFound         Kind = "user_not_found"
	KindUserUnavailable      Kind = "user_unavailable"
	KindSkillNotFound        Kind = "skill_not_found"
	KindSkillMismatch        Kind = "skill_mismatch"
	KindDuplicateNegotiation Kind = "duplicate_negotiation"
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindInvalidTransition    Kind = "invalid_transition"
	KindFeedbackNotAllowed   Kind = "feedback_not_allowed"
	KindDuplicateFeedback    Kind = "duplicate_feedback"
	KindValidation           Kind = "validation_error"
)

// Error is a typed precondition or conflict failure. Two Errors match under
// errors.Is when their kinds are equal.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidParticipants  = &Error{Kind: KindInvalidParticipants}
	ErrUserNotFound         = &Error{Kind: KindUserNotFound}
	ErrUserUnavailable      = &Error{Kind: KindUserUnavailable}
	ErrSkillNotFound        = &Error{Kind: KindSkillNotFound}
	ErrSkillMismatch        = &Error{Kind: KindSkillMismatch}
	ErrDuplicateNegotiation = &Error{Kind: KindDuplicateNegotiation}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrFeedbackNotAllowed   = &Error{Kind: KindFeedbackNotAllowed}
	ErrDuplicateFeedback    = &Error{Kind: KindDuplicateFeedback}
	ErrValidation           = &Error{Kind: KindValidation}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
