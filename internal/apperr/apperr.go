package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies failures so the HTTP layer can map them to a status code
// without inspecting messages.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindValidation
	KindAlreadyApproved
	KindConflict
	KindCollaborator
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
	// Detail is an optional payload rendered next to the message.
	Detail any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Unauthorized() error {
	return &Error{Kind: KindUnauthorized, Message: "Unauthorized"}
}

func InvalidCredentials() error {
	return &Error{Kind: KindUnauthorized, Message: "Invalid credentials"}
}

func Forbidden() error {
	return &Error{Kind: KindForbidden, Message: "Forbidden"}
}

// NotFound covers both "missing" and "not yours"; callers must not tell them apart.
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Invalid(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func AlreadyApproved(msg string, detail any) error {
	return &Error{Kind: KindAlreadyApproved, Message: msg, Detail: detail}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func Collaborator(msg string, err error) error {
	return &Error{Kind: KindCollaborator, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to its response code. Forbidden is reported as 401.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized, KindForbidden:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindAlreadyApproved:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a caller. Internal failures are masked.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return fallback
}

// DetailOf returns the attached payload, if any.
func DetailOf(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return nil
}
