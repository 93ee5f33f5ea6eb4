/**
 * @description
 * This file defines the closed set of error kinds surfaced by the library-service.
 * Every business failure is a *Error carrying a stable machine-readable code and a
 * fixed HTTP status hint so the API layer can map it without inspecting messages.
 */

package domain

import (
	"errors"
	"net/http"
)

// ErrorKind identifies one member of the error taxonomy.
type ErrorKind string

const (
	KindCreditExpired       ErrorKind = "CreditExpired"
	KindInsufficientCredits ErrorKind = "InsufficientCredits"
	KindAlreadyDecided      ErrorKind = "AlreadyDecided"
	KindDuplicateReference  ErrorKind = "DuplicateReference"
	KindNotFound            ErrorKind = "NotFound"
	KindRangeNotSatisfiable ErrorKind = "RangeNotSatisfiable"
	KindInvalidInput        ErrorKind = "InvalidInput"
	KindInfraFailure        ErrorKind = "InfraFailure"
)

type kindInfo struct {
	code   string
	status int
}

var kindTable = map[ErrorKind]kindInfo{
	KindCreditExpired:       {code: "CREDIT_EXPIRED", status: http.StatusPaymentRequired},
	KindInsufficientCredits: {code: "INSUFFICIENT_CREDITS", status: http.StatusPaymentRequired},
	KindAlreadyDecided:      {code: "ALREADY_DECIDED", status: http.StatusConflict},
	KindDuplicateReference:  {code: "DUPLICATE_REFERENCE", status: http.StatusConflict},
	KindNotFound:            {code: "NOT_FOUND", status: http.StatusNotFound},
	KindRangeNotSatisfiable: {code: "RANGE_NOT_SATISFIABLE", status: http.StatusRequestedRangeNotSatisfiable},
	KindInvalidInput:        {code: "INVALID_INPUT", status: http.StatusBadRequest},
	KindInfraFailure:        {code: "INFRA_FAILURE", status: http.StatusInternalServerError},
}

// Code returns the stable machine-readable code for the kind.
func (k ErrorKind) Code() string {
	if info, ok := kindTable[k]; ok {
		return info.code
	}
	return kindTable[KindInfraFailure].code
}

// Status returns the HTTP status hint for the kind.
func (k ErrorKind) Status() int {
	if info, ok := kindTable[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Error is the typed error returned by ledger, workflow, catalog and file-serving code.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds an error of the given kind with a human-readable message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds an error of the given kind that keeps the underlying cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Code returns the machine-readable code.
func (e *Error) Code() string { return e.Kind.Code() }

// Status returns the HTTP status hint.
func (e *Error) Status() int { return e.Kind.Status() }

// Sentinels for errors.Is comparisons. Never return these directly; their messages are generic.
var (
	ErrCreditExpired       = NewError(KindCreditExpired, "credit expired")
	ErrInsufficientCredits = NewError(KindInsufficientCredits, "insufficient credits")
	ErrAlreadyDecided      = NewError(KindAlreadyDecided, "already decided")
	ErrDuplicateReference  = NewError(KindDuplicateReference, "duplicate reference")
	ErrNotFound            = NewError(KindNotFound, "not found")
	ErrRangeNotSatisfiable = NewError(KindRangeNotSatisfiable, "range not satisfiable")
	ErrInvalidInput        = NewError(KindInvalidInput, "invalid input")
)

// KindOf reports the kind of err. Errors outside the taxonomy are infra failures.
func KindOf(err error) ErrorKind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindInfraFailure
}
