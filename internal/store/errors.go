package store

import (
	"errors"
	"fmt"
)

const (
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeDuplicate    = "duplicate"
	CodeInternal     = "internal"
)

// Error is the store's typed error. Code is a stable machine string and
// Status the HTTP status the API layer should surface.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func statusForCode(code string) int {
	switch code {
	case CodeValidation:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeNotFound:
		return 404
	case CodeDuplicate:
		return 409
	default:
		return 500
	}
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: statusForCode(code)}
}

func NewValidationError(message string) error {
	return newError(CodeValidation, message)
}

func NewNotFoundError(message string) error {
	return newError(CodeNotFound, message)
}

func NewDuplicateError(message string) error {
	return newError(CodeDuplicate, message)
}

func NewInternalError(message string) error {
	return newError(CodeInternal, message)
}

func codeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func IsNotFound(err error) bool { return codeOf(err) == CodeNotFound }

func IsDuplicate(err error) bool { return codeOf(err) == CodeDuplicate }

func IsValidation(err error) bool { return codeOf(err) == CodeValidation }
