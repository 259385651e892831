package report

import "errors"

// ErrInvalidInput marks malformed caller input (empty finding, missing
// template, unknown study type). Wrap with context via NewInvalidInput;
// test with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

type invalidInputError struct {
	msg string
}

func (e *invalidInputError) Error() string { return e.msg }

func (e *invalidInputError) Unwrap() error { return ErrInvalidInput }

// NewInvalidInput returns an error that unwraps to ErrInvalidInput.
func NewInvalidInput(msg string) error {
	return &invalidInputError{msg: msg}
}
