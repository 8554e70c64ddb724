// Package errs defines the coded application errors shared by the price
// pipeline, the stores and the HTTP API.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	CodeFetchTransport Code = "FETCH_TRANSPORT_ERROR"
	CodeFetchStatus    Code = "FETCH_STATUS_ERROR"
	CodeFetchMalformed Code = "FETCH_MALFORMED_ERROR"
	CodePersistence    Code = "PERSISTENCE_ERROR"
	CodeNotFound       Code = "NOT_FOUND"
	CodeInvalid        Code = "INVALID_INPUT"
)

// AppError carries a Code and the operation that failed.
type AppError struct {
	Code Code
	Op   string
	Err  error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap attaches code and op to err. A nil err stays nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Op: op, Err: err}
}

// New builds an AppError from a message.
func New(code Code, op, msg string) error {
	return &AppError{Code: code, Op: op, Err: errors.New(msg)}
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether any AppError in err's tree carries code. Joined errors
// are searched branch by branch.
func Is(err error, code Code) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *AppError:
		return e.Code == code || Is(e.Err, code)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if Is(inner, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return Is(e.Unwrap(), code)
	}
	return false
}

// IsFetch reports whether err belongs to the fetch error family.
func IsFetch(err error) bool {
	return Is(err, CodeFetchTransport) || Is(err, CodeFetchStatus) || Is(err, CodeFetchMalformed)
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return Is(err, CodeNotFound)
}
