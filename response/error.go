package response

import (
	"fmt"
	"net/http"
)

// Error is an HTTP error carrying the status it should be rendered with
type Error struct {
	StatusCode int
	Message    string
	Messages   []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) AddMessages(msgs ...string) *Error {
	e.Messages = append(e.Messages, msgs...)
	return e
}

func makeError(status int) *Error {
	return &Error{
		StatusCode: status,
		Messages:   make([]string, 0),
	}
}

// -----------------------------------------------

func ErrUnexpected() *Error {
	return makeError(http.StatusInternalServerError).
		WithMessage("An unexpected error has occured")
}

func ErrBadRequest() *Error {
	return makeError(http.StatusBadRequest).
		WithMessage("Bad request")
}

func ErrTooManyRequests() *Error {
	return makeError(http.StatusTooManyRequests).
		WithMessage("Too many requests")
}

func ErrUnavailable() *Error {
	return makeError(http.StatusServiceUnavailable).
		WithMessage("Service unavailable")
}

func ErrInvalidJson() *Error {
	return ErrBadRequest().AddMessages("Invalid JSON body")
}
