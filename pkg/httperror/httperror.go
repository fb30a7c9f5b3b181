// Package httperror carries an HTTP status code through a handler's error
// return.
package httperror

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is an error with the status code to answer with. Message is
// shown to the client.
type HTTPError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func (e HTTPError) Unwrap() error {
	return e.Err
}

func New(statusCode int, message string) HTTPError {
	return HTTPError{StatusCode: statusCode, Message: message}
}

// Wrap attaches a status code and message to err.
func Wrap(statusCode int, message string, err error) HTTPError {
	return HTTPError{StatusCode: statusCode, Message: message, Err: err}
}

func NotFound(message string) HTTPError {
	return New(http.StatusNotFound, message)
}

// StatusCode returns the status code carried by err, or 500.
func StatusCode(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return http.StatusInternalServerError
}
