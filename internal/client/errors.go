package client

import (
	"errors"
	"fmt"
)

// ErrEmptyUpload is returned when asked to analyze zero bytes.
var ErrEmptyUpload = errors.New("client: empty upload")

// ServiceError reports a call the service answered but did not fulfil: a
// non-SUCCESS status or an HTTP error. Message is the service's own text.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NetworkError reports a transport failure. Calls are never retried.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsServiceError reports whether err is or wraps a *ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// IsNetworkError reports whether err is or wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
