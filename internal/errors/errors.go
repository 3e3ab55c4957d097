package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Storage and configuration errors.
var (
	ErrStorage       = stderrors.New("token storage failure")
	ErrCorruptTokens = stderrors.New("stored tokens are unreadable")
	ErrInvalidConfig = stderrors.New("invalid configuration")
)

// ErrRetryInvariant is returned when a retry loop exits without ever
// having attempted the operation. It indicates a policy that refuses
// the first attempt.
var ErrRetryInvariant = stderrors.New("retry loop exited without an attempt")

// ErrMalformedResponse marks a success response from the authorization
// server that could not be read as tokens. Retrying or degrading will
// not fix it, so it is never transient.
var ErrMalformedResponse = stderrors.New("malformed token response")

// StatusError is the transport error a token service returns when the
// authorization server answered with a non-success status.
type StatusError struct {
	StatusCode int
	SubStatus  string
	Err        error
}

func (e *StatusError) Error() string {
	if e.SubStatus != "" {
		return fmt.Sprintf("status %d (sub-status %s): %v", e.StatusCode, e.SubStatus, e.Err)
	}

	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// NetworkError is a generic, unclassified failure. Code "0" means the
// cause was not a recognized transport error; code "1" means it was,
// but its status fell outside the client and server ranges.
type NetworkError struct {
	Code      string
	SubStatus string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (code %s): %v", e.Code, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UnexpectedError is a client-class (4xx) failure. It is not retried.
type UnexpectedError struct {
	StatusCode int
	SubStatus  string
	Err        error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error (status %d): %v", e.StatusCode, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// RetryableError is a server-class (5xx) failure whose retries ran out.
type RetryableError struct {
	StatusCode int
	SubStatus  string
	Err        error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %v", e.StatusCode, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// HandleError maps the last error of an exhausted retry loop onto the
// auth error taxonomy. It is applied once, when the loop gives up.
func HandleError(err error) error {
	var se *StatusError
	if !stderrors.As(err, &se) {
		return &NetworkError{Code: "0", Err: err}
	}

	switch {
	case se.StatusCode >= 400 && se.StatusCode <= 499:
		return &UnexpectedError{StatusCode: se.StatusCode, SubStatus: se.SubStatus, Err: err}
	case se.StatusCode >= 500 && se.StatusCode <= 599:
		return &RetryableError{StatusCode: se.StatusCode, SubStatus: se.SubStatus, Err: err}
	default:
		return &NetworkError{Code: "1", SubStatus: se.SubStatus, Err: err}
	}
}

// IsServerError reports whether err carries a 5xx transport status.
func IsServerError(err error) bool {
	var se *StatusError
	return stderrors.As(err, &se) && se.StatusCode >= 500 && se.StatusCode <= 599
}

// IsAuthError reports whether err is one of the classified auth errors.
func IsAuthError(err error) bool {
	var (
		ne *NetworkError
		ue *UnexpectedError
		re *RetryableError
	)

	return stderrors.As(err, &ne) || stderrors.As(err, &ue) || stderrors.As(err, &re)
}

// IsTransient reports whether a classified failure is worth degrading
// over rather than surfacing. Network and server failures qualify, as
// do throttling (429) and request timeouts (408). Any other client
// error is a definitive rejection, and so is a malformed response.
func IsTransient(err error) bool {
	if stderrors.Is(err, ErrMalformedResponse) {
		return false
	}

	var (
		ne *NetworkError
		re *RetryableError
		ue *UnexpectedError
	)

	switch {
	case stderrors.As(err, &ne), stderrors.As(err, &re):
		return true
	case stderrors.As(err, &ue):
		return ue.StatusCode == http.StatusTooManyRequests || ue.StatusCode == http.StatusRequestTimeout
	}

	return false
}

// SubStatusOf returns the sub-status carried by a classified or
// transport error, or "".
func SubStatusOf(err error) string {
	var (
		se *StatusError
		ne *NetworkError
		ue *UnexpectedError
		re *RetryableError
	)

	switch {
	case stderrors.As(err, &ue):
		return ue.SubStatus
	case stderrors.As(err, &re):
		return re.SubStatus
	case stderrors.As(err, &ne):
		return ne.SubStatus
	case stderrors.As(err, &se):
		return se.SubStatus
	}

	return ""
}
