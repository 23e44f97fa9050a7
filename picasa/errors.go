package picasa

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned when an explicit upload range does not fit the declared content length.
	ErrInvalidRange = errors.New("invalid upload byte range")
	// ErrNoLocation is returned when the session creation response carries no Location header.
	ErrNoLocation = errors.New("upload session response has no location")
	ErrNoBody     = errors.New("upload body is nil")
)

// TransportError is a network level failure (dial, timeout, DNS, broken stream).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-2xx answer from the remote service. Body is the raw
// response body and is used verbatim as the error message.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http error %d", e.StatusCode)
	}
	return e.Body
}

// RequestError wraps the failure of a list, create or delete operation.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// AuthError wraps a failed code exchange or token refresh.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// UploadError wraps a failed resumable upload transfer.
type UploadError struct {
	Location string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload to %s failed: %v", e.Location, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status of the remote failure inside err, or 0.
func StatusCode(err error) int {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.StatusCode
	}
	return 0
}
