package transport

import (
	"fmt"
	"net/http"
)

// TransportError is returned by Submit when a submission could not be
// completed within MaxAttempts attempts.
type TransportError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("submit to %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx answer from the remote service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("remote returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}
