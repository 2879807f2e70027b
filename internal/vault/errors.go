package vault

import (
	"errors"
	"fmt"
	"net/http"
)

// RequestFailedError is returned for any failed store request: transport
// errors and non-success HTTP statuses alike.
type RequestFailedError struct {
	URL        string
	StatusCode int    // 0 when no response was received
	Body       string // truncated error body, if any
	Err        error
}

func (e *RequestFailedError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Body != "":
		return fmt.Sprintf("request to %s failed: status %d: %s", e.URL, e.StatusCode, e.Body)
	case e.StatusCode > 0 && e.Err != nil:
		return fmt.Sprintf("request to %s failed: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("request to %s failed: status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("request to %s failed", e.URL)
	}
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if err is a 404 from the store.
func IsNotFound(err error) bool {
	var reqErr *RequestFailedError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound
}

// IsPermissionDenied returns true if err is a 403 from the store.
func IsPermissionDenied(err error) bool {
	var reqErr *RequestFailedError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusForbidden
}
