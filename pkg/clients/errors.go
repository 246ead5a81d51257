package clients

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIError is a non-2xx response from a collaborator service.
type APIError struct {
	Service string
	Status  int
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.Status, e.Body)
}

// IsRetryable reports whether an error is worth retrying: network
// failures, timeouts, 5xx responses, and 429.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// url.Error wraps connection refusals and DNS failures
	return errors.Is(err, errConnection)
}

// IsAuthError reports whether the collaborator rejected our credential.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}

// IsNotFound reports a 404 from the collaborator.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusNotFound
	}
	return false
}

// IsConflict reports a 409, which Messaging uses for benign
// already-joined participants.
func IsConflict(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusConflict
	}
	return false
}

// errConnection tags transport-level failures so IsRetryable can match
// them without poking at url.Error internals.
var errConnection = errors.New("connection failure")
