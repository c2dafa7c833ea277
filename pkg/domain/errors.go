package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrRouteNotFound       = errors.New("route not found")
	ErrUpstreamUnreachable = errors.New("upstream service unreachable")
	ErrUpstreamTimeout     = errors.New("upstream request timed out")
	ErrUpstreamStatus      = errors.New("upstream returned non-success status")
	ErrUpstreamBody        = errors.New("upstream returned malformed body")
)

// UpstreamError wraps a categorized upstream failure with the domain it came from.
// It is logged by the gateway and never serialized to clients.
type UpstreamError struct {
	Domain     string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream: %v (status %d)", e.Domain, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%s upstream: %v", e.Domain, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ErrorBody is the only failure shape returned to gateway clients.
// It carries a fixed message and no upstream detail.
type ErrorBody struct {
	Error string `json:"error"`
}
