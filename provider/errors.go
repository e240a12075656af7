package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for resolution failures. Both are configuration
// problems: they surface synchronously and are never retried.
var (
	ErrUnknownDriver = errors.New("driver is not configured")
	ErrUnknownAction = errors.New("action is not configured for driver")
	ErrNoBaseURL     = errors.New("driver has no base URL")
)

// ConfigError wraps a configuration failure with driver context.
type ConfigError struct {
	Driver string
	Action string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("driver %q action %q: %v", e.Driver, e.Action, e.Err)
	}
	return fmt.Sprintf("driver %q: %v", e.Driver, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError wraps a network-level failure on an outbound call.
// The caller records it as a terminal failed transaction; there is no
// internal retry.
type TransportError struct {
	Driver string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("driver %q: request failed: %v", e.Driver, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError marks a webhook token or signature mismatch. The request
// is rejected without touching the store.
type AuthError struct {
	Driver string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("driver %q: webhook authentication failed: %s", e.Driver, e.Reason)
}
