package llm

import (
	"errors"
	"fmt"
)

// ConfigError reports a provider that cannot be called because it is not configured.
type ConfigError struct {
	Provider string
	Msg      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
}

// OverloadError is returned once the provider kept answering 429/529 after every retry.
type OverloadError struct {
	Provider   string
	StatusCode int
	Attempts   int
	Body       string
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("%s: API is currently overloaded (status %d after %d attempts). Please try again in a few moments.",
		e.Provider, e.StatusCode, e.Attempts)
}

// AuthError reports a rejected credential.
type AuthError struct {
	Provider string
	Body     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: invalid API key. Please check the configured credential.", e.Provider)
}

// ProtocolError covers every other unexpected response. StatusCode is 0 when no response arrived
// (the transport failed).
type ProtocolError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.StatusCode == 0 && e.Err != nil {
		return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: API error (%d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsOverload reports whether err is (or wraps) an OverloadError.
func IsOverload(err error) bool {
	var target *OverloadError
	return errors.As(err, &target)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsProtocol reports whether err is (or wraps) a ProtocolError.
func IsProtocol(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

// IsTransport reports whether err is a ProtocolError raised before any response arrived.
func IsTransport(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target) && target.StatusCode == 0
}

// TransportError wraps a failed request send.
func TransportError(provider string, err error) error {
	return &ProtocolError{Provider: provider, Err: err}
}

// StatusError maps a non-2xx response to the error taxonomy. It returns nil for 2xx.
func StatusError(provider string, statusCode, attempts int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case IsOverloadStatus(statusCode):
		return &OverloadError{Provider: provider, StatusCode: statusCode, Attempts: attempts, Body: string(body)}
	case statusCode == 401:
		return &AuthError{Provider: provider, Body: string(body)}
	default:
		return &ProtocolError{Provider: provider, StatusCode: statusCode, Body: string(body)}
	}
}
