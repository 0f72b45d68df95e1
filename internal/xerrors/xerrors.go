// Package xerrors defines the gateway's error taxonomy: typed sentinel
// errors that downstream handlers switch on (via errors.Is/As) to decide
// whether a failure is retryable, fatal to the session, or just a client
// protocol mistake.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the gateway's handled categories.
type Kind string

const (
	KindConfiguration  Kind = "configuration_error"
	KindAuthentication Kind = "authentication_error"
	KindDeviceNotFound Kind = "device_not_found"
	KindDeviceBind     Kind = "device_bind_required"
	KindProviderTransient Kind = "provider_transient"
	KindProviderFatal  Kind = "provider_fatal"
	KindTTSException   Kind = "tts_exception"
	KindToolError      Kind = "tool_error"
	KindCancelled      Kind = "cancelled"
	KindQuotaExceeded  Kind = "quota_exceeded"
)

// Error is a typed, wrapped error carrying a Kind for classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation label.
func New(kind Kind, op string, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind == kind
	}
	return false
}

// IsRetryable reports whether a ProviderTransient error should be retried
// by the caller (per the fixed-delay retry policy in internal/reliability).
func IsRetryable(err error) bool {
	return Is(err, KindProviderTransient)
}

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrAuthentication = errors.New("authentication failed")
	ErrDeviceNotFound = errors.New("device not registered")
	ErrDeviceBind     = errors.New("device requires binding")
	ErrProviderFatal  = errors.New("provider failed fatally")
	ErrTTSException   = errors.New("tts synthesis failed")
	ErrToolError      = errors.New("tool execution failed")
	ErrCancelled      = errors.New("operation cancelled")
	ErrQuotaExceeded  = errors.New("daily output quota exceeded")
)
