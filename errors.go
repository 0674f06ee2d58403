package callsdk

import (
	"errors"
	"fmt"
)

var (
	ErrLinkClosed         = errors.New("link is closed")
	ErrChannelClosed      = errors.New("channel is closed")
	ErrRequestTimeout     = errors.New("request timed out")
	ErrDuplicateRequest   = errors.New("request id is already pending")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrMissingField       = errors.New("missing field")
	ErrInvalidState       = errors.New("invalid session state")
	ErrSessionClosed      = errors.New("session is closed")
	ErrMediaSessionClosed = errors.New("media session is closed")
	ErrAudioNotAuthorized = errors.New("audio capture is not authorized")
	ErrNotAuthenticated   = errors.New("no auth token")
	ErrDeviceNotReady     = errors.New("device cannot produce every configured kind")
	ErrMediaServer        = errors.New("media server error")
)

// TypeError is produced when a value does not have the expected shape.
type TypeError struct {
	message string
}

func NewTypeError(format string, args ...interface{}) error {
	return TypeError{message: fmt.Sprintf(format, args...)}
}

func (e TypeError) Error() string {
	return "TypeError: " + e.message
}

// UnsupportedError indicating not support for something.
type UnsupportedError struct {
	message string
}

func NewUnsupportedError(format string, args ...interface{}) error {
	return UnsupportedError{message: fmt.Sprintf(format, args...)}
}

func (e UnsupportedError) Error() string {
	return "UnsupportedError: " + e.message
}

// InvalidStateError produced when calling a method in an invalid state.
type InvalidStateError struct {
	message string
}

func NewInvalidStateError(format string, args ...interface{}) error {
	return InvalidStateError{message: fmt.Sprintf(format, args...)}
}

func (e InvalidStateError) Error() string {
	return "InvalidStateError: " + e.message
}

// InvalidParametersError produced when the engine rejects the given parameters.
type InvalidParametersError struct {
	message string
}

func NewInvalidParametersError(format string, args ...interface{}) error {
	return InvalidParametersError{message: fmt.Sprintf(format, args...)}
}

func (e InvalidParametersError) Error() string {
	return "InvalidParametersError: " + e.message
}

// EngineError wraps a failure reported by the native media engine itself.
type EngineError struct {
	Cause error
}

func NewEngineError(cause error) error {
	return EngineError{Cause: cause}
}

func (e EngineError) Error() string {
	return fmt.Sprintf("EngineError: %v", e.Cause)
}

func (e EngineError) Unwrap() error {
	return e.Cause
}

// describeEngineError renders an engine failure the way it is reported to
// telemetry: "<class>: <message>".
func describeEngineError(err error) string {
	var (
		unsupported  UnsupportedError
		invalidState InvalidStateError
		invalidParam InvalidParametersError
		engineErr    EngineError
		typeErr      TypeError
	)

	switch {
	case errors.As(err, &unsupported):
		return "unsupported: " + unsupported.message
	case errors.As(err, &invalidState):
		return "invalid state: " + invalidState.message
	case errors.As(err, &invalidParam):
		return "invalid parameters: " + invalidParam.message
	case errors.As(err, &engineErr):
		return fmt.Sprintf("engine: %v", engineErr.Cause)
	case errors.As(err, &typeErr):
		return "invalid parameters: " + typeErr.message
	case err == nil:
		return ""
	default:
		return "unknown: " + err.Error()
	}
}
