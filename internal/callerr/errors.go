package callerr

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied      = errors.New("permission denied")
	ErrDeviceNotFound        = errors.New("device not found")
	ErrDeviceBusy            = errors.New("device busy")
	ErrOverConstrained       = errors.New("constraints cannot be satisfied")
	ErrUnsupported           = errors.New("not supported")
	ErrNegotiationFailed     = errors.New("negotiation failed")
	ErrSignalDeliveryExpired = errors.New("signal delivery expired")
	ErrCaptureExhausted      = errors.New("all capture fallbacks exhausted")
	ErrTrackEnded            = errors.New("track ended")
	ErrSessionClosed         = errors.New("session closed")
)

// Error carries the operation and, for peer-scoped failures, the remote
// participant the failure belongs to.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func Wrap(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// Recoverable reports whether the core retries or degrades on its own.
func Recoverable(err error) bool {
	if errors.Is(err, ErrCaptureExhausted) {
		return false
	}
	return errors.Is(err, ErrDeviceBusy) ||
		errors.Is(err, ErrOverConstrained) ||
		errors.Is(err, ErrTrackEnded)
}

// UserVisible reports whether err should be shown to the user rather than
// only logged.
func UserVisible(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrSignalDeliveryExpired), errors.Is(err, ErrNegotiationFailed):
		return false
	case errors.Is(err, ErrCaptureExhausted):
		return true
	case Recoverable(err):
		return false
	}
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrUnsupported)
}

// Message returns the text shown to the user for err.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCaptureExhausted):
		return "Could not start your camera or microphone. Close other apps using them and try again."
	case errors.Is(err, ErrPermissionDenied):
		return "Access to the camera or microphone was denied."
	case errors.Is(err, ErrDeviceNotFound):
		return "No camera or microphone was found."
	case errors.Is(err, ErrUnsupported):
		return "This device does not support the requested media."
	case errors.Is(err, ErrNegotiationFailed):
		return "Lost the connection to a participant."
	}
	return err.Error()
}
