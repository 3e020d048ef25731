package device

import (
	"errors"
	"fmt"

	"locsim/internal/types"
)

var (
	ErrHandleClosed   = errors.New("session handle closed")
	ErrInvalidRequest = errors.New("invalid request")
)

// EstablishError reports that a session to the device could not be opened.
type EstablishError struct {
	DeviceID string
	Kind     types.ConnectionKind
	Err      error
}

func (e *EstablishError) Error() string {
	return fmt.Sprintf("establish %s session for %s: %v", e.Kind, shortID(e.DeviceID), e.Err)
}

func (e *EstablishError) Unwrap() error { return e.Err }

// OperationError reports a failed set or clear on an established session.
type OperationError struct {
	DeviceID string
	Op       string
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, shortID(e.DeviceID), e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// RetryExhaustedError is returned once every attempt of an operation failed.
// The device is left without a session.
type RetryExhaustedError struct {
	DeviceID string
	Op       string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s on %s failed after %d attempts: %v", e.Op, shortID(e.DeviceID), e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// TunnelUnavailableError means the tunnel broker could not be queried while
// fresh parameters were required.
type TunnelUnavailableError struct {
	DeviceID string
	Err      error
}

func (e *TunnelUnavailableError) Error() string {
	return fmt.Sprintf("tunnel broker unavailable for %s: %v", shortID(e.DeviceID), e.Err)
}

func (e *TunnelUnavailableError) Unwrap() error { return e.Err }

// IsFatal reports whether err leaves the device unreachable until an
// operator intervenes, which is what stops a movement session.
func IsFatal(err error) bool {
	var exhausted *RetryExhaustedError
	var unavailable *TunnelUnavailableError
	return errors.As(err, &exhausted) || errors.As(err, &unavailable)
}

func shortID(deviceID string) string {
	if len(deviceID) <= 8 {
		return deviceID
	}
	return deviceID[:8]
}
