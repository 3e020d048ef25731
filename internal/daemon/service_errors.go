package daemon

import (
	"errors"
	"fmt"

	"locsim/internal/device"
	"locsim/internal/movement"
	"locsim/internal/store"
)

type ServiceErrorKind string

const (
	ServiceErrorInvalid     ServiceErrorKind = "invalid"
	ServiceErrorNotFound    ServiceErrorKind = "not_found"
	ServiceErrorUnavailable ServiceErrorKind = "unavailable"
	ServiceErrorConflict    ServiceErrorKind = "conflict"
)

type ServiceError struct {
	Kind    ServiceErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func invalidError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorInvalid, Message: message, Err: err}
}

func notFoundError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorNotFound, Message: message, Err: err}
}

func unavailableError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorUnavailable, Message: message, Err: err}
}

func conflictError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorConflict, Message: message, Err: err}
}

// classify maps core errors onto service error kinds. Unknown errors pass
// through and surface as internal errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	switch {
	case errors.Is(err, device.ErrInvalidRequest):
		return invalidError("", err)
	case errors.Is(err, store.ErrInvalidFavorite), errors.Is(err, store.ErrNoFavorites):
		return invalidError("", err)
	case errors.Is(err, store.ErrFavoriteNotFound):
		return notFoundError("", err)
	case errors.Is(err, movement.ErrNoSession):
		return notFoundError("", err)
	case errors.Is(err, movement.ErrInvalidState):
		return conflictError("", err)
	case errors.Is(err, movement.ErrClosed):
		return unavailableError("daemon is shutting down", err)
	case device.IsFatal(err):
		return unavailableError("", err)
	}
	var establishErr *device.EstablishError
	if errors.As(err, &establishErr) {
		return unavailableError("", err)
	}
	return err
}
