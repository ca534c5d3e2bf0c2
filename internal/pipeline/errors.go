package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline package.
var (
	// ErrReleased is returned when a released model handle is used.
	ErrReleased = errors.New("model handle released")

	// ErrMethodAlreadyRegistered is returned when registering a duplicate method.
	ErrMethodAlreadyRegistered = errors.New("method already registered")

	// ErrUnknownMethod is returned when a method name is not registered.
	ErrUnknownMethod = errors.New("unknown method")
)

// NotFoundError is returned when the input document does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Input not found: %s", e.Path)
}
