package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrInvalidParameters = errors.New("invalid parameters")
)

// ConfigError is a programming or catalog mistake detected before any
// network attempt. It is never reported as a failed operation.
type ConfigError struct {
	Operation string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("operation %q: %v", e.Operation, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
