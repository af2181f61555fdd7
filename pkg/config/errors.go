package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingRequiredVar indicates a required environment variable is unset
	ErrMissingRequiredVar = errors.New("missing required environment variable")

	// ErrInvalidValue indicates an environment variable has an invalid value
	ErrInvalidValue = errors.New("invalid configuration value")
)

// ValidationError wraps configuration validation errors with the variable name
type ValidationError struct {
	Var string // Environment variable name
	Err error  // Underlying error
}

// Error returns formatted error message
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Var, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}
