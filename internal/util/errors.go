package util

import "fmt"

// ErrMissingCollaborator reports a required collaborator that was not
// provided at construction time. These are programmer errors and are never
// retried.
func ErrMissingCollaborator(name string) error {
	return fmt.Errorf("missing required collaborator: %s", name)
}

// ErrInvalidConfig reports a malformed configuration value.
func ErrInvalidConfig(field, value string) error {
	return fmt.Errorf("invalid configuration for %s: %q", field, value)
}
