package schemas

import "fmt"

// The error taxonomy exposed by the profile layer. Callers classify with
// errors.As; nothing below is retried internally.

// NotFoundError reports an unknown profile id on load, export or delete.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("profile %q not found", e.ID)
}

// ValidationError reports a structurally invalid input, such as an empty
// profile name or an imported document with missing fields.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IOError wraps a persistence read or write failure. Retry policy belongs to
// the caller.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("profile store %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
