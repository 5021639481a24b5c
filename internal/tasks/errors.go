package tasks

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an operation targets an absent task id.
// Delete is the exception: deleting an absent id is a no-op.
var ErrNotFound = errors.New("task not found")

// ValidationError marks a malformed task definition or an unparsable stored row.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task %s: %s", e.Field, e.Reason)
}

// DuplicateTaskError is returned when a create or rename would collide with
// an existing active task's name. It names the conflicting rows so the caller
// can archive or update them explicitly.
type DuplicateTaskError struct {
	Name           string
	ConflictingIDs []string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("active task named %q already exists (ids: %s)",
		e.Name, strings.Join(e.ConflictingIDs, ", "))
}
