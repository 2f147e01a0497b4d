package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParent is returned when a message references a parent that
	// is not part of the history.
	ErrInvalidParent = errors.New("invalid parent")

	// ErrDanglingPath is returned when a parent chain cannot be walked back
	// to a root.
	ErrDanglingPath = errors.New("dangling path")

	// ErrNotFound is returned when a message id is absent.
	ErrNotFound = errors.New("message not found")

	// ErrDuplicateID is returned when an explicit id is already taken.
	ErrDuplicateID = errors.New("duplicate message id")
)

// InvalidParentError carries the parent id that could not be resolved.
type InvalidParentError struct {
	ParentID string
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("invalid parent %q", e.ParentID)
}

func (e *InvalidParentError) Is(target error) bool {
	return target == ErrInvalidParent
}

// DanglingPathError describes where a walk towards the root broke off.
type DanglingPathError struct {
	FromID    string
	MissingID string
	Steps     int
}

func (e *DanglingPathError) Error() string {
	if e.MissingID != "" {
		return fmt.Sprintf("dangling path from %q: message %q not found", e.FromID, e.MissingID)
	}
	return fmt.Sprintf("dangling path from %q: no root after %d steps", e.FromID, e.Steps)
}

func (e *DanglingPathError) Is(target error) bool {
	return target == ErrDanglingPath
}
