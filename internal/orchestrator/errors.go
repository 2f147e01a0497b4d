package orchestrator

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every input validation failure.
var ErrValidation = errors.New("validation error")

var (
	// ErrEmptyInput means the prompt was empty and no files were attached.
	ErrEmptyInput = fmt.Errorf("%w: please enter a prompt", ErrValidation)

	// ErrNoModelSelected means no model, or an empty model id, was chosen.
	ErrNoModelSelected = fmt.Errorf("%w: model not selected", ErrValidation)

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("orchestrator closed")
)
