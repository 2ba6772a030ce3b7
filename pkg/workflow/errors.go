package workflow

import "errors"

// Worker failure taxonomy. All are permanent for the triggering invocation:
// the worker logs, leaves the project at its previous stage, and the client's
// poller eventually times out.
var (
	// ErrGeneration marks an empty or failed response from the generation
	// capability.
	ErrGeneration = errors.New("generation failed")

	// ErrValidation marks generator output or project state that does not
	// satisfy the stage's preconditions (empty outline, chapter without a
	// title, malformed JSON shape).
	ErrValidation = errors.New("validation failed")
)
