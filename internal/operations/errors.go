package operations

import (
	"errors"
	"fmt"
)

// ErrCancelUnsupported is returned by Run.Cancel. A run always finishes or
// fails on its own; Reset recovers the controller afterwards.
var ErrCancelUnsupported = errors.New("run cancellation is not supported")

// StageError names the pipeline stage a failure came from. The cause keeps
// its application error type, so apperrors.IsType still matches through it.
type StageError struct {
	Stage StageID
	Cause error
}

// Error implements the error interface
func (e *StageError) Error() string {
	if e == nil {
		return "unknown stage error"
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// wrapStage attaches stage to err unless err already names a stage.
func wrapStage(stage StageID, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Cause: err}
}

// FailedStage returns the stage recorded on err, if any.
func FailedStage(err error) (StageID, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
