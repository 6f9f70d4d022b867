package transform

import (
	"errors"
	"fmt"
)

var (
	// ErrTransformStepFailure indicates a step failed to process its input
	ErrTransformStepFailure = errors.New("transform step failed")
	// ErrUnknownStep indicates a pipeline names a step that is not registered
	ErrUnknownStep = errors.New("unknown transform step")
	// ErrIncompletePipeline indicates a pipeline did not produce an executable module
	ErrIncompletePipeline = errors.New("pipeline does not produce an executable module")
	// ErrInvalidOption indicates a step option has the wrong type or value
	ErrInvalidOption = errors.New("invalid step option")
)

// StepError reports which file, rule and step failed.
type StepError struct {
	Path string
	Rule string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s (rule %q, step %q): %v", ErrTransformStepFailure, e.Path, e.Rule, e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrTransformStepFailure, e.Err}
}
