package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("workflow: configuration error")

	// ErrRejected is returned when the device answers a step with NAK.
	ErrRejected = errors.New("workflow: device rejected command")
)

// ConfigurationError reports that a step could not derive its command from
// earlier replies, for example a missing or too short outputs list.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "workflow: configuration: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// StepError names the step that aborted the workflow.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
