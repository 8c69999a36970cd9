package runtime

import (
	"fmt"
)

// InitializationError is returned when a session cannot be set up. The
// session is unusable afterwards.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("session initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// ToolArgumentError is reported when the model sends arguments that are not a
// JSON object. The turn goes on without calling the tool.
type ToolArgumentError struct {
	Tool      string
	Arguments string
	Err       error
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("failed to parse arguments of tool %s: %v", e.Tool, e.Err)
}

func (e *ToolArgumentError) Unwrap() error {
	return e.Err
}

// ToolExecutionError is reported when the tool server fails a call or cannot
// be reached. The turn goes on without a tool result.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// ChatTransportError is returned when the model endpoint fails a request. It
// ends the turn.
type ChatTransportError struct {
	Model string
	Err   error
}

func (e *ChatTransportError) Error() string {
	return fmt.Sprintf("model %s request failed: %v", e.Model, e.Err)
}

func (e *ChatTransportError) Unwrap() error {
	return e.Err
}

// GroundingError is returned when the screenshot cannot be read. It ends the turn.
type GroundingError struct {
	URI string
	Err error
}

func (e *GroundingError) Error() string {
	return fmt.Sprintf("failed to read screenshot %s: %v", e.URI, e.Err)
}

func (e *GroundingError) Unwrap() error {
	return e.Err
}

// MaxIterationsError is returned when a turn reaches the configured number of model rounds.
type MaxIterationsError struct {
	Limit int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("turn stopped after reaching the limit of %d model requests", e.Limit)
}
