package runtime

import (
	"context"
	"fmt"

	"github.com/wincontrol/deskagent/pkg/chat"
)

const (
	userRequestInstruction   = "This is the latest screen state. Analyze the new request of the user."
	screenChangedInstruction = "This is the latest screen state, it shows the mouse position. First check that the mouse is at the right place, then check that the previous action took effect, and go on with the task."
)

// ground appends the current screenshot to the conversation, framed by
// instructions for the model.
func (r *Runtime) ground(ctx context.Context, instruction string) error {
	screenshot, err := r.toolClient.ReadResource(ctx, r.screenshotURI)
	if err != nil {
		return &GroundingError{URI: r.screenshotURI, Err: err}
	}
	if !screenshot.IsImage() {
		return &GroundingError{URI: r.screenshotURI, Err: chat.ErrEmptyImage}
	}

	if err := r.session.AppendUser(
		chat.TextPart(instruction),
		screenshot,
		chat.TextPart(r.actionRules()),
	); err != nil {
		return &GroundingError{URI: r.screenshotURI, Err: err}
	}
	return nil
}

func (r *Runtime) actionRules() string {
	return fmt.Sprintf("Before moving the mouse you must call the %s tool. Before using the keyboard you must give it focus with a left mouse click.", r.regionParserTool)
}
