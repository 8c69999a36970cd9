package runtime

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wincontrol/deskagent/pkg/chat"
	"github.com/wincontrol/deskagent/pkg/tools"
)

const noToolOutput = "(no output)"

// dispatch runs the first tool call of a model response and reports whether
// the screen has to be grounded again before the next model request.
//
// Malformed arguments skip the call and the new screenshot. A failed call
// leaves no tool message in the conversation.
func (r *Runtime) dispatch(ctx context.Context, calls []tools.ToolCall, events chan<- Event) bool {
	if len(calls) > MaxToolCallsPerTurn {
		slog.Warn("Ignoring extra tool calls", "session_id", r.session.ID(), "count", len(calls), "ignored", len(calls)-MaxToolCallsPerTurn)
	}
	toolCall := calls[0]

	ctx, span := r.startSpan(ctx, "runtime.tool.call", trace.WithAttributes(
		attribute.String("tool.name", toolCall.Function.Name),
		attribute.String("tool.type", string(toolCall.Type)),
		attribute.String("session.id", r.session.ID()),
		attribute.String("tool.call_id", toolCall.ID),
	))
	defer span.End()

	slog.Debug("Processing tool call", "tool", toolCall.Function.Name, "session_id", r.session.ID())

	args, err := toolCall.ParseArguments()
	if err != nil {
		argErr := &ToolArgumentError{Tool: toolCall.Function.Name, Arguments: toolCall.Function.Arguments, Err: err}
		slog.Warn("Invalid tool arguments", "tool", toolCall.Function.Name, "session_id", r.session.ID(), "error", err)
		span.RecordError(argErr)
		span.SetStatus(codes.Error, "invalid tool arguments")
		events <- Error(argErr.Error())
		return false
	}

	reground := toolCall.Function.Name != r.regionParserTool

	// A call sent to the tool server is never abandoned half way.
	parts, err := r.toolClient.CallTool(context.WithoutCancel(ctx), toolCall.Function.Name, args)
	if err != nil {
		execErr := &ToolExecutionError{Tool: toolCall.Function.Name, Err: err}
		slog.Warn("Tool call failed", "tool", toolCall.Function.Name, "session_id", r.session.ID(), "error", err)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "tool call failed")
		events <- Error(execErr.Error())
		return reground
	}

	if len(parts) == 0 {
		parts = []chat.MessagePart{chat.TextPart(noToolOutput)}
	}
	if err := r.session.AppendTool(toolCall.ID, parts); err != nil {
		slog.Error("Failed to record tool result", "tool", toolCall.Function.Name, "session_id", r.session.ID(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid tool result")
		events <- Error((&ToolExecutionError{Tool: toolCall.Function.Name, Err: err}).Error())
		return reground
	}

	slog.Debug("Tool call completed", "tool", toolCall.Function.Name, "session_id", r.session.ID(), "parts", len(parts))
	span.SetStatus(codes.Ok, "tool call processed")
	return reground
}
