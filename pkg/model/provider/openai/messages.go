package openai

import (
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/wincontrol/deskagent/pkg/chat"
	"github.com/wincontrol/deskagent/pkg/tools"
)

const (
	// NotExecutedToolResult answers tool calls that have no tool message in
	// the history, which strict endpoints reject.
	NotExecutedToolResult = "This tool call was not executed."

	toolImageNote = "(the images returned by this tool are attached in the next message)"
)

// convertMessages converts the conversation into OpenAI message params.
//
// Two adjustments are made to the outbound payload, the history itself is
// never modified:
//   - every assistant tool call without a tool message gets a synthetic one,
//   - images returned by tools are moved into a user message placed after the
//     tool messages, since tool messages only carry text.
func convertMessages(messages []chat.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	var (
		pending  []tools.ToolCall
		deferred []openai.ChatCompletionMessageParamUnion
	)
	flush := func() {
		for _, call := range pending {
			out = append(out, toolMessage(call.ID, NotExecutedToolResult))
		}
		pending = nil
		out = append(out, deferred...)
		deferred = nil
	}

	for i := range messages {
		msg := &messages[i]

		if msg.Role == chat.MessageRoleTool {
			pending = removeToolCall(pending, msg.ToolCallID)

			text, images := splitParts(msg)
			if len(images) > 0 {
				text = strings.TrimSpace(text + "\n" + toolImageNote)
				deferred = append(deferred, openai.UserMessage(convertParts(images)))
			}
			out = append(out, toolMessage(msg.ToolCallID, text))
			continue
		}

		flush()

		switch msg.Role {
		case chat.MessageRoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))

		case chat.MessageRoleUser:
			if len(msg.MultiContent) == 0 {
				out = append(out, openai.UserMessage(msg.Content))
			} else {
				out = append(out, openai.UserMessage(convertParts(msg.MultiContent)))
			}

		case chat.MessageRoleAssistant:
			// Skip empty assistant messages, they are rejected by most endpoints.
			text := msg.Text()
			if len(msg.ToolCalls) == 0 && strings.TrimSpace(text) == "" {
				continue
			}
			out = append(out, assistantMessage(text, msg.ToolCalls))
			pending = append(pending, msg.ToolCalls...)
		}
	}
	flush()

	return out
}

func assistantMessage(text string, toolCalls []tools.ToolCall) openai.ChatCompletionMessageParamUnion {
	assistantParam := openai.ChatCompletionAssistantMessageParam{}
	if text != "" {
		assistantParam.Content.OfString = param.NewOpt(text)
	}

	if len(toolCalls) > 0 {
		calls := make([]openai.ChatCompletionMessageToolCallUnionParam, len(toolCalls))
		for j, toolCall := range toolCalls {
			calls[j] = openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: toolCall.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      toolCall.Function.Name,
						Arguments: toolCall.Function.Arguments,
					},
				},
			}
		}
		assistantParam.ToolCalls = calls
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantParam}
}

func toolMessage(toolCallID, text string) openai.ChatCompletionMessageParamUnion {
	toolParam := openai.ChatCompletionToolMessageParam{
		ToolCallID: toolCallID,
	}
	toolParam.Content.OfString = param.NewOpt(text)
	return openai.ChatCompletionMessageParamUnion{OfTool: &toolParam}
}

func convertParts(parts []chat.MessagePart) []openai.ChatCompletionContentPartUnionParam {
	converted := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.IsImage():
			converted = append(converted, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: part.Image.DataURL(),
			}))
		case part.Type == chat.MessagePartTypeText:
			converted = append(converted, openai.TextContentPart(part.Text))
		}
	}
	return converted
}

// splitParts separates the text of a message from its images.
func splitParts(msg *chat.Message) (string, []chat.MessagePart) {
	if len(msg.MultiContent) == 0 {
		return msg.Content, nil
	}

	var (
		text   []string
		images []chat.MessagePart
	)
	for _, part := range msg.MultiContent {
		if part.IsImage() {
			images = append(images, part)
		} else if part.Text != "" {
			text = append(text, part.Text)
		}
	}
	return strings.Join(text, "\n"), images
}

func removeToolCall(calls []tools.ToolCall, id string) []tools.ToolCall {
	for i, call := range calls {
		if call.ID == id {
			return append(calls[:i:i], calls[i+1:]...)
		}
	}
	return calls
}
