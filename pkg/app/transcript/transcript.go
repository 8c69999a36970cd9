package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/go-units"

	"github.com/wincontrol/deskagent/pkg/chat"
)

// Markdown renders the conversation for reading. The system prompt is left
// out and images are replaced by a short description.
func Markdown(messages []chat.Message) string {
	var builder strings.Builder

	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case chat.MessageRoleUser:
			writeUserMessage(&builder, msg)
		case chat.MessageRoleAssistant:
			writeAssistantMessage(&builder, msg)
		case chat.MessageRoleTool:
			writeToolMessage(&builder, msg)
		}
	}

	return strings.TrimSpace(builder.String())
}

func writeUserMessage(builder *strings.Builder, msg *chat.Message) {
	fmt.Fprintf(builder, "\n## User\n\n%s\n", content(msg))
}

func writeAssistantMessage(builder *strings.Builder, msg *chat.Message) {
	builder.WriteString("\n## Assistant\n\n")

	if msg.ReasoningContent != "" {
		builder.WriteString("### Reasoning\n\n")
		builder.WriteString(msg.ReasoningContent)
		builder.WriteString("\n\n")
	}

	if msg.Content != "" {
		builder.WriteString(msg.Content)
		builder.WriteString("\n")
	}

	if len(msg.ToolCalls) > 0 {
		builder.WriteString("\n### Tool Calls\n\n")
		for _, toolCall := range msg.ToolCalls {
			fmt.Fprintf(builder, "- **%s**", toolCall.Function.Name)
			if toolCall.ID != "" {
				fmt.Fprintf(builder, " (ID: %s)", toolCall.ID)
			}

			builder.WriteString("\n")
			toJSONString(builder, toolCall.Function.Arguments)
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}
}

func writeToolMessage(builder *strings.Builder, msg *chat.Message) {
	builder.WriteString("### Tool Result")
	if msg.ToolCallID != "" {
		fmt.Fprintf(builder, " (ID: %s)", msg.ToolCallID)
	}
	fmt.Fprintf(builder, "\n\n")

	toJSONString(builder, content(msg))
	builder.WriteString("\n")
}

// content returns the text of a message, one line per part.
func content(msg *chat.Message) string {
	if len(msg.MultiContent) == 0 {
		return msg.Content
	}

	lines := make([]string, 0, len(msg.MultiContent))
	for _, part := range msg.MultiContent {
		if part.IsImage() {
			lines = append(lines, fmt.Sprintf("[image %s, %s]", part.Image.MIMEType, units.HumanSize(float64(len(part.Image.Data)))))
			continue
		}
		lines = append(lines, part.Text)
	}
	return strings.Join(lines, "\n")
}

func toJSONString(builder *strings.Builder, in string) {
	var content any
	if err := json.Unmarshal([]byte(in), &content); err == nil {
		if formatted, err := json.MarshalIndent(content, "", "  "); err == nil {
			builder.WriteString("```json\n")
			builder.WriteString(string(formatted))
			builder.WriteString("\n```\n")
		} else {
			builder.WriteString(in)
			builder.WriteString("\n")
		}
	} else {
		if in != "" {
			builder.WriteString(in)
			builder.WriteString("\n")
		}
	}
}
