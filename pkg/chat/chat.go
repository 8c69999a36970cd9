package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/wincontrol/deskagent/pkg/tools"
)

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

type MessagePartType string

const (
	MessagePartTypeText  MessagePartType = "text"
	MessagePartTypeImage MessagePartType = "image"
)

// DefaultImageMIMEType is used when a tool server returns image data without a MIME type.
const DefaultImageMIMEType = "image/png"

// Message is one entry of a conversation.
//
// Content holds plain text. When MultiContent is non-empty it replaces Content.
type Message struct {
	Role         MessageRole   `json:"role"`
	Content      string        `json:"content,omitempty"`
	MultiContent []MessagePart `json:"multi_content,omitempty"`

	// ReasoningContent is the model's optional reasoning text (DeepSeek/Qwen style).
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ToolCalls is set on assistant messages requesting tool invocations.
	ToolCalls []tools.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID ties a tool message to the assistant tool call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// MessagePart is either a text fragment or an inline image.
type MessagePart struct {
	Type  MessagePartType `json:"type"`
	Text  string          `json:"text,omitempty"`
	Image *MessageImage   `json:"image,omitempty"`
}

type MessageImage struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

var ErrEmptyImage = errors.New("image part has no data")

func TextPart(text string) MessagePart {
	return MessagePart{Type: MessagePartTypeText, Text: text}
}

func ImagePart(mimeType string, data []byte) MessagePart {
	if mimeType == "" {
		mimeType = DefaultImageMIMEType
	}
	return MessagePart{
		Type:  MessagePartTypeImage,
		Image: &MessageImage{MIMEType: mimeType, Data: data},
	}
}

// IsImage reports whether the part carries image bytes.
func (p MessagePart) IsImage() bool {
	return p.Type == MessagePartTypeImage && p.Image != nil
}

// Validate checks the part is well formed.
func (p MessagePart) Validate() error {
	switch p.Type {
	case MessagePartTypeText:
		return nil
	case MessagePartTypeImage:
		if p.Image == nil || len(p.Image.Data) == 0 {
			return ErrEmptyImage
		}
		return nil
	default:
		return fmt.Errorf("unknown message part type %q", p.Type)
	}
}

// DataURL renders the image as a base64 data URL, as accepted by OpenAI-compatible endpoints.
func (img *MessageImage) DataURL() string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// ParseDataURL decodes a base64 data URL into an image.
func ParseDataURL(url string) (*MessageImage, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, errors.New("not a data URL")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("malformed data URL")
	}
	mimeType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return nil, errors.New("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding data URL: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if mimeType == "" {
		mimeType = DefaultImageMIMEType
	}
	return &MessageImage{MIMEType: mimeType, Data: data}, nil
}

// HasImage reports whether any part of the message is an image.
func (m *Message) HasImage() bool {
	for _, part := range m.MultiContent {
		if part.IsImage() {
			return true
		}
	}
	return false
}

// Text returns the textual content of the message, joining text parts.
func (m *Message) Text() string {
	if len(m.MultiContent) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, part := range m.MultiContent {
		if part.Type == MessagePartTypeText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// Clone returns a deep copy of the message. Image bytes are shared, they are never mutated in place.
func (m Message) Clone() Message {
	if m.MultiContent != nil {
		m.MultiContent = append([]MessagePart(nil), m.MultiContent...)
	}
	if m.ToolCalls != nil {
		m.ToolCalls = append([]tools.ToolCall(nil), m.ToolCalls...)
	}
	return m
}

// UnansweredToolCalls returns the tool calls of assistant messages that no later
// tool message answers, keyed by position of the assistant message.
func UnansweredToolCalls(messages []Message) map[int][]tools.ToolCall {
	answered := make(map[string]bool)
	for i := range messages {
		if messages[i].Role == MessageRoleTool {
			answered[messages[i].ToolCallID] = true
		}
	}

	var pending map[int][]tools.ToolCall
	for i := range messages {
		if messages[i].Role != MessageRoleAssistant {
			continue
		}
		for _, call := range messages[i].ToolCalls {
			if answered[call.ID] {
				continue
			}
			if pending == nil {
				pending = make(map[int][]tools.ToolCall)
			}
			pending[i] = append(pending[i], call)
		}
	}
	return pending
}
