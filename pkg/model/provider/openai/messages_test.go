package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wincontrol/deskagent/pkg/chat"
	"github.com/wincontrol/deskagent/pkg/tools"
)

// payload renders converted messages the way they are sent on the wire.
func payload(t *testing.T, messages []chat.Message) []map[string]any {
	t.Helper()

	buf, err := json.Marshal(convertMessages(messages))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf, &decoded))
	return decoded
}

func roles(msgs []map[string]any) []string {
	r := make([]string, len(msgs))
	for i, m := range msgs {
		r[i], _ = m["role"].(string)
	}
	return r
}

func call(id string) tools.ToolCall {
	return tools.ToolCall{
		ID:       id,
		Type:     tools.ToolTypeFunction,
		Function: tools.FunctionCall{Name: "click", Arguments: `{"button":"left"}`},
	}
}

func TestConvertMessagesImagesAsDataURL(t *testing.T) {
	t.Parallel()

	msgs := payload(t, []chat.Message{
		{Role: chat.MessageRoleSystem, Content: "sys"},
		{Role: chat.MessageRoleUser, MultiContent: []chat.MessagePart{
			chat.TextPart("latest screen"),
			chat.ImagePart("image/png", []byte("png")),
		}},
		{Role: chat.MessageRoleUser, Content: "open notepad"},
	})

	require.Equal(t, []string{"system", "user", "user"}, roles(msgs))
	assert.Equal(t, "sys", msgs[0]["content"])
	assert.Equal(t, "open notepad", msgs[2]["content"])

	parts, ok := msgs[1]["content"].([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, map[string]any{"type": "text", "text": "latest screen"}, parts[0])
	assert.Equal(t, map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": "data:image/png;base64,cG5n"},
	}, parts[1])
}

func TestConvertMessagesToolCalls(t *testing.T) {
	t.Parallel()

	msgs := payload(t, []chat.Message{
		{Role: chat.MessageRoleAssistant, Content: "clicking", ToolCalls: []tools.ToolCall{call("call_1")}},
		{Role: chat.MessageRoleTool, ToolCallID: "call_1", MultiContent: []chat.MessagePart{chat.TextPart("clicked")}},
	})

	require.Equal(t, []string{"assistant", "tool"}, roles(msgs))
	assert.Equal(t, "clicking", msgs[0]["content"])

	toolCalls, ok := msgs[0]["tool_calls"].([]any)
	require.True(t, ok)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, map[string]any{
		"id":   "call_1",
		"type": "function",
		"function": map[string]any{
			"name":      "click",
			"arguments": `{"button":"left"}`,
		},
	}, toolCalls[0])

	assert.Equal(t, "call_1", msgs[1]["tool_call_id"])
	assert.Equal(t, "clicked", msgs[1]["content"])
}

func TestConvertMessagesAnswersDanglingToolCalls(t *testing.T) {
	t.Parallel()

	history := []chat.Message{
		{Role: chat.MessageRoleAssistant, ToolCalls: []tools.ToolCall{call("call_1"), call("call_2")}},
		{Role: chat.MessageRoleTool, ToolCallID: "call_1", Content: "ok"},
		{Role: chat.MessageRoleUser, Content: "next"},
		{Role: chat.MessageRoleAssistant, ToolCalls: []tools.ToolCall{call("call_3")}},
	}

	msgs := payload(t, history)

	require.Equal(t, []string{"assistant", "tool", "tool", "user", "assistant", "tool"}, roles(msgs))
	assert.Equal(t, "call_2", msgs[2]["tool_call_id"])
	assert.Equal(t, NotExecutedToolResult, msgs[2]["content"])
	assert.Equal(t, "call_3", msgs[5]["tool_call_id"])

	// The history itself keeps no tool message for the unanswered calls.
	assert.Len(t, history, 4)
	assert.Len(t, chat.UnansweredToolCalls(history), 2)
}

func TestConvertMessagesMovesToolImagesAfterToolMessages(t *testing.T) {
	t.Parallel()

	msgs := payload(t, []chat.Message{
		{Role: chat.MessageRoleAssistant, ToolCalls: []tools.ToolCall{call("call_1")}},
		{Role: chat.MessageRoleTool, ToolCallID: "call_1", MultiContent: []chat.MessagePart{
			chat.TextPart("1: button"),
			chat.ImagePart("image/png", []byte("png")),
		}},
		{Role: chat.MessageRoleAssistant, Content: "done"},
	})

	require.Equal(t, []string{"assistant", "tool", "user", "assistant"}, roles(msgs))
	assert.Equal(t, "1: button\n"+toolImageNote, msgs[1]["content"])

	parts, ok := msgs[2]["content"].([]any)
	require.True(t, ok)
	require.Len(t, parts, 1)
	assert.Equal(t, "image_url", parts[0].(map[string]any)["type"])
}

func TestConvertMessagesSkipsEmptyAssistant(t *testing.T) {
	t.Parallel()

	msgs := payload(t, []chat.Message{
		{Role: chat.MessageRoleUser, Content: "hi"},
		{Role: chat.MessageRoleAssistant, Content: "  "},
		{Role: chat.MessageRoleUser, Content: "hello?"},
	})

	assert.Equal(t, []string{"user", "user"}, roles(msgs))
}
