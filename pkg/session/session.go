package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wincontrol/deskagent/pkg/chat"
)

// Placeholders that replace screenshots in older messages once a newer one is available.
const (
	UserScreenshotPlaceholder = "[historical full-screen screenshot, collapsed, no need to look at it]"
	RegionParserPlaceholder   = "[historical screen_region_parser screenshot, collapsed, no need to look at it]"
)

var (
	ErrEmptyToolCallID   = errors.New("tool message requires a tool call id")
	ErrUnknownToolCallID = errors.New("tool call id does not match any assistant tool call")
	ErrEmptyMessage      = errors.New("message has no content")
)

// Session holds the conversation with the model.
//
// The first message is always the system message built from the system prompt.
// Apart from Compress, which rewrites the content of older screenshot-bearing
// messages in place, history only ever grows until Clear.
type Session struct {
	mu           sync.RWMutex
	id           string
	createdAt    time.Time
	systemPrompt string
	messages     []chat.Message
}

type Opt func(s *Session)

func WithSystemPrompt(prompt string) Opt {
	return func(s *Session) {
		s.systemPrompt = prompt
	}
}

// New creates a conversation containing only the system message.
func New(opts ...Opt) *Session {
	s := &Session{}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()

	slog.Debug("Created new session", "session_id", s.id)
	return s
}

// reset starts a new conversation. Callers other than New must hold s.mu.
func (s *Session) reset() {
	s.id = uuid.New().String()
	s.createdAt = time.Now()
	s.messages = []chat.Message{systemMessage(s.systemPrompt)}
}

func systemMessage(prompt string) chat.Message {
	return chat.Message{
		Role:    chat.MessageRoleSystem,
		Content: prompt,
	}
}

// Initialize sets the system prompt and starts a fresh conversation.
func (s *Session) Initialize(systemPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.systemPrompt = systemPrompt
	s.reset()
}

// Clear discards everything but the system message.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.messages) - 1
	s.reset()
	slog.Debug("Cleared session", "session_id", s.id, "dropped_messages", dropped)
}

// ID returns the unique identifier of the current conversation. Clear assigns a new one.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// CreatedAt returns the time the current conversation was started.
func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

func (s *Session) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]chat.Message, len(s.messages))
	for i := range s.messages {
		messages[i] = s.messages[i].Clone()
	}
	return messages
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// AppendUser appends a multi-part user message.
func (s *Session) AppendUser(parts ...chat.MessagePart) error {
	if len(parts) == 0 {
		return ErrEmptyMessage
	}
	if err := validateParts(parts); err != nil {
		return err
	}

	s.append(chat.Message{
		Role:         chat.MessageRoleUser,
		MultiContent: append([]chat.MessagePart(nil), parts...),
	})
	return nil
}

// AppendUserText appends a plain text user message.
func (s *Session) AppendUserText(text string) error {
	s.append(chat.Message{
		Role:    chat.MessageRoleUser,
		Content: text,
	})
	return nil
}

// AppendAssistant appends a model response verbatim.
func (s *Session) AppendAssistant(msg chat.Message) error {
	if msg.Role != "" && msg.Role != chat.MessageRoleAssistant {
		return fmt.Errorf("cannot append %s message as assistant", msg.Role)
	}
	if err := validateParts(msg.MultiContent); err != nil {
		return err
	}

	msg = msg.Clone()
	msg.Role = chat.MessageRoleAssistant
	s.append(msg)
	return nil
}

// AppendTool appends the result of the tool call identified by toolCallID.
func (s *Session) AppendTool(toolCallID string, parts []chat.MessagePart) error {
	if toolCallID == "" {
		return ErrEmptyToolCallID
	}
	if len(parts) == 0 {
		return ErrEmptyMessage
	}
	if err := validateParts(parts); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasToolCall(toolCallID) {
		return fmt.Errorf("%w: %s", ErrUnknownToolCallID, toolCallID)
	}

	s.messages = append(s.messages, chat.Message{
		Role:         chat.MessageRoleTool,
		ToolCallID:   toolCallID,
		MultiContent: append([]chat.MessagePart(nil), parts...),
	})
	return nil
}

func (s *Session) hasToolCall(id string) bool {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role != chat.MessageRoleAssistant {
			continue
		}
		for _, call := range s.messages[i].ToolCalls {
			if call.ID == id {
				return true
			}
		}
	}
	return false
}

func (s *Session) append(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func validateParts(parts []chat.MessagePart) error {
	for _, part := range parts {
		if err := part.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Compress collapses every screenshot but the most recent one of each kind.
//
// The most recent user message carrying an image and the most recent tool
// message carrying an image keep their content. Every other user or tool
// message carrying an image has its content replaced by a single text
// placeholder. Message order and count are unchanged. Compress is idempotent
// and returns the number of messages it collapsed.
func (s *Session) Compress() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastUser, lastTool := -1, -1
	for i := range s.messages {
		if !s.messages[i].HasImage() {
			continue
		}
		switch s.messages[i].Role {
		case chat.MessageRoleUser:
			lastUser = i
		case chat.MessageRoleTool:
			lastTool = i
		}
	}

	collapsed := 0
	for i := range s.messages {
		msg := &s.messages[i]
		if i == lastUser || i == lastTool || !msg.HasImage() {
			continue
		}

		var placeholder string
		switch msg.Role {
		case chat.MessageRoleUser:
			placeholder = UserScreenshotPlaceholder
		case chat.MessageRoleTool:
			placeholder = RegionParserPlaceholder
		default:
			continue
		}

		msg.MultiContent = []chat.MessagePart{chat.TextPart(placeholder)}
		collapsed++
	}

	if collapsed > 0 {
		slog.Debug("Compressed session history", "session_id", s.id, "collapsed", collapsed)
	}
	return collapsed
}
