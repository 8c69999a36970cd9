package runtime

type Event interface {
	isEvent()
}

// UserMessageEvent is sent when the user input of a turn is added to the conversation.
type UserMessageEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func UserMessage(message string) Event {
	return &UserMessageEvent{
		Type:    "user_message",
		Message: message,
	}
}

func (e *UserMessageEvent) isEvent() {}

// AgentChoiceEvent carries the text of an assistant message. Final is set on
// the answer that ends the turn.
type AgentChoiceEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Final   bool   `json:"final"`
}

func AgentChoice(content string, final bool) Event {
	return &AgentChoiceEvent{
		Type:    "agent_choice",
		Content: content,
		Final:   final,
	}
}

func (e *AgentChoiceEvent) isEvent() {}

type AgentChoiceReasoningEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Final   bool   `json:"final"`
}

func AgentChoiceReasoning(content string) Event {
	return &AgentChoiceReasoningEvent{
		Type:    "agent_choice_reasoning",
		Content: content,
	}
}

func (e *AgentChoiceReasoningEvent) isEvent() {}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func Error(msg string) Event {
	return &ErrorEvent{
		Type:  "error",
		Error: msg,
	}
}

func (e *ErrorEvent) isEvent() {}

// ClearedEvent is sent once the conversation has been reset.
type ClearedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func Cleared(sessionID string) Event {
	return &ClearedEvent{
		Type:      "cleared",
		SessionID: sessionID,
	}
}

func (e *ClearedEvent) isEvent() {}

type StreamStartedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

func StreamStarted(sessionID string) Event {
	return &StreamStartedEvent{
		Type:      "stream_started",
		SessionID: sessionID,
	}
}

func (e *StreamStartedEvent) isEvent() {}

// StreamStoppedEvent is sent after every turn, whatever its outcome.
type StreamStoppedEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Outcome   TurnState `json:"outcome"`
}

func StreamStopped(sessionID string, outcome TurnState) Event {
	return &StreamStoppedEvent{
		Type:      "stream_stopped",
		SessionID: sessionID,
		Outcome:   outcome,
	}
}

func (e *StreamStoppedEvent) isEvent() {}
