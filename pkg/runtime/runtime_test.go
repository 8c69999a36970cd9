package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wincontrol/deskagent/pkg/chat"
	"github.com/wincontrol/deskagent/pkg/session"
	"github.com/wincontrol/deskagent/pkg/tools"
)

type step func(ctx context.Context) (*chat.Message, error)

func reply(content string, calls ...tools.ToolCall) step {
	return func(context.Context) (*chat.Message, error) {
		return &chat.Message{Role: chat.MessageRoleAssistant, Content: content, ToolCalls: calls}, nil
	}
}

type mockProvider struct {
	mu    sync.Mutex
	steps []step
	calls [][]chat.Message
	tools [][]tools.Tool
}

func (m *mockProvider) ID() string { return "mock/model" }

func (m *mockProvider) CreateChatCompletion(ctx context.Context, messages []chat.Message, toolList []tools.Tool) (*chat.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.tools = append(m.tools, toolList)
	n := len(m.calls)
	m.mu.Unlock()

	if n > len(m.steps) {
		return nil, fmt.Errorf("unexpected model request #%d", n)
	}
	return m.steps[n-1](ctx)
}

func (m *mockProvider) requests() [][]chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type invocation struct {
	name string
	args map[string]any
}

type stubToolClient struct {
	mu          sync.Mutex
	toolList    []tools.Tool
	prompt      string
	toolsErr    error
	promptErr   error
	shotErr     error
	screenshots int
	invocations []invocation
	call        func(ctx context.Context, name string) ([]chat.MessagePart, error)
}

func newStubToolClient() *stubToolClient {
	return &stubToolClient{
		toolList: []tools.Tool{
			{Name: "click", Description: "Click"},
			{Name: DefaultRegionParserTool, Description: "Locate GUI elements"},
		},
		prompt: "You operate a desktop.",
	}
}

func (s *stubToolClient) Tools(context.Context) ([]tools.Tool, error) {
	return s.toolList, s.toolsErr
}

func (s *stubToolClient) GetPrompt(_ context.Context, name string) (string, error) {
	if s.promptErr != nil {
		return "", s.promptErr
	}
	if name != DefaultSystemPromptName {
		return "", fmt.Errorf("unknown prompt %s", name)
	}
	return s.prompt, nil
}

func (s *stubToolClient) ReadResource(_ context.Context, uri string) (chat.MessagePart, error) {
	if s.shotErr != nil {
		return chat.MessagePart{}, s.shotErr
	}
	if uri != DefaultScreenshotURI {
		return chat.MessagePart{}, fmt.Errorf("unknown resource %s", uri)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots++
	return chat.ImagePart("image/png", fmt.Appendf(nil, "screen-%d", s.screenshots)), nil
}

func (s *stubToolClient) CallTool(ctx context.Context, name string, args map[string]any) ([]chat.MessagePart, error) {
	s.mu.Lock()
	s.invocations = append(s.invocations, invocation{name: name, args: args})
	s.mu.Unlock()

	if s.call != nil {
		return s.call(ctx, name)
	}
	if name == DefaultRegionParserTool {
		return []chat.MessagePart{chat.TextPart("1: save button"), chat.ImagePart("image/png", []byte("annotated"))}, nil
	}
	return []chat.MessagePart{chat.TextPart("success")}, nil
}

func (s *stubToolClient) screenshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshots
}

func (s *stubToolClient) calls() []invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invocations
}

func toolCall(id, name, args string) tools.ToolCall {
	return tools.ToolCall{
		ID:       id,
		Type:     tools.ToolTypeFunction,
		Function: tools.FunctionCall{Name: name, Arguments: args},
	}
}

func newTestRuntime(t *testing.T, tc *stubToolClient, prov *mockProvider, opts ...Opt) *Runtime {
	t.Helper()

	r := New(tc, prov, append([]Opt{WithSettleDelay(0)}, opts...)...)
	require.NoError(t, r.Initialize(t.Context()))
	return r
}

func runTurn(t *testing.T, r *Runtime, text string) (TurnState, []Event, error) {
	t.Helper()

	events := make(chan Event, 128)
	state, err := r.RunTurn(t.Context(), text, events)
	close(events)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	return state, got, err
}

func roles(messages []chat.Message) []chat.MessageRole {
	r := make([]chat.MessageRole, len(messages))
	for i := range messages {
		r[i] = messages[i].Role
	}
	return r
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	r := newTestRuntime(t, tc, &mockProvider{})

	assert.Equal(t, tools.Names(tc.toolList), tools.Names(r.Tools()))
	assert.Equal(t, "You operate a desktop.", r.Session().SystemPrompt())

	messages := r.Session().Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, chat.MessageRoleSystem, messages[0].Role)
	assert.Equal(t, "You operate a desktop.", messages[0].Content)
}

func TestToolsReturnsCopy(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	prov := &mockProvider{steps: []step{reply("Done.")}}
	r := newTestRuntime(t, tc, prov)

	listed := r.Tools()
	require.NotEmpty(t, listed)
	listed[0].Name = "renamed"

	assert.Equal(t, tools.Names(tc.toolList), tools.Names(r.Tools()))

	_, _, err := runTurn(t, r, "open notepad")
	require.NoError(t, err)
	assert.Equal(t, tools.Names(tc.toolList), tools.Names(prov.tools[0]))
}

func TestInitializeErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("server gone")

	for name, tc := range map[string]*stubToolClient{
		"tools":  {toolsErr: cause},
		"prompt": {promptErr: cause},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := New(tc, &mockProvider{}).Initialize(t.Context())

			var initErr *InitializationError
			require.ErrorAs(t, err, &initErr)
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestRunTurnWithoutToolCall(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	prov := &mockProvider{steps: []step{func(context.Context) (*chat.Message, error) {
		return &chat.Message{Content: "Nothing to do.", ReasoningContent: "The screen is empty."}, nil
	}}}
	r := newTestRuntime(t, tc, prov)

	state, events, err := runTurn(t, r, "click the save button")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, state)
	assert.Equal(t, StateDone, r.LoopState())

	assert.Equal(t, []Event{
		UserMessage("click the save button"),
		AgentChoiceReasoning("The screen is empty."),
		AgentChoice("Nothing to do.", true),
	}, events)

	messages := r.Session().Messages()
	require.Equal(t, []chat.MessageRole{chat.MessageRoleSystem, chat.MessageRoleUser, chat.MessageRoleUser, chat.MessageRoleAssistant}, roles(messages))

	grounding := messages[1].MultiContent
	require.Len(t, grounding, 3)
	assert.Equal(t, userRequestInstruction, grounding[0].Text)
	assert.True(t, grounding[1].IsImage())
	assert.Equal(t, r.actionRules(), grounding[2].Text)
	assert.Contains(t, grounding[2].Text, DefaultRegionParserTool)
	assert.Equal(t, "click the save button", messages[2].Content)
	assert.Equal(t, "The screen is empty.", messages[3].ReasoningContent)

	requests := prov.requests()
	require.Len(t, requests, 1)
	assert.Len(t, requests[0], 3)
	assert.Equal(t, tools.Names(tc.toolList), tools.Names(prov.tools[0]))
}

func TestRunTurnToolCallGroundsAgain(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	prov := &mockProvider{steps: []step{
		reply("Clicking save.", toolCall("call_1", "click", `{"x":0.5,"y":0.9}`)),
		reply("Saved."),
	}}
	r := newTestRuntime(t, tc, prov)

	state, events, err := runTurn(t, r, "save the file")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, state)

	assert.Equal(t, []Event{
		UserMessage("save the file"),
		AgentChoice("Clicking save.", false),
		AgentChoice("Saved.", true),
	}, events)

	require.Equal(t, []invocation{{name: "click", args: map[string]any{"x": 0.5, "y": 0.9}}}, tc.calls())
	assert.Equal(t, 2, tc.screenshotCount())

	messages := r.Session().Messages()
	require.Equal(t, []chat.MessageRole{
		chat.MessageRoleSystem,
		chat.MessageRoleUser,
		chat.MessageRoleUser,
		chat.MessageRoleAssistant,
		chat.MessageRoleTool,
		chat.MessageRoleUser,
		chat.MessageRoleAssistant,
	}, roles(messages))
	assert.Equal(t, "call_1", messages[4].ToolCallID)
	assert.Equal(t, "success", messages[4].Text())
	assert.Equal(t, screenChangedInstruction, messages[5].MultiContent[0].Text)

	// The second request only carries the new screenshot.
	second := prov.requests()[1]
	require.Len(t, second, 6)
	assert.False(t, second[1].HasImage())
	assert.Equal(t, session.UserScreenshotPlaceholder, second[1].Text())
	assert.True(t, second[5].HasImage())
}

func TestRunTurnRegionParserDoesNotGround(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	prov := &mockProvider{steps: []step{
		reply("", toolCall("call_1", DefaultRegionParserTool, `{"region":"taskbar"}`)),
		reply("Found it."),
	}}
	r := newTestRuntime(t, tc, prov)

	state, _, err := runTurn(t, r, "find the start button")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, state)
	assert.Equal(t, 1, tc.screenshotCount())

	messages := r.Session().Messages()
	require.Equal(t, []chat.MessageRole{
		chat.MessageRoleSystem,
		chat.MessageRoleUser,
		chat.MessageRoleUser,
		chat.MessageRoleAssistant,
		chat.MessageRoleTool,
		chat.MessageRoleAssistant,
	}, roles(messages))
	assert.True(t, messages[4].HasImage())
}

func TestRunTurnMalformedArguments(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	prov := &mockProvider{steps: []step{
		reply("", toolCall("call_1", "click", `{"x":`)),
		reply("Giving up."),
	}}
	r := newTestRuntime(t, tc, prov)

	state, events, err := runTurn(t, r, "click")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, state)

	require.Len(t, events, 3)
	assert.Equal(t, UserMessage("click"), events[0])
	errEvent, ok := events[1].(*ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEvent.Error, "failed to parse arguments of tool click")
	assert.Equal(t, AgentChoice("Giving up.", true), events[2])

	assert.Empty(t, tc.calls())
	assert.Equal(t, 1, tc.screenshotCount())

	messages := r.Session().Messages()
	require.Equal(t, []chat.MessageRole{
		chat.MessageRoleSystem,
		chat.MessageRoleUser,
		chat.MessageRoleUser,
		chat.MessageRoleAssistant,
		chat.MessageRoleAssistant,
	}, roles(messages))
	assert.Len(t, chat.UnansweredToolCalls(messages), 1)
}

func TestRunTurnEmptyArgumentsAreAnEmptyObject(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	prov := &mockProvider{steps: []step{
		reply("", toolCall("call_1", "click", "")),
		reply("Done."),
	}}
	r := newTestRuntime(t, tc, prov)

	state, _, err := runTurn(t, r, "click")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, state)
	assert.Equal(t, []invocation{{name: "click", args: map[string]any{}}}, tc.calls())
}

func TestRunTurnToolExecutionError(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	tc.call = func(context.Context, string) ([]chat.MessagePart, error) {
		return nil, errors.New("mouse unavailable")
	}
	prov := &mockProvider{steps: []step{
		reply("", toolCall("call_1", "click", `{}`)),
		reply("The mouse does not respond."),
	}}
	r := newTestRuntime(t, tc, prov)

	state, events, err := runTurn(t, r, "click")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, state)

	require.Len(t, events, 3)
	errEvent, ok := events[1].(*ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEvent.Error, "mouse unavailable")

	assert.Equal(t, 2, tc.screenshotCount())
	assert.Equal(t, []chat.MessageRole{
		chat.MessageRoleSystem,
		chat.MessageRoleUser,
		chat.MessageRoleUser,
		chat.MessageRoleAssistant,
		chat.MessageRoleUser,
		chat.MessageRoleAssistant,
	}, roles(r.Session().Messages()))
}

func TestRunTurnChatTransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	prov := &mockProvider{steps: []step{func(context.Context) (*chat.Message, error) {
		return nil, cause
	}}}
	r := newTestRuntime(t, newStubToolClient(), prov)

	state, events, err := runTurn(t, r, "hello")
	assert.Equal(t, TurnFailed, state)

	var transportErr *ChatTransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, cause)

	require.Len(t, events, 2)
	assert.Equal(t, UserMessage("hello"), events[0])
	assert.Equal(t, Error(err.Error()), events[1])
}

func TestRunTurnGroundingError(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	tc.shotErr = errors.New("no display")
	prov := &mockProvider{}
	r := newTestRuntime(t, tc, prov)

	state, events, err := runTurn(t, r, "hello")
	assert.Equal(t, TurnFailed, state)

	var groundingErr *GroundingError
	require.ErrorAs(t, err, &groundingErr)
	assert.Equal(t, DefaultScreenshotURI, groundingErr.URI)

	assert.Equal(t, []Event{Error(err.Error())}, events)
	assert.Equal(t, 1, r.Session().Len())
	assert.Empty(t, prov.requests())
}

func TestRunTurnNotInitialized(t *testing.T) {
	t.Parallel()

	r := New(newStubToolClient(), &mockProvider{})

	state, events, err := runTurn(t, r, "hello")
	assert.Equal(t, TurnFailed, state)
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, []Event{Error(ErrNotInitialized.Error())}, events)
}

func TestRunTurnMaxIterations(t *testing.T) {
	t.Parallel()

	prov := &mockProvider{steps: []step{
		reply("", toolCall("call_1", "click", `{}`)),
		reply("", toolCall("call_2", "click", `{}`)),
		reply("", toolCall("call_3", "click", `{}`)),
	}}
	r := newTestRuntime(t, newStubToolClient(), prov, WithMaxIterations(2))

	state, events, err := runTurn(t, r, "loop")
	assert.Equal(t, TurnFailed, state)

	var maxErr *MaxIterationsError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 2, maxErr.Limit)
	assert.Len(t, prov.requests(), 2)
	assert.Equal(t, Error(err.Error()), events[len(events)-1])
}

func TestRunTurnIgnoresExtraToolCalls(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	prov := &mockProvider{steps: []step{
		reply("", toolCall("call_1", "click", `{"x":1}`), toolCall("call_2", "click", `{"x":2}`)),
		reply("Done."),
	}}
	r := newTestRuntime(t, tc, prov)

	state, _, err := runTurn(t, r, "click twice")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, state)
	assert.Equal(t, []invocation{{name: "click", args: map[string]any{"x": float64(1)}}}, tc.calls())

	pending := chat.UnansweredToolCalls(r.Session().Messages())
	require.Len(t, pending, 1)
	for _, calls := range pending {
		require.Len(t, calls, 1)
		assert.Equal(t, "call_2", calls[0].ID)
	}
}

func TestRunTurnBoundsLiveScreenshots(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	var steps []step
	for i := range 5 {
		steps = append(steps, reply("", toolCall(fmt.Sprintf("call_%d", i), "click", `{}`)))
	}
	steps = append(steps, reply("", toolCall("call_parse", DefaultRegionParserTool, `{}`)), reply("Done."))
	prov := &mockProvider{steps: steps}
	r := newTestRuntime(t, tc, prov)

	state, _, err := runTurn(t, r, "work")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, state)

	for i, request := range prov.requests() {
		images := 0
		for j := range request {
			if request[j].HasImage() {
				images++
			}
		}
		assert.LessOrEqual(t, images, 2, "request %d", i)
		assert.GreaterOrEqual(t, images, 1, "request %d", i)
	}
}

func TestRunTurnCancelledDuringChat(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	prov := &mockProvider{steps: []step{func(ctx context.Context) (*chat.Message, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}}
	r := newTestRuntime(t, newStubToolClient(), prov)

	ctx, cancel := context.WithCancel(t.Context())
	events := make(chan Event, 16)

	type result struct {
		state TurnState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := r.RunTurn(ctx, "hello", events)
		done <- result{state, err}
	}()

	<-started
	cancel()
	res := <-done

	assert.Equal(t, TurnCancelled, res.state)
	require.ErrorIs(t, res.err, context.Canceled)

	// Only the user message was emitted, no error and no final answer.
	require.Len(t, events, 1)
	assert.Equal(t, UserMessage("hello"), <-events)
	assert.Equal(t, 3, r.Session().Len())
}

func TestRunTurnCancelledDuringToolCall(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var toolCtxErr error

	tc := newStubToolClient()
	tc.call = func(ctx context.Context, _ string) ([]chat.MessagePart, error) {
		close(started)
		<-release
		toolCtxErr = ctx.Err()
		return []chat.MessagePart{chat.TextPart("clicked")}, nil
	}
	prov := &mockProvider{steps: []step{reply("", toolCall("call_1", "click", `{}`))}}
	r := newTestRuntime(t, tc, prov, WithSettleDelay(DefaultSettleDelay))

	ctx, cancel := context.WithCancel(t.Context())
	events := make(chan Event, 16)

	done := make(chan TurnState, 1)
	go func() {
		state, _ := r.RunTurn(ctx, "click", events)
		done <- state
	}()

	<-started
	cancel()
	close(release)

	assert.Equal(t, TurnCancelled, <-done)
	require.NoError(t, toolCtxErr)
	assert.Equal(t, 1, tc.screenshotCount())

	messages := r.Session().Messages()
	require.Len(t, messages, 5)
	assert.Equal(t, chat.MessageRoleTool, messages[4].Role)
	assert.Equal(t, "clicked", messages[4].Text())

	close(events)
	for ev := range events {
		_, isError := ev.(*ErrorEvent)
		assert.False(t, isError)
	}
}

func TestRunTurnAlreadyCancelled(t *testing.T) {
	t.Parallel()

	tc := newStubToolClient()
	r := newTestRuntime(t, tc, &mockProvider{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	events := make(chan Event, 1)
	state, err := r.RunTurn(ctx, "hello", events)
	assert.Equal(t, TurnCancelled, state)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, events)
	assert.Zero(t, tc.screenshotCount())
}

func TestRunTurnSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prov := &mockProvider{steps: []step{
		reply("", toolCall("call_1", "click", `{}`)),
		reply("Done."),
	}}
	r := newTestRuntime(t, newStubToolClient(), prov, WithTracer(tp.Tracer("test")))

	_, _, err := runTurn(t, r, "click")
	require.NoError(t, err)

	names := map[string]int{}
	for _, span := range exporter.GetSpans() {
		names[span.Name]++
		if span.Name == "runtime.tool.call" {
			attrs := map[string]string{}
			for _, kv := range span.Attributes {
				attrs[string(kv.Key)] = kv.Value.Emit()
			}
			assert.Equal(t, "click", attrs["tool.name"])
			assert.Equal(t, "call_1", attrs["tool.call_id"])
			assert.Equal(t, r.Session().ID(), attrs["session.id"])
		}
	}
	assert.Equal(t, map[string]int{"runtime.turn": 1, "runtime.chat": 2, "runtime.tool.call": 1}, names)
}
