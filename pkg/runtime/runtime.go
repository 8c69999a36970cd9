package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wincontrol/deskagent/pkg/chat"
	"github.com/wincontrol/deskagent/pkg/model/provider"
	"github.com/wincontrol/deskagent/pkg/session"
	"github.com/wincontrol/deskagent/pkg/tools"
)

// MaxToolCallsPerTurn is the number of tool calls acted on per model response.
// Any further calls in the same response are ignored.
const MaxToolCallsPerTurn = 1

const (
	DefaultSettleDelay      = time.Second
	DefaultRegionParserTool = "screen_region_parser"
	DefaultScreenshotURI    = "screen://screenshot"
	DefaultSystemPromptName = "system_prompt"
)

var ErrNotInitialized = errors.New("runtime is not initialized")

// ToolClient is the tool server as seen by the runtime.
type ToolClient interface {
	Tools(ctx context.Context) ([]tools.Tool, error)
	GetPrompt(ctx context.Context, name string) (string, error)
	ReadResource(ctx context.Context, uri string) (chat.MessagePart, error)
	CallTool(ctx context.Context, name string, args map[string]any) ([]chat.MessagePart, error)
}

// TurnState is the outcome of a turn.
type TurnState string

const (
	TurnIdle      TurnState = "idle"
	TurnRunning   TurnState = "running"
	TurnCompleted TurnState = "completed"
	TurnCancelled TurnState = "cancelled"
	TurnFailed    TurnState = "failed"
)

// LoopState is the step the runtime is at inside a turn.
type LoopState string

const (
	StateAwaitingScreenshot LoopState = "awaiting_screenshot"
	StateAwaitingModel      LoopState = "awaiting_model"
	StateDispatching        LoopState = "dispatching"
	StateDone               LoopState = "done"
)

// Runtime drives the conversation between the model and the tool server.
type Runtime struct {
	toolClient ToolClient
	provider   provider.Provider
	session    *session.Session
	tracer     trace.Tracer

	settleDelay      time.Duration
	regionParserTool string
	screenshotURI    string
	systemPromptName string
	maxIterations    int

	mu          sync.Mutex
	tools       []tools.Tool
	initialized bool
	loopState   LoopState
}

type Opt func(*Runtime)

func WithTracer(t trace.Tracer) Opt {
	return func(r *Runtime) {
		r.tracer = t
	}
}

// WithSettleDelay sets how long to wait after a tool call before taking a new screenshot.
func WithSettleDelay(d time.Duration) Opt {
	return func(r *Runtime) {
		r.settleDelay = d
	}
}

// WithRegionParserTool names the tool after which no new screenshot is taken.
func WithRegionParserTool(name string) Opt {
	return func(r *Runtime) {
		r.regionParserTool = name
	}
}

func WithScreenshotURI(uri string) Opt {
	return func(r *Runtime) {
		r.screenshotURI = uri
	}
}

func WithSystemPromptName(name string) Opt {
	return func(r *Runtime) {
		r.systemPromptName = name
	}
}

// WithMaxIterations caps the number of model requests in a single turn. Zero means no limit.
func WithMaxIterations(n int) Opt {
	return func(r *Runtime) {
		r.maxIterations = n
	}
}

func WithSession(sess *session.Session) Opt {
	return func(r *Runtime) {
		r.session = sess
	}
}

// New creates a runtime. Initialize must be called before the first turn.
func New(toolClient ToolClient, prov provider.Provider, opts ...Opt) *Runtime {
	r := &Runtime{
		toolClient:       toolClient,
		provider:         prov,
		settleDelay:      DefaultSettleDelay,
		regionParserTool: DefaultRegionParserTool,
		screenshotURI:    DefaultScreenshotURI,
		systemPromptName: DefaultSystemPromptName,
		loopState:        StateDone,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.session == nil {
		r.session = session.New()
	}
	return r
}

func (r *Runtime) Session() *session.Session {
	return r.session
}

// Tools returns a copy of the tools advertised to the model.
func (r *Runtime) Tools() []tools.Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.tools)
}

func (r *Runtime) LoopState() LoopState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loopState
}

func (r *Runtime) transition(state LoopState) {
	r.mu.Lock()
	r.loopState = state
	r.mu.Unlock()

	slog.Debug("Runtime state changed", "session_id", r.session.ID(), "state", state)
}

// Initialize fetches the tool list and the system prompt from the tool server
// and starts a fresh conversation.
func (r *Runtime) Initialize(ctx context.Context) error {
	slog.Debug("Initializing runtime", "system_prompt", r.systemPromptName)

	toolList, err := r.toolClient.Tools(ctx)
	if err != nil {
		return &InitializationError{Err: fmt.Errorf("failed to list tools: %w", err)}
	}

	prompt, err := r.toolClient.GetPrompt(ctx, r.systemPromptName)
	if err != nil {
		return &InitializationError{Err: fmt.Errorf("failed to get prompt %s: %w", r.systemPromptName, err)}
	}

	r.session.Initialize(prompt)

	r.mu.Lock()
	r.tools = toolList
	r.initialized = true
	r.mu.Unlock()

	slog.Debug("Runtime initialized", "session_id", r.session.ID(), "tool_count", len(toolList))
	return nil
}

// RunTurn runs one user turn until the model answers without calling a tool.
//
// Events are sent on events in the order they happen. When ctx is cancelled
// the turn stops at the next step boundary and returns TurnCancelled with no
// further events. A tool call that was already sent runs to completion.
func (r *Runtime) RunTurn(ctx context.Context, text string, events chan<- Event) (TurnState, error) {
	ctx, span := r.startSpan(ctx, "runtime.turn", trace.WithAttributes(
		attribute.String("session.id", r.session.ID()),
	))
	defer span.End()

	slog.Debug("Starting turn", "session_id", r.session.ID())

	state, err := r.runTurn(ctx, text, events)
	r.transition(StateDone)

	switch state {
	case TurnFailed:
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
	case TurnCancelled:
		span.SetStatus(codes.Ok, "turn cancelled")
	default:
		span.SetStatus(codes.Ok, "turn completed")
	}

	slog.Debug("Turn finished", "session_id", r.session.ID(), "outcome", state)
	return state, err
}

func (r *Runtime) runTurn(ctx context.Context, text string, events chan<- Event) (TurnState, error) {
	r.mu.Lock()
	initialized := r.initialized
	r.mu.Unlock()
	if !initialized {
		return r.fail(ctx, ErrNotInitialized, events)
	}
	if err := ctx.Err(); err != nil {
		return TurnCancelled, err
	}

	r.transition(StateAwaitingScreenshot)
	if err := r.ground(ctx, userRequestInstruction); err != nil {
		return r.fail(ctx, err, events)
	}
	if err := r.session.AppendUserText(text); err != nil {
		return r.fail(ctx, err, events)
	}
	events <- UserMessage(text)

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return TurnCancelled, err
		}
		if r.maxIterations > 0 && iteration > r.maxIterations {
			return r.fail(ctx, &MaxIterationsError{Limit: r.maxIterations}, events)
		}

		r.transition(StateAwaitingModel)
		msg, err := r.complete(ctx)
		if err != nil {
			return r.fail(ctx, err, events)
		}
		if err := r.session.AppendAssistant(*msg); err != nil {
			return r.fail(ctx, err, events)
		}

		if msg.ReasoningContent != "" {
			events <- AgentChoiceReasoning(msg.ReasoningContent)
		}

		if len(msg.ToolCalls) == 0 {
			events <- AgentChoice(msg.Content, true)
			return TurnCompleted, nil
		}

		if msg.Content != "" {
			events <- AgentChoice(msg.Content, false)
		}
		if err := ctx.Err(); err != nil {
			return TurnCancelled, err
		}

		r.transition(StateDispatching)
		if !r.dispatch(ctx, msg.ToolCalls, events) {
			continue
		}

		if err := sleep(ctx, r.settleDelay); err != nil {
			return TurnCancelled, err
		}

		r.transition(StateAwaitingScreenshot)
		if err := r.ground(ctx, screenChangedInstruction); err != nil {
			return r.fail(ctx, err, events)
		}
	}
}

// fail settles a turn that could not go on. Errors caused by the
// cancellation of ctx are not reported.
func (r *Runtime) fail(ctx context.Context, err error, events chan<- Event) (TurnState, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return TurnCancelled, ctxErr
	}

	slog.Error("Turn failed", "session_id", r.session.ID(), "error", err)
	events <- Error(err.Error())
	return TurnFailed, err
}

// complete compresses the history and asks the model for the next step.
func (r *Runtime) complete(ctx context.Context) (*chat.Message, error) {
	r.session.Compress()

	messages := r.session.Messages()
	toolList := r.Tools()

	ctx, span := r.startSpan(ctx, "runtime.chat", trace.WithAttributes(
		attribute.String("session.id", r.session.ID()),
		attribute.String("model", r.provider.ID()),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	msg, err := r.provider.CreateChatCompletion(ctx, messages, toolList)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return nil, &ChatTransportError{Model: r.provider.ID(), Err: err}
	}

	span.SetAttributes(attribute.Int("tool_calls", len(msg.ToolCalls)))
	span.SetStatus(codes.Ok, "chat completion done")
	return msg, nil
}

func (r *Runtime) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, name, opts...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
