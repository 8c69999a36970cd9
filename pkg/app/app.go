package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wincontrol/deskagent/pkg/model/provider"
	"github.com/wincontrol/deskagent/pkg/runtime"
	"github.com/wincontrol/deskagent/pkg/session"
	"github.com/wincontrol/deskagent/pkg/tools"
)

var (
	ErrNotConnected     = errors.New("session is not connected")
	ErrAlreadyConnected = errors.New("session is already connected")
	ErrClosed           = errors.New("app is shut down")
	ErrTurnInProgress   = errors.New("a turn is already running")
)

// State is the connection state of the session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
)

// Toolset is a tool server that can be started and stopped.
type Toolset interface {
	runtime.ToolClient
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type commandKind int

const (
	startCommand commandKind = iota
	clearCommand
)

type command struct {
	kind   commandKind
	text   string
	ctx    context.Context
	cancel context.CancelFunc
}

// App runs turns in the background on behalf of a front-end.
//
// The front-end sends commands with Start, Cancel and Clear, and reads
// events from Events until the channel is closed by Shutdown. Commands never
// block on the model or on the tool server.
type App struct {
	toolset     Toolset
	provider    provider.Provider
	runtimeOpts []runtime.Opt
	events      chan runtime.Event
	commands    chan command

	running    atomic.Bool
	connecting sync.WaitGroup

	mu         sync.Mutex
	state      State
	closed     bool
	rt         *runtime.Runtime
	loopCtx    context.Context
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
	turnCancel context.CancelFunc
	turnDone   chan struct{}
}

type Opt func(*App)

// WithRuntimeOptions configures the runtime created on Connect.
func WithRuntimeOptions(opts ...runtime.Opt) Opt {
	return func(a *App) {
		a.runtimeOpts = append(a.runtimeOpts, opts...)
	}
}

func New(toolset Toolset, prov provider.Provider, opts ...Opt) *App {
	a := &App{
		toolset:  toolset,
		provider: prov,
		events:   make(chan runtime.Event, 128),
		commands: make(chan command, 16),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Events returns the event stream. It must be drained until it is closed.
func (a *App) Events() <-chan runtime.Event {
	return a.events
}

func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Running reports whether a turn is scheduled or running. It turns false
// before the turn's StreamStoppedEvent is sent, not before its final
// AgentChoiceEvent.
func (a *App) Running() bool {
	return a.running.Load()
}

// Session returns the conversation, or nil before Connect.
func (a *App) Session() *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt == nil {
		return nil
	}
	return a.rt.Session()
}

// Tools returns the tools the model can call, or nil before Connect.
func (a *App) Tools() []tools.Tool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt == nil {
		return nil
	}
	return a.rt.Tools()
}

// Connect starts the tool server and prepares the conversation. On failure
// an error event is sent, the tool server is stopped and an
// *runtime.InitializationError is returned.
func (a *App) Connect(ctx context.Context) error {
	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		return ErrClosed
	case a.state != StateDisconnected:
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	a.state = StateConnecting
	a.connecting.Add(1)
	a.mu.Unlock()
	defer a.connecting.Done()

	slog.Debug("Connecting session", "model", a.provider.ID())

	rt, err := a.initialize(ctx)
	if err != nil {
		var initErr *runtime.InitializationError
		if !errors.As(err, &initErr) {
			initErr = &runtime.InitializationError{Err: err}
		}

		slog.Error("Session initialization failed", "error", initErr)
		a.events <- runtime.Error(initErr.Error())

		if stopErr := a.toolset.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			slog.Warn("Failed to stop tool server", "error", stopErr)
		}

		a.mu.Lock()
		a.state = StateDisconnected
		a.mu.Unlock()
		return initErr
	}

	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))

	loopDone := make(chan struct{})

	a.mu.Lock()
	a.rt = rt
	a.loopCtx = loopCtx
	a.stopLoop = stopLoop
	a.loopDone = loopDone
	a.state = StateReady
	a.mu.Unlock()

	go a.loop(loopCtx, loopDone)

	slog.Debug("Session connected", "session_id", rt.Session().ID(), "tool_count", len(rt.Tools()))
	return nil
}

func (a *App) initialize(ctx context.Context) (*runtime.Runtime, error) {
	if err := a.toolset.Start(ctx); err != nil {
		return nil, err
	}

	rt := runtime.New(a.toolset, a.provider, a.runtimeOpts...)
	if err := rt.Initialize(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

// Start schedules a turn with the given user input. It returns
// ErrTurnInProgress until the StreamStoppedEvent of the previous turn has
// been sent, so front-ends accept new input on that event.
func (a *App) Start(text string) error {
	a.mu.Lock()
	if err := a.checkReady(); err != nil {
		a.mu.Unlock()
		return err
	}
	if !a.running.CompareAndSwap(false, true) {
		a.mu.Unlock()
		return ErrTurnInProgress
	}

	// The turn context exists before the turn runs so that Cancel also
	// applies to a turn that is still queued.
	turnCtx, cancel := context.WithCancel(a.loopCtx)
	a.turnCancel = cancel
	loopCtx := a.loopCtx
	a.mu.Unlock()

	if !a.send(loopCtx, command{kind: startCommand, text: text, ctx: turnCtx, cancel: cancel}) {
		cancel()
		a.running.Store(false)
		return ErrClosed
	}
	return nil
}

// Cancel asks the running turn to stop. It does nothing when no turn is running.
func (a *App) Cancel() {
	a.mu.Lock()
	cancel := a.turnCancel
	a.mu.Unlock()

	if cancel != nil {
		slog.Debug("Cancelling turn")
		cancel()
	}
}

// Clear cancels the running turn, waits for it to settle, resets the
// conversation and sends a ClearedEvent.
func (a *App) Clear() error {
	a.mu.Lock()
	if err := a.checkReady(); err != nil {
		a.mu.Unlock()
		return err
	}
	if a.turnCancel != nil {
		a.turnCancel()
	}
	loopCtx := a.loopCtx
	a.mu.Unlock()

	if !a.send(loopCtx, command{kind: clearCommand}) {
		return ErrClosed
	}
	return nil
}

func (a *App) send(loopCtx context.Context, cmd command) bool {
	select {
	case a.commands <- cmd:
		return true
	case <-loopCtx.Done():
		return false
	}
}

// Shutdown cancels the running turn, waits for it, stops the tool server and
// closes the event stream. Every later call fails with ErrClosed.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	slog.Debug("Shutting down session")

	connected := make(chan struct{})
	go func() {
		a.connecting.Wait()
		close(connected)
	}()
	select {
	case <-connected:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	wasReady := a.state == StateReady
	turnCancel, stopLoop, loopDone := a.turnCancel, a.stopLoop, a.loopDone
	a.mu.Unlock()

	if turnCancel != nil {
		turnCancel()
	}
	if stopLoop != nil {
		stopLoop()
		select {
		case <-loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var err error
	if wasReady {
		err = a.toolset.Stop(ctx)
	}

	a.mu.Lock()
	a.state = StateDisconnected
	a.mu.Unlock()

	close(a.events)
	return err
}

func (a *App) checkReady() error {
	if a.closed {
		return ErrClosed
	}
	if a.state != StateReady {
		return ErrNotConnected
	}
	return nil
}

// loop executes commands one at a time until ctx is done.
func (a *App) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer a.waitTurn()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.commands:
			switch cmd.kind {
			case startCommand:
				a.startTurn(cmd)
			case clearCommand:
				a.clear()
			}
		}
	}
}

func (a *App) startTurn(cmd command) {
	a.waitTurn()

	done := make(chan struct{})
	a.mu.Lock()
	a.turnDone = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		defer cmd.cancel()

		sessionID := a.rt.Session().ID()
		a.events <- runtime.StreamStarted(sessionID)

		state, err := a.rt.RunTurn(cmd.ctx, cmd.text, a.events)
		if err != nil && state != runtime.TurnCancelled {
			slog.Debug("Turn ended with an error", "session_id", sessionID, "error", err)
		}

		a.running.Store(false)
		a.events <- runtime.StreamStopped(sessionID, state)
	}()
}

func (a *App) clear() {
	a.waitTurn()

	sess := a.rt.Session()
	sess.Clear()
	a.events <- runtime.Cleared(sess.ID())
}

// waitTurn blocks until the last started turn has settled.
func (a *App) waitTurn() {
	a.mu.Lock()
	done := a.turnDone
	a.mu.Unlock()

	if done != nil {
		<-done
	}
}
