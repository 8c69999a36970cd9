package root

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/wincontrol/deskagent/pkg/app"
	"github.com/wincontrol/deskagent/pkg/app/transcript"
	"github.com/wincontrol/deskagent/pkg/tools"
)

const shutdownTimeout = 10 * time.Second

const consoleHelp = `Commands:
  /cancel              stop the running turn
  /clear               cancel the running turn and start a new conversation
  /tools               list the tools the model can call
  /transcript [file]   write the conversation as Markdown
  /exit                end the session
Any other input is sent to the agent.`

// console is a line-oriented front-end for an App.
type console struct {
	app       *app.App
	out       *printer
	turnEnded chan struct{}
}

func newConsole(a *app.App, out *printer) *console {
	return &console{
		app:       a,
		out:       out,
		turnEnded: make(chan struct{}, 1),
	}
}

// run reads commands from in until /exit, end of input or ctx is done, then
// shuts the App down. At end of input the running turn is allowed to finish.
func (c *console) run(ctx context.Context, in io.Reader, initial string) error {
	lines := make(chan string)
	go scanLines(in, lines)

	abandon := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.renderEvents(abandon)
		return nil
	})
	g.Go(func() error {
		if initial != "" {
			c.send(initial)
		} else {
			c.out.prompt()
		}
		c.readCommands(ctx, lines)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := c.app.Shutdown(shutdownCtx); err != nil {
			close(abandon)
			return fmt.Errorf("failed to shut down session: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func scanLines(in io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func (c *console) renderEvents(abandon <-chan struct{}) {
	events := c.app.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if c.out.render(ev) {
				select {
				case c.turnEnded <- struct{}{}:
				default:
				}
				c.out.prompt()
			}
		case <-abandon:
			return
		}
	}
}

func (c *console) readCommands(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				c.waitIdle(ctx)
				return
			}
			if exit := c.handleLine(strings.TrimSpace(line)); exit {
				return
			}
		}
	}
}

// waitIdle blocks until no turn is running.
func (c *console) waitIdle(ctx context.Context) {
	for c.app.Running() {
		select {
		case <-c.turnEnded:
		case <-ctx.Done():
			return
		}
	}
}

// handleLine executes a console command or sends the line to the agent. It
// reports whether the session should end.
func (c *console) handleLine(line string) bool {
	if !strings.HasPrefix(line, "/") {
		if line == "" {
			c.out.prompt()
			return false
		}
		c.send(line)
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/exit", "/quit":
		return true
	case "/cancel":
		if !c.app.Running() {
			c.out.infof("No turn is running.")
			c.out.prompt()
			return false
		}
		c.app.Cancel()
	case "/clear":
		if err := c.app.Clear(); err != nil {
			c.out.errorf("%v", err)
			c.out.prompt()
		}
	case "/tools":
		for _, toolName := range tools.Names(c.app.Tools()) {
			c.out.println(" -", toolName)
		}
		c.out.prompt()
	case "/transcript":
		if err := c.writeTranscript(strings.TrimSpace(arg)); err != nil {
			c.out.errorf("%v", err)
		}
		c.out.prompt()
	case "/help":
		c.out.println(consoleHelp)
		c.out.prompt()
	default:
		c.out.errorf("unknown command %s, type /help for the list of commands", name)
		c.out.prompt()
	}
	return false
}

func (c *console) send(text string) {
	err := c.app.Start(text)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrTurnInProgress):
		c.out.infof("A turn is already running, use /cancel to stop it.")
	default:
		c.out.errorf("%v", err)
		c.out.prompt()
	}
}

func (c *console) writeTranscript(path string) error {
	sess := c.app.Session()
	if sess == nil {
		return app.ErrNotConnected
	}
	if path == "" {
		path = fmt.Sprintf("deskagent-%s.md", sess.ID())
	}

	if err := atomic.WriteFile(path, strings.NewReader(transcript.Markdown(sess.Messages()))); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	c.out.infof("Transcript written to %s", path)
	return nil
}
