package root

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/wincontrol/deskagent/pkg/runtime"
)

// printer renders session events and console messages. It is safe for
// concurrent use by the input and event goroutines.
type printer struct {
	mu sync.Mutex
	w  io.Writer

	bold      *color.Color
	agent     *color.Color
	reasoning *color.Color
	info      *color.Color
	failure   *color.Color
}

func newPrinter(w io.Writer, colored bool) *printer {
	p := &printer{
		w:         w,
		bold:      color.New(color.Bold),
		agent:     color.New(color.FgGreen),
		reasoning: color.New(color.Faint, color.Italic),
		info:      color.New(color.FgBlue),
		failure:   color.New(color.FgRed),
	}
	if !colored {
		for _, c := range []*color.Color{p.bold, p.agent, p.reasoning, p.info, p.failure} {
			c.DisableColor()
		}
	}
	return p
}

// isTerminalOutput reports whether w is a terminal and colors are enabled.
func isTerminalOutput(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) && !color.NoColor
}

func (p *printer) prompt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bold.Fprint(p.w, "> ")
}

func (p *printer) infof(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info.Fprintf(p.w, format+"\n", a...)
}

func (p *printer) errorf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failure.Fprintf(p.w, "Error: "+format+"\n", a...)
}

func (p *printer) println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, a...)
}

// render prints an event. It reports whether the console is ready for new input.
func (p *printer) render(ev runtime.Event) bool {
	switch e := ev.(type) {
	case *runtime.AgentChoiceReasoningEvent:
		p.mu.Lock()
		p.reasoning.Fprintln(p.w, e.Content)
		p.mu.Unlock()
	case *runtime.AgentChoiceEvent:
		p.mu.Lock()
		if e.Final {
			p.agent.Fprintln(p.w, e.Content)
		} else {
			fmt.Fprintln(p.w, e.Content)
		}
		p.mu.Unlock()
	case *runtime.ErrorEvent:
		p.errorf("%s", e.Error)
	case *runtime.ClearedEvent:
		p.infof("Conversation cleared.")
		return true
	case *runtime.StreamStoppedEvent:
		if e.Outcome == runtime.TurnCancelled {
			p.infof("Turn cancelled.")
		}
		return true
	}
	return false
}
