// Package conversation drives interactive multi-turn chat: it reads a line,
// dispatches the full history to the resolved backend, renders the reply and
// persists the turn to the session store.
package conversation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/history"
	"github.com/minerofthesoal/ai-cli/internal/logging"
	"github.com/minerofthesoal/ai-cli/internal/persona"
	"github.com/minerofthesoal/ai-cli/internal/session"
)

// State is the loop's position in its turn cycle.
type State int

const (
	AwaitingInput State = iota
	Dispatching
	Rendering
	Terminal
)

func (s State) String() string {
	switch s {
	case AwaitingInput:
		return "awaiting-input"
	case Dispatching:
		return "dispatching"
	case Rendering:
		return "rendering"
	case Terminal:
		return "terminal"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Completer sends requests to a backend. *api.Engine implements it.
type Completer interface {
	Kind() backend.Kind
	Complete(ctx context.Context, kind backend.Kind, req *api.Request) (string, error)
	Stream(ctx context.Context, kind backend.Kind, req *api.Request, onChunk func(string)) (string, error)
}

// SessionStore persists conversation turns. *session.Store implements it.
type SessionStore interface {
	Load(name string) (*session.Session, error)
	AppendTurn(name string, user, assistant api.Message) error
	Overwrite(name string, msgs []api.Message) error
}

// PersonaSource resolves a persona on selection. *persona.Store implements it.
type PersonaSource interface {
	Materialize(name string) (*persona.Persona, error)
}

// Options configures a Loop. Engine, Sessions and Session are required.
type Options struct {
	Engine   Completer
	Sessions SessionStore
	Personas PersonaSource
	History  history.Recorder
	Settings config.Settings

	Session string
	Persona string
	System  string

	// OnPersona is called after /persona switches persona, to persist it.
	OnPersona func(name string) error
}

// Loop is one interactive conversation bound to a named session.
type Loop struct {
	opts     Options
	state    State
	started  bool
	kind     backend.Kind
	messages []api.Message
	system   string
	persona  string
}

// New returns a loop that has not been started.
func New(opts Options) *Loop {
	return &Loop{
		opts:    opts,
		system:  opts.System,
		persona: opts.Persona,
	}
}

// State returns the current state.
func (l *Loop) State() State { return l.state }

// Kind returns the backend resolved by Start.
func (l *Loop) Kind() backend.Kind { return l.kind }

// Messages returns a copy of the in-memory history.
func (l *Loop) Messages() []api.Message {
	out := make([]api.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Start loads the session and resolves the backend. The backend is not
// re-resolved per turn, so a model change takes effect on the next Start.
func (l *Loop) Start() error {
	if err := session.ValidateName(l.opts.Session); err != nil {
		return err
	}
	sess, err := l.opts.Sessions.Load(l.opts.Session)
	if err != nil {
		return err
	}
	l.messages = sess.Messages
	l.kind = l.opts.Engine.Kind()
	l.state = AwaitingInput
	l.started = true
	logging.Debug("conversation started", logging.Fields{
		"session":  l.opts.Session,
		"backend":  string(l.kind),
		"messages": len(l.messages),
	})
	return nil
}

// Handle processes one line of input and reports whether the loop has
// reached its terminal state.
func (l *Loop) Handle(ctx context.Context, line string) bool {
	if l.state == Terminal {
		return true
	}
	input := strings.TrimSpace(line)
	switch {
	case input == "":
		return false
	case isQuit(input):
		l.state = Terminal
		return true
	case strings.HasPrefix(input, "/"):
		l.command(ctx, input)
	default:
		l.turn(ctx, input, false)
	}
	if ctx.Err() != nil {
		l.state = Terminal
	}
	return l.state == Terminal
}

// Run reads lines from r until a quit token, end of input or cancellation.
func (l *Loop) Run(ctx context.Context, r io.Reader) error {
	if !l.started {
		if err := l.Start(); err != nil {
			return err
		}
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if l.Handle(ctx, scanner.Text()) {
			return ctx.Err()
		}
	}
	l.state = Terminal
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return ctx.Err()
}

func isQuit(input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit", "/exit", "/quit", "/q":
		return true
	}
	return false
}

// turn dispatches one user message. On failure nothing is appended.
func (l *Loop) turn(ctx context.Context, text string, think bool) {
	l.state = Dispatching
	prompt := text
	if think {
		prompt = Wrap(text)
	}

	cfg := l.opts.Settings
	req := &api.Request{
		Model:       cfg.ActiveModel,
		System:      l.system,
		Messages:    append(l.Messages(), api.Message{Role: api.RoleUser, Content: prompt}),
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}

	reply, streamed, err := l.dispatch(ctx, req, cfg.Stream && !think && !cfg.Render)
	if err != nil {
		l.state = AwaitingInput
		if errors.Is(err, context.Canceled) {
			return
		}
		display.ShowErr(apperr.From(err))
		return
	}

	l.state = Rendering
	if think {
		if t := Split(reply); t.Structured {
			display.ShowThought(t.Reasoning, t.Answer, cfg.Render)
		} else {
			display.Show(reply, cfg.Render)
		}
	} else if !streamed {
		display.Show(reply, cfg.Render)
	}

	user := api.Message{Role: api.RoleUser, Content: text}
	assistant := api.Message{Role: api.RoleAssistant, Content: reply}
	if err := l.opts.Sessions.AppendTurn(l.opts.Session, user, assistant); err != nil {
		display.ShowErr(err)
		l.state = AwaitingInput
		return
	}
	l.messages = append(l.messages, user, assistant)
	l.record(text, reply, think)
	l.state = AwaitingInput
}

// dispatch sends req with a spinner. When stream is set, chunks are written
// as they arrive and streamed reports true.
func (l *Loop) dispatch(ctx context.Context, req *api.Request, stream bool) (reply string, streamed bool, err error) {
	sp := display.NewSpinner("Thinking...")
	sp.Start()
	defer sp.Stop()

	if !stream {
		reply, err = l.opts.Engine.Complete(ctx, l.kind, req)
		return reply, false, err
	}

	first := true
	reply, err = l.opts.Engine.Stream(ctx, l.kind, req, func(chunk string) {
		if first {
			first = false
			sp.Stop()
		}
		fmt.Fprint(display.Stdout, chunk)
	})
	if !first {
		fmt.Fprintln(display.Stdout)
	}
	return reply, true, err
}

func (l *Loop) record(prompt, reply string, think bool) {
	if l.opts.History == nil {
		return
	}
	command := "chat"
	if think {
		command = "think"
	}
	err := l.opts.History.Record(history.Entry{
		Session: l.opts.Session,
		Model:   l.opts.Settings.ActiveModel,
		Backend: string(l.kind),
		Command: command,
		Prompt:  prompt,
		Reply:   reply,
	})
	if err != nil {
		logging.Warn("Failed to record history", logging.Fields{"error": err.Error()})
	}
}

// reset clears the in-memory and persisted history of the session.
func (l *Loop) reset() error {
	if err := l.opts.Sessions.Overwrite(l.opts.Session, nil); err != nil {
		return err
	}
	l.messages = nil
	return nil
}

// transcript returns the current conversation as a session snapshot.
func (l *Loop) transcript() *session.Session {
	return &session.Session{
		Name:      l.opts.Session,
		Messages:  l.Messages(),
		UpdatedAt: time.Now().UTC(),
	}
}
