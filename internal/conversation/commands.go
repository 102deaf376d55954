package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/session"
)

// Command describes one in-session slash command.
type Command struct {
	Name        string
	Usage       string
	Description string
}

// SlashCommands lists the in-session commands in help order.
var SlashCommands = []Command{
	{Name: "/think", Usage: "/think <text>", Description: "Ask with step-by-step reasoning"},
	{Name: "/reset", Usage: "/reset", Description: "Clear this session's history"},
	{Name: "/history", Usage: "/history", Description: "Show the conversation so far"},
	{Name: "/persona", Usage: "/persona [name]", Description: "Show or switch the persona"},
	{Name: "/save", Usage: "/save <file>", Description: "Export the conversation as markdown"},
	{Name: "/help", Usage: "/help", Description: "Show this help"},
	{Name: "/exit", Usage: "/exit, exit, quit", Description: "Leave the conversation"},
}

func (l *Loop) command(ctx context.Context, input string) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/think":
		if arg == "" {
			display.ShowWarning("usage: /think <text>")
			return
		}
		l.turn(ctx, arg, true)

	case "/reset", "/clear":
		if err := l.reset(); err != nil {
			display.ShowErr(err)
			return
		}
		display.ShowInfo("Conversation cleared.")

	case "/help", "/h":
		rows := make([][]string, len(SlashCommands))
		for i, c := range SlashCommands {
			rows[i] = []string{c.Usage, c.Description}
		}
		display.ShowTable([]string{"COMMAND", "DESCRIPTION"}, rows)

	case "/history":
		if len(l.messages) == 0 {
			display.ShowInfo("No messages yet.")
			return
		}
		display.Show(session.Export(l.transcript()), l.opts.Settings.Render)

	case "/persona":
		l.switchPersona(arg)

	case "/save":
		if arg == "" {
			display.ShowWarning("usage: /save <file>")
			return
		}
		if err := config.WriteFileAtomic(arg, []byte(session.Export(l.transcript())), 0o644); err != nil {
			display.ShowErr(fmt.Errorf("failed to save transcript: %w", err))
			return
		}
		display.ShowSuccess("Saved to " + arg)

	default:
		display.ShowWarning(fmt.Sprintf("unknown command %s (type /help)", name))
	}
}

func (l *Loop) switchPersona(name string) {
	if name == "" {
		current := l.persona
		if current == "" {
			current = "none"
		}
		display.ShowInfo("Persona: " + current)
		return
	}
	if l.opts.Personas == nil {
		display.ShowWarning("personas are not available")
		return
	}
	p, err := l.opts.Personas.Materialize(name)
	if err != nil {
		display.ShowErr(err)
		return
	}
	if l.opts.OnPersona != nil {
		if err := l.opts.OnPersona(p.Name); err != nil {
			display.ShowErr(err)
			return
		}
	}
	l.persona = p.Name
	l.system = p.SystemPrompt
	display.ShowSuccess("Switched to persona " + p.Name)
}
