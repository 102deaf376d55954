package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/elk-language/go-prompt"
	istrings "github.com/elk-language/go-prompt/strings"
	"github.com/spf13/cobra"

	"github.com/minerofthesoal/ai-cli/internal/conversation"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/persona"
	"github.com/minerofthesoal/ai-cli/internal/session"
)

func (app *App) newChatCmd() *cobra.Command {
	var sessionName string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a multi-turn conversation",
		Long: `Start a multi-turn conversation bound to a named session. Every turn is
saved, so a later 'ai chat' with the same session picks up where you left off.

In the conversation:
  exit, quit       leave
  /reset           clear the session
  /think <text>    ask with step-by-step reasoning
  /help            list all commands

When stdin is not a terminal, lines are read from it one turn at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name := app.settings.ActiveSession
			if sessionName != "" && sessionName != name {
				if err := session.ValidateName(sessionName); err != nil {
					return err
				}
				if err := app.setConfig(cmd, "active_session", sessionName); err != nil {
					return err
				}
				name = sessionName
			}
			loop, err := app.newLoop(cmd, name)
			if err != nil {
				return err
			}
			if !app.stdinIsTTY() {
				return loop.Run(cmd.Context(), app.in)
			}
			if err := loop.Start(); err != nil {
				return err
			}
			app.runInteractive(cmd.Context(), loop, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "Session to use (default: the active session)")
	return cmd
}

func (app *App) newLoop(cmd *cobra.Command, sessionName string) (*conversation.Loop, error) {
	system, err := app.personas.SystemPrompt(app.settings.ActivePersona)
	if err != nil {
		return nil, err
	}
	return conversation.New(conversation.Options{
		Engine:   app.engine(),
		Sessions: app.sessions,
		Personas: app.personas,
		History:  app.history,
		Settings: app.settings,
		Session:  sessionName,
		Persona:  app.settings.ActivePersona,
		System:   system,
		OnPersona: func(name string) error {
			return app.setConfig(cmd, "active_persona", name)
		},
	}), nil
}

// InteractiveSession drives a conversation loop from a go-prompt REPL.
type InteractiveSession struct {
	app         *App
	ctx         context.Context
	loop        *conversation.Loop
	exitFlag    bool
	inputBuffer []string // Buffer for multiline input
}

// runInteractive starts the REPL. Lines ending with a backslash continue
// on the next line.
func (app *App) runInteractive(ctx context.Context, loop *conversation.Loop, sessionName string) {
	fmt.Fprintln(display.Stdout, "ai chat")
	fmt.Fprintf(display.Stdout, "Session: %s (%d messages)\n", sessionName, len(loop.Messages()))
	fmt.Fprintf(display.Stdout, "Model: %s (%s)\n", app.settings.ActiveModel, loop.Kind())
	if app.settings.ActivePersona != "" {
		fmt.Fprintf(display.Stdout, "Persona: %s\n", app.settings.ActivePersona)
	}
	fmt.Fprintln(display.Stdout, "Type /help for commands, exit or Ctrl+D to quit")
	fmt.Fprintln(display.Stdout, "End a line with \\ for multiline input")
	fmt.Fprintln(display.Stdout)

	s := &InteractiveSession{app: app, ctx: ctx, loop: loop}

	p := prompt.New(
		s.executor,
		prompt.WithCompleter(s.completer),
		prompt.WithPrefix("> "),
		prompt.WithTitle("ai chat"),
		prompt.WithPrefixTextColor(prompt.Green),
		prompt.WithSuggestionBGColor(prompt.DarkBlue),
		prompt.WithSuggestionTextColor(prompt.White),
		prompt.WithSelectedSuggestionBGColor(prompt.Cyan),
		prompt.WithSelectedSuggestionTextColor(prompt.Black),
		prompt.WithDescriptionBGColor(prompt.DarkBlue),
		prompt.WithDescriptionTextColor(prompt.LightGray),
		prompt.WithSelectedDescriptionBGColor(prompt.Cyan),
		prompt.WithSelectedDescriptionTextColor(prompt.Black),
		prompt.WithScrollbarBGColor(prompt.DarkGray),
		prompt.WithScrollbarThumbColor(prompt.White),
		prompt.WithMaxSuggestion(10),
		prompt.WithCompletionOnDown(),
		prompt.WithExitChecker(func(in string, breakline bool) bool {
			return s.exitFlag
		}),
		prompt.WithKeyBind(prompt.KeyBind{
			Key: prompt.ControlC,
			Fn: func(p *prompt.Prompt) bool {
				fmt.Fprintln(display.Stdout, "\nGoodbye!")
				s.exitFlag = true
				return false
			},
		}),
		prompt.WithKeyBind(prompt.KeyBind{
			Key: prompt.ControlD,
			Fn: func(p *prompt.Prompt) bool {
				if p.Buffer().Text() == "" {
					fmt.Fprintln(display.Stdout, "Goodbye!")
					s.exitFlag = true
				}
				return false
			},
		}),
	)

	p.Run()
}

// executor handles one line from the REPL.
func (s *InteractiveSession) executor(input string) {
	if s.exitFlag {
		return
	}

	if strings.HasSuffix(input, "\\") {
		s.inputBuffer = append(s.inputBuffer, strings.TrimSuffix(input, "\\"))
		fmt.Fprint(display.Stdout, "... ")
		return
	}
	if len(s.inputBuffer) > 0 {
		s.inputBuffer = append(s.inputBuffer, input)
		input = strings.Join(s.inputBuffer, "\n")
		s.inputBuffer = nil
	}

	if s.loop.Handle(s.ctx, input) {
		s.exitFlag = true
	}
}

// completer suggests slash commands, and persona names after /persona.
func (s *InteractiveSession) completer(d prompt.Document) ([]prompt.Suggest, istrings.RuneNumber, istrings.RuneNumber) {
	text := d.TextBeforeCursor()
	endIndex := d.CurrentRuneIndex()
	w := d.GetWordBeforeCursor()
	startIndex := endIndex - istrings.RuneCountInString(w)

	if !strings.HasPrefix(text, "/") {
		return []prompt.Suggest{}, startIndex, endIndex
	}

	if strings.HasPrefix(strings.ToLower(text), "/persona ") {
		return prompt.FilterHasPrefix(s.personaSuggestions(), w, true), startIndex, endIndex
	}

	suggestions := make([]prompt.Suggest, 0, len(conversation.SlashCommands))
	for _, c := range conversation.SlashCommands {
		suggestions = append(suggestions, prompt.Suggest{Text: c.Name, Description: c.Description})
	}
	return prompt.FilterHasPrefix(suggestions, w, true), startIndex, endIndex
}

func (s *InteractiveSession) personaSuggestions() []prompt.Suggest {
	list, err := s.app.personas.List()
	if err != nil {
		list = nil
		for _, name := range persona.BuiltinNames() {
			list = append(list, persona.Persona{Name: name})
		}
	}
	out := make([]prompt.Suggest, 0, len(list))
	for _, p := range list {
		desc := ""
		if p.Name == s.app.settings.ActivePersona {
			desc = "(current)"
		} else if p.Custom {
			desc = "custom"
		}
		out = append(out, prompt.Suggest{Text: p.Name, Description: desc})
	}
	return out
}
