package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/executor"
	"github.com/minerofthesoal/ai-cli/internal/history"
	"github.com/minerofthesoal/ai-cli/internal/session"
)

const defaultHistoryRows = 20

func (app *App) newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List stored API keys (masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows := [][]string{}
			for _, e := range app.creds.List() {
				masked, src := e.Masked, string(e.Source)
				if masked == "" {
					masked, src = "-", "not set"
				}
				rows = append(rows, []string{e.Provider, masked, src})
			}
			display.ShowTable([]string{"PROVIDER", "KEY", "SOURCE"}, rows)
			return nil
		},
	}
}

func (app *App) newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
		Long: `Manage the named conversations used by 'ai chat'.

Examples:
  ai session list
  ai session new work
  ai session load default
  ai session export work --out work.md
  ai session delete scratch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.listSessions()
		},
	}

	var out string
	export := &cobra.Command{
		Use:   "export [name]",
		Short: "Print a session as a markdown transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.sessions.Load(app.sessionArg(args))
			if err != nil {
				return err
			}
			text := session.Export(sess)
			if out == "" {
				fmt.Fprint(display.Stdout, text)
				return nil
			}
			if err := executor.CheckOutputPath(out); err != nil {
				return err
			}
			if err := os.WriteFile(out, []byte(text), 0o600); err != nil {
				return fmt.Errorf("failed to write transcript: %w", err)
			}
			display.ShowSuccess("Exported " + sess.Name + " to " + out)
			return nil
		},
	}
	export.Flags().StringVar(&out, "out", "", "Write the transcript to this file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.listSessions()
			},
		},
		&cobra.Command{
			Use:   "new <name>",
			Short: "Create a session and make it active",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := app.sessions.Create(args[0]); err != nil {
					return err
				}
				if err := app.setConfig(cmd, "active_session", args[0]); err != nil {
					return err
				}
				display.ShowSuccess("Created session " + args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "load <name>",
			Short: "Make an existing session active",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := session.ValidateName(args[0]); err != nil {
					return err
				}
				if !app.sessions.Exists(args[0]) {
					return apperr.NotFoundf("session %q not found; create it with 'ai session new %s'", args[0], args[0])
				}
				sess, err := app.sessions.Load(args[0])
				if err != nil {
					return err
				}
				if err := app.setConfig(cmd, "active_session", sess.Name); err != nil {
					return err
				}
				display.ShowSuccess(fmt.Sprintf("Active session: %s (%d messages)", sess.Name, len(sess.Messages)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := app.sessions.Delete(args[0]); err != nil {
					return err
				}
				display.ShowSuccess("Deleted session " + args[0])
				return nil
			},
		},
		export,
	)
	return cmd
}

func (app *App) sessionArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return app.settings.ActiveSession
}

func (app *App) listSessions() error {
	list, err := app.sessions.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		display.ShowInfo("No sessions yet. Start one with: ai chat")
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		name := s.Name
		if name == app.settings.ActiveSession {
			name += " *"
		}
		updated := "-"
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{name, fmt.Sprint(s.Messages), updated})
	}
	display.ShowTable([]string{"SESSION", "MESSAGES", "UPDATED"}, rows)
	return nil
}

func (app *App) newPersonaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage personas (system prompts)",
		Long: `Manage personas. A persona is a named system prompt sent with every request.
Custom personas live in the personas directory and override built-ins.

Examples:
  ai persona list
  ai persona set dev
  ai persona set none
  ai persona create pirate "You talk like a pirate."
  ai persona edit dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.listPersonas()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List personas",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.listPersonas()
			},
		},
		&cobra.Command{
			Use:   "set <name|none>",
			Short: "Select the active persona",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := args[0]
				if name == "none" {
					if err := app.setConfig(cmd, "active_persona", ""); err != nil {
						return err
					}
					display.ShowSuccess("Persona cleared")
					return nil
				}
				p, err := app.personas.Materialize(name)
				if err != nil {
					return err
				}
				if err := app.setConfig(cmd, "active_persona", p.Name); err != nil {
					return err
				}
				display.ShowSuccess("Active persona: " + p.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "create <name> [prompt]",
			Short: "Create or replace a custom persona",
			Long:  "Create or replace a custom persona. Without a prompt argument the prompt is read from stdin.",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				prompt := strings.Join(args[1:], " ")
				if prompt == "" {
					var err error
					if prompt, err = app.readStdin("persona create"); err != nil {
						return err
					}
				}
				if err := app.personas.Save(args[0], prompt); err != nil {
					return err
				}
				display.ShowSuccess("Saved persona " + args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "edit <name>",
			Short: "Open a persona in $EDITOR",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := app.personas.Materialize(args[0])
				if err != nil {
					return err
				}
				if err := editFile(cmd.Context(), app.personas.Path(p.Name)); err != nil {
					return err
				}
				display.ShowSuccess("Saved persona " + p.Name)
				return nil
			},
		},
	)
	return cmd
}

func (app *App) listPersonas() error {
	list, err := app.personas.List()
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(list))
	for _, p := range list {
		name := p.Name
		if name == app.settings.ActivePersona {
			name += " *"
		}
		origin := "built-in"
		if p.Custom {
			origin = "custom"
		}
		rows = append(rows, []string{name, origin, truncate(p.SystemPrompt, 60)})
	}
	display.ShowTable([]string{"PERSONA", "TYPE", "PROMPT"}, rows)
	return nil
}

// editorCommand splits the first non-blank of $VISUAL and $EDITOR into a
// command line, falling back to vi.
func editorCommand(getenv func(string) string) []string {
	for _, name := range []string{"VISUAL", "EDITOR"} {
		if fields := strings.Fields(getenv(name)); len(fields) > 0 {
			return fields
		}
	}
	return []string{"vi"}
}

// editFile opens path in the user's editor.
func editFile(ctx context.Context, path string) error {
	fields := editorCommand(os.Getenv)
	bin, err := exec.LookPath(fields[0])
	if err != nil {
		return apperr.NewMissingDependency(fields[0], "set $EDITOR to an installed editor")
	}
	c := exec.CommandContext(ctx, bin, append(fields[1:], path)...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("editor %s failed: %w", fields[0], err)
	}
	return nil
}

func (app *App) newHistoryCmd() *cobra.Command {
	var f history.Filter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent interactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := app.history.Query(f)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				display.ShowInfo("No history.")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Time.Local().Format("2006-01-02 15:04"),
					e.Command,
					e.Model,
					truncate(e.Prompt, 40),
					truncate(e.Reply, 50),
				})
			}
			display.ShowTable([]string{"TIME", "COMMAND", "MODEL", "PROMPT", "REPLY"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", defaultHistoryRows, "Number of entries to show")
	cmd.Flags().StringVar(&f.Session, "session", "", "Only entries from this chat session")
	cmd.Flags().StringVar(&f.Search, "search", "", "Only entries containing this text")
	return cmd
}

func (app *App) newClearHistoryCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear-history [name|--all]",
		Short: "Clear a session and its history",
		Long: `Clear one chat session (the active one by default) together with its
entries in the history log. --all clears every session and the whole log.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if len(args) > 0 {
					return apperr.Usagef("give a session name or --all, not both")
				}
				n, err := app.history.Clear("")
				if err != nil {
					return err
				}
				sessions, err := app.sessions.DeleteAll()
				if err != nil {
					return err
				}
				display.ShowSuccess(fmt.Sprintf("Removed %d history entries and %d sessions", n, sessions))
				return nil
			}

			name := app.sessionArg(args)
			if err := session.ValidateName(name); err != nil {
				return err
			}
			n, err := app.history.Clear(name)
			if err != nil {
				return err
			}
			if err := app.sessions.Delete(name); err != nil && !apperr.Is(err, apperr.NotFound) {
				return err
			}
			display.ShowSuccess(fmt.Sprintf("Cleared session %s (%d history entries)", name, n))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Clear every session and the whole history")
	return cmd
}

func (app *App) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [key] [value]",
		Short: "Show or change settings",
		Long: fmt.Sprintf(`Show all settings, one setting, or change one.

Keys: %s

Examples:
  ai config
  ai config max_tokens
  ai config temperature 0.2`, strings.Join(config.Keys(), ", ")),
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				rows := [][]string{}
				for _, kv := range app.store.List() {
					rows = append(rows, []string{kv.Key, kv.Value})
				}
				display.ShowTable([]string{"KEY", "VALUE"}, rows)
				display.ShowInfo("Config file: " + app.store.Path())
			case 1:
				v, err := app.store.Get(args[0])
				if err != nil {
					return apperr.Wrap(apperr.Usage, "", err)
				}
				fmt.Fprintln(display.Stdout, v)
			default:
				if err := app.setConfig(cmd, args[0], args[1]); err != nil {
					return err
				}
				v, _ := app.store.Get(args[0])
				display.ShowSuccess(fmt.Sprintf("%s = %s", args[0], v))
			}
			return nil
		},
	}
}

// truncate shortens s to n runes on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
