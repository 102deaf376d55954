package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/conversation"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/executor"
	"github.com/minerofthesoal/ai-cli/internal/history"
	"github.com/minerofthesoal/ai-cli/internal/logging"
	"github.com/minerofthesoal/ai-cli/internal/webpage"
)

const maxStdinSize = executor.MaxFileSize

func (app *App) newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt> [image <path|url>] [file <path>]",
		Short: "Ask the active model one question",
		Long: `Ask the active model one question.

Attach an image with 'image <path|url>' and a text file with 'file <path>'.

Examples:
  ai ask "What is Kubernetes?"
  ai ask "What is in this picture?" image photo.jpg
  ai ask "Summarize the changes" file CHANGELOG.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, extra, err := splitKeywords(args, "image", "file")
			if err != nil {
				return err
			}
			text := prompt
			if path, ok := extra["file"]; ok {
				doc, err := executor.ReadFile(path)
				if err != nil {
					return err
				}
				text = withDocument(prompt, doc)
			}
			req, err := app.request(text, extra["image"])
			if err != nil {
				return err
			}
			_, err = app.reply(cmd.Context(), "ask", prompt, req, false)
			return err
		},
	}
}

func (app *App) newThinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "think <prompt> [image <path|url>]",
		Short: "Ask with step-by-step reasoning shown apart from the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, extra, err := splitKeywords(args, "image")
			if err != nil {
				return err
			}
			req, err := app.request(conversation.Wrap(prompt), extra["image"])
			if err != nil {
				return err
			}
			_, err = app.reply(cmd.Context(), "think", prompt, req, true)
			return err
		},
	}
}

func (app *App) newPipeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipe <prompt>",
		Short: "Ask about text read from stdin",
		Long: `Ask about text read from stdin. The input is appended to the prompt as context.

Examples:
  cat main.go | ai pipe "Find the bug"
  git diff | ai pipe "Write a commit message"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := app.readStdin("pipe")
			if err != nil {
				return err
			}
			prompt := strings.Join(args, " ")
			req, err := app.request(prompt+"\n\nInput:\n```\n"+input+"\n```", "")
			if err != nil {
				return err
			}
			_, err = app.reply(cmd.Context(), "pipe", prompt, req, false)
			return err
		},
	}
}

var summaryFormats = map[string]string{
	"markdown": "Summarize the following content as well-structured markdown with headings and short paragraphs.",
	"bullet":   "Summarize the following content as a concise bullet list of the key points.",
	"tldr":     "Give a TL;DR of the following content in one or two sentences.",
}

func (app *App) newSummarizeCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "summarize [path|url]",
		Short: "Summarize a file, a web page or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction, ok := summaryFormats[strings.ToLower(format)]
			if !ok {
				return apperr.Usagef("unknown format %q (valid: bullet, markdown, tldr)", format)
			}
			var source, text string
			switch {
			case len(args) == 0:
				input, err := app.readStdin("summarize")
				if err != nil {
					return err
				}
				source, text = "stdin", input
			case webpage.IsURL(args[0]):
				sp := display.NewSpinner("Fetching page...")
				sp.Start()
				page, err := webpage.Fetch(cmd.Context(), app.httpClient, args[0])
				sp.Stop()
				if err != nil {
					return err
				}
				source, text = args[0], page.Text
				if page.Title != "" {
					text = "Title: " + page.Title + "\n\n" + text
				}
			default:
				doc, err := executor.ReadFile(args[0])
				if err != nil {
					return err
				}
				source, text = args[0], doc.Content
			}
			req, err := app.request(instruction+"\n\n---\n"+text, "")
			if err != nil {
				return err
			}
			_, err = app.reply(cmd.Context(), "summarize", "summarize "+source, req, false)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "Summary format: markdown, bullet or tldr")
	return cmd
}

func (app *App) newTranslateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "translate <text> to <language>",
		Short: "Translate text into another language",
		Example: `  ai translate "Good morning" to Japanese
  ai translate Where is the station to German`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, lang, err := splitTranslate(args)
			if err != nil {
				return err
			}
			prompt := fmt.Sprintf("Translate the following text to %s. Reply with the translation only.\n\n%s", lang, text)
			req, err := app.request(prompt, "")
			if err != nil {
				return err
			}
			_, err = app.reply(cmd.Context(), "translate", text, req, false)
			return err
		},
	}
}

// splitTranslate splits "<text> to <language>" on the last standalone "to".
func splitTranslate(args []string) (text, lang string, err error) {
	for i := len(args) - 2; i >= 1; i-- {
		if strings.EqualFold(args[i], "to") {
			text = strings.TrimSpace(strings.Join(args[:i], " "))
			lang = strings.TrimSpace(strings.Join(args[i+1:], " "))
			if text != "" && lang != "" {
				return text, lang, nil
			}
		}
	}
	return "", "", apperr.Usagef("usage: ai translate <text> to <language>")
}

func (app *App) newCodeCmd() *cobra.Command {
	var (
		lang string
		run  bool
	)
	cmd := &cobra.Command{
		Use:   "code <prompt>",
		Short: "Generate code, and optionally run it",
		Long: `Generate code in the given language. With --run the code is executed
after a safety check; risky code asks for confirmation first and
destructive code is refused.

Examples:
  ai code "fizzbuzz up to 20"
  ai code --lang bash --run "print the five largest files in this directory"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var language executor.Language
			if run {
				l, err := executor.LookupLanguage(lang)
				if err != nil {
					return err
				}
				language = l
			}
			task := strings.Join(args, " ")
			prompt := fmt.Sprintf("Write %s code for the following task. Reply with one fenced code block followed by at most a short explanation.\n\nTask: %s", lang, task)
			req, err := app.request(prompt, "")
			if err != nil {
				return err
			}
			reply, err := app.reply(cmd.Context(), "code", task, req, false)
			if err != nil || !run {
				return err
			}
			return app.runCode(cmd.Context(), language, executor.ExtractCode(reply, language))
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "python", "Programming language")
	cmd.Flags().BoolVar(&run, "run", false, "Run the generated code")
	return cmd
}

// runCode checks code against the execution policy, asks when needed and
// runs it.
func (app *App) runCode(ctx context.Context, lang executor.Language, code string) error {
	exec := executor.NewExecutor()
	decision := exec.GetPermissionManager().CheckPermission(lang, code)
	logging.Debug("code permission", logging.Fields{"lang": lang.Name, "risk": decision.Risk.String(), "allowed": decision.Allowed})

	if decision.Blocked() {
		display.ShowCommandBlocked(lang.Name+" program", decision.Reason)
		return apperr.Usagef("refused to run generated code: %s", decision.Reason)
	}
	if decision.NeedsConfirm {
		if display.AskCommandConfirmation(app.in, code, decision.Reason) == display.ApprovalDenied {
			display.ShowInfo("Not run.")
			return nil
		}
	}

	display.ShowCommandExecuting(lang.Name + " main" + lang.Ext)
	result, err := exec.Run(ctx, lang, code)
	if err != nil {
		return err
	}
	display.ShowCommandOutput(result.Output)
	if !result.IsSuccess() {
		display.ShowCommandError(lang.Name, fmt.Errorf("%s", result.FormatResult()))
		return fmt.Errorf("%s program failed with exit code %d", lang.Name, result.ExitCode)
	}
	return nil
}

func (app *App) newReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <path>",
		Short: "Review a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := executor.ReadFile(args[0])
			if err != nil {
				return err
			}
			prompt := withDocument("Review the following file. Point out bugs, security issues, performance problems and readability issues, with concrete suggestions.", doc)
			req, err := app.request(prompt, "")
			if err != nil {
				return err
			}
			_, err = app.reply(cmd.Context(), "review", "review "+args[0], req, false)
			return err
		},
	}
}

func (app *App) newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <path|text>",
		Short: "Explain a file or a piece of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := strings.Join(args, " ")
			text, isFile, err := executor.ReadInput(arg)
			if err != nil {
				return err
			}
			prompt := "Explain the following clearly and concisely:\n\n" + text
			if isFile {
				prompt = "Explain what the following file does, step by step:\n\n```" + fenceLang(arg) + "\n" + text + "\n```"
			}
			req, err := app.request(prompt, "")
			if err != nil {
				return err
			}
			_, err = app.reply(cmd.Context(), "explain", arg, req, false)
			return err
		},
	}
}

// request builds a single-turn request for the effective model and persona.
func (app *App) request(prompt, image string) (*api.Request, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apperr.Usagef("prompt must not be empty")
	}
	system, err := app.personas.SystemPrompt(app.settings.ActivePersona)
	if err != nil {
		return nil, err
	}
	s := app.settings
	return api.NewRequest(s.ActiveModel, system, prompt, image, s.MaxTokens, s.Temperature), nil
}

// reply dispatches req, renders the answer and records the interaction.
// prompt is what the user typed, recorded in place of any wrapped text.
func (app *App) reply(ctx context.Context, command, prompt string, req *api.Request, think bool) (string, error) {
	engine := app.engine()
	kind := engine.Kind()
	stream := app.settings.Stream && !app.settings.Render && !think

	sp := display.NewSpinner("Thinking...")
	sp.Start()
	var (
		reply string
		err   error
	)
	if stream {
		first := true
		reply, err = engine.Stream(ctx, kind, req, func(chunk string) {
			if first {
				sp.Stop()
				first = false
			}
			fmt.Fprint(display.Stdout, chunk)
		})
		sp.Stop()
		if err == nil {
			fmt.Fprintln(display.Stdout)
		}
	} else {
		reply, err = engine.Complete(ctx, kind, req)
		sp.Stop()
	}
	if err != nil {
		return "", err
	}

	switch {
	case stream:
	case think:
		if t := conversation.Split(reply); t.Structured {
			display.ShowThought(t.Reasoning, t.Answer, app.settings.Render)
		} else {
			display.Show(reply, app.settings.Render)
		}
	default:
		display.Show(reply, app.settings.Render)
	}
	app.record(command, kind, prompt, reply)
	return reply, nil
}

func (app *App) record(command string, kind backend.Kind, prompt, reply string) {
	err := app.history.Record(history.Entry{
		Model:   app.settings.ActiveModel,
		Backend: string(kind),
		Command: command,
		Prompt:  prompt,
		Reply:   reply,
	})
	if err != nil {
		logging.Warn("failed to record history", logging.Fields{"error": err.Error()})
	}
}

// readStdin reads piped input for verb, refusing an interactive terminal.
func (app *App) readStdin(verb string) (string, error) {
	if app.stdinIsTTY() {
		return "", apperr.Usagef("%s reads from stdin; pipe some input into it", verb)
	}
	data, err := io.ReadAll(io.LimitReader(app.in, maxStdinSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	cut := len(data) > maxStdinSize
	if cut {
		data = trimPartialRune(data[:maxStdinSize])
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", apperr.Usagef("%s: stdin is empty", verb)
	}
	if cut {
		text += "\n[...truncated...]"
	}
	return text, nil
}

// trimPartialRune drops a UTF-8 sequence cut short at the end of b.
func trimPartialRune(b []byte) []byte {
	i := len(b) - 1
	for i > 0 && len(b)-i < utf8.UTFMax && !utf8.RuneStart(b[i]) {
		i--
	}
	if i >= 0 && !utf8.FullRune(b[i:]) {
		return b[:i]
	}
	return b
}

// splitKeywords separates "<prompt words> [keyword value]..." into the prompt
// and keyword values. Keywords only count after the first prompt word.
func splitKeywords(args []string, keywords ...string) (string, map[string]string, error) {
	values := map[string]string{}
	var words []string
	for i := 0; i < len(args); i++ {
		if len(words) > 0 && slices.Contains(keywords, args[i]) {
			if i+1 >= len(args) {
				return "", nil, apperr.Usagef("%s needs a value", args[i])
			}
			values[args[i]] = args[i+1]
			i++
			continue
		}
		words = append(words, args[i])
	}
	prompt := strings.TrimSpace(strings.Join(words, " "))
	if prompt == "" {
		return "", nil, apperr.Usagef("prompt must not be empty")
	}
	return prompt, values, nil
}

func withDocument(prompt string, doc *executor.Document) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	fmt.Fprintf(&sb, "\n\nFile %s:\n```%s\n%s\n```", filepath.Base(doc.Path), fenceLang(doc.Path), doc.Content)
	return sb.String()
}

// fenceLang returns a markdown fence tag for path's extension.
func fenceLang(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}
