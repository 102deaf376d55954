package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/credentials"
	"github.com/minerofthesoal/ai-cli/internal/detect"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/history"
	"github.com/minerofthesoal/ai-cli/internal/logging"
	"github.com/minerofthesoal/ai-cli/internal/persona"
	"github.com/minerofthesoal/ai-cli/internal/session"
)

// App holds the application state for one invocation.
type App struct {
	store    *config.Store
	creds    *credentials.Store
	history  *history.Log
	sessions *session.Store
	personas *persona.Store
	detector *detect.Detector

	// settings are the effective settings: config.yaml, environment and
	// flags, clamped.
	settings config.Settings

	verbose bool
	render  bool
	stream  bool
	model   string

	in         io.Reader
	stdinIsTTY func() bool
	httpClient *http.Client
	engineOpts []api.EngineOption
}

// NewApp creates a new App reading from the process's stdin.
func NewApp() *App {
	return &App{
		in:         os.Stdin,
		stdinIsTTY: display.StdinIsTerminal,
		detector:   detect.New(),
	}
}

// Execute runs the root command and exits 1 on any error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp()
	if err := app.newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			display.ShowErr(apperr.From(err))
		}
		stop()
		os.Exit(1)
	}
}

func (app *App) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ai",
		Short: "One command line for local and remote AI models",
		Long: `ai talks to local model runners (GGUF, PyTorch, Diffusers) and remote
APIs (OpenAI, Claude, Gemini, Hugging Face) through one set of verbs.

The backend is picked from the model name. Change it with 'ai model'.

Examples:
  ai ask "What is Kubernetes?"
  ai model gpt-4o && ai ask "Explain Docker" image diagram.png
  ai chat --session work
  cat main.go | ai pipe "Find the bug"
  ai download TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF --gguf`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Enable debug logging, including HTTP traffic")
	rootCmd.PersistentFlags().BoolVarP(&app.render, "render", "r", false, "Render markdown with colors and formatting")
	rootCmd.PersistentFlags().BoolVarP(&app.stream, "stream", "s", false, "Stream output in real-time")
	rootCmd.PersistentFlags().StringVarP(&app.model, "model", "m", "", "Use this model for one command without changing the config")

	rootCmd.AddCommand(
		app.newAskCmd(),
		app.newThinkCmd(),
		app.newChatCmd(),
		app.newPipeCmd(),
		app.newImagineCmd(),
		app.newTTSCmd(),
		app.newTranscribeCmd(),
		app.newSummarizeCmd(),
		app.newTranslateCmd(),
		app.newCodeCmd(),
		app.newReviewCmd(),
		app.newExplainCmd(),
		app.newModelCmd(),
		app.newModelsCmd(),
		app.newModelInfoCmd(),
		app.newBackendCmd(),
		app.newDownloadCmd(),
		app.newKeysCmd(),
		app.newSessionCmd(),
		app.newPersonaCmd(),
		app.newHistoryCmd(),
		app.newClearHistoryCmd(),
		app.newBenchCmd(),
		app.newServeCmd(),
		app.newConvertCmd(),
		app.newConfigCmd(),
		app.newStatusCmd(),
		app.newInstallDepsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// setup loads the persisted state and layers the flags on top.
func (app *App) setup(cmd *cobra.Command, _ []string) error {
	store, err := config.Load("")
	if err != nil {
		return err
	}
	creds, err := credentials.Load(store.CredentialsPath())
	if err != nil {
		return err
	}
	app.store = store
	app.creds = creds
	app.history = history.Open(store.HistoryPath())
	app.sessions = session.NewStore(store.SessionsDir())
	app.personas = persona.NewStore(store.PersonasDir())
	app.refreshSettings(cmd)

	if app.settings.Verbose {
		logging.SetLevel(logging.LevelDebug)
	}
	if app.settings.Render {
		if err := display.InitRenderer(); err != nil {
			logging.Warn("markdown rendering disabled", logging.Fields{"error": err.Error()})
		}
	}
	logging.Debug("configuration loaded", logging.Fields{
		"dir":     store.Dir(),
		"model":   app.settings.ActiveModel,
		"backend": app.settings.ActiveBackend,
	})
	return nil
}

// refreshSettings recomputes the effective settings after the store changed.
func (app *App) refreshSettings(cmd *cobra.Command) {
	s := app.store.Settings()
	flags := cmd.Flags()
	if flags.Changed("verbose") {
		s.Verbose = app.verbose
	}
	if flags.Changed("render") {
		s.Render = app.render
	}
	if flags.Changed("stream") {
		s.Stream = app.stream
	}
	if app.model != "" {
		// A one-shot model is always resolved from its own name.
		s.ActiveModel = app.model
		s.ActiveBackend = ""
	}
	app.settings = s.Clamp()
}

// engine builds an engine for the effective settings.
func (app *App) engine() *api.Engine {
	opts := append([]api.EngineOption{api.WithDetector(app.detector)}, app.engineOpts...)
	if app.httpClient != nil {
		opts = append(opts, api.WithHTTPClient(app.httpClient))
	}
	return api.NewEngine(app.settings, app.creds, opts...)
}

// setConfig persists one key and reports it, wrapping validation failures
// as usage errors.
func (app *App) setConfig(cmd *cobra.Command, key, value string) error {
	if _, err := app.store.Set(key, value); err != nil {
		if errors.Is(err, config.ErrUnknownKey) || errors.Is(err, config.ErrInvalidValue) || errors.Is(err, config.ErrInvalidBackend) {
			return apperr.Wrap(apperr.Usage, "", err)
		}
		return err
	}
	app.refreshSettings(cmd)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print the version",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(display.Stdout, "%s %s\n", constants.AppName, constants.Version)
		},
	}
}
