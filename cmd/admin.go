package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/credentials"
	"github.com/minerofthesoal/ai-cli/internal/detect"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/logging"
	"github.com/minerofthesoal/ai-cli/internal/server"
)

const maxBenchRuns = 100

// benchRun is one timed completion.
type benchRun struct {
	elapsed time.Duration
	chars   int
}

func (app *App) newBenchCmd() *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "bench <prompt>",
		Short: "Time repeated completions of one prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs < 1 || runs > maxBenchRuns {
				return apperr.Usagef("--runs must be between 1 and %d", maxBenchRuns)
			}
			req, err := app.request(strings.Join(args, " "), "")
			if err != nil {
				return err
			}
			engine := app.engine()
			kind := engine.Kind()

			sp := display.NewSpinner(fmt.Sprintf("Run 1/%d...", runs))
			sp.Start()
			results, err := runBench(cmd.Context(), runs, func(ctx context.Context, i int) (string, error) {
				sp.UpdateMessage(fmt.Sprintf("Run %d/%d...", i+1, runs))
				return engine.Complete(ctx, kind, req)
			})
			sp.Stop()
			if err != nil {
				return err
			}

			showBench(app.settings.ActiveModel, kind, results)
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 3, "Number of runs")
	return cmd
}

// runBench times runs sequential calls of complete and stops at the first
// failure or cancellation.
func runBench(ctx context.Context, runs int, complete func(ctx context.Context, i int) (string, error)) ([]benchRun, error) {
	results := make([]benchRun, 0, runs)
	for i := range runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		reply, err := complete(ctx, i)
		if err != nil {
			return nil, err
		}
		results = append(results, benchRun{elapsed: time.Since(start), chars: len(reply)})
	}
	return results, nil
}

func showBench(model string, kind backend.Kind, results []benchRun) {
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		rows = append(rows, []string{fmt.Sprint(i + 1), fmt.Sprintf("%.2fs", r.elapsed.Seconds()), fmt.Sprint(r.chars), charsPerSecond(r)})
	}
	display.ShowTable([]string{"RUN", "TIME", "CHARS", "CHARS/S"}, rows)

	mean, lo, hi := benchStats(results)
	display.ShowInfo(fmt.Sprintf("%s (%s): mean %.2fs, min %.2fs, max %.2fs over %d runs",
		model, kind, mean.Seconds(), lo.Seconds(), hi.Seconds(), len(results)))
}

func benchStats(results []benchRun) (mean, lo, hi time.Duration) {
	if len(results) == 0 {
		return 0, 0, 0
	}
	var total time.Duration
	lo = results[0].elapsed
	for _, r := range results {
		total += r.elapsed
		lo = min(lo, r.elapsed)
		hi = max(hi, r.elapsed)
	}
	return total / time.Duration(len(results)), lo, hi
}

func charsPerSecond(r benchRun) string {
	if r.elapsed <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f", float64(r.chars)/r.elapsed.Seconds())
}

func (app *App) newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the active local model over an OpenAI-compatible API",
		Long: `Serve the active local model over an OpenAI-compatible HTTP API
(/v1/chat/completions, /v1/models, /health). GGUF models are handed to
llama-server when it is installed.

Remote models cannot be served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine := app.engine()
			kind := engine.Kind()
			model := app.settings.ActiveModel
			if kind.IsRemote() {
				return apperr.Unsupportedf("serve runs local models only; %s is served by %s", model, kind.Provider())
			}

			if kind == backend.LocalGGUF {
				if bin := app.detector.DetectServerBinary(); bin.Available() {
					env := app.settings.BackendEnv(app.creds.Has(credentials.HuggingFace))
					ls := &server.LlamaServer{
						Binary:    bin,
						ModelPath: backend.LocalPath(model, env),
						Host:      host,
						Port:      port,
						Stdout:    os.Stdout,
						Stderr:    os.Stderr,
					}
					display.ShowInfo(fmt.Sprintf("Serving %s with %s on http://%s:%d", model, bin.Path, host, port))
					return ls.Run(cmd.Context())
				}
				logging.Debug("llama-server not found, using built-in server")
			}

			system, err := app.personas.SystemPrompt(app.settings.ActivePersona)
			if err != nil {
				return err
			}
			opts := server.Options{
				Host:        host,
				Port:        port,
				Model:       model,
				Kind:        kind,
				System:      system,
				MaxTokens:   app.settings.MaxTokens,
				Temperature: app.settings.Temperature,
				Engine:      engine,
			}
			srv, err := server.New(opts)
			if err != nil {
				return err
			}
			display.ShowInfo(fmt.Sprintf("Serving %s (%s) on http://%s", model, kind, opts.Addr()))
			display.ShowInfo("Press Ctrl+C to stop")
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", constants.DefaultServePort, "Port to listen on")
	cmd.Flags().StringVar(&host, "host", constants.DefaultServeHost, "Address to bind")
	return cmd
}

func (app *App) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the detected environment and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sp := display.NewSpinner("Probing environment...")
			sp.Start()
			report := app.detector.Report(cmd.Context())
			sp.Stop()

			rows := [][]string{
				{"python", report.Runtime.String()},
				{"local inference", report.LocalInference.String()},
				{"llama-server", report.Server.String()},
				{"speech", report.Speech.String()},
			}
			for _, m := range detect.StatusModules {
				state := "missing"
				if report.Modules[m] {
					state = "installed"
				}
				rows = append(rows, []string{"module " + m, state})
			}
			display.ShowTable([]string{"COMPONENT", "STATUS"}, rows)

			kind := app.engine().Kind()
			settings := [][]string{
				{"model", app.settings.ActiveModel},
				{"backend", string(kind)},
				{"session", app.settings.ActiveSession},
				{"persona", orDash(app.settings.ActivePersona)},
				{"models_dir", app.settings.ModelsDir},
				{"config", app.store.Path()},
			}
			for _, e := range app.creds.List() {
				settings = append(settings, []string{e.Provider + " key", orDash(e.Masked)})
			}
			display.ShowTable([]string{"SETTING", "VALUE"}, settings)

			if !report.Runtime.Available() && !kind.IsRemote() {
				display.ShowWarning("No Python 3.10+ runtime found; local backends need one. Install Python, then run: ai install-deps")
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// pipPackages are installed by install-deps, in order.
var pipPackages = []string{"torch", "transformers", "diffusers", "accelerate", "llama-cpp-python", "openai-whisper"}

const cpuIndexURL = "https://download.pytorch.org/whl/cpu"

// pipArgs returns the arguments passed to the runtime for install-deps.
func pipArgs(force, cpuOnly bool) []string {
	args := []string{"-m", "pip", "install", "--user", "--upgrade"}
	if force {
		args = append(args, "--force-reinstall")
	}
	if cpuOnly {
		args = append(args, "--extra-index-url", cpuIndexURL)
	}
	return append(args, slices.Clone(pipPackages)...)
}

func (app *App) newInstallDepsCmd() *cobra.Command {
	var force, cpuOnly bool
	cmd := &cobra.Command{
		Use:   "install-deps",
		Short: "Install the Python packages used by local backends",
		Long: fmt.Sprintf(`Install the Python packages used by local backends with pip:
%s

--cpu-only pulls CPU builds of torch.`, strings.Join(pipPackages, ", ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime := app.detector.DetectRuntime(cmd.Context())
			if !runtime.Available() {
				return apperr.NewMissingDependency("python3", "install Python 3.10 or newer")
			}
			args := pipArgs(force, cpuOnly)
			display.ShowCommandExecuting(runtime.Path + " " + strings.Join(args, " "))

			c := exec.CommandContext(cmd.Context(), runtime.Path, args...)
			c.Stdout, c.Stderr = os.Stdout, os.Stderr
			if err := c.Run(); err != nil {
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					return fmt.Errorf("pip exited with code %d", exitErr.ExitCode())
				}
				return fmt.Errorf("failed to run pip: %w", err)
			}
			display.ShowSuccess("Dependencies installed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Reinstall packages that are already present")
	cmd.Flags().BoolVar(&cpuOnly, "cpu-only", false, "Install CPU-only torch builds")
	return cmd
}
