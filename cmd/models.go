package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/credentials"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/executor"
	"github.com/minerofthesoal/ai-cli/internal/models"
)

func (app *App) newModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model [identifier] [backend]",
		Short: "Show or set the active model",
		Long: `Show or set the active model. The backend is derived from the name
unless one is given explicitly.

Examples:
  ai model gpt-4o
  ai model claude-3-5-sonnet-latest
  ai model tinyllama.Q4_K_M.gguf
  ai model my-finetune local-pytorch`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				app.showModel()
				return nil
			}
			if err := app.setConfig(cmd, "active_model", args[0]); err != nil {
				return err
			}
			kind := ""
			if len(args) == 2 {
				kind = args[1]
			}
			if err := app.setConfig(cmd, "active_backend", kind); err != nil {
				return err
			}
			app.showModel()
			return nil
		},
	}
}

func (app *App) showModel() {
	kind := app.engine().Kind()
	how := "auto"
	if app.settings.ActiveBackend != "" {
		how = "explicit"
	}
	display.ShowSuccess(fmt.Sprintf("Model: %s (backend: %s, %s)", app.settings.ActiveModel, kind, how))
	if provider := kind.Provider(); provider != "" && !app.creds.Has(provider) {
		display.ShowWarning(fmt.Sprintf("no API key stored for %s; add one with: ai download %s <key>", provider, credentials.Alias(provider)))
	}
}

func (app *App) newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List local models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := app.settings.ModelsDir
			list, err := models.List(dir)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				display.ShowInfo(fmt.Sprintf("No local models in %s.", dir))
				display.ShowInfo("Download one with: ai download <repo> --gguf")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, m := range list {
				name := m.Name
				if name == app.settings.ActiveModel || m.Path == app.settings.ActiveModel {
					name += " *"
				}
				rows = append(rows, []string{name, string(m.Format), string(m.Kind), models.FormatSize(m.Size), m.ModTime.Format("2006-01-02")})
			}
			display.ShowTable([]string{"NAME", "FORMAT", "BACKEND", "SIZE", "MODIFIED"}, rows)
			return nil
		},
	}
}

func (app *App) newModelInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model-info <identifier>",
		Short: "Show what is known about a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := app.settings.BackendEnv(app.creds.Has(credentials.HuggingFace))
			d, err := models.Inspect(args[0], env)
			if err != nil {
				return err
			}
			rows := [][]string{{"id", d.ID}, {"backend", string(d.Kind)}}
			if d.Provider != "" {
				rows = append(rows, []string{"provider", d.Provider})
			}
			if d.Path != "" {
				rows = append(rows,
					[]string{"path", d.Path},
					[]string{"format", string(d.Format)},
					[]string{"size", models.FormatSize(d.Size)},
				)
			}
			for _, k := range d.SortedKeys() {
				rows = append(rows, []string{k, d.Metadata[k]})
			}
			display.ShowTable([]string{"FIELD", "VALUE"}, rows)
			return nil
		},
	}
}

func (app *App) newBackendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backend [kind]",
		Short: "Show or force the backend",
		Long: fmt.Sprintf(`Show or force the backend used for the active model. 'auto' derives it
from the model name again.

Kinds: %s`, strings.Join(backend.Names(), ", ")),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := app.setConfig(cmd, "active_backend", args[0]); err != nil {
					return err
				}
			}
			app.showModel()
			return nil
		},
	}
}

func (app *App) newDownloadCmd() *cobra.Command {
	var (
		file string
		gguf bool
	)
	cmd := &cobra.Command{
		Use:   "download <repo|url> | download <provider> <key>",
		Short: "Download a model, or store an API key",
		Long: `Download a model from the Hugging Face hub or a URL into models_dir, or
store an API key for a provider (openai, claude, gemini, hf).

Examples:
  ai download TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF --gguf
  ai download stabilityai/sd-turbo
  ai download acme/model --file weights.Q4_K_M.gguf
  ai download openai sk-...`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				return app.saveKey(args[0], args[1])
			}
			return app.download(cmd.Context(), args[0], file, gguf)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Download one file of the repository")
	cmd.Flags().BoolVar(&gguf, "gguf", false, "Pick the repository's preferred GGUF file")
	return cmd
}

func (app *App) saveKey(name, secret string) error {
	provider, err := credentials.ParseProvider(name)
	if err != nil {
		return apperr.Wrap(apperr.Usage, "", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return apperr.Usagef("key must not be empty")
	}
	if err := app.creds.Save(provider, secret); err != nil {
		return err
	}
	display.ShowSuccess(fmt.Sprintf("Saved %s key %s", provider, credentials.Mask(secret)))
	return nil
}

func (app *App) download(ctx context.Context, ref, file string, gguf bool) error {
	token, _ := app.creds.Get(credentials.HuggingFace)
	d := models.NewDownloader(app.settings.ModelsDir, token)
	if app.httpClient != nil {
		d.Client = app.httpClient
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DefaultDownloadTimeout)
	defer cancel()

	sp := display.NewSpinner("Resolving " + ref + "...")
	sp.Start()
	d.Progress = func(name string, done, total int64) {
		if total > 0 {
			sp.UpdateMessage(fmt.Sprintf("%s %s / %s", name, models.FormatSize(done), models.FormatSize(total)))
			return
		}
		sp.UpdateMessage(fmt.Sprintf("%s %s", name, models.FormatSize(done)))
	}
	paths, err := d.Download(ctx, ref, file, gguf)
	sp.Stop()
	for _, p := range paths {
		display.ShowSuccess("Downloaded " + p)
	}
	if err != nil {
		return err
	}
	if len(paths) > 0 {
		name := filepath.Base(paths[0])
		if len(paths) > 1 {
			name = filepath.Base(filepath.Dir(paths[0]))
			if rel, err := filepath.Rel(app.settings.ModelsDir, paths[0]); err == nil {
				name = strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
			}
		}
		display.ShowInfo("Use it with: ai model " + name)
	}
	return nil
}

func (app *App) newConvertCmd() *cobra.Command {
	var req models.ConvertRequest
	cmd := &cobra.Command{
		Use:   "convert <path>",
		Short: "Convert a Hugging Face checkpoint to GGUF",
		Long: fmt.Sprintf(`Convert a Hugging Face checkpoint directory to GGUF with llama.cpp's
converter, quantizing on the way.

Quantizations: %s`, strings.Join(models.Quantizations(), ", ")),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Path = args[0]
			if req.Out != "" {
				if err := executor.CheckOutputPath(req.Out); err != nil {
					return err
				}
			}
			runtime := app.engine().Runtime(cmd.Context())
			c := models.NewConverter(runtime.Path, app.settings.ModelsDir)

			sp := display.NewSpinner("Converting " + filepath.Base(req.Path) + "...")
			sp.Start()
			out, err := c.Convert(cmd.Context(), req)
			sp.Stop()
			if err != nil {
				return err
			}
			display.ShowSuccess("Wrote " + out)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.To, "to", "gguf", "Target format")
	cmd.Flags().StringVar(&req.Quant, "quant", models.DefaultQuant, "Quantization")
	cmd.Flags().StringVar(&req.Out, "out", "", "Output file (default: models_dir/<name>-<quant>.gguf)")
	return cmd
}
