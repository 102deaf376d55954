package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/display"
	"github.com/minerofthesoal/ai-cli/internal/executor"
)

func (app *App) newImagineCmd() *cobra.Command {
	var (
		steps int
		size  string
		out   string
	)
	cmd := &cobra.Command{
		Use:   "imagine <prompt>",
		Short: "Generate an image",
		Long: `Generate an image with DALL-E (remote OpenAI models) or a local Diffusers
model. Images are written to output_dir unless --out is given.

Examples:
  ai imagine "a lighthouse at dusk, oil painting"
  ai -m sd-turbo imagine "a red fox" --steps 4 --size 512x512 --out fox.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := app.outputPath(out, "image", ".png")
			if err != nil {
				return err
			}
			engine := app.engine()
			sp := display.NewSpinner("Generating image...")
			sp.Start()
			path, err := engine.Imagine(cmd.Context(), engine.Kind(), api.ImageRequest{
				Model:  app.settings.ActiveModel,
				Prompt: strings.Join(args, " "),
				Size:   size,
				Steps:  steps,
				Out:    dest,
			})
			sp.Stop()
			if err != nil {
				return err
			}
			display.ShowSuccess("Saved image to " + path)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", constants.DefaultImageSteps, "Inference steps (local models)")
	cmd.Flags().StringVar(&size, "size", constants.DefaultImageSize, "Image size as WxH")
	cmd.Flags().StringVar(&out, "out", "", "Output file")
	return cmd
}

func (app *App) newTTSCmd() *cobra.Command {
	var (
		voice string
		out   string
	)
	cmd := &cobra.Command{
		Use:   "tts <text>",
		Short: "Turn text into speech",
		Long: `Turn text into speech with OpenAI's speech models, or espeak-ng offline
when the active model is local.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := app.engine()
			kind := engine.Kind()
			ext := ".wav"
			if kind.IsRemote() {
				ext = ".mp3"
			}
			dest, err := app.outputPath(out, "speech", ext)
			if err != nil {
				return err
			}
			sp := display.NewSpinner("Synthesizing...")
			sp.Start()
			path, err := engine.Speak(cmd.Context(), kind, api.SpeechRequest{
				Model: app.settings.ActiveModel,
				Text:  strings.Join(args, " "),
				Voice: voice,
				Out:   dest,
			})
			sp.Stop()
			if err != nil {
				return err
			}
			display.ShowSuccess("Saved audio to " + path)
			return nil
		},
	}
	cmd.Flags().StringVar(&voice, "voice", constants.DefaultVoice, "Voice name")
	cmd.Flags().StringVar(&out, "out", "", "Output file")
	return cmd
}

func (app *App) newTranscribeCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "transcribe <audio-path>",
		Short: "Turn speech into text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := app.engine()
			kind := engine.Kind()
			sp := display.NewSpinner("Transcribing...")
			sp.Start()
			text, err := engine.Transcribe(cmd.Context(), kind, api.TranscribeRequest{
				Model: app.settings.ActiveModel,
				Path:  args[0],
				Lang:  lang,
			})
			sp.Stop()
			if err != nil {
				return err
			}
			display.ShowContent(text)
			app.record("transcribe", kind, args[0], text)
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Spoken language code, e.g. en")
	return cmd
}

// outputPath returns out after checking it, or a timestamped file in
// output_dir.
func (app *App) outputPath(out, prefix, ext string) (string, error) {
	if out != "" {
		if err := executor.CheckOutputPath(out); err != nil {
			return "", err
		}
		return out, nil
	}
	name := fmt.Sprintf("%s-%s%s", prefix, time.Now().Format("20060102-150405"), ext)
	return filepath.Join(app.settings.OutputDir, name), nil
}
