package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/constants"
)

// Default remote media models, used when the active model is not one.
const (
	DefaultImageModel      = "dall-e-2"
	DefaultSpeechModel     = "tts-1"
	DefaultTranscribeModel = "whisper-1"
)

// ImageRequest describes an `imagine` call.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
	Steps  int
	Out    string
}

// SpeechRequest describes a `tts` call.
type SpeechRequest struct {
	Model string
	Text  string
	Voice string
	Out   string
}

// TranscribeRequest describes a `transcribe` call.
type TranscribeRequest struct {
	Model string
	Path  string
	Lang  string
}

// ParseSize parses "WxH".
func ParseSize(size string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return 0, 0, apperr.Usagef("invalid size %q, expected WxH", size)
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 0, 0, apperr.Usagef("invalid size %q, expected WxH", size)
	}
	return width, height, nil
}

func modelWithPrefix(model, prefix, def string) string {
	if strings.HasPrefix(strings.ToLower(model), prefix) {
		return model
	}
	return def
}

type imageGenRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageGenResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Imagine generates an image and writes it to r.Out.
func (e *Engine) Imagine(ctx context.Context, kind backend.Kind, r ImageRequest) (string, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if r.Size == "" {
		r.Size = constants.DefaultImageSize
	}
	if r.Steps <= 0 {
		r.Steps = constants.DefaultImageSteps
	}
	width, height, err := ParseSize(r.Size)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.settings.Timeout())
	defer cancel()

	switch kind {
	case backend.RemoteOpenAI:
		key, err := e.apiKey(kind)
		if err != nil {
			return "", err
		}
		p, err := jsonPayload(baseOr(e.settings.OpenAIBaseURL, constants.OpenAIBaseURL)+"/images/generations", imageGenRequest{
			Model:          modelWithPrefix(r.Model, "dall-e", DefaultImageModel),
			Prompt:         r.Prompt,
			N:              1,
			Size:           r.Size,
			ResponseFormat: "b64_json",
		}, bearer(key))
		if err != nil {
			return "", err
		}
		raw, err := e.Execute(ctx, providerOpenAI, p)
		if err != nil {
			return "", err
		}
		data, err := parseImageResponse(raw)
		if err != nil {
			return "", err
		}
		return r.Out, writeOutput(r.Out, data)

	case backend.LocalDiffusion:
		rt, err := e.requireModule(ctx, "diffusers", "diffusers")
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(r.Out), 0o755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
		model := r.Model
		if p := e.modelPath(model); dirExists(p) {
			model = p
		}
		p, err := scriptPayload(rt.Path, "diffusers_image.py", map[string]any{
			"model":  model,
			"prompt": r.Prompt,
			"steps":  r.Steps,
			"width":  width,
			"height": height,
			"out":    r.Out,
		})
		if err != nil {
			return "", err
		}
		raw, err := e.Execute(ctx, providerLocal, p)
		if err != nil {
			return "", err
		}
		reply, err := parseScriptReply(raw)
		if err != nil {
			return "", err
		}
		return reply.Path, nil
	}
	return "", apperr.Unsupportedf("image generation is not supported by the %s backend", kind)
}

func parseImageResponse(raw []byte) ([]byte, error) {
	var resp imageGenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, malformed(providerOpenAI, "failed to parse image response: %v", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, malformed(providerOpenAI, "image response contained no data")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, malformed(providerOpenAI, "invalid image data: %v", err)
	}
	return data, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Speak synthesizes r.Text to an audio file at r.Out.
func (e *Engine) Speak(ctx context.Context, kind backend.Kind, r SpeechRequest) (string, error) {
	if strings.TrimSpace(r.Text) == "" {
		return "", apperr.Usagef("text must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.settings.Timeout())
	defer cancel()

	switch {
	case kind == backend.RemoteOpenAI:
		key, err := e.apiKey(kind)
		if err != nil {
			return "", err
		}
		voice := r.Voice
		if voice == "" {
			voice = constants.DefaultVoice
		}
		p, err := jsonPayload(baseOr(e.settings.OpenAIBaseURL, constants.OpenAIBaseURL)+"/audio/speech", speechRequest{
			Model:          modelWithPrefix(r.Model, "tts-", DefaultSpeechModel),
			Input:          r.Text,
			Voice:          voice,
			ResponseFormat: "mp3",
		}, bearer(key))
		if err != nil {
			return "", err
		}
		audio, err := e.Execute(ctx, providerOpenAI, p)
		if err != nil {
			return "", err
		}
		return r.Out, writeOutput(r.Out, audio)

	case !kind.IsRemote():
		speech := e.detector.DetectSpeechBinary()
		if !speech.Available() {
			return "", apperr.NewMissingDependency("espeak-ng", "install espeak-ng with your system package manager")
		}
		if err := os.MkdirAll(filepath.Dir(r.Out), 0o755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
		voice := r.Voice
		if voice == "" || voice == constants.DefaultVoice {
			voice = "en"
		}
		p := &Payload{Path: speech.Path, Args: []string{"-v", voice, "-w", r.Out, r.Text}}
		if _, err := e.Execute(ctx, providerLocal, p); err != nil {
			return "", err
		}
		return r.Out, nil
	}
	return "", apperr.Unsupportedf("speech synthesis is not supported by the %s backend", kind)
}

// Transcribe converts the audio file at r.Path to text.
func (e *Engine) Transcribe(ctx context.Context, kind backend.Kind, r TranscribeRequest) (string, error) {
	if _, err := os.Stat(r.Path); err != nil {
		return "", apperr.NotFoundf("audio file %s not found", r.Path)
	}

	ctx, cancel := context.WithTimeout(ctx, e.settings.Timeout())
	defer cancel()

	switch {
	case kind == backend.RemoteOpenAI:
		key, err := e.apiKey(kind)
		if err != nil {
			return "", err
		}
		p, err := transcriptionPayload(baseOr(e.settings.OpenAIBaseURL, constants.OpenAIBaseURL), key, r)
		if err != nil {
			return "", err
		}
		raw, err := e.Execute(ctx, providerOpenAI, p)
		if err != nil {
			return "", err
		}
		var resp struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", malformed(providerOpenAI, "failed to parse transcription: %v", err)
		}
		return resp.Text, nil

	case !kind.IsRemote():
		rt, err := e.requireModule(ctx, "whisper", "openai-whisper")
		if err != nil {
			return "", err
		}
		p, err := scriptPayload(rt.Path, "whisper_transcribe.py", map[string]any{
			"model": whisperModel(r.Model),
			"path":  r.Path,
			"lang":  r.Lang,
		})
		if err != nil {
			return "", err
		}
		raw, err := e.Execute(ctx, providerLocal, p)
		if err != nil {
			return "", err
		}
		reply, err := parseScriptReply(raw)
		if err != nil {
			return "", err
		}
		return reply.Text, nil
	}
	return "", apperr.Unsupportedf("transcription is not supported by the %s backend", kind)
}

// whisperModel keeps only names the whisper package knows.
func whisperModel(name string) string {
	switch name {
	case "tiny", "base", "small", "medium", "large", "turbo":
		return name
	}
	return "base"
}

func transcriptionPayload(base, key string, r TranscribeRequest) (*Payload, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(r.Path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	_ = w.WriteField("model", modelWithPrefix(r.Model, "whisper-", DefaultTranscribeModel))
	if r.Lang != "" {
		_ = w.WriteField("language", r.Lang)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	h := bearer(key)
	h.Set("Content-Type", w.FormDataContentType())
	return &Payload{Method: http.MethodPost, URL: base + "/audio/transcriptions", Header: h, Body: buf.Bytes()}, nil
}

func bearer(key string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	return h
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		return apperr.Usagef("output path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
