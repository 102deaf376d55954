package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"512x512", 512, 512, false},
		{"1024X768", 1024, 768, false},
		{"512", 0, 0, true},
		{"0x10", 0, 0, true},
		{"axb", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := ParseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v", tt.in, err)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("ParseSize(%q) = %dx%d", tt.in, w, h)
			}
		})
	}
}

func TestEngine_ImagineOpenAI(t *testing.T) {
	img := []byte("fake-png")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != DefaultImageModel || body["size"] != "256x256" || body["response_format"] != "b64_json" {
			t.Errorf("body = %v", body)
		}
		fmt.Fprintf(w, `{"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString(img))
	}))
	defer srv.Close()

	settings := testSettings(t)
	settings.OpenAIBaseURL = srv.URL
	engine := NewEngine(settings, keyMap{"openai": "k"})

	out := filepath.Join(t.TempDir(), "nested", "cat.png")
	path, err := engine.Imagine(context.Background(), backend.RemoteOpenAI, ImageRequest{Model: "gpt-4o", Prompt: "a cat", Size: "256x256", Out: out})
	if err != nil {
		t.Fatalf("Imagine() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != string(img) {
		t.Errorf("output = %q, %v", data, err)
	}
}

func TestEngine_ImagineLocalDiffusion(t *testing.T) {
	settings := testSettings(t)
	out := filepath.Join(t.TempDir(), "img.png")
	engine := NewEngine(settings, nil,
		WithDetector(fakeDetector(map[string]string{"python3": "/usr/bin/python3"}, "diffusers")),
		WithRunner(func(ctx context.Context, p *Payload) ([]byte, error) {
			var req map[string]any
			if err := json.Unmarshal(p.Stdin, &req); err != nil {
				t.Fatalf("stdin: %v", err)
			}
			if req["width"] != float64(640) || req["height"] != float64(480) || req["steps"] != float64(4) {
				t.Errorf("script request = %v", req)
			}
			return []byte(`{"path":"` + out + `"}`), nil
		}),
	)

	path, err := engine.Imagine(context.Background(), backend.LocalDiffusion, ImageRequest{Model: "sdxl-turbo", Prompt: "x", Size: "640x480", Steps: 4, Out: out})
	if err != nil || path != out {
		t.Errorf("Imagine() = %q, %v", path, err)
	}
}

func TestEngine_MediaUnsupported(t *testing.T) {
	settings := testSettings(t)
	engine := NewEngine(settings, keyMap{"anthropic": "k"})
	ctx := context.Background()

	_, err := engine.Imagine(ctx, backend.RemoteAnthropic, ImageRequest{Prompt: "x", Out: "o.png"})
	if !apperr.Is(err, apperr.Unsupported) {
		t.Errorf("Imagine(anthropic) = %v, want unsupported", err)
	}
	_, err = engine.Speak(ctx, backend.RemoteGemini, SpeechRequest{Text: "hi", Out: "o.mp3"})
	if !apperr.Is(err, apperr.Unsupported) {
		t.Errorf("Speak(gemini) = %v, want unsupported", err)
	}

	audio := filepath.Join(t.TempDir(), "a.wav")
	_ = os.WriteFile(audio, []byte("RIFF"), 0o644)
	_, err = engine.Transcribe(ctx, backend.RemoteAnthropic, TranscribeRequest{Path: audio})
	if !apperr.Is(err, apperr.Unsupported) {
		t.Errorf("Transcribe(anthropic) = %v, want unsupported", err)
	}
}

func TestEngine_SpeakOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "tts-1-hd" || body["voice"] != "nova" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	settings := testSettings(t)
	settings.OpenAIBaseURL = srv.URL
	engine := NewEngine(settings, keyMap{"openai": "k"})

	out := filepath.Join(t.TempDir(), "speech.mp3")
	if _, err := engine.Speak(context.Background(), backend.RemoteOpenAI, SpeechRequest{Model: "tts-1-hd", Text: "hello", Voice: "nova", Out: out}); err != nil {
		t.Fatalf("Speak() error: %v", err)
	}
	if data, _ := os.ReadFile(out); string(data) != "ID3audio" {
		t.Errorf("audio = %q", data)
	}
}

func TestEngine_SpeakLocal(t *testing.T) {
	settings := testSettings(t)
	out := filepath.Join(t.TempDir(), "speech.wav")

	var args []string
	engine := NewEngine(settings, nil,
		WithDetector(fakeDetector(map[string]string{"espeak-ng": "/usr/bin/espeak-ng"})),
		WithRunner(func(ctx context.Context, p *Payload) ([]byte, error) {
			args = p.Args
			return nil, nil
		}),
	)
	if _, err := engine.Speak(context.Background(), backend.LocalGGUF, SpeechRequest{Text: "hello", Out: out}); err != nil {
		t.Fatalf("Speak() error: %v", err)
	}
	if strings.Join(args, " ") != "-v en -w "+out+" hello" {
		t.Errorf("espeak args = %v", args)
	}

	engine = NewEngine(settings, nil, WithDetector(fakeDetector(nil)))
	_, err := engine.Speak(context.Background(), backend.LocalGGUF, SpeechRequest{Text: "hello", Out: out})
	if !apperr.Is(err, apperr.MissingDependency) {
		t.Errorf("Speak() without espeak = %v", err)
	}
}

func TestEngine_TranscribeOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart: %v", err)
			return
		}
		if r.FormValue("model") != DefaultTranscribeModel || r.FormValue("language") != "fr" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "RIFFdata" {
			t.Errorf("file = %q", data)
		}
		fmt.Fprint(w, `{"text":"bonjour"}`)
	}))
	defer srv.Close()

	settings := testSettings(t)
	settings.OpenAIBaseURL = srv.URL
	engine := NewEngine(settings, keyMap{"openai": "k"})

	audio := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(audio, []byte("RIFFdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	text, err := engine.Transcribe(context.Background(), backend.RemoteOpenAI, TranscribeRequest{Model: "gpt-4o", Path: audio, Lang: "fr"})
	if err != nil || text != "bonjour" {
		t.Errorf("Transcribe() = %q, %v", text, err)
	}
}

func TestEngine_TranscribeMissingFile(t *testing.T) {
	engine := NewEngine(testSettings(t), keyMap{"openai": "k"})
	_, err := engine.Transcribe(context.Background(), backend.RemoteOpenAI, TranscribeRequest{Path: "/nonexistent/a.wav"})
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("Transcribe() = %v, want not found", err)
	}
}
