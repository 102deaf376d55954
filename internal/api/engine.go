package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/credentials"
	"github.com/minerofthesoal/ai-cli/internal/detect"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

// KeySource looks up provider credentials.
type KeySource interface {
	Get(provider string) (string, credentials.Source)
}

// Runner executes a process payload and returns its stdout.
type Runner func(ctx context.Context, p *Payload) ([]byte, error)

// Engine executes adapter payloads: HTTP calls with retry, or process
// spawns for local backends.
type Engine struct {
	settings   config.Settings
	keys       KeySource
	detector   *detect.Detector
	httpClient *http.Client
	run        Runner

	detectOnce sync.Once
	runtime    detect.Capability
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.httpClient = c }
}

// WithDetector replaces the environment detector.
func WithDetector(p *detect.Detector) EngineOption {
	return func(e *Engine) { e.detector = p }
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) EngineOption {
	return func(e *Engine) { e.run = r }
}

// NewEngine creates an engine for already-clamped settings.
func NewEngine(settings config.Settings, keys KeySource, opts ...EngineOption) *Engine {
	e := &Engine{
		settings: settings,
		keys:     keys,
		detector: detect.New(),
		run:      runProcess,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.httpClient == nil {
		var transport http.RoundTripper = http.DefaultTransport
		if settings.Verbose {
			transport = logging.NewLoggingRoundTripper(transport, logging.NewHTTPLogger(logging.DefaultLogger), true)
		}
		e.httpClient = &http.Client{Transport: transport}
	}
	return e
}

// Settings returns the settings the engine was built with.
func (e *Engine) Settings() config.Settings { return e.settings }

// Kind returns the effective backend for the configured model.
func (e *Engine) Kind() backend.Kind {
	return e.settings.Backend(e.hasKey(credentials.HuggingFace))
}

// KindFor returns the effective backend for model, honouring an explicit
// active_backend.
func (e *Engine) KindFor(model string) backend.Kind {
	return backend.Effective(e.settings.ActiveBackend, model, e.settings.BackendEnv(e.hasKey(credentials.HuggingFace)))
}

func (e *Engine) hasKey(provider string) bool {
	if e.keys == nil {
		return false
	}
	key, _ := e.keys.Get(provider)
	return key != ""
}

// Runtime returns the detected Python runtime, probing once.
func (e *Engine) Runtime(ctx context.Context) detect.Capability {
	e.detectOnce.Do(func() {
		e.runtime = e.detector.DetectRuntime(ctx)
	})
	return e.runtime
}

// apiKey returns the stored key for a remote kind, or a missing-credential
// error. It runs before anything is built or sent.
func (e *Engine) apiKey(kind backend.Kind) (string, error) {
	provider := kind.Provider()
	var key string
	if e.keys != nil {
		key, _ = e.keys.Get(provider)
	}
	if key == "" {
		return "", apperr.NewMissingCredential(provider, credentials.Alias(provider))
	}
	return key, nil
}

func (e *Engine) baseURL(kind backend.Kind) string {
	switch kind {
	case backend.RemoteOpenAI:
		return e.settings.OpenAIBaseURL
	case backend.RemoteAnthropic:
		return e.settings.AnthropicBaseURL
	case backend.RemoteGemini:
		return e.settings.GeminiBaseURL
	case backend.RemoteInference:
		return e.settings.HFBaseURL
	}
	return ""
}

func (e *Engine) modelPath(model string) string {
	return backend.LocalPath(model, e.settings.BackendEnv(false))
}

// requireModule fails with a missing-dependency error unless the runtime can
// import module.
func (e *Engine) requireModule(ctx context.Context, module, pkg string) (detect.Capability, error) {
	rt := e.Runtime(ctx)
	if !rt.Available() {
		return rt, apperr.NewMissingDependency("Python 3.10+", "install Python 3.10 or newer, then run: ai install-deps")
	}
	if !e.detector.HasModule(ctx, rt, module) {
		return rt, apperr.NewMissingDependency(pkg, "ai install-deps")
	}
	return rt, nil
}

// Adapter prepares the adapter for kind and model, checking credentials and
// local prerequisites first.
func (e *Engine) Adapter(ctx context.Context, kind backend.Kind, model string) (Adapter, error) {
	opts := Options{BaseURL: e.baseURL(kind), ModelPath: model}
	switch {
	case kind.IsRemote():
		key, err := e.apiKey(kind)
		if err != nil {
			return nil, err
		}
		opts.APIKey = key
	case kind == backend.LocalGGUF:
		opts.ModelPath = e.modelPath(model)
		if !backend.OSFileExists(opts.ModelPath) {
			return nil, &apperr.Error{
				Kind:    apperr.NotFound,
				Message: fmt.Sprintf("model file %s not found", opts.ModelPath),
				Remedy:  "ai download <repo> --gguf",
			}
		}
		opts.Runtime = e.Runtime(ctx)
		opts.Inference = e.detector.DetectLocalInference(ctx, opts.Runtime)
		if !opts.Inference.Available() {
			return nil, apperr.NewMissingDependency("llama.cpp (llama-cli or llama-cpp-python)", "ai install-deps")
		}
	case kind == backend.LocalPyTorch:
		if p := e.modelPath(model); backend.OSFileExists(p) || dirExists(p) {
			opts.ModelPath = p
		}
		rt, err := e.requireModule(ctx, "transformers", "transformers")
		if err != nil {
			return nil, err
		}
		opts.Runtime = rt
	}
	return NewAdapter(kind, opts)
}

// Complete sends req to kind and returns the full reply.
func (e *Engine) Complete(ctx context.Context, kind backend.Kind, req *Request) (string, error) {
	adapter, err := e.Adapter(ctx, kind, req.Model)
	if err != nil {
		return "", err
	}
	payload, err := adapter.BuildRequest(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.settings.Timeout())
	defer cancel()

	logging.Debug("dispatching request", logging.Fields{"backend": string(kind), "model": req.Model, "messages": len(req.Messages)})
	raw, err := e.Execute(ctx, kind.Provider(), payload)
	if err != nil {
		return "", err
	}
	return adapter.ParseResponse(raw)
}

// Stream sends req and calls onChunk as content arrives. Only adapters
// implementing Streamer stream; others deliver the reply as one chunk.
func (e *Engine) Stream(ctx context.Context, kind backend.Kind, req *Request, onChunk func(string)) (string, error) {
	adapter, err := e.Adapter(ctx, kind, req.Model)
	if err != nil {
		return "", err
	}
	streamer, ok := adapter.(Streamer)
	if !ok {
		reply, err := e.Complete(ctx, kind, req)
		if err == nil && onChunk != nil {
			onChunk(reply)
		}
		return reply, err
	}
	payload, err := streamer.BuildStreamRequest(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.settings.Timeout())
	defer cancel()

	provider := kind.Provider()
	reply, err := WithStreamRetry(ctx, func() (*http.Response, error) {
		resp, err := e.send(ctx, provider, payload)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer func() { _ = resp.Body.Close() }()
			body, _ := io.ReadAll(resp.Body)
			return nil, StatusError(provider, resp.StatusCode, body)
		}
		return resp, nil
	}, streamer.StreamDelta, onChunk)
	return reply, e.timeoutErr(ctx, provider, err)
}

// Execute runs a payload and returns the raw response.
func (e *Engine) Execute(ctx context.Context, provider string, p *Payload) ([]byte, error) {
	if p.IsProcess() {
		out, err := e.run(ctx, p)
		return out, e.timeoutErr(ctx, provider, err)
	}
	body, err := WithRetry(ctx, func() ([]byte, error) {
		resp, err := e.send(ctx, provider, p)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, TransportError(provider, "failed to read response", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, StatusError(provider, resp.StatusCode, body)
		}
		return body, nil
	})
	return body, e.timeoutErr(ctx, provider, err)
}

func (e *Engine) send(ctx context.Context, provider string, p *Payload) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range p.Header {
		req.Header[k] = v
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, TransportError(provider, "failed to send request", err)
	}
	return resp, nil
}

// timeoutErr turns a deadline into a network-class provider error.
func (e *Engine) timeoutErr(ctx context.Context, provider string, err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return providerErr(KindNetwork, provider, "request timed out after %s", e.settings.Timeout())
	}
	return err
}

// runProcess is the default Runner.
func runProcess(ctx context.Context, p *Payload) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.Path, p.Args...)
	if p.Stdin != nil {
		cmd.Stdin = bytes.NewReader(p.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("spawning process", logging.Fields{"path": p.Path, "args": len(p.Args)})
	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, apperr.NewMissingDependency(filepath.Base(p.Path), "ai install-deps")
	}
	// Helper scripts report failures on stdout even when exiting non-zero.
	if stdout.Len() > 0 {
		var pe *ProviderError
		if _, perr := parseScriptReply(stdout.Bytes()); errors.As(perr, &pe) && pe.Kind != KindMalformed {
			return nil, perr
		}
	}
	return nil, &ProviderError{
		Kind:     KindNetwork,
		Provider: providerLocal,
		Message:  fmt.Sprintf("%s failed: %v: %s", filepath.Base(p.Path), err, lastLine(stderr.String())),
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return truncate(s, 300)
}
