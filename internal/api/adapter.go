package api

import (
	"fmt"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/detect"
)

// Adapter translates between the canonical Request and one backend's wire
// format. Implementations are pure: they never perform I/O beyond reading
// referenced image files.
type Adapter interface {
	Kind() backend.Kind
	BuildRequest(req *Request) (*Payload, error)
	ParseResponse(raw []byte) (string, error)
}

// Streamer is implemented by adapters that support SSE streaming.
type Streamer interface {
	BuildStreamRequest(req *Request) (*Payload, error)
	StreamDelta(data []byte) (string, bool, error)
}

// Options carries what adapters need beyond the request itself.
type Options struct {
	APIKey  string
	BaseURL string

	// Local backends
	ModelPath string
	Runtime   detect.Capability
	Inference detect.Capability
}

// NewAdapter returns the adapter for kind.
func NewAdapter(kind backend.Kind, opts Options) (Adapter, error) {
	switch kind {
	case backend.RemoteOpenAI:
		return &OpenAIAdapter{apiKey: opts.APIKey, baseURL: baseOr(opts.BaseURL, constants.OpenAIBaseURL)}, nil
	case backend.RemoteAnthropic:
		return &AnthropicAdapter{apiKey: opts.APIKey, baseURL: baseOr(opts.BaseURL, constants.AnthropicBaseURL)}, nil
	case backend.RemoteGemini:
		return &GeminiAdapter{apiKey: opts.APIKey, baseURL: baseOr(opts.BaseURL, constants.GeminiBaseURL)}, nil
	case backend.RemoteInference:
		return &HFAdapter{apiKey: opts.APIKey, baseURL: baseOr(opts.BaseURL, constants.HFInferenceURL)}, nil
	case backend.LocalGGUF:
		return &GGUFAdapter{modelPath: opts.ModelPath, binary: opts.Inference}, nil
	case backend.LocalPyTorch:
		return &PyTorchAdapter{modelPath: opts.ModelPath, runtime: opts.Runtime}, nil
	case backend.LocalDiffusion:
		return diffusionAdapter{}, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

func baseOr(base, def string) string {
	if base == "" {
		base = def
	}
	return strings.TrimRight(base, "/")
}

// flattenPrompt renders a conversation as plain text for backends that take a
// single prompt string.
func flattenPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString(req.SystemPrompt())
	b.WriteString("\n\n")
	for _, m := range req.Turns() {
		if m.Role == RoleAssistant {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

// diffusionAdapter exists so every kind has an adapter; diffusion models only
// serve the media path.
type diffusionAdapter struct{}

func (diffusionAdapter) Kind() backend.Kind { return backend.LocalDiffusion }

func (diffusionAdapter) BuildRequest(*Request) (*Payload, error) {
	return nil, unsupported("diffusion", "text generation is not supported by diffusion models; use `ai imagine`")
}

func (diffusionAdapter) ParseResponse([]byte) (string, error) {
	return "", unsupported("diffusion", "text generation is not supported by diffusion models")
}
