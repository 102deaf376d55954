// Package backend maps model identifiers to the inference mechanism that
// serves them.
package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the closed set of inference backends.
type Kind string

const (
	LocalGGUF       Kind = "local-gguf"
	LocalPyTorch    Kind = "local-pytorch"
	LocalDiffusion  Kind = "local-diffusion"
	RemoteOpenAI    Kind = "remote-openai"
	RemoteAnthropic Kind = "remote-anthropic"
	RemoteGemini    Kind = "remote-gemini"
	RemoteInference Kind = "remote-generic-inference"
)

// All lists every kind in display order.
var All = []Kind{
	LocalGGUF, LocalPyTorch, LocalDiffusion,
	RemoteOpenAI, RemoteAnthropic, RemoteGemini, RemoteInference,
}

var aliases = map[string]Kind{
	"gguf":        LocalGGUF,
	"llama":       LocalGGUF,
	"pytorch":     LocalPyTorch,
	"torch":       LocalPyTorch,
	"diffusion":   LocalDiffusion,
	"diffusers":   LocalDiffusion,
	"openai":      RemoteOpenAI,
	"claude":      RemoteAnthropic,
	"anthropic":   RemoteAnthropic,
	"gemini":      RemoteGemini,
	"hf":          RemoteInference,
	"huggingface": RemoteInference,
}

// ParseKind accepts a canonical kind name or a short alias.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range All {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := aliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown backend %q (valid: %s)", s, strings.Join(Names(), ", "))
}

// Names returns the canonical kind names.
func Names() []string {
	names := make([]string, len(All))
	for i, k := range All {
		names[i] = string(k)
	}
	return names
}

// IsRemote reports whether the kind is served over HTTP.
func (k Kind) IsRemote() bool {
	switch k {
	case RemoteOpenAI, RemoteAnthropic, RemoteGemini, RemoteInference:
		return true
	}
	return false
}

// Provider returns the credential provider name for remote kinds, or "".
func (k Kind) Provider() string {
	switch k {
	case RemoteOpenAI:
		return "openai"
	case RemoteAnthropic:
		return "anthropic"
	case RemoteGemini:
		return "gemini"
	case RemoteInference:
		return "huggingface"
	}
	return ""
}

// Env is everything Resolve consults besides the identifier itself.
type Env struct {
	ModelsDir  string
	FileExists func(path string) bool
	HasHFToken bool
}

// OSFileExists reports whether path names an existing regular file.
func OSFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var (
	openAIPrefixes = []string{
		"gpt-", "chatgpt-", "dall-e", "tts-", "whisper-", "text-embedding-",
	}
	// o-series reasoning models: "o1", "o3-mini", "o4-mini-high"...
	openAIReasoning = []string{"o1", "o3", "o4"}

	ggufExtensions    = []string{".gguf", ".ggml", ".bin"}
	pytorchExtensions = []string{".safetensors", ".pt", ".pth"}

	diffusionFragments = []string{
		"stable-diffusion", "sdxl", "sd-turbo", "sd15", "sd2",
		"flux", "kandinsky", "diffusion", "pixart", "playground-v",
	}
)

// Resolve maps a model identifier to a backend kind. Rules are checked in
// order and the first match wins; remote naming conventions come before any
// filesystem check.
func Resolve(id string, env Env) Kind {
	lower := strings.ToLower(strings.TrimSpace(id))

	// 1. OpenAI
	for _, p := range openAIPrefixes {
		if strings.HasPrefix(lower, p) {
			return RemoteOpenAI
		}
	}
	for _, p := range openAIReasoning {
		if lower == p || strings.HasPrefix(lower, p+"-") {
			return RemoteOpenAI
		}
	}

	// 2. Anthropic
	if strings.HasPrefix(lower, "claude") {
		return RemoteAnthropic
	}

	// 3. Gemini
	if strings.HasPrefix(lower, "gemini-") {
		return RemoteGemini
	}

	// 4. Local model files
	ext := filepath.Ext(lower)
	for _, e := range ggufExtensions {
		if ext == e {
			return LocalGGUF
		}
	}
	for _, e := range pytorchExtensions {
		if ext == e {
			return LocalPyTorch
		}
	}
	if id != "" && env.FileExists != nil {
		if env.FileExists(id) {
			return LocalGGUF
		}
		if env.ModelsDir != "" && env.FileExists(filepath.Join(env.ModelsDir, id)) {
			return LocalGGUF
		}
	}

	// 5. Diffusion models
	for _, frag := range diffusionFragments {
		if strings.Contains(lower, frag) {
			return LocalDiffusion
		}
	}

	// 6. Hosted inference when a token is available
	if env.HasHFToken {
		return RemoteInference
	}

	// 7. Last resort
	return LocalPyTorch
}

// Effective returns the explicitly configured kind when set, otherwise the
// resolved kind for model.
func Effective(active string, model string, env Env) Kind {
	if active != "" {
		if k, err := ParseKind(active); err == nil {
			return k
		}
	}
	return Resolve(model, env)
}

// LocalPath returns the on-disk path for a local model identifier: the
// identifier itself when it exists, otherwise its location under ModelsDir.
func LocalPath(id string, env Env) string {
	if env.FileExists != nil && env.FileExists(id) {
		return id
	}
	if filepath.IsAbs(id) || env.ModelsDir == "" {
		return id
	}
	return filepath.Join(env.ModelsDir, id)
}
