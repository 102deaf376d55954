// Package credentials stores per-provider API keys in a dotenv file that only
// the owning user can read.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/minerofthesoal/ai-cli/internal/config"
)

// Provider names
const (
	OpenAI      = "openai"
	Anthropic   = "anthropic"
	Gemini      = "gemini"
	HuggingFace = "huggingface"
)

// envVars maps each provider to the variable that holds its key, both in the
// process environment and inside the credentials file.
var envVars = map[string]string{
	OpenAI:      "OPENAI_API_KEY",
	Anthropic:   "ANTHROPIC_API_KEY",
	Gemini:      "GEMINI_API_KEY",
	HuggingFace: "HF_TOKEN",
}

// aliases accepted by `ai download <provider> <key>`
var aliases = map[string]string{
	"openai":      OpenAI,
	"claude":      Anthropic,
	"anthropic":   Anthropic,
	"gemini":      Gemini,
	"google":      Gemini,
	"hf":          HuggingFace,
	"huggingface": HuggingFace,
}

// ErrUnknownProvider is returned for names outside the fixed provider set.
var ErrUnknownProvider = errors.New("unknown provider")

// Providers returns the provider names in display order.
func Providers() []string {
	return []string{OpenAI, Anthropic, Gemini, HuggingFace}
}

// ParseProvider resolves a provider name or alias.
func ParseProvider(name string) (string, error) {
	if p, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w %q (valid: openai, claude, gemini, hf)", ErrUnknownProvider, name)
}

// Alias returns the short name used in remedy hints.
func Alias(provider string) string {
	switch provider {
	case Anthropic:
		return "claude"
	case HuggingFace:
		return "hf"
	}
	return provider
}

// EnvVar returns the environment variable name for provider.
func EnvVar(provider string) string {
	return envVars[provider]
}

// Source says where a key came from.
type Source string

const (
	SourceNone Source = ""
	SourceFile Source = "file"
	SourceEnv  Source = "env"
)

// Store holds the persisted keys plus the environment layer.
type Store struct {
	path string
	file map[string]string
	env  map[string]string
}

// Load reads path (a missing file is an empty store) and layers any provider
// variables present in the environment on top.
func Load(path string) (*Store, error) {
	s := &Store{
		path: path,
		file: map[string]string{},
		env:  map[string]string{},
	}

	if _, err := os.Stat(path); err == nil {
		vars, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials %s: %w", path, err)
		}
		for provider, name := range envVars {
			if v := strings.TrimSpace(vars[name]); v != "" {
				s.file[provider] = v
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat credentials %s: %w", path, err)
	}

	for provider, name := range envVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			s.env[provider] = v
		}
	}
	return s, nil
}

// Get returns the effective key for provider; the environment wins over the file.
func (s *Store) Get(provider string) (string, Source) {
	if v, ok := s.env[provider]; ok {
		return v, SourceEnv
	}
	if v, ok := s.file[provider]; ok {
		return v, SourceFile
	}
	return "", SourceNone
}

// Has reports whether any key is available for provider.
func (s *Store) Has(provider string) bool {
	_, src := s.Get(provider)
	return src != SourceNone
}

// Save stores secret for provider, replacing any previous value, and rewrites
// the file with mode 0600.
func (s *Store) Save(provider, secret string) error {
	if _, ok := envVars[provider]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("key must not be empty")
	}

	s.file[provider] = secret
	return s.write()
}

// Delete removes the stored key for provider.
func (s *Store) Delete(provider string) error {
	if _, ok := s.file[provider]; !ok {
		return nil
	}
	delete(s.file, provider)
	return s.write()
}

func (s *Store) write() error {
	vars := make(map[string]string, len(s.file))
	for provider, secret := range s.file {
		vars[envVars[provider]] = secret
	}
	body, err := godotenv.Marshal(vars)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if body != "" {
		body += "\n"
	}
	return config.WriteFileAtomic(s.path, []byte(body), 0600)
}

// Entry describes one provider for the `keys` listing.
type Entry struct {
	Provider string
	Masked   string
	Source   Source
}

// List returns every provider with its masked key, in display order.
func (s *Store) List() []Entry {
	out := make([]Entry, 0, len(envVars))
	for _, p := range Providers() {
		v, src := s.Get(p)
		out = append(out, Entry{Provider: p, Masked: Mask(v), Source: src})
	}
	return out
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}
