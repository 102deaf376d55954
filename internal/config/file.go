package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/minerofthesoal/ai-cli/internal/constants"
)

// ConfigFileName is the name of the settings file inside the config directory
const ConfigFileName = "config.yaml"

// Settings is the flat, persisted configuration. Field order is the order
// keys appear in config.yaml, so marshalling is deterministic.
type Settings struct {
	ActiveModel    string  `yaml:"active_model"`
	ActiveBackend  string  `yaml:"active_backend"`
	ActiveSession  string  `yaml:"active_session"`
	ActivePersona  string  `yaml:"active_persona"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	Stream         bool    `yaml:"stream"`
	Verbose        bool    `yaml:"verbose"`
	Render         bool    `yaml:"render"`
	RequestTimeout int     `yaml:"request_timeout"`
	ModelsDir      string  `yaml:"models_dir"`
	OutputDir      string  `yaml:"output_dir"`

	// Endpoint overrides for proxies and local test servers
	OpenAIBaseURL    string `yaml:"openai_base_url,omitempty"`
	AnthropicBaseURL string `yaml:"anthropic_base_url,omitempty"`
	GeminiBaseURL    string `yaml:"gemini_base_url,omitempty"`
	HFBaseURL        string `yaml:"hf_base_url,omitempty"`
}

// DefaultSettings returns first-run settings rooted at dir.
func DefaultSettings(dir string) Settings {
	return Settings{
		ActiveModel:    constants.DefaultModel,
		ActiveSession:  constants.DefaultSession,
		MaxTokens:      constants.DefaultMaxTokens,
		Temperature:    constants.DefaultTemperature,
		RequestTimeout: int(constants.DefaultAPITimeout.Seconds()),
		ModelsDir:      filepath.Join(dir, "models"),
		OutputDir:      filepath.Join(dir, "output"),
	}
}

// GetConfigDirs returns the candidate config directories in order of priority
func GetConfigDirs() []string {
	var dirs []string

	// 1. Explicit override
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return []string{dir}
	}

	// 2. User config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(configDir, constants.AppName))
	}

	// 3. Home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(homeDir, ".config", constants.AppName))
	}

	return dirs
}

// ResolveDir picks the first candidate holding a settings file, falling back
// to the highest-priority candidate.
func ResolveDir() (string, error) {
	dirs := GetConfigDirs()
	if len(dirs) == 0 {
		return "", ErrNoConfigDir
	}
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil {
			return dir, nil
		}
	}
	return dirs[0], nil
}

// loadSettingsFromPath loads settings from a specific path. Keys absent from
// the file keep the values already present in base.
func loadSettingsFromPath(path string, base Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	s := base
	if err := yaml.Unmarshal(data, &s); err != nil {
		return base, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return s, nil
}

func marshalSettings(s Settings) ([]byte, error) {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return append([]byte("# ai-cli settings; edit with `ai config <key> <value>`\n"), data...), nil
}

// WriteFileAtomic replaces path with data via a temp file and rename, so a
// crash mid-write never leaves a torn file behind.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
