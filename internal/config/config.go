// Package config persists the active model, backend, session, persona and
// sampling parameters between invocations.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/minerofthesoal/ai-cli/internal/backend"
)

// Environment variable names
const (
	EnvConfigDir = "AI_CLI_CONFIG_DIR"
	EnvModelsDir = "AI_CLI_MODELS_DIR"
	EnvOutputDir = "AI_CLI_OUTPUT_DIR"
)

// sessionName mirrors session.ValidateName; session imports config.
var sessionName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Errors
var (
	ErrNoConfigDir    = errors.New("could not determine config directory; set AI_CLI_CONFIG_DIR")
	ErrUnknownKey     = errors.New("unknown config key")
	ErrInvalidValue   = errors.New("invalid config value")
	ErrInvalidBackend = errors.New("invalid backend")
)

// Sub-paths of the config directory
const (
	CredentialsFileName = "credentials.env"
	HistoryFileName     = "history.jsonl"
	SessionsDirName     = "sessions"
	PersonasDirName     = "personas"
)

// Store owns config.yaml. It keeps the persisted settings apart from the
// effective ones so environment overrides are never written back.
type Store struct {
	dir       string
	path      string
	persisted Settings
	effective Settings
}

// Load opens the store rooted at dir, creating it with defaults on first run.
// An empty dir resolves the default location.
func Load(dir string) (*Store, error) {
	if dir == "" {
		resolved, err := ResolveDir()
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	s := &Store{
		dir:  dir,
		path: filepath.Join(dir, ConfigFileName),
	}

	defaults := DefaultSettings(dir)
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		s.persisted = defaults
		if err := s.save(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := loadSettingsFromPath(s.path, defaults)
		if err != nil {
			return nil, err
		}
		s.persisted = loaded
	}

	s.applyEnv()
	return s, nil
}

// applyEnv recomputes the effective settings: persisted values with
// environment overrides layered on top.
func (s *Store) applyEnv() {
	s.effective = s.persisted
	if v := os.Getenv(EnvModelsDir); v != "" {
		s.effective.ModelsDir = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		s.effective.OutputDir = v
	}
}

func (s *Store) save() error {
	data, err := marshalSettings(s.persisted)
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.path, data, 0600)
}

// Settings returns the effective settings.
func (s *Store) Settings() Settings {
	return s.effective
}

// Dir returns the config directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// CredentialsPath returns the credentials file path.
func (s *Store) CredentialsPath() string { return filepath.Join(s.dir, CredentialsFileName) }

// HistoryPath returns the interaction log path.
func (s *Store) HistoryPath() string { return filepath.Join(s.dir, HistoryFileName) }

// SessionsDir returns the sessions directory.
func (s *Store) SessionsDir() string { return filepath.Join(s.dir, SessionsDirName) }

// PersonasDir returns the custom personas directory.
func (s *Store) PersonasDir() string { return filepath.Join(s.dir, PersonasDirName) }

// KeyValue is one rendered setting.
type KeyValue struct {
	Key   string
	Value string
}

type field struct {
	key string
	get func(*Settings) string
	set func(*Settings, string) error
}

func stringField(key string, ptr func(*Settings) *string) field {
	return field{
		key: key,
		get: func(s *Settings) string { return *ptr(s) },
		set: func(s *Settings, v string) error { *ptr(s) = v; return nil },
	}
}

func boolField(key string, ptr func(*Settings) *bool) field {
	return field{
		key: key,
		get: func(s *Settings) string { return strconv.FormatBool(*ptr(s)) },
		set: func(s *Settings, v string) error {
			b, err := parseBool(v)
			if err != nil {
				return err
			}
			*ptr(s) = b
			return nil
		},
	}
}

var fields = []field{
	stringField("active_model", func(s *Settings) *string { return &s.ActiveModel }),
	{
		key: "active_backend",
		get: func(s *Settings) string { return s.ActiveBackend },
		set: func(s *Settings, v string) error {
			if v == "" || v == "auto" {
				s.ActiveBackend = ""
				return nil
			}
			k, err := backend.ParseKind(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidBackend, err)
			}
			s.ActiveBackend = string(k)
			return nil
		},
	},
	{
		key: "active_session",
		get: func(s *Settings) string { return s.ActiveSession },
		set: func(s *Settings, v string) error {
			if v == "" {
				return fmt.Errorf("%w: active_session cannot be empty", ErrInvalidValue)
			}
			if !sessionName.MatchString(v) || strings.HasPrefix(v, ".") {
				return fmt.Errorf("%w: active_session %q is not a valid session name", ErrInvalidValue, v)
			}
			s.ActiveSession = v
			return nil
		},
	},
	stringField("active_persona", func(s *Settings) *string { return &s.ActivePersona }),
	{
		key: "max_tokens",
		get: func(s *Settings) string { return strconv.Itoa(s.MaxTokens) },
		set: func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: max_tokens must be a positive integer", ErrInvalidValue)
			}
			s.MaxTokens = n
			return nil
		},
	},
	{
		key: "temperature",
		get: func(s *Settings) string { return strconv.FormatFloat(s.Temperature, 'g', -1, 64) },
		set: func(s *Settings, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 2 {
				return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidValue)
			}
			s.Temperature = f
			return nil
		},
	},
	boolField("stream", func(s *Settings) *bool { return &s.Stream }),
	boolField("verbose", func(s *Settings) *bool { return &s.Verbose }),
	boolField("render", func(s *Settings) *bool { return &s.Render }),
	{
		key: "request_timeout",
		get: func(s *Settings) string { return strconv.Itoa(s.RequestTimeout) },
		set: func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: request_timeout must be a positive number of seconds", ErrInvalidValue)
			}
			s.RequestTimeout = n
			return nil
		},
	},
	stringField("models_dir", func(s *Settings) *string { return &s.ModelsDir }),
	stringField("output_dir", func(s *Settings) *string { return &s.OutputDir }),
	stringField("openai_base_url", func(s *Settings) *string { return &s.OpenAIBaseURL }),
	stringField("anthropic_base_url", func(s *Settings) *string { return &s.AnthropicBaseURL }),
	stringField("gemini_base_url", func(s *Settings) *string { return &s.GeminiBaseURL }),
	stringField("hf_base_url", func(s *Settings) *string { return &s.HFBaseURL }),
}

func lookup(key string) (field, bool) {
	key = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Keys returns every settable key in file order.
func Keys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	return keys
}

// Get returns the effective value of key.
func (s *Store) Get(key string) (string, error) {
	f, ok := lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(&s.effective), nil
}

// List returns all effective settings in file order. It never writes.
func (s *Store) List() []KeyValue {
	out := make([]KeyValue, len(fields))
	for i, f := range fields {
		out[i] = KeyValue{Key: f.key, Value: f.get(&s.effective)}
	}
	return out
}

// Set validates and persists one setting. It reports whether the persisted
// file changed; setting a key to its current value leaves the file untouched.
func (s *Store) Set(key, value string) (bool, error) {
	f, ok := lookup(key)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	next := s.persisted
	if err := f.set(&next, strings.TrimSpace(value)); err != nil {
		return false, err
	}

	before, err := marshalSettings(s.persisted)
	if err != nil {
		return false, err
	}
	after, err := marshalSettings(next)
	if err != nil {
		return false, err
	}
	if bytes.Equal(before, after) {
		return false, nil
	}

	s.persisted = next
	if err := s.save(); err != nil {
		return false, err
	}
	s.applyEnv()
	return true, nil
}

// Clamp returns a copy with sampling parameters forced into range. It is
// applied once before dispatch; adapters forward values verbatim.
func (c Settings) Clamp() Settings {
	if c.MaxTokens < 1 {
		c.MaxTokens = 1
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Temperature > 2 {
		c.Temperature = 2
	}
	if c.RequestTimeout < 1 {
		c.RequestTimeout = 1
	}
	return c
}

// Timeout returns the request timeout as a duration.
func (c Settings) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// BackendEnv builds the resolver environment for these settings.
func (c Settings) BackendEnv(hasHFToken bool) backend.Env {
	return backend.Env{
		ModelsDir:  c.ModelsDir,
		FileExists: backend.OSFileExists,
		HasHFToken: hasHFToken,
	}
}

// Backend returns the effective backend for the active model.
func (c Settings) Backend(hasHFToken bool) backend.Kind {
	return backend.Effective(c.ActiveBackend, c.ActiveModel, c.BackendEnv(hasHFToken))
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected true/false, got %q", ErrInvalidValue, v)
}
