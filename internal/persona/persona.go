// Package persona manages system-prompt presets. Built-in personas are
// copied to personas/<name>.txt the first time they are selected; from then
// on the file wins, so users can edit a built-in in place.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/constants"
)

const fileExt = ".txt"

// Persona is a named system prompt.
type Persona struct {
	Name         string
	SystemPrompt string
	Custom       bool
}

var builtins = map[string]string{
	"default":    constants.DefaultSystemMessage,
	"dev":        "You are a senior software engineer. Give working, idiomatic code with brief explanations. Point out bugs, edge cases and security issues you notice.",
	"researcher": "You are a careful research assistant. Separate established facts from speculation, cite sources when you know them, and say so when you are unsure.",
	"writer":     "You are a skilled editor and writer. Favour clear, vivid prose, match the requested tone and keep the author's voice.",
	"teacher":    "You are a patient teacher. Explain ideas step by step, start from what the learner already knows and check understanding with short examples.",
	"sysadmin":   "You are an experienced Linux systems administrator. Prefer safe, reversible commands, explain what each command does and warn before anything destructive.",
	"security":   "You are a defensive security engineer. Analyse threats, explain vulnerabilities and their mitigations, and focus on protecting systems.",
}

// BuiltinNames returns the built-in persona names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

func validateName(name string) error {
	if !namePattern.MatchString(name) || strings.HasPrefix(name, ".") {
		return apperr.Usagef("invalid persona name %q", name)
	}
	return nil
}

// Store reads and writes personas under dir.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the custom file path for name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

func (s *Store) readCustom(name string) (string, bool, error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read persona %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Get returns the persona, preferring a custom file over a built-in.
func (s *Store) Get(name string) (*Persona, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	prompt, ok, err := s.readCustom(name)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Persona{Name: name, SystemPrompt: prompt, Custom: true}, nil
	}
	if prompt, ok := builtins[name]; ok {
		return &Persona{Name: name, SystemPrompt: prompt}, nil
	}
	return nil, &apperr.Error{
		Kind:    apperr.NotFound,
		Message: fmt.Sprintf("persona %q not found", name),
		Remedy:  "ai persona create " + name,
	}
}

// Materialize resolves name and, for a built-in without a custom copy,
// writes that copy. It is called when a persona is selected.
func (s *Store) Materialize(name string) (*Persona, error) {
	p, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if p.Custom {
		return p, nil
	}
	if err := s.Save(name, p.SystemPrompt); err != nil {
		return nil, err
	}
	p.Custom = true
	return p, nil
}

// Save writes a custom persona, replacing any existing one.
func (s *Store) Save(name, prompt string) error {
	if err := validateName(name); err != nil {
		return err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return apperr.Usagef("persona prompt must not be empty")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create personas directory: %w", err)
	}
	return config.WriteFileAtomic(s.Path(name), []byte(prompt+"\n"), 0o600)
}

// List returns built-ins and custom personas, sorted by name. A custom file
// shadows the built-in of the same name.
func (s *Store) List() ([]Persona, error) {
	byName := map[string]Persona{}
	for name, prompt := range builtins {
		byName[name] = Persona{Name: name, SystemPrompt: prompt}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if e.IsDir() || !ok || validateName(name) != nil {
			continue
		}
		prompt, _, err := s.readCustom(name)
		if err != nil {
			return nil, err
		}
		byName[name] = Persona{Name: name, SystemPrompt: prompt, Custom: true}
	}

	out := make([]Persona, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SystemPrompt returns the prompt for the active persona name, or "" when
// none is set so callers fall back to the default system message.
func (s *Store) SystemPrompt(active string) (string, error) {
	if active == "" {
		return "", nil
	}
	p, err := s.Get(active)
	if err != nil {
		return "", err
	}
	return p.SystemPrompt, nil
}
