package config

import (
	"os"
	"path/filepath"
	"testing"
)

// createTempConfigFile creates a settings file in dir for testing
func createTempConfigFile(t *testing.T, dir, content string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configPath := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	return configPath
}

// =============================================================================
// loadSettingsFromPath Tests
// =============================================================================

func TestLoadSettingsFromPath_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := createTempConfigFile(t, tmpDir, `
active_model: claude-3-5-sonnet-latest
active_backend: remote-anthropic
max_tokens: 2048
temperature: 1.2
stream: true
`)

	s, err := loadSettingsFromPath(configPath, DefaultSettings(tmpDir))
	if err != nil {
		t.Fatalf("loadSettingsFromPath() error = %v", err)
	}

	if s.ActiveModel != "claude-3-5-sonnet-latest" {
		t.Errorf("ActiveModel = %q", s.ActiveModel)
	}
	if s.ActiveBackend != "remote-anthropic" {
		t.Errorf("ActiveBackend = %q", s.ActiveBackend)
	}
	if s.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", s.MaxTokens)
	}
	if s.Temperature != 1.2 {
		t.Errorf("Temperature = %v, want 1.2", s.Temperature)
	}
	if !s.Stream {
		t.Error("Stream should be true")
	}
}

func TestLoadSettingsFromPath_MissingKeysKeepDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := createTempConfigFile(t, tmpDir, "active_model: gpt-4o\n")

	s, err := loadSettingsFromPath(configPath, DefaultSettings(tmpDir))
	if err != nil {
		t.Fatalf("loadSettingsFromPath() error = %v", err)
	}
	if s.ActiveSession != "default" {
		t.Errorf("ActiveSession = %q, want default", s.ActiveSession)
	}
	if s.ModelsDir != filepath.Join(tmpDir, "models") {
		t.Errorf("ModelsDir = %q", s.ModelsDir)
	}
}

func TestLoadSettingsFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := createTempConfigFile(t, tmpDir, "max_tokens: [unclosed\n")

	if _, err := loadSettingsFromPath(configPath, DefaultSettings(tmpDir)); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadSettingsFromPath_NotFound(t *testing.T) {
	_, err := loadSettingsFromPath("/nonexistent/path/config.yaml", Settings{})
	if err == nil {
		t.Error("expected error for missing file")
	}
}

// =============================================================================
// GetConfigDirs / ResolveDir Tests
// =============================================================================

func TestGetConfigDirs_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	setEnvForTest(t, EnvConfigDir, tmpDir)

	dirs := GetConfigDirs()
	if len(dirs) != 1 || dirs[0] != tmpDir {
		t.Errorf("GetConfigDirs() = %v, want [%s]", dirs, tmpDir)
	}

	dir, err := ResolveDir()
	if err != nil {
		t.Fatalf("ResolveDir() error = %v", err)
	}
	if dir != tmpDir {
		t.Errorf("ResolveDir() = %q, want %q", dir, tmpDir)
	}
}

func TestGetConfigDirs_Default(t *testing.T) {
	unsetEnvForTest(t, EnvConfigDir)

	dirs := GetConfigDirs()
	if len(dirs) == 0 {
		t.Skip("no user config or home directory available")
	}
	for _, d := range dirs {
		if filepath.Base(d) != "ai-cli" {
			t.Errorf("unexpected config dir %q", d)
		}
	}
}

// =============================================================================
// WriteFileAtomic Tests
// =============================================================================

func TestWriteFileAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "file.txt")

	if err := WriteFileAtomic(path, []byte("one"), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("content = %q, want %q", data, "two")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
