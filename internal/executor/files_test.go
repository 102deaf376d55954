package executor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
)

// createTestDir creates a temporary directory that is not under blocked paths.
// On macOS, t.TempDir() returns /var/folders/... which is blocked.
func createTestDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ai-cli-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestIsPathSafe(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantSafe bool
	}{
		{"safe relative path", "out.png", true},
		{"safe absolute path in tmp", "/tmp/out.wav", true},
		{"blocked /etc path", "/etc/passwd", false},
		{"blocked /usr path", "/usr/bin/test", false},
		{"blocked /bin path", "/bin/bash", false},
		{"blocked /var path", "/var/log/test", false},
		{"blocked /sys path", "/sys/test", false},
		{"blocked /proc path", "/proc/1/status", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safe, _ := IsPathSafe(tt.path)
			if safe != tt.wantSafe {
				t.Errorf("IsPathSafe(%q) = %v, want %v", tt.path, safe, tt.wantSafe)
			}
		})
	}
}

func TestCheckOutputPath(t *testing.T) {
	if err := CheckOutputPath("/tmp/image.png"); err != nil {
		t.Errorf("CheckOutputPath(/tmp/image.png) = %v, want nil", err)
	}
	err := CheckOutputPath("/etc/image.png")
	if !apperr.Is(err, apperr.Usage) {
		t.Errorf("CheckOutputPath(/etc/image.png) = %v, want usage error", err)
	}
}

func TestReadFile(t *testing.T) {
	tmpDir := createTestDir(t)
	testFile := filepath.Join(tmpDir, "main.go")
	content := "package main\n\nfunc main() {}\n"
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	t.Run("read existing file", func(t *testing.T) {
		doc, err := ReadFile(testFile)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if doc.Content != content {
			t.Errorf("ReadFile content = %q, want %q", doc.Content, content)
		}
		if doc.Truncated {
			t.Error("small file should not be truncated")
		}
	})

	t.Run("read non-existent file", func(t *testing.T) {
		_, err := ReadFile("/nonexistent/file.txt")
		if !apperr.Is(err, apperr.NotFound) {
			t.Errorf("ReadFile error = %v, want not-found", err)
		}
	})

	t.Run("read directory", func(t *testing.T) {
		_, err := ReadFile(tmpDir)
		if err == nil || !strings.Contains(err.Error(), "directory") {
			t.Errorf("ReadFile error = %v, want directory error", err)
		}
	})

	t.Run("read binary file", func(t *testing.T) {
		bin := filepath.Join(tmpDir, "blob.bin")
		if err := os.WriteFile(bin, []byte{0x7f, 'E', 'L', 'F', 0, 0, 1}, 0644); err != nil {
			t.Fatalf("Failed to create binary file: %v", err)
		}
		_, err := ReadFile(bin)
		if !apperr.Is(err, apperr.Unsupported) {
			t.Errorf("ReadFile error = %v, want unsupported", err)
		}
	})
}

func TestReadFileTruncation(t *testing.T) {
	tmpDir := createTestDir(t)
	testFile := filepath.Join(tmpDir, "large.txt")

	largeContent := strings.Repeat("x", MaxFileSize+1000)
	if err := os.WriteFile(testFile, []byte(largeContent), 0644); err != nil {
		t.Fatalf("Failed to create large test file: %v", err)
	}

	doc, err := ReadFile(testFile)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !doc.Truncated {
		t.Error("Expected file to be truncated")
	}
	if !strings.Contains(doc.Content, "Truncated") {
		t.Error("Expected truncation message in content")
	}
	if doc.Size != int64(MaxFileSize+1000) {
		t.Errorf("Size = %d, want %d", doc.Size, MaxFileSize+1000)
	}
}

func TestReadInput(t *testing.T) {
	tmpDir := createTestDir(t)
	testFile := filepath.Join(tmpDir, "notes.txt")
	if err := os.WriteFile(testFile, []byte("from file"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name     string
		arg      string
		want     string
		wantFile bool
	}{
		{"existing file", testFile, "from file", true},
		{"literal text", "what does defer do?", "what does defer do?", false},
		{"directory is text", tmpDir, tmpDir, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isFile, err := ReadInput(tt.arg)
			if err != nil {
				t.Fatalf("ReadInput(%q) error: %v", tt.arg, err)
			}
			if got != tt.want || isFile != tt.wantFile {
				t.Errorf("ReadInput(%q) = (%q, %v), want (%q, %v)", tt.arg, got, isFile, tt.want, tt.wantFile)
			}
		})
	}
}
