package executor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
)

// MaxFileSize is the maximum file size read into a prompt (512KB)
const MaxFileSize = 512 * 1024

// sniffSize is how much of a file is checked for NUL bytes
const sniffSize = 8 * 1024

// blockedPaths are system directories that outputs are never written to
var blockedPaths = []string{
	"/etc/", "/usr/", "/bin/", "/sbin/", "/boot/",
	"/sys/", "/proc/", "/dev/", "/var/", "/lib/",
	"/System/", "/Library/", // macOS system paths
}

// Document is a text file read for a prompt.
type Document struct {
	Path      string
	Content   string
	Size      int64
	Truncated bool
}

// IsPathSafe checks if a path is safe to write to.
// Returns (safe, reason) where reason explains why the path is blocked.
func IsPathSafe(path string) (bool, string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, "invalid path"
	}

	// Resolve symlinks so /etc -> /private/etc style links are caught.
	// A path that does not exist yet is resolved through its parent.
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	} else if resolvedDir, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(resolvedDir, filepath.Base(absPath))
	}

	for _, blocked := range blockedPaths {
		if strings.HasPrefix(absPath, blocked) || strings.HasPrefix(absPath, "/private"+blocked) {
			return false, fmt.Sprintf("path %s is protected", blocked)
		}
	}
	return true, ""
}

// CheckOutputPath returns a usage error when path must not be written.
func CheckOutputPath(path string) error {
	if safe, reason := IsPathSafe(path); !safe {
		return apperr.Usagef("refusing to write %s: %s", path, reason)
	}
	return nil
}

// ReadFile reads a text file for use in a prompt. Files larger than
// MaxFileSize are truncated; binary files are rejected.
func ReadFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFoundf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, apperr.Usagef("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if bytes.IndexByte(data[:min(len(data), sniffSize)], 0) >= 0 {
		return nil, apperr.Unsupportedf("%s looks like a binary file", path)
	}

	doc := &Document{Path: path, Content: string(data), Size: info.Size()}
	if info.Size() > MaxFileSize {
		doc.Truncated = true
		doc.Content += fmt.Sprintf("\n\n[Truncated: file is %d bytes, showing first 512KB]", info.Size())
	}
	return doc, nil
}

// ReadInput treats arg as a file path when such a file exists and as
// literal text otherwise. It reports whether a file was read.
func ReadInput(arg string) (string, bool, error) {
	info, err := os.Stat(arg)
	if err != nil || info.IsDir() {
		return arg, false, nil
	}
	doc, err := ReadFile(arg)
	if err != nil {
		return "", false, err
	}
	return doc.Content, true, nil
}
