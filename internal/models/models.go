// Package models manages local model files: listing what is under the
// models directory, inspecting a model, downloading from the Hugging Face
// hub and converting checkpoints to GGUF.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yargevad/filepathx"

	"github.com/minerofthesoal/ai-cli/internal/backend"
)

// Format is the on-disk layout of a model.
type Format string

const (
	FormatGGUF        Format = "gguf"
	FormatSafetensors Format = "safetensors"
	FormatPyTorch     Format = "pytorch"
	FormatSnapshot    Format = "snapshot"
	FormatDiffusers   Format = "diffusers"
)

// Marker files of a Hugging Face model directory.
const (
	configFile     = "config.json"
	modelIndexFile = "model_index.json"
	partialExt     = ".part"
)

var fileFormats = map[string]Format{
	".gguf":        FormatGGUF,
	".ggml":        FormatGGUF,
	".bin":         FormatGGUF,
	".safetensors": FormatSafetensors,
	".pt":          FormatPyTorch,
	".pth":         FormatPyTorch,
}

// Model is one entry of the models directory.
type Model struct {
	Name    string // path relative to the models directory, usable as a model id
	Path    string
	Format  Format
	Kind    backend.Kind
	Size    int64
	ModTime time.Time
}

// Kind returns the backend that runs a model of this format.
func (f Format) Kind() backend.Kind {
	switch f {
	case FormatGGUF:
		return backend.LocalGGUF
	case FormatDiffusers:
		return backend.LocalDiffusion
	default:
		return backend.LocalPyTorch
	}
}

// List returns the models under dir, sorted by name. Hugging Face model
// directories are listed once, as a whole; loose weight files by extension.
// A missing dir lists nothing.
func List(dir string) ([]Model, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	matches, err := filepathx.Glob(filepath.Join(dir, "**", "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(matches)

	var roots []string
	var out []Model
	for _, p := range matches {
		if p == dir || underAny(p, roots) {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		if info.IsDir() {
			format, ok := snapshotFormat(p)
			if !ok {
				continue
			}
			roots = append(roots, p)
			size, mod := dirStats(p)
			out = append(out, newModel(dir, p, format, size, mod))
			continue
		}
		if strings.HasSuffix(p, partialExt) {
			continue
		}
		format, ok := fileFormats[strings.ToLower(filepath.Ext(p))]
		if !ok {
			continue
		}
		out = append(out, newModel(dir, p, format, info.Size(), info.ModTime()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func newModel(root, path string, format Format, size int64, mod time.Time) Model {
	name, err := filepath.Rel(root, path)
	if err != nil {
		name = path
	}
	return Model{
		Name:    filepath.ToSlash(name),
		Path:    path,
		Format:  format,
		Kind:    format.Kind(),
		Size:    size,
		ModTime: mod,
	}
}

// snapshotFormat reports whether dir is a Hugging Face model directory.
func snapshotFormat(dir string) (Format, bool) {
	if fileExists(filepath.Join(dir, modelIndexFile)) {
		return FormatDiffusers, true
	}
	if fileExists(filepath.Join(dir, configFile)) {
		return FormatSnapshot, true
	}
	return "", false
}

func underAny(path string, roots []string) bool {
	for _, r := range roots {
		if strings.HasPrefix(path, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// dirStats returns the total size and newest modification time under dir.
func dirStats(dir string) (int64, time.Time) {
	var size int64
	var newest time.Time
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
			if info.ModTime().After(newest) {
				newest = info.ModTime()
			}
		}
		return nil
	})
	return size, newest
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FormatSize renders a byte count for display.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatCount renders a parameter count such as 1.10B or 350M.
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.0fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.0fK", float64(n)/1e3)
	}
	return fmt.Sprintf("%d", n)
}
