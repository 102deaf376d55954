package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerofthesoal/ai-cli/internal/backend"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tiny.gguf"), []byte("GGUF1234"))
	writeFile(t, filepath.Join(dir, "nested", "phi-q4.gguf"), []byte("GGUF"))
	writeFile(t, filepath.Join(dir, "weights.safetensors"), []byte("xx"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))
	writeFile(t, filepath.Join(dir, "half.gguf.part"), []byte("partial"))
	writeFile(t, filepath.Join(dir, "TinyLlama", "config.json"), []byte("{}"))
	writeFile(t, filepath.Join(dir, "TinyLlama", "model.safetensors"), []byte("12345"))
	writeFile(t, filepath.Join(dir, "sd-turbo", "model_index.json"), []byte("{}"))
	writeFile(t, filepath.Join(dir, "sd-turbo", "unet", "config.json"), []byte("{}"))
	writeFile(t, filepath.Join(dir, "sd-turbo", "unet", "diffusion_pytorch_model.safetensors"), []byte("1"))

	got, err := List(dir)
	require.NoError(t, err)

	type row struct {
		Name   string
		Format Format
		Kind   backend.Kind
		Size   int64
	}
	var rows []row
	for _, m := range got {
		rows = append(rows, row{m.Name, m.Format, m.Kind, m.Size})
	}
	assert.Equal(t, []row{
		{"TinyLlama", FormatSnapshot, backend.LocalPyTorch, 7},
		{"nested/phi-q4.gguf", FormatGGUF, backend.LocalGGUF, 4},
		{"sd-turbo", FormatDiffusers, backend.LocalDiffusion, 5},
		{"tiny.gguf", FormatGGUF, backend.LocalGGUF, 8},
		{"weights.safetensors", FormatSafetensors, backend.LocalPyTorch, 2},
	}, rows)
}

func TestListMissingDir(t *testing.T) {
	got, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "4.0 GB", FormatSize(4<<30))
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "1.10B", FormatCount(1_100_048_384))
	assert.Equal(t, "350M", FormatCount(350_000_000))
	assert.Equal(t, "12K", FormatCount(12_000))
	assert.Equal(t, "7", FormatCount(7))
}
