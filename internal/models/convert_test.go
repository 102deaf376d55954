package models

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
)

type call struct {
	name string
	args []string
}

func newTestConverter(t *testing.T, onPath map[string]string) (*Converter, *[]call) {
	t.Helper()
	var calls []call
	c := &Converter{
		Runtime:   "/usr/bin/python3",
		ModelsDir: t.TempDir(),
		LookPath: func(name string) (string, error) {
			if p, ok := onPath[name]; ok {
				return p, nil
			}
			return "", exec.ErrNotFound
		},
		Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, call{name, args})
			return []byte("ok\n"), nil
		},
	}
	return c, &calls
}

func hfDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "TinyLlama")
	writeFile(t, filepath.Join(dir, "config.json"), []byte("{}"))
	return dir
}

func TestConvertDirect(t *testing.T) {
	c, calls := newTestConverter(t, map[string]string{"convert_hf_to_gguf.py": "/opt/llama.cpp/convert_hf_to_gguf.py"})
	src := hfDir(t)

	out, err := c.Convert(context.Background(), ConvertRequest{Path: src, To: "gguf"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.ModelsDir, "TinyLlama-q8_0.gguf"), out)
	assert.Equal(t, []call{{
		name: "/usr/bin/python3",
		args: []string{"/opt/llama.cpp/convert_hf_to_gguf.py", src, "--outfile", out, "--outtype", "q8_0"},
	}}, *calls)
}

func TestConvertKQuant(t *testing.T) {
	c, calls := newTestConverter(t, map[string]string{
		"convert_hf_to_gguf.py": "/opt/convert_hf_to_gguf.py",
		"llama-quantize":        "/opt/llama-quantize",
	})
	src := hfDir(t)

	out, err := c.Convert(context.Background(), ConvertRequest{Path: src, Quant: "Q4_K_M"})
	require.NoError(t, err)
	require.Len(t, *calls, 2)
	intermediate := strings.TrimSuffix(out, ".gguf") + ".f16.gguf"
	assert.Equal(t, []string{"/opt/convert_hf_to_gguf.py", src, "--outfile", intermediate, "--outtype", "f16"}, (*calls)[0].args)
	assert.Equal(t, call{name: "/opt/llama-quantize", args: []string{intermediate, out, "Q4_K_M"}}, (*calls)[1])
	assert.NoFileExists(t, intermediate)
}

func TestConvertScriptFromCheckout(t *testing.T) {
	c, calls := newTestConverter(t, nil)
	checkout := t.TempDir()
	writeFile(t, filepath.Join(checkout, "convert_hf_to_gguf.py"), []byte("# script"))
	c.LlamaCppDir = checkout

	_, err := c.Convert(context.Background(), ConvertRequest{Path: hfDir(t), Quant: "f16"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(checkout, "convert_hf_to_gguf.py"), (*calls)[0].args[0])
}

func TestConvertErrors(t *testing.T) {
	ctx := context.Background()
	withScript := map[string]string{"convert_hf_to_gguf.py": "/opt/convert_hf_to_gguf.py"}

	tests := []struct {
		name   string
		onPath map[string]string
		req    func(t *testing.T) ConvertRequest
		kind   apperr.Kind
	}{
		{"unsupported target", withScript, func(t *testing.T) ConvertRequest { return ConvertRequest{Path: hfDir(t), To: "onnx"} }, apperr.Unsupported},
		{"unknown quant", withScript, func(t *testing.T) ConvertRequest { return ConvertRequest{Path: hfDir(t), Quant: "q9"} }, apperr.Usage},
		{"missing path", withScript, func(t *testing.T) ConvertRequest { return ConvertRequest{Path: "/nonexistent/model"} }, apperr.NotFound},
		{"not a model dir", withScript, func(t *testing.T) ConvertRequest { return ConvertRequest{Path: t.TempDir()} }, apperr.Usage},
		{"no converter", nil, func(t *testing.T) ConvertRequest { return ConvertRequest{Path: hfDir(t)} }, apperr.MissingDependency},
		{"no quantizer", withScript, func(t *testing.T) ConvertRequest { return ConvertRequest{Path: hfDir(t), Quant: "q4_k_m"} }, apperr.MissingDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestConverter(t, tt.onPath)
			_, err := c.Convert(ctx, tt.req(t))
			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestConvertReportsToolOutput(t *testing.T) {
	c, _ := newTestConverter(t, map[string]string{"convert_hf_to_gguf.py": "/opt/convert_hf_to_gguf.py"})
	c.Run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("loading...\nNotImplementedError: Architecture 'Foo' not supported\n"), errors.New("exit status 1")
	}

	_, err := c.Convert(context.Background(), ConvertRequest{Path: hfDir(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Architecture 'Foo' not supported")
}
