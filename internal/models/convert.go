package models

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

// DefaultQuant is the output type used when convert is given none.
const DefaultQuant = "q8_0"

// Output types the llama.cpp converter writes directly.
var directQuants = []string{"f32", "f16", "bf16", "q8_0"}

// Types that need a llama-quantize pass over an f16 intermediate.
var kQuants = []string{"q2_k", "q3_k_m", "q4_0", "q4_k_s", "q4_k_m", "q5_0", "q5_k_s", "q5_k_m", "q6_k"}

// Quantizations lists every accepted --quant value.
func Quantizations() []string {
	return append(append([]string{}, directQuants...), kQuants...)
}

// Converter script names on PATH or in a llama.cpp checkout.
var convertScripts = []string{"convert_hf_to_gguf.py", "convert-hf-to-gguf.py"}

// Quantizer binary names.
var quantizeBinaries = []string{"llama-quantize", "quantize"}

// ConvertRequest describes one conversion.
type ConvertRequest struct {
	Path  string
	To    string
	Quant string
	Out   string
}

// Converter turns a Hugging Face model directory into a GGUF file using
// llama.cpp's tooling.
type Converter struct {
	// Runtime is the Python interpreter that runs the converter script.
	Runtime   string
	ModelsDir string
	// LlamaCppDir is a llama.cpp checkout searched for the converter script.
	LlamaCppDir string
	LookPath    func(string) (string, error)
	Run         func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewConverter returns a converter that runs real processes.
func NewConverter(runtime, modelsDir string) *Converter {
	return &Converter{
		Runtime:     runtime,
		ModelsDir:   modelsDir,
		LlamaCppDir: os.Getenv("LLAMA_CPP_DIR"),
		LookPath:    exec.LookPath,
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Convert writes a GGUF file and returns its path.
func (c *Converter) Convert(ctx context.Context, r ConvertRequest) (string, error) {
	if to := strings.ToLower(r.To); to != "" && to != "gguf" {
		return "", apperr.Unsupportedf("cannot convert to %q: only gguf is supported", r.To)
	}
	quant := strings.ToLower(r.Quant)
	if quant == "" {
		quant = DefaultQuant
	}
	if !contains(Quantizations(), quant) {
		return "", apperr.Usagef("unknown quantization %q (choose from %s)", r.Quant, strings.Join(Quantizations(), ", "))
	}

	info, err := os.Stat(r.Path)
	if err != nil {
		return "", apperr.NotFoundf("model not found: %s", r.Path)
	}
	if !info.IsDir() || !fileExists(filepath.Join(r.Path, configFile)) {
		return "", apperr.Usagef("%s is not a Hugging Face model directory (expected %s inside)", r.Path, configFile)
	}

	out := r.Out
	if out == "" {
		out = filepath.Join(c.ModelsDir, filepath.Base(filepath.Clean(r.Path))+"-"+quant+".gguf")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(out), err)
	}

	if c.Runtime == "" {
		return "", apperr.NewMissingDependency("python", "install Python 3.10 or newer")
	}
	script, err := c.findScript()
	if err != nil {
		return "", err
	}

	if contains(directQuants, quant) {
		if err := c.run(ctx, c.Runtime, script, r.Path, "--outfile", out, "--outtype", quant); err != nil {
			return "", err
		}
		return out, nil
	}

	quantize, err := c.firstOnPath(quantizeBinaries)
	if err != nil {
		return "", apperr.NewMissingDependency("llama-quantize", "install llama.cpp to quantize to "+quant)
	}
	intermediate := strings.TrimSuffix(out, ".gguf") + ".f16.gguf"
	defer func() { _ = os.Remove(intermediate) }()
	if err := c.run(ctx, c.Runtime, script, r.Path, "--outfile", intermediate, "--outtype", "f16"); err != nil {
		return "", err
	}
	if err := c.run(ctx, quantize, intermediate, out, strings.ToUpper(quant)); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Converter) run(ctx context.Context, name string, args ...string) error {
	logging.Debug("running converter", logging.Fields{"command": name, "args": strings.Join(args, " ")})
	out, err := c.Run(ctx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := lastLine(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s failed: %s", filepath.Base(name), msg)
	}
	return nil
}

func (c *Converter) findScript() (string, error) {
	if p, err := c.firstOnPath(convertScripts); err == nil {
		return p, nil
	}
	if c.LlamaCppDir != "" {
		for _, s := range convertScripts {
			if p := filepath.Join(c.LlamaCppDir, s); fileExists(p) {
				return p, nil
			}
		}
	}
	return "", apperr.NewMissingDependency(convertScripts[0], "clone llama.cpp and set LLAMA_CPP_DIR to the checkout")
}

func (c *Converter) firstOnPath(names []string) (string, error) {
	var lastErr error
	for _, n := range names {
		p, err := c.LookPath(n)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
