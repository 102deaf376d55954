package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/detect"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

// LlamaServer runs llama.cpp's own OpenAI-compatible server for a GGUF
// model instead of the built-in handler.
type LlamaServer struct {
	Binary    detect.Capability
	ModelPath string
	Host      string
	Port      int
	Context   int
	Stdout    io.Writer
	Stderr    io.Writer
}

// Args returns the llama-server command line.
func (l *LlamaServer) Args() []string {
	args := []string{"-m", l.ModelPath, "--host", l.Host, "--port", strconv.Itoa(l.Port)}
	if l.Context > 0 {
		args = append(args, "-c", strconv.Itoa(l.Context))
	}
	return args
}

// Run starts llama-server and waits for it. Cancelling ctx interrupts the
// process and gives it a few seconds to exit.
func (l *LlamaServer) Run(ctx context.Context) error {
	if !l.Binary.Available() {
		return apperr.NewMissingDependency("llama-server", "install llama.cpp and put llama-server on PATH")
	}
	if _, err := os.Stat(l.ModelPath); err != nil {
		return apperr.NotFoundf("model file %s not found", l.ModelPath)
	}

	cmd := exec.CommandContext(ctx, l.Binary.Path, l.Args()...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = shutdownTimeout

	logging.Info("starting llama-server", logging.Fields{"path": l.Binary.Path, "model": l.ModelPath, "port": l.Port})
	err := cmd.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("llama-server exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to run llama-server: %w", err)
	}
	return nil
}
