// Package detect finds the Python runtime and optional local inference
// binaries. Absence is a normal result, never an error.
package detect

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

// Status is the outcome of a capability check.
type Status int

const (
	// Absent means nothing usable was found.
	Absent Status = iota
	// Present means an executable was found at Path.
	Present
	// InProcess means no CLI binary exists but the library is importable by
	// the runtime at Path.
	InProcess
)

func (s Status) String() string {
	switch s {
	case Present:
		return "present"
	case InProcess:
		return "in-process"
	default:
		return "absent"
	}
}

// Capability is a typed detection result.
type Capability struct {
	Status Status
	Path   string
}

// Available reports whether the capability can be used in any form.
func (c Capability) Available() bool { return c.Status != Absent }

func (c Capability) String() string {
	if c.Status == Absent {
		return "absent"
	}
	return c.Status.String() + " (" + c.Path + ")"
}

// Candidate lists, in preference order.
var (
	RuntimeCandidates        = []string{"python3.12", "python3.11", "python3.10", "python3", "python"}
	LocalInferenceCandidates = []string{"llama-cli", "llama", "main", "llama-cpp"}
	ServerCandidates         = []string{"llama-server", "server"}
	SpeechCandidates         = []string{"espeak-ng", "espeak"}
)

// MinMinor is the lowest accepted Python 3 minor version.
const MinMinor = 10

// Detector runs detections. The function fields exist so tests can fake the
// filesystem and process table.
type Detector struct {
	LookPath func(file string) (string, error)
	Output   func(ctx context.Context, name string, args ...string) ([]byte, error)
	Timeout  time.Duration
}

// New returns a Detector backed by os/exec.
func New() *Detector {
	return &Detector{
		LookPath: exec.LookPath,
		Output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
		Timeout: constants.DefaultDetectTimeout,
	}
}

var versionRe = regexp.MustCompile(`Python\s+(\d+)\.(\d+)`)

// ParsePythonVersion extracts major and minor from `python --version` output.
func ParsePythonVersion(out string) (major, minor int, ok bool) {
	m := versionRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor, true
}

func (p *Detector) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return p.Output(ctx, name, args...)
}

// DetectRuntime returns the first Python candidate reporting 3.x with x >= 10.
func (p *Detector) DetectRuntime(ctx context.Context) Capability {
	for _, name := range RuntimeCandidates {
		path, err := p.LookPath(name)
		if err != nil {
			continue
		}
		out, err := p.run(ctx, path, "--version")
		if err != nil {
			logging.Debug("runtime candidate failed", logging.Fields{"path": path, "error": err.Error()})
			continue
		}
		major, minor, ok := ParsePythonVersion(string(out))
		if !ok || major != 3 || minor < MinMinor {
			logging.Debug("runtime candidate rejected", logging.Fields{"path": path, "version": strings.TrimSpace(string(out))})
			continue
		}
		return Capability{Status: Present, Path: path}
	}
	return Capability{}
}

// DetectLocalInference looks for a llama.cpp CLI, falling back to the
// llama_cpp Python binding under runtime.
func (p *Detector) DetectLocalInference(ctx context.Context, runtime Capability) Capability {
	if c := p.firstOnPath(LocalInferenceCandidates); c.Available() {
		return c
	}
	if p.HasModule(ctx, runtime, "llama_cpp") {
		return Capability{Status: InProcess, Path: runtime.Path}
	}
	return Capability{}
}

// DetectServerBinary looks for llama-server.
func (p *Detector) DetectServerBinary() Capability {
	return p.firstOnPath(ServerCandidates)
}

// DetectSpeechBinary looks for an offline speech synthesizer.
func (p *Detector) DetectSpeechBinary() Capability {
	return p.firstOnPath(SpeechCandidates)
}

// DetectTool looks up a single named executable.
func (p *Detector) DetectTool(name string) Capability {
	return p.firstOnPath([]string{name})
}

// HasModule reports whether runtime can import module.
func (p *Detector) HasModule(ctx context.Context, runtime Capability, module string) bool {
	if runtime.Status != Present {
		return false
	}
	_, err := p.run(ctx, runtime.Path, "-c", "import "+module)
	return err == nil
}

func (p *Detector) firstOnPath(names []string) Capability {
	for _, name := range names {
		if path, err := p.LookPath(name); err == nil {
			return Capability{Status: Present, Path: path}
		}
	}
	return Capability{}
}

// Modules checked by `ai status`.
var StatusModules = []string{"torch", "transformers", "diffusers", "llama_cpp", "whisper"}

// Report is the full environment snapshot shown by `ai status`.
type Report struct {
	Runtime        Capability
	LocalInference Capability
	Server         Capability
	Speech         Capability
	Modules        map[string]bool
}

// Report runs every check.
func (p *Detector) Report(ctx context.Context) Report {
	r := Report{
		Runtime: p.DetectRuntime(ctx),
		Server:  p.DetectServerBinary(),
		Speech:  p.DetectSpeechBinary(),
		Modules: map[string]bool{},
	}
	r.LocalInference = p.DetectLocalInference(ctx, r.Runtime)
	for _, m := range StatusModules {
		r.Modules[m] = p.HasModule(ctx, r.Runtime, m)
	}
	return r
}
