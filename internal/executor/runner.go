package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

// MaxOutputSize caps captured program output (64KB)
const MaxOutputSize = 64 * 1024

// Language describes how to run source in one language.
type Language struct {
	Name string
	Ext  string
	// Interpreters are tried in order; the file path is appended to the first found.
	Interpreters [][]string
	Shell        bool
}

var languages = []Language{
	{Name: "python", Ext: ".py", Interpreters: [][]string{{"python3"}, {"python"}}},
	{Name: "bash", Ext: ".sh", Interpreters: [][]string{{"bash"}, {"sh"}}, Shell: true},
	{Name: "javascript", Ext: ".js", Interpreters: [][]string{{"node"}}},
	{Name: "go", Ext: ".go", Interpreters: [][]string{{"go", "run"}}},
	{Name: "ruby", Ext: ".rb", Interpreters: [][]string{{"ruby"}}},
	{Name: "perl", Ext: ".pl", Interpreters: [][]string{{"perl"}}},
	{Name: "lua", Ext: ".lua", Interpreters: [][]string{{"lua"}}},
}

var languageAliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"sh":      "bash",
	"shell":   "bash",
	"zsh":     "bash",
	"js":      "javascript",
	"node":    "javascript",
	"golang":  "go",
	"rb":      "ruby",
	"pl":      "perl",
}

// LanguageNames returns the runnable language names, sorted.
func LanguageNames() []string {
	names := make([]string, len(languages))
	for i, l := range languages {
		names[i] = l.Name
	}
	sort.Strings(names)
	return names
}

// LookupLanguage finds a runnable language by name or alias.
func LookupLanguage(name string) (Language, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := languageAliases[key]; ok {
		key = alias
	}
	for _, l := range languages {
		if l.Name == key {
			return l, nil
		}
	}
	return Language{}, apperr.Unsupportedf("cannot run %q code (runnable: %s)", name, strings.Join(LanguageNames(), ", "))
}

var fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")

// ExtractCode returns the code in reply: the first fenced block tagged for
// lang, else the first fenced block, else the whole reply trimmed.
func ExtractCode(reply string, lang Language) string {
	blocks := fenceRe.FindAllStringSubmatch(reply, -1)
	if len(blocks) == 0 {
		return strings.TrimSpace(reply)
	}
	for _, b := range blocks {
		if tag := b[1]; tag != "" {
			if l, err := LookupLanguage(tag); err == nil && l.Name == lang.Name {
				return strings.TrimSpace(b[2])
			}
		}
	}
	return strings.TrimSpace(blocks[0][2])
}

// ExecutionResult is the outcome of one run.
type ExecutionResult struct {
	Output    string
	Error     error
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// IsSuccess reports whether the program exited cleanly.
func (r *ExecutionResult) IsSuccess() bool {
	return r.Error == nil && r.ExitCode == 0
}

// FormatResult renders the result for display.
func (r *ExecutionResult) FormatResult() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(r.Output, "\n"))
	if r.Truncated {
		sb.WriteString("\n[Truncated: output exceeded 64KB]")
	}
	if !r.IsSuccess() {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if r.Error != nil {
			fmt.Fprintf(&sb, "Error: %v", r.Error)
		} else {
			fmt.Fprintf(&sb, "Exit code: %d", r.ExitCode)
		}
	}
	return sb.String()
}

// Executor runs generated code in a scratch directory.
type Executor struct {
	timeout     time.Duration
	permissions *PermissionManager
	lookPath    func(string) (string, error)
}

// NewExecutor returns an executor with the default timeout.
func NewExecutor() *Executor {
	return &Executor{
		timeout:     constants.DefaultCommandTimeout,
		permissions: NewPermissionManager(),
		lookPath:    exec.LookPath,
	}
}

// GetPermissionManager returns the permission manager.
func (e *Executor) GetPermissionManager() PermissionChecker { return e.permissions }

// SetTimeout sets the execution timeout.
func (e *Executor) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.timeout = timeout
	}
}

func (e *Executor) interpreter(lang Language) ([]string, error) {
	for _, cand := range lang.Interpreters {
		if path, err := e.lookPath(cand[0]); err == nil {
			return append([]string{path}, cand[1:]...), nil
		}
	}
	if len(lang.Interpreters) == 0 {
		return nil, apperr.Unsupportedf("no interpreter configured for %s", lang.Name)
	}
	tool := lang.Interpreters[0][0]
	return nil, apperr.NewMissingDependency(tool, "install "+tool+" and make sure it is on PATH")
}

// Run writes code to a scratch file and executes it. A non-zero exit or a
// timeout is reported in the result; the error is for failures to start.
func (e *Executor) Run(ctx context.Context, lang Language, code string) (*ExecutionResult, error) {
	argv, err := e.interpreter(lang)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "ai-code-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	file := filepath.Join(dir, "main"+lang.Ext)
	if err := os.WriteFile(file, []byte(code+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], append(argv[1:], file)...)
	cmd.Dir = dir
	// Children that outlive the interpreter keep the output pipe open
	cmd.WaitDelay = time.Second
	logging.Debug("running generated code", logging.Fields{"language": lang.Name, "interpreter": argv[0]})

	start := time.Now()
	out, runErr := cmd.CombinedOutput()
	result := &ExecutionResult{Duration: time.Since(start)}
	if len(out) > MaxOutputSize {
		out = out[:MaxOutputSize]
		result.Truncated = true
	}
	result.Output = string(out)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.Error = fmt.Errorf("timed out after %s", e.timeout)
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if runErr != nil {
		return nil, fmt.Errorf("failed to run %s: %w", lang.Name, runErr)
	}
	return result, nil
}
