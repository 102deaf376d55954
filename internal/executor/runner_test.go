package executor

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestLookupLanguage(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"python", "python"},
		{"Py", "python"},
		{"shell", "bash"},
		{"js", "javascript"},
		{"golang", "go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, err := LookupLanguage(tt.name)
			if err != nil {
				t.Fatalf("LookupLanguage(%q) error: %v", tt.name, err)
			}
			if lang.Name != tt.want {
				t.Errorf("LookupLanguage(%q) = %s, want %s", tt.name, lang.Name, tt.want)
			}
		})
	}

	if _, err := LookupLanguage("cobol"); !apperr.Is(err, apperr.Unsupported) {
		t.Errorf("LookupLanguage(cobol) error = %v, want unsupported", err)
	}
}

func TestExtractCode(t *testing.T) {
	python, _ := LookupLanguage("python")

	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "tagged block",
			reply: "Here you go:\n```python\nprint('hi')\n```\nEnjoy.",
			want:  "print('hi')",
		},
		{
			name:  "prefers matching tag",
			reply: "```bash\npip install x\n```\n\n```py\nimport x\n```",
			want:  "import x",
		},
		{
			name:  "untagged block",
			reply: "```\nprint(1)\n```",
			want:  "print(1)",
		},
		{
			name:  "no fence",
			reply: "  print(2)\n",
			want:  "print(2)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCode(tt.reply, python); got != tt.want {
				t.Errorf("ExtractCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun(t *testing.T) {
	requireShell(t)
	bash, _ := LookupLanguage("bash")
	e := NewExecutor()

	t.Run("success", func(t *testing.T) {
		res, err := e.Run(context.Background(), bash, "echo hello\necho world")
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
		if !res.IsSuccess() {
			t.Errorf("expected success, got %s", res.FormatResult())
		}
		if res.Output != "hello\nworld\n" {
			t.Errorf("Output = %q", res.Output)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := e.Run(context.Background(), bash, "echo oops >&2\nexit 3")
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
		if res.ExitCode != 3 || res.IsSuccess() {
			t.Errorf("ExitCode = %d, success = %v", res.ExitCode, res.IsSuccess())
		}
		if !strings.Contains(res.FormatResult(), "oops") || !strings.Contains(res.FormatResult(), "Exit code: 3") {
			t.Errorf("FormatResult() = %q", res.FormatResult())
		}
	})

	t.Run("timeout", func(t *testing.T) {
		short := NewExecutor()
		short.SetTimeout(100 * time.Millisecond)
		res, err := short.Run(context.Background(), bash, "sleep 5")
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
		if res.Error == nil || !strings.Contains(res.Error.Error(), "timed out") {
			t.Errorf("Error = %v, want timeout", res.Error)
		}
	})
}

func TestRunMissingInterpreter(t *testing.T) {
	e := NewExecutor()
	e.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	lua, _ := LookupLanguage("lua")

	_, err := e.Run(context.Background(), lua, "print(1)")
	if !apperr.Is(err, apperr.MissingDependency) {
		t.Errorf("Run error = %v, want missing dependency", err)
	}
}
