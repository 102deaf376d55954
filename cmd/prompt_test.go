package cmd

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
)

func TestSplitKeywords(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantPrompt string
		wantValues map[string]string
		wantErr    bool
	}{
		{
			name:       "prompt only",
			args:       []string{"What", "is", "Go?"},
			wantPrompt: "What is Go?",
			wantValues: map[string]string{},
		},
		{
			name:       "image and file",
			args:       []string{"Describe", "this", "image", "cat.png", "file", "notes.txt"},
			wantPrompt: "Describe this",
			wantValues: map[string]string{"image": "cat.png", "file": "notes.txt"},
		},
		{
			name:       "keyword as first word is prompt text",
			args:       []string{"image", "processing", "basics"},
			wantPrompt: "image processing basics",
			wantValues: map[string]string{},
		},
		{
			name:    "keyword without value",
			args:    []string{"Describe", "image"},
			wantErr: true,
		},
		{
			name:    "empty prompt",
			args:    []string{" "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, values, err := splitKeywords(tt.args, "image", "file")
			if tt.wantErr {
				if !apperr.Is(err, apperr.Usage) {
					t.Fatalf("error = %v, want a usage error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if prompt != tt.wantPrompt {
				t.Errorf("prompt = %q, want %q", prompt, tt.wantPrompt)
			}
			if !reflect.DeepEqual(values, tt.wantValues) {
				t.Errorf("values = %v, want %v", values, tt.wantValues)
			}
		})
	}
}

func TestSplitTranslate(t *testing.T) {
	tests := []struct {
		args     []string
		wantText string
		wantLang string
		wantErr  bool
	}{
		{args: []string{"Good morning", "to", "Japanese"}, wantText: "Good morning", wantLang: "Japanese"},
		{args: []string{"I", "want", "to", "go", "home", "to", "German"}, wantText: "I want to go home", wantLang: "German"},
		{args: []string{"Hello", "TO", "Brazilian", "Portuguese"}, wantText: "Hello", wantLang: "Brazilian Portuguese"},
		{args: []string{"to", "be", "or", "not"}, wantErr: true},
		{args: []string{"Hello", "world", "French"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			text, lang, err := splitTranslate(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("got (%q, %q), want an error", text, lang)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if text != tt.wantText || lang != tt.wantLang {
				t.Errorf("got (%q, %q), want (%q, %q)", text, lang, tt.wantText, tt.wantLang)
			}
		})
	}
}

func TestReadStdin(t *testing.T) {
	t.Run("terminal", func(t *testing.T) {
		app := &App{in: strings.NewReader("x"), stdinIsTTY: func() bool { return true }}
		if _, err := app.readStdin("pipe"); !apperr.Is(err, apperr.Usage) {
			t.Errorf("error = %v, want a usage error", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		app := &App{in: strings.NewReader(" \n\t"), stdinIsTTY: func() bool { return false }}
		if _, err := app.readStdin("pipe"); !apperr.Is(err, apperr.Usage) {
			t.Errorf("error = %v, want a usage error", err)
		}
	})

	t.Run("trimmed", func(t *testing.T) {
		app := &App{in: strings.NewReader("\nhello\n\n"), stdinIsTTY: func() bool { return false }}
		got, err := app.readStdin("pipe")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "hello" {
			t.Errorf("got %q, want %q", got, "hello")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		big := strings.Repeat("a", maxStdinSize+10)
		app := &App{in: strings.NewReader(big), stdinIsTTY: func() bool { return false }}
		got, err := app.readStdin("pipe")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasSuffix(got, "[...truncated...]") {
			t.Errorf("long input was not marked as truncated")
		}
	})

	t.Run("truncated with leading space", func(t *testing.T) {
		big := "   " + strings.Repeat("x", maxStdinSize+10)
		app := &App{in: strings.NewReader(big), stdinIsTTY: func() bool { return false }}
		got, err := app.readStdin("pipe")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := strings.Repeat("x", maxStdinSize-3) + "\n[...truncated...]"
		if got != want {
			t.Errorf("got %d bytes, want %d", len(got), len(want))
		}
	})

	t.Run("truncated inside a rune", func(t *testing.T) {
		big := strings.Repeat("a", maxStdinSize-1) + "é and more"
		app := &App{in: strings.NewReader(big), stdinIsTTY: func() bool { return false }}
		got, err := app.readStdin("pipe")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !utf8.ValidString(got) {
			t.Error("truncation split a UTF-8 sequence")
		}
		if want := strings.Repeat("a", maxStdinSize-1) + "\n[...truncated...]"; got != want {
			t.Errorf("got %d bytes, want %d", len(got), len(want))
		}
	})
}

func TestTrimPartialRune(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"abé", "abé"},
		{"ab\xc3", "ab"},
		{"a\xe2\x82", "a"},
		{"a€", "a€"},
		{"\xf0\x9f\x98", ""},
	}
	for _, tt := range tests {
		if got := string(trimPartialRune([]byte(tt.in))); got != tt.want {
			t.Errorf("trimPartialRune(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEditorCommand(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{"unset", nil, []string{"vi"}},
		{"visual wins", map[string]string{"VISUAL": "code --wait", "EDITOR": "nano"}, []string{"code", "--wait"}},
		{"blank visual", map[string]string{"VISUAL": "  ", "EDITOR": "nano"}, []string{"nano"}},
		{"both blank", map[string]string{"VISUAL": " ", "EDITOR": "\t"}, []string{"vi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := editorCommand(func(k string) string { return tt.env[k] })
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("editorCommand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPipArgs(t *testing.T) {
	got := pipArgs(false, false)
	want := append([]string{"-m", "pip", "install", "--user", "--upgrade"}, pipPackages...)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("pipArgs() = %v, want %v", got, want)
	}

	got = pipArgs(true, true)
	if !slices.Contains(got, "--force-reinstall") {
		t.Errorf("--force did not add --force-reinstall: %v", got)
	}
	i := slices.Index(got, "--extra-index-url")
	if i < 0 || got[i+1] != cpuIndexURL {
		t.Errorf("--cpu-only did not add the CPU index: %v", got)
	}
	if got[len(got)-1] != pipPackages[len(pipPackages)-1] {
		t.Errorf("packages must come last: %v", got)
	}
}

func TestBenchStats(t *testing.T) {
	runs := []benchRun{
		{elapsed: 2 * time.Second, chars: 100},
		{elapsed: 1 * time.Second, chars: 50},
		{elapsed: 3 * time.Second, chars: 300},
	}
	mean, lo, hi := benchStats(runs)
	if mean != 2*time.Second || lo != time.Second || hi != 3*time.Second {
		t.Errorf("benchStats() = %v, %v, %v; want 2s, 1s, 3s", mean, lo, hi)
	}
	if got := charsPerSecond(runs[2]); got != "100" {
		t.Errorf("charsPerSecond() = %q, want 100", got)
	}
	if mean, lo, hi := benchStats(nil); mean != 0 || lo != 0 || hi != 0 {
		t.Errorf("benchStats(nil) should be zero")
	}
}

func TestRunBench(t *testing.T) {
	var calls []int
	results, err := runBench(context.Background(), 3, func(_ context.Context, i int) (string, error) {
		calls = append(calls, i)
		return strings.Repeat("x", i+1), nil
	})
	if err != nil {
		t.Fatalf("runBench() error: %v", err)
	}
	if !reflect.DeepEqual(calls, []int{0, 1, 2}) {
		t.Errorf("calls = %v, want in order", calls)
	}
	if len(results) != 3 || results[2].chars != 3 {
		t.Errorf("results = %+v", results)
	}

	boom := errors.New("boom")
	calls = nil
	_, err = runBench(context.Background(), 5, func(_ context.Context, i int) (string, error) {
		calls = append(calls, i)
		if i == 1 {
			return "", boom
		}
		return "ok", nil
	})
	if !errors.Is(err, boom) || len(calls) != 2 {
		t.Errorf("runBench() = %v after %d calls, want boom after 2", err, len(calls))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runBench(ctx, 3, func(context.Context, int) (string, error) {
		t.Error("complete called on a cancelled context")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("runBench() error = %v, want context.Canceled", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"line one\nline two", 40, "line one line two"},
		{"abcdefghij", 5, "abcd…"},
		{"héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
