package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/display"
)

// testEnv points the CLI at a fresh config directory with no provider keys.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvConfigDir, dir)
	t.Setenv(config.EnvModelsDir, "")
	t.Setenv(config.EnvOutputDir, "")
	for _, env := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "HF_TOKEN"} {
		t.Setenv(env, "")
	}
	return dir
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// runCLI runs one invocation with a fresh App, the way main does.
func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	oldOut, oldErr := display.Stdout, display.Stderr
	display.Stdout, display.Stderr = &stdout, &stderr
	defer func() { display.Stdout, display.Stderr = oldOut, oldErr }()

	app := NewApp()
	app.in = strings.NewReader(stdin)
	app.stdinIsTTY = func() bool { return false }

	root := app.newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	res := runCLI(t, "", args...)
	if res.err != nil {
		t.Fatalf("ai %s: %v\nstderr: %s", strings.Join(args, " "), res.err, res.stderr)
	}
	return res.stdout
}

// fakeOpenAI answers chat completions with reply and records request bodies.
func fakeOpenAI(t *testing.T, reply string) (*httptest.Server, *atomic.Int32, *[]string) {
	t.Helper()
	var (
		hits   atomic.Int32
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, &bodies
}

func TestAskWithoutKeyMakesNoRequest(t *testing.T) {
	testEnv(t)
	srv, hits, _ := fakeOpenAI(t, "4")

	mustRun(t, "config", "openai_base_url", srv.URL)
	mustRun(t, "model", "gpt-4o")

	res := runCLI(t, "", "ask", "2+2?")
	if res.err == nil {
		t.Fatal("ask without a key should fail")
	}
	if got := apperr.KindOf(res.err); got != apperr.MissingCredential {
		t.Errorf("error kind = %v, want %v (%v)", got, apperr.MissingCredential, res.err)
	}
	if !strings.Contains(apperr.RemedyOf(res.err), "ai download openai") {
		t.Errorf("remedy = %q, want the download command", apperr.RemedyOf(res.err))
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("server received %d requests, want 0", n)
	}
}

func TestAskWithKey(t *testing.T) {
	testEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789")
	srv, hits, bodies := fakeOpenAI(t, "The answer is 4.")

	mustRun(t, "config", "openai_base_url", srv.URL)
	mustRun(t, "model", "gpt-4o")

	out := mustRun(t, "ask", "2+2?")
	if !strings.Contains(out, "The answer is 4.") {
		t.Errorf("stdout = %q, want the reply", out)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
	if !strings.Contains((*bodies)[0], `"model":"gpt-4o"`) || !strings.Contains((*bodies)[0], "2+2?") {
		t.Errorf("request body = %s", (*bodies)[0])
	}

	out = mustRun(t, "history", "--search", "2+2")
	if !strings.Contains(out, "ask") || !strings.Contains(out, "gpt-4o") {
		t.Errorf("history = %q, want the ask entry", out)
	}
}

func TestModelOverrideFlag(t *testing.T) {
	testEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")
	mustRun(t, "model", "tiny.gguf")

	res := runCLI(t, "", "-m", "claude-3-5-sonnet-latest", "ask", "hi")
	if got := apperr.KindOf(res.err); got != apperr.MissingCredential {
		t.Fatalf("error kind = %v, want %v (%v)", got, apperr.MissingCredential, res.err)
	}

	// The override is not persisted.
	if got := strings.TrimSpace(mustRun(t, "config", "active_model")); got != "tiny.gguf" {
		t.Errorf("active_model = %q, want tiny.gguf", got)
	}
}

func TestModelCommand(t *testing.T) {
	testEnv(t)

	tests := []struct {
		name        string
		args        []string
		wantModel   string
		wantBackend string
		wantErr     bool
	}{
		{name: "derived backend", args: []string{"model", "gpt-4o"}, wantModel: "gpt-4o", wantBackend: ""},
		{name: "explicit backend", args: []string{"model", "my-finetune", "pytorch"}, wantModel: "my-finetune", wantBackend: "local-pytorch"},
		{name: "explicit cleared", args: []string{"model", "tiny.gguf"}, wantModel: "tiny.gguf", wantBackend: ""},
		{name: "bad backend", args: []string{"model", "x", "quantum"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, "", tt.args...)
			if tt.wantErr {
				if res.err == nil || apperr.KindOf(res.err) != apperr.Usage {
					t.Fatalf("error = %v, want a usage error", res.err)
				}
				return
			}
			if res.err != nil {
				t.Fatalf("unexpected error: %v", res.err)
			}
			if got := strings.TrimSpace(mustRun(t, "config", "active_model")); got != tt.wantModel {
				t.Errorf("active_model = %q, want %q", got, tt.wantModel)
			}
			if got := strings.TrimSpace(mustRun(t, "config", "active_backend")); got != tt.wantBackend {
				t.Errorf("active_backend = %q, want %q", got, tt.wantBackend)
			}
		})
	}
}

func TestBackendAuto(t *testing.T) {
	testEnv(t)
	mustRun(t, "backend", "diffusers")
	if got := strings.TrimSpace(mustRun(t, "config", "active_backend")); got != "local-diffusion" {
		t.Fatalf("active_backend = %q, want local-diffusion", got)
	}
	mustRun(t, "backend", "auto")
	if got := strings.TrimSpace(mustRun(t, "config", "active_backend")); got != "" {
		t.Errorf("active_backend = %q, want empty", got)
	}
}

func TestConfigCommand(t *testing.T) {
	testEnv(t)

	mustRun(t, "config", "temperature", "0.2")
	if got := strings.TrimSpace(mustRun(t, "config", "temperature")); got != "0.2" {
		t.Errorf("temperature = %q, want 0.2", got)
	}

	out := mustRun(t, "config")
	for _, key := range config.Keys() {
		if !strings.Contains(out, key) {
			t.Errorf("config listing is missing %s", key)
		}
	}

	for _, args := range [][]string{
		{"config", "no_such_key"},
		{"config", "no_such_key", "1"},
		{"config", "temperature", "9"},
		{"config", "max_tokens", "0"},
	} {
		res := runCLI(t, "", args...)
		if got := apperr.KindOf(res.err); got != apperr.Usage {
			t.Errorf("ai %s: error kind = %v, want usage (%v)", strings.Join(args, " "), got, res.err)
		}
	}
}

func TestKeys(t *testing.T) {
	testEnv(t)

	out := mustRun(t, "download", "claude", "sk-ant-abcdefgh1234")
	if strings.Contains(out, "abcdefgh") {
		t.Errorf("download echoed the secret: %q", out)
	}
	out = mustRun(t, "keys")
	if !strings.Contains(out, "********1234") {
		t.Errorf("keys = %q, want the masked anthropic key", out)
	}
	if strings.Contains(out, "abcdefgh") {
		t.Errorf("keys leaked the secret: %q", out)
	}

	res := runCLI(t, "", "download", "mistral", "key")
	if got := apperr.KindOf(res.err); got != apperr.Usage {
		t.Errorf("unknown provider: error kind = %v, want usage", got)
	}
}

func TestSessionCommands(t *testing.T) {
	testEnv(t)

	mustRun(t, "session", "new", "work")
	if got := strings.TrimSpace(mustRun(t, "config", "active_session")); got != "work" {
		t.Fatalf("active_session = %q, want work", got)
	}
	if out := mustRun(t, "session", "list"); !strings.Contains(out, "work *") {
		t.Errorf("session list = %q, want work marked active", out)
	}

	res := runCLI(t, "", "session", "new", "work")
	if res.err == nil {
		t.Error("creating an existing session should fail")
	}
	res = runCLI(t, "", "session", "new", "../escape")
	if got := apperr.KindOf(res.err); got != apperr.Usage {
		t.Errorf("bad name: error kind = %v, want usage", got)
	}

	if out := mustRun(t, "session", "export"); !strings.Contains(out, "work") {
		t.Errorf("export = %q, want the session name", out)
	}

	mustRun(t, "session", "delete", "work")
	res = runCLI(t, "", "session", "load", "work")
	if got := apperr.KindOf(res.err); got != apperr.NotFound {
		t.Errorf("load deleted: error kind = %v, want not-found", got)
	}
}

func TestChatFromPipe(t *testing.T) {
	testEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789")
	srv, hits, _ := fakeOpenAI(t, "hello back")
	mustRun(t, "config", "openai_base_url", srv.URL)

	res := runCLI(t, "hello\nhow are you\n", "chat", "--session", "piped")
	if res.err != nil {
		t.Fatalf("chat: %v", res.err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}

	out := mustRun(t, "session", "list")
	if !strings.Contains(out, "piped") || !strings.Contains(out, "4") {
		t.Errorf("session list = %q, want piped with 4 messages", out)
	}
}

func TestChatRejectsBadSessionName(t *testing.T) {
	testEnv(t)

	res := runCLI(t, "hi\n", "chat", "--session", "../evil")
	if got := apperr.KindOf(res.err); got != apperr.Usage {
		t.Fatalf("error kind = %v, want usage", got)
	}
	if got := strings.TrimSpace(mustRun(t, "config", "active_session")); got != "default" {
		t.Errorf("active_session = %q after a rejected name, want default", got)
	}
	res = runCLI(t, "", "config", "active_session", "../evil")
	if got := apperr.KindOf(res.err); got != apperr.Usage {
		t.Errorf("config active_session ../evil: error kind = %v, want usage", got)
	}
}

func TestBuiltinPersonas(t *testing.T) {
	testEnv(t)

	for _, name := range []string{"default", "dev", "researcher", "writer", "teacher", "sysadmin", "security"} {
		mustRun(t, "persona", "set", name)
		if got := strings.TrimSpace(mustRun(t, "config", "active_persona")); got != name {
			t.Errorf("active_persona = %q, want %q", got, name)
		}
	}
}

func TestPersonaCommands(t *testing.T) {
	testEnv(t)

	mustRun(t, "persona", "create", "pirate", "You talk like a pirate.")
	mustRun(t, "persona", "set", "pirate")
	if got := strings.TrimSpace(mustRun(t, "config", "active_persona")); got != "pirate" {
		t.Errorf("active_persona = %q, want pirate", got)
	}
	if out := mustRun(t, "persona", "list"); !strings.Contains(out, "pirate *") || !strings.Contains(out, "custom") {
		t.Errorf("persona list = %q", out)
	}

	res := runCLI(t, "Be terse.", "persona", "create", "terse")
	if res.err != nil {
		t.Fatalf("persona create from stdin: %v", res.err)
	}

	mustRun(t, "persona", "set", "none")
	if got := strings.TrimSpace(mustRun(t, "config", "active_persona")); got != "" {
		t.Errorf("active_persona = %q, want empty", got)
	}

	res = runCLI(t, "", "persona", "set", "nobody")
	if got := apperr.KindOf(res.err); got != apperr.NotFound {
		t.Errorf("unknown persona: error kind = %v, want not-found", got)
	}
}

func TestClearHistory(t *testing.T) {
	testEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789")
	srv, _, _ := fakeOpenAI(t, "ok")
	mustRun(t, "config", "openai_base_url", srv.URL)

	if res := runCLI(t, "hi\n", "chat", "--session", "a"); res.err != nil {
		t.Fatalf("chat: %v", res.err)
	}
	if res := runCLI(t, "hi\n", "chat", "--session", "b"); res.err != nil {
		t.Fatalf("chat: %v", res.err)
	}

	mustRun(t, "clear-history", "a")
	if out := mustRun(t, "history", "--session", "b"); !strings.Contains(out, "chat") {
		t.Errorf("history for b = %q, want its entry kept", out)
	}
	if res := runCLI(t, "", "session", "load", "a"); apperr.KindOf(res.err) != apperr.NotFound {
		t.Errorf("session a still exists after clear-history")
	}

	mustRun(t, "clear-history", "--all")
	if res := runCLI(t, "", "history"); res.err != nil || !strings.Contains(res.stderr, "No history") {
		t.Errorf("history after --all: stderr = %q, err = %v", res.stderr, res.err)
	}

	res := runCLI(t, "", "clear-history", "b", "--all")
	if got := apperr.KindOf(res.err); got != apperr.Usage {
		t.Errorf("name with --all: error kind = %v, want usage", got)
	}
}

func TestServeRejectsRemoteModel(t *testing.T) {
	testEnv(t)
	mustRun(t, "model", "gpt-4o")
	res := runCLI(t, "", "serve", "--port", "0")
	if got := apperr.KindOf(res.err); got != apperr.Unsupported {
		t.Errorf("error kind = %v, want unsupported (%v)", got, res.err)
	}
}

func TestVersionSkipsSetup(t *testing.T) {
	t.Setenv(config.EnvConfigDir, "")
	out := mustRun(t, "version")
	want := constants.AppName + " " + constants.Version
	if strings.TrimSpace(out) != want {
		t.Errorf("version = %q, want %q", out, want)
	}
}
