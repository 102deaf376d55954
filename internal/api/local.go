package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/detect"
)

const providerLocal = "local"

//go:embed scripts/*.py
var scripts embed.FS

// script returns the source of an embedded helper script.
func script(name string) string {
	data, err := scripts.ReadFile("scripts/" + name)
	if err != nil {
		panic("missing embedded script " + name)
	}
	return string(data)
}

// scriptPayload runs an embedded script under the Python runtime with req as
// JSON on stdin.
func scriptPayload(runtime, name string, req any) (*Payload, error) {
	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &Payload{Path: runtime, Args: []string{"-c", script(name)}, Stdin: stdin}, nil
}

// scriptReply is the single JSON line every helper script prints last.
type scriptReply struct {
	Text  string `json:"text"`
	Path  string `json:"path"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// parseScriptReply reads the last non-empty stdout line; libraries are free
// to print progress above it.
func parseScriptReply(raw []byte) (*scriptReply, error) {
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 {
		return nil, malformed(providerLocal, "helper script produced no output")
	}
	var r scriptReply
	if err := json.Unmarshal(last, &r); err != nil {
		return nil, malformed(providerLocal, "unexpected helper output: %s", truncate(string(last), 200))
	}
	if r.Error != "" {
		kind := ErrorKind(r.Kind)
		switch kind {
		case KindNotFound, KindUnsupported, KindMalformed:
		default:
			kind = KindNetwork
		}
		return nil, providerErr(kind, providerLocal, "%s", r.Error)
	}
	return &r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type scriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// scriptMessages flattens a request into a chat-template message list.
func scriptMessages(req *Request) ([]scriptMessage, error) {
	prompt, err := req.Prompt()
	if err != nil {
		return nil, err
	}
	if prompt.Image != "" {
		return nil, unsupported(providerLocal, "image input is not supported by local text models")
	}
	msgs := []scriptMessage{{Role: RoleSystem, Content: req.SystemPrompt()}}
	for _, m := range req.Turns() {
		msgs = append(msgs, scriptMessage{Role: m.Role, Content: m.Content})
	}
	return msgs, nil
}

// GGUFAdapter runs llama.cpp, either through its CLI or through the
// llama_cpp Python binding.
type GGUFAdapter struct {
	modelPath string
	binary    detect.Capability
}

func (a *GGUFAdapter) Kind() backend.Kind { return backend.LocalGGUF }

func (a *GGUFAdapter) BuildRequest(req *Request) (*Payload, error) {
	msgs, err := scriptMessages(req)
	if err != nil {
		return nil, err
	}
	switch a.binary.Status {
	case detect.Present:
		return &Payload{
			Path: a.binary.Path,
			Args: []string{
				"-m", a.modelPath,
				"-p", flattenPrompt(req),
				"-n", strconv.Itoa(req.MaxTokens),
				"--temp", strconv.FormatFloat(req.Temperature, 'f', -1, 64),
				"--no-display-prompt",
				"-no-cnv",
			},
		}, nil
	case detect.InProcess:
		return scriptPayload(a.binary.Path, "llama_chat.py", map[string]any{
			"model_path":  a.modelPath,
			"messages":    msgs,
			"max_tokens":  req.MaxTokens,
			"temperature": req.Temperature,
		})
	default:
		return nil, unsupported(providerLocal, "no llama.cpp runtime available")
	}
}

func (a *GGUFAdapter) ParseResponse(raw []byte) (string, error) {
	if a.binary.Status == detect.InProcess {
		r, err := parseScriptReply(raw)
		if err != nil {
			return "", err
		}
		return r.Text, nil
	}
	return strings.TrimSpace(string(raw)), nil
}

// PyTorchAdapter runs a transformers text-generation pipeline.
type PyTorchAdapter struct {
	modelPath string
	runtime   detect.Capability
}

func (a *PyTorchAdapter) Kind() backend.Kind { return backend.LocalPyTorch }

func (a *PyTorchAdapter) BuildRequest(req *Request) (*Payload, error) {
	msgs, err := scriptMessages(req)
	if err != nil {
		return nil, err
	}
	if !a.runtime.Available() {
		return nil, unsupported(providerLocal, "no Python runtime available")
	}
	return scriptPayload(a.runtime.Path, "transformers_chat.py", map[string]any{
		"model":       a.modelPath,
		"messages":    msgs,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	})
}

func (a *PyTorchAdapter) ParseResponse(raw []byte) (string, error) {
	r, err := parseScriptReply(raw)
	if err != nil {
		return "", err
	}
	return r.Text, nil
}
