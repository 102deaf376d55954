package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/constants"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of a conversation. Image, when set, is a local file
// path or an http(s) URL attached to a user message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Image   string `json:"image,omitempty"`
}

// Request is the canonical, backend-independent request. The last message is
// the prompt; earlier messages are conversation history.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// NewRequest builds a single-turn request.
func NewRequest(model, system, prompt, image string, maxTokens int, temperature float64) *Request {
	return &Request{
		Model:       model,
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: prompt, Image: image}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// ErrEmptyPrompt is returned when the request carries no prompt text.
var ErrEmptyPrompt = errors.New("prompt must not be empty")

// Prompt returns the last message, which must be a non-empty user message.
func (r *Request) Prompt() (Message, error) {
	if len(r.Messages) == 0 {
		return Message{}, ErrEmptyPrompt
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser || strings.TrimSpace(last.Content) == "" {
		return Message{}, ErrEmptyPrompt
	}
	return last, nil
}

// SystemPrompt returns the system prompt, defaulting to the generic one.
// System messages embedded in the history are appended to it.
func (r *Request) SystemPrompt() string {
	parts := []string{}
	if r.System != "" {
		parts = append(parts, r.System)
	} else {
		parts = append(parts, constants.DefaultSystemMessage)
	}
	for _, m := range r.Messages {
		if m.Role == RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Turns returns the non-system messages in order.
func (r *Request) Turns() []Message {
	out := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Payload is a provider-specific request: either an HTTP call or a process
// invocation. Exactly one of URL or Path is set.
type Payload struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	Path  string
	Args  []string
	Stdin []byte
}

// IsProcess reports whether the payload runs a local process.
func (p *Payload) IsProcess() bool { return p.Path != "" }

func jsonPayload(url string, body any, header http.Header) (*Payload, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return &Payload{Method: http.MethodPost, URL: url, Header: header, Body: data}, nil
}

// ErrorKind classifies a ProviderError.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindNetwork     ErrorKind = "network"
	KindMalformed   ErrorKind = "malformed-response"
	KindNotFound    ErrorKind = "not-found"
	KindUnsupported ErrorKind = "unsupported-feature"
)

// ProviderError is the typed failure every adapter and the engine return.
// KindNetwork also covers non-2xx statuses and local processes that exit
// abnormally.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string

	transport bool
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ProviderKind exposes the kind as a plain string so callers outside this
// package can classify the error without importing it.
func (e *ProviderError) ProviderKind() string { return string(e.Kind) }

func providerErr(kind ErrorKind, provider, format string, args ...any) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

func malformed(provider, format string, args ...any) *ProviderError {
	return providerErr(KindMalformed, provider, format, args...)
}

func unsupported(provider, format string, args ...any) *ProviderError {
	return providerErr(KindUnsupported, provider, format, args...)
}

// TransportError wraps a failure to reach the provider. It is retryable.
func TransportError(provider, msg string, err error) *ProviderError {
	return &ProviderError{Kind: KindNetwork, Provider: provider, Message: fmt.Sprintf("%s: %v", msg, err), transport: true}
}

// StatusError maps an HTTP failure status to a ProviderError.
func StatusError(provider string, code int, body []byte) *ProviderError {
	kind := KindNetwork
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusNotFound:
		kind = KindNotFound
	}
	msg := extractErrorMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("status code %d", code)
	}
	return &ProviderError{Kind: kind, Provider: provider, StatusCode: code, Message: msg}
}

// extractErrorMessage understands the error envelopes of all supported
// providers: {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func extractErrorMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if len(env.Error) > 0 {
		var s string
		if err := json.Unmarshal(env.Error, &s); err == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return env.Message
}

// image is a resolved image reference: either a remote URL or inline bytes.
type image struct {
	URL  string
	Data []byte
	MIME string
}

func isRemoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// loadImage resolves ref. Remote URLs are passed through; local files are read.
func loadImage(provider, ref string) (*image, error) {
	if isRemoteRef(ref) {
		return &image{URL: ref, MIME: mimeForPath(ref)}, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, providerErr(KindNotFound, provider, "image %s not found", ref)
		}
		return nil, fmt.Errorf("failed to read image %s: %w", ref, err)
	}
	mt := mimeForPath(ref)
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return &image{Data: data, MIME: mt}, nil
}

func mimeForPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	if mt == "" && isRemoteRef(p) {
		return "image/jpeg"
	}
	return mt
}

func (img *image) base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// dataURI renders inline bytes as a data: URI, or returns the remote URL.
func (img *image) dataURI() string {
	if img.URL != "" {
		return img.URL
	}
	return "data:" + img.MIME + ";base64," + img.base64()
}
