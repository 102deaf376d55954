package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/constants"
)

const providerAnthropic = "anthropic"

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicResponse struct {
	Type       string           `json:"type"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicAdapter speaks the Claude Messages API.
type AnthropicAdapter struct {
	apiKey  string
	baseURL string
}

func (a *AnthropicAdapter) Kind() backend.Kind { return backend.RemoteAnthropic }

func (a *AnthropicAdapter) BuildRequest(req *Request) (*Payload, error) {
	return a.build(req, false)
}

// BuildStreamRequest asks for the Messages event stream.
func (a *AnthropicAdapter) BuildStreamRequest(req *Request) (*Payload, error) {
	p, err := a.build(req, true)
	if err != nil {
		return nil, err
	}
	p.Header.Set("Accept", "text/event-stream")
	return p, nil
}

func (a *AnthropicAdapter) StreamDelta(data []byte) (string, bool, error) { return AnthropicDelta(data) }

func (a *AnthropicAdapter) build(req *Request, stream bool) (*Payload, error) {
	if _, err := req.Prompt(); err != nil {
		return nil, err
	}
	body := anthropicRequest{
		Model:       req.Model,
		System:      req.SystemPrompt(),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	for _, m := range req.Turns() {
		var blocks []anthropicBlock
		if m.Image != "" {
			img, err := loadImage(providerAnthropic, m.Image)
			if err != nil {
				return nil, err
			}
			src := &anthropicSource{Type: "url", URL: img.URL}
			if img.URL == "" {
				src = &anthropicSource{Type: "base64", MediaType: img.MIME, Data: img.base64()}
			}
			blocks = append(blocks, anthropicBlock{Type: "image", Source: src})
		}
		blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: blocks})
	}

	h := http.Header{}
	h.Set("x-api-key", a.apiKey)
	h.Set("anthropic-version", constants.AnthropicVersion)
	return jsonPayload(a.baseURL+"/messages", body, h)
}

func (a *AnthropicAdapter) ParseResponse(raw []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", malformed(providerAnthropic, "failed to parse response: %v", err)
	}
	if resp.Error != nil {
		return "", providerErr(KindNetwork, providerAnthropic, "%s", resp.Error.Message)
	}
	if resp.Type != "message" && len(resp.Content) == 0 {
		return "", malformed(providerAnthropic, "response contained no content")
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
