package api

import (
	"encoding/json"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/backend"
)

const providerOpenAI = "openai"

// ChatMessage is a plain-text chat message in OpenAI wire format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Delta represents streaming delta content
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Choice represents a response choice
type Choice struct {
	Index        int         `json:"index"`
	Delta        Delta       `json:"delta,omitempty"`
	Message      ChatMessage `json:"message,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatResponse represents a chat completion response or stream chunk
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// GetContent extracts the content from the response
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		if r.Choices[0].Message.Content != "" {
			return r.Choices[0].Message.Content
		}
		return r.Choices[0].Delta.Content
	}
	return ""
}

// chatRequest is the outbound Chat Completions body. Content is either a
// string or a list of content parts when an image is attached.
type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
	Stream              bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// OpenAIAdapter speaks the Chat Completions API.
type OpenAIAdapter struct {
	apiKey  string
	baseURL string
}

func (a *OpenAIAdapter) Kind() backend.Kind { return backend.RemoteOpenAI }

// isReasoningModel reports o-series models, which take
// max_completion_tokens and reject a temperature.
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range []string{"o1", "o3", "o4"} {
		if m == p || strings.HasPrefix(m, p+"-") {
			return true
		}
	}
	return false
}

func (a *OpenAIAdapter) body(req *Request, stream bool) (*chatRequest, error) {
	if _, err := req.Prompt(); err != nil {
		return nil, err
	}
	body := &chatRequest{
		Model:    req.Model,
		Messages: []chatMessage{{Role: RoleSystem, Content: req.SystemPrompt()}},
		Stream:   stream,
	}
	if isReasoningModel(req.Model) {
		body.MaxCompletionTokens = req.MaxTokens
	} else {
		t := req.Temperature
		body.MaxTokens = req.MaxTokens
		body.Temperature = &t
	}
	for _, m := range req.Turns() {
		if m.Image == "" {
			body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
			continue
		}
		img, err := loadImage(providerOpenAI, m.Image)
		if err != nil {
			return nil, err
		}
		body.Messages = append(body.Messages, chatMessage{
			Role: m.Role,
			Content: []contentPart{
				{Type: "text", Text: m.Content},
				{Type: "image_url", ImageURL: &imageURL{URL: img.dataURI()}},
			},
		})
	}
	return body, nil
}

func (a *OpenAIAdapter) BuildRequest(req *Request) (*Payload, error) {
	body, err := a.body(req, false)
	if err != nil {
		return nil, err
	}
	return jsonPayload(a.baseURL+"/chat/completions", body, bearer(a.apiKey))
}

// BuildStreamRequest builds the same request with SSE streaming enabled.
func (a *OpenAIAdapter) BuildStreamRequest(req *Request) (*Payload, error) {
	body, err := a.body(req, true)
	if err != nil {
		return nil, err
	}
	p, err := jsonPayload(a.baseURL+"/chat/completions", body, bearer(a.apiKey))
	if err != nil {
		return nil, err
	}
	p.Header.Set("Accept", "text/event-stream")
	return p, nil
}

func (a *OpenAIAdapter) StreamDelta(data []byte) (string, bool, error) { return OpenAIDelta(data) }

// completion is the non-streaming reply; a pointer tells an absent message
// apart from an empty one.
type completion struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a *OpenAIAdapter) ParseResponse(raw []byte) (string, error) {
	var resp completion
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", malformed(providerOpenAI, "failed to parse response: %v", err)
	}
	if len(resp.Choices) == 0 {
		if msg := extractErrorMessage(raw); msg != "" {
			return "", providerErr(KindNetwork, providerOpenAI, "%s", msg)
		}
		return "", malformed(providerOpenAI, "response contained no choices")
	}
	msg := resp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", malformed(providerOpenAI, "first choice has no message content")
	}
	return *msg.Content, nil
}
