package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/minerofthesoal/ai-cli/internal/backend"
)

const providerGemini = "gemini"

// geminiRequest is the generateContent body. The wire types come from the
// genai SDK; transport stays with the engine.
type geminiRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiAdapter speaks the Gemini generateContent REST API.
type GeminiAdapter struct {
	apiKey  string
	baseURL string
}

func (a *GeminiAdapter) Kind() backend.Kind { return backend.RemoteGemini }

func (a *GeminiAdapter) BuildRequest(req *Request) (*Payload, error) {
	if _, err := req.Prompt(); err != nil {
		return nil, err
	}
	body := geminiRequest{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt(), genai.RoleUser),
		GenerationConfig: &genai.GenerationConfig{
			Temperature:     genai.Ptr(float32(req.Temperature)),
			MaxOutputTokens: int32(req.MaxTokens),
		},
	}
	for _, m := range req.Turns() {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		parts := []*genai.Part{genai.NewPartFromText(m.Content)}
		if m.Image != "" {
			img, err := loadImage(providerGemini, m.Image)
			if err != nil {
				return nil, err
			}
			if img.URL != "" {
				parts = append(parts, genai.NewPartFromURI(img.URL, img.MIME))
			} else {
				parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIME))
			}
		}
		body.Contents = append(body.Contents, &genai.Content{Role: role, Parts: parts})
	}

	h := http.Header{}
	h.Set("x-goog-api-key", a.apiKey)
	endpoint := a.baseURL + "/models/" + url.PathEscape(req.Model) + ":generateContent"
	return jsonPayload(endpoint, body, h)
}

func (a *GeminiAdapter) ParseResponse(raw []byte) (string, error) {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", malformed(providerGemini, "failed to parse response: %v", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if msg := extractErrorMessage(raw); msg != "" {
			return "", providerErr(KindNetwork, providerGemini, "%s", msg)
		}
		return "", malformed(providerGemini, "response contained no candidates")
	}
	// Concatenated by hand: Text() logs a warning for multi-candidate
	// responses and we only ever read the first.
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
