package api

import (
	"bytes"
	"encoding/json"
	"net/url"

	"github.com/minerofthesoal/ai-cli/internal/backend"
)

const providerHF = "huggingface"

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfGeneration struct {
	GeneratedText *string `json:"generated_text"`
	Error         string  `json:"error"`
}

// HFAdapter speaks the HuggingFace hosted text-generation API.
type HFAdapter struct {
	apiKey  string
	baseURL string
}

func (a *HFAdapter) Kind() backend.Kind { return backend.RemoteInference }

func (a *HFAdapter) BuildRequest(req *Request) (*Payload, error) {
	prompt, err := req.Prompt()
	if err != nil {
		return nil, err
	}
	if prompt.Image != "" {
		return nil, unsupported(providerHF, "image input is not supported by the hosted inference backend")
	}
	body := hfRequest{
		Inputs: flattenPrompt(req),
		Parameters: hfParameters{
			MaxNewTokens: req.MaxTokens,
			Temperature:  req.Temperature,
		},
	}
	return jsonPayload(a.baseURL+"/models/"+(&url.URL{Path: req.Model}).EscapedPath(), body, bearer(a.apiKey))
}

func (a *HFAdapter) ParseResponse(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	var gen hfGeneration
	if len(raw) > 0 && raw[0] == '[' {
		var list []hfGeneration
		if err := json.Unmarshal(raw, &list); err != nil {
			return "", malformed(providerHF, "failed to parse response: %v", err)
		}
		if len(list) == 0 {
			return "", malformed(providerHF, "response contained no generations")
		}
		gen = list[0]
	} else if err := json.Unmarshal(raw, &gen); err != nil {
		return "", malformed(providerHF, "failed to parse response: %v", err)
	}
	if gen.Error != "" {
		return "", providerErr(KindNetwork, providerHF, "%s", gen.Error)
	}
	if gen.GeneratedText == nil {
		return "", malformed(providerHF, "response has no generated_text")
	}
	return *gen.GeneratedText, nil
}
