package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

const maxBodyBytes = 4 << 20

type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []api.ChatMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"model":   s.opts.Model,
		"backend": string(s.opts.Kind),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modelList{
		Object: "list",
		Data:   []modelEntry{{ID: s.opts.Model, Object: "model", OwnedBy: constants.AppName}},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatCompletionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	req, err := s.toRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	// One generation at a time; a local model holds the whole machine.
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-r.Context().Done():
		return
	}

	logging.Debug("serving chat completion", logging.Fields{"messages": len(req.Messages), "stream": body.Stream})
	if body.Stream {
		s.streamChat(w, r, req)
		return
	}

	reply, err := s.opts.Engine.Complete(r.Context(), s.opts.Kind, req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ChatResponse{
		ID:      s.newID(),
		Object:  "chat.completion",
		Created: s.now().Unix(),
		Model:   s.opts.Model,
		Choices: []api.Choice{{
			Message:      api.ChatMessage{Role: api.RoleAssistant, Content: reply},
			FinishReason: "stop",
		}},
	})
}

// streamChat answers with server-sent events in the chat.completion.chunk
// shape, ending with a [DONE] sentinel.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req *api.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming is not supported by this connection")
		return
	}
	id := s.newID()
	created := s.now().Unix()
	started := false

	send := func(delta api.Delta, finish string) {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, _ := json.Marshal(api.ChatResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   s.opts.Model,
			Choices: []api.Choice{{Delta: delta, FinishReason: finish}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	first := true
	_, err := s.opts.Engine.Stream(r.Context(), s.opts.Kind, req, func(chunk string) {
		d := api.Delta{Content: chunk}
		if first {
			d.Role = api.RoleAssistant
			first = false
		}
		send(d, "")
	})
	if err != nil {
		if !started {
			s.writeEngineError(w, err)
			return
		}
		logging.Warn("stream aborted", logging.Fields{"error": err.Error()})
		return
	}
	send(api.Delta{}, "stop")
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// toRequest maps the wire body onto a canonical request. System messages
// become the system prompt; the last message must come from the user.
func (s *Server) toRequest(body chatCompletionRequest) (*api.Request, error) {
	req := &api.Request{
		Model:       s.opts.Model,
		System:      s.opts.System,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
	if body.MaxTokens > 0 {
		req.MaxTokens = body.MaxTokens
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}

	var system []string
	for _, m := range body.Messages {
		switch m.Role {
		case api.RoleSystem:
			system = append(system, m.Content)
		case api.RoleUser, api.RoleAssistant:
			req.Messages = append(req.Messages, api.Message{Role: m.Role, Content: m.Content})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	if len(system) > 0 {
		req.System = strings.Join(system, "\n\n")
	}
	if _, err := req.Prompt(); err != nil {
		return nil, errors.New("messages must end with a non-empty user message")
	}
	return req, nil
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	err = apperr.From(err)
	status := http.StatusBadGateway
	typ := "server_error"
	switch apperr.KindOf(err) {
	case apperr.Usage:
		status, typ = http.StatusBadRequest, "invalid_request_error"
	case apperr.NotFound:
		status, typ = http.StatusNotFound, "not_found_error"
	case apperr.MissingDependency, apperr.MissingCredential, apperr.Unsupported:
		status = http.StatusServiceUnavailable
	}
	logging.Error("chat completion failed", err)
	writeError(w, status, typ, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: msg, Type: typ}})
}
