package api

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func openAIChunk(content string) string {
	return `data: {"id":"c1","choices":[{"index":0,"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

func TestSSEReader_OpenAI(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		chunks int
	}{
		{"two chunks", openAIChunk("Hello") + openAIChunk(" World") + "data: [DONE]\n", "Hello World", 2},
		{"stops at DONE", openAIChunk("a") + "data: [DONE]\n\n" + openAIChunk("b"), "a", 1},
		{"no trailing newline", strings.TrimSpace(openAIChunk("tail")), "tail", 1},
		{"blank lines", "\n\n" + openAIChunk("Hello") + "\n\n\ndata: [DONE]\n\n", "Hello", 1},
		{"non-data lines", "event: message\nid: 7\n" + openAIChunk("Hi") + "retry: 3000\n: keepalive\ndata: [DONE]\n", "Hi", 1},
		{"bad json skipped", openAIChunk("a") + "data: not json\n\n" + openAIChunk("b"), "ab", 2},
		{"finish and usage", openAIChunk("x") +
			`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"length"}]}` + "\n\n" +
			`data: {"id":"c1","choices":[],"usage":{"total_tokens":3}}` + "\n\n", "x", 1},
		{"empty", "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSSEReader(strings.NewReader(tt.input), nil)
			var chunks []string
			if err := r.Each(context.Background(), func(s string) { chunks = append(chunks, s) }); err != nil {
				t.Fatalf("Each() error: %v", err)
			}
			if r.Reply() != tt.want || len(chunks) != tt.chunks {
				t.Errorf("Reply() = %q with %d chunks, want %q with %d", r.Reply(), len(chunks), tt.want, tt.chunks)
			}
		})
	}
}

func TestSSEReader_Anthropic(t *testing.T) {
	input := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"4\"}}\n\n" +
		"event: ping\ndata: {\"type\":\"ping\"}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"late\"}}\n\n"

	r := NewSSEReader(strings.NewReader(input), AnthropicDelta)
	if err := r.Each(context.Background(), nil); err != nil {
		t.Fatalf("Each() error: %v", err)
	}
	if r.Reply() != "4" {
		t.Errorf("Reply() = %q, want %q", r.Reply(), "4")
	}
}

func TestSSEReader_AnthropicError(t *testing.T) {
	input := "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n" +
		"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"

	r := NewSSEReader(strings.NewReader(input), AnthropicDelta)
	err := r.Each(context.Background(), nil)

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Message != "Overloaded" {
		t.Fatalf("Each() error = %v, want the Overloaded ProviderError", err)
	}
	if r.Reply() != "par" {
		t.Errorf("partial reply = %q", r.Reply())
	}
}

func TestSSEReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewSSEReader(strings.NewReader(openAIChunk("Hello")), nil)
	if err := r.Each(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Each() error = %v, want context.Canceled", err)
	}
}
