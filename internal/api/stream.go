package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/logging"
)

// DeltaFunc decodes one SSE data payload into the text it adds to the reply.
// done reports a terminal event. A *ProviderError aborts the stream; any
// other error skips the payload.
type DeltaFunc func(data []byte) (delta string, done bool, err error)

// SSEReader accumulates a streamed reply from a Server-Sent Events body.
// Lines other than "data:" (event, id, retry, comments) are ignored.
type SSEReader struct {
	r     *bufio.Reader
	delta DeltaFunc
	reply strings.Builder
}

// NewSSEReader reads r, decoding payloads with delta. A nil delta means the
// OpenAI chunk format.
func NewSSEReader(r io.Reader, delta DeltaFunc) *SSEReader {
	if delta == nil {
		delta = OpenAIDelta
	}
	return &SSEReader{r: bufio.NewReader(r), delta: delta}
}

// Each calls onChunk with every non-empty delta until a terminal event, a
// "[DONE]" sentinel or EOF. Undecodable payloads are logged and skipped.
func (s *SSEReader) Each(ctx context.Context, onChunk func(string)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := s.r.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}

		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:")
		data = strings.TrimSpace(data)
		switch {
		case !ok || data == "":
		case data == "[DONE]":
			return nil
		default:
			text, done, err := s.delta([]byte(data))
			if err != nil {
				if pe := (*ProviderError)(nil); errors.As(err, &pe) {
					return pe
				}
				logging.Warn("skipping undecodable stream event", logging.Fields{"data": data, "error": err.Error()})
			}
			if text != "" {
				s.reply.WriteString(text)
				if onChunk != nil {
					onChunk(text)
				}
			}
			if done {
				return nil
			}
		}

		if readErr == io.EOF {
			return nil
		}
	}
}

// Reply is everything delivered so far.
func (s *SSEReader) Reply() string { return s.reply.String() }

// OpenAIDelta decodes a Chat Completions chunk. finish_reason alone does not
// end the stream; usage-only chunks may follow it.
func OpenAIDelta(data []byte) (string, bool, error) {
	var chunk ChatResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false, err
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicDelta decodes a Messages API stream event.
func AnthropicDelta(data []byte) (string, bool, error) {
	var ev anthropicEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", false, err
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Type == "text_delta" {
			return ev.Delta.Text, false, nil
		}
	case "message_stop":
		return "", true, nil
	case "error":
		msg := "stream error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return "", true, providerErr(KindNetwork, providerAnthropic, "%s", msg)
	}
	return "", false, nil
}
