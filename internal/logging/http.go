package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	// maxLoggedBody bounds non-JSON bodies.
	maxLoggedBody = 10000
	// maxLoggedString bounds single JSON string values, mostly base64 image
	// and audio data.
	maxLoggedString = 512

	redacted  = "[REDACTED]"
	truncated = "...[truncated]"
)

var sensitiveHeaders = []string{
	"authorization",
	"api-key",
	"x-api-key",
	"x-goog-api-key",
	"x-auth-token",
	"cookie",
	"set-cookie",
}

// HTTPLogger writes provider traffic to a Logger at Debug.
type HTTPLogger struct {
	logger *Logger
}

// NewHTTPLogger returns an HTTPLogger writing to logger.
func NewHTTPLogger(logger *Logger) *HTTPLogger {
	return &HTTPLogger{logger: logger}
}

// LogRequest logs method, URL, headers and, when given, the body. Credentials
// in headers, query parameters and JSON keys are redacted.
func (h *HTTPLogger) LogRequest(req *http.Request, body []byte) {
	fields := Fields{
		"method":  req.Method,
		"url":     redactURL(req.URL),
		"headers": headerFields(req.Header),
	}
	addBody(fields, body)
	h.logger.Debug("HTTP Request", fields)
}

// LogResponse logs status, timing, headers and, when given, the body.
func (h *HTTPLogger) LogResponse(resp *http.Response, body []byte, elapsed time.Duration) {
	fields := Fields{
		"status":      resp.StatusCode,
		"duration_ms": elapsed.Milliseconds(),
		"headers":     headerFields(resp.Header),
	}
	if isStreamingResponse(resp) {
		fields["streaming"] = true
	}
	addBody(fields, body)
	h.logger.Debug("HTTP Response", fields)
}

// LogError logs a transport failure.
func (h *HTTPLogger) LogError(err error, req *http.Request) {
	h.logger.Error("HTTP Error", err, Fields{"method": req.Method, "url": redactURL(req.URL)})
}

func headerFields(hdr http.Header) map[string]string {
	out := make(map[string]string, len(hdr))
	for k, v := range hdr {
		switch {
		case isSensitiveHeader(k):
			out[k] = redacted
		case len(v) > 0:
			out[k] = v[0]
		}
	}
	return out
}

func addBody(fields Fields, body []byte) {
	if len(body) == 0 {
		return
	}
	fields["body_size"] = len(body)
	var parsed any
	if json.Unmarshal(body, &parsed) == nil {
		fields["body"] = redactSensitiveFields(parsed)
		return
	}
	fields["body"] = truncateBody(body, maxLoggedBody)
}

// RoundTripperWrapper logs every exchange of the wrapped transport.
type RoundTripperWrapper struct {
	wrapped http.RoundTripper
	logger  *HTTPLogger
	logBody bool
}

// NewLoggingRoundTripper wraps wrapped, or http.DefaultTransport when nil.
func NewLoggingRoundTripper(wrapped http.RoundTripper, logger *HTTPLogger, logBody bool) *RoundTripperWrapper {
	if wrapped == nil {
		wrapped = http.DefaultTransport
	}
	return &RoundTripperWrapper{wrapped: wrapped, logger: logger, logBody: logBody}
}

// RoundTrip implements http.RoundTripper. Streaming response bodies are
// passed through unread.
func (rt *RoundTripperWrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	var reqBody []byte
	if rt.logBody && req.Body != nil {
		reqBody, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}
	rt.logger.LogRequest(req, reqBody)

	start := time.Now()
	resp, err := rt.wrapped.RoundTrip(req)
	if err != nil {
		rt.logger.LogError(err, req)
		return nil, err
	}

	var respBody []byte
	if rt.logBody && !isStreamingResponse(resp) {
		respBody, _ = io.ReadAll(resp.Body)
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
	}
	rt.logger.LogResponse(resp, respBody, time.Since(start))
	return resp, nil
}

func isSensitiveHeader(name string) bool {
	return slices.Contains(sensitiveHeaders, strings.ToLower(name))
}

// redactURL hides credential-like query parameters.
func redactURL(u *url.URL) string {
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	for k := range q {
		if isSensitiveKey(k) {
			q.Set(k, redacted)
		}
	}
	c := *u
	c.RawQuery = q.Encode()
	return c.String()
}

func truncateBody(body []byte, maxSize int) string {
	if len(body) <= maxSize {
		return string(body)
	}
	return string(body[:maxSize]) + truncated
}

func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson")
}

// isSensitiveKey matches credential-like keys. Sampling keys such as
// max_tokens or maxOutputTokens stay visible.
func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	switch k {
	case "api_key", "apikey", "api-key", "key",
		"password", "secret", "token", "access_token",
		"authorization", "auth":
		return true
	}
	for _, suffix := range []string{"_key", "_token", "_secret", "password"} {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}

// redactSensitiveFields returns a copy of parsed JSON with credential values
// replaced and long strings shortened.
func redactSensitiveFields(data any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if isSensitiveKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = redactSensitiveFields(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactSensitiveFields(item)
		}
		return out
	case string:
		if len(v) > maxLoggedString {
			return v[:maxLoggedString] + truncated
		}
		return v
	}
	return data
}
