// Package constants provides shared constants used across the application
// to avoid circular dependencies between packages.
package constants

import "time"

// Version is the release version reported by `ai version`.
const Version = "3.0.0"

// AppName is the binary name and the config directory name.
const AppName = "ai-cli"

// Timeout constants used across the application
const (
	// DefaultAPITimeout is the timeout for AI API requests (local generation can take a while)
	DefaultAPITimeout = 120 * time.Second
	// DefaultCommandTimeout is the timeout for running generated code
	DefaultCommandTimeout = 30 * time.Second
	// DefaultDetectTimeout bounds each `--version` style detection spawn
	DefaultDetectTimeout = 5 * time.Second
	// DefaultDownloadTimeout is the timeout for model downloads
	DefaultDownloadTimeout = 2 * time.Hour
)

// Application defaults
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultSystemMessage = "You are a helpful assistant. Be precise and concise."
	DefaultSession       = "default"
	DefaultMaxTokens     = 1024
	DefaultTemperature   = 0.7
	DefaultImageSize     = "512x512"
	DefaultImageSteps    = 25
	DefaultVoice         = "alloy"
	DefaultServePort     = 8080
	DefaultServeHost     = "127.0.0.1"
)

// Remote API base URLs
const (
	OpenAIBaseURL    = "https://api.openai.com/v1"
	AnthropicBaseURL = "https://api.anthropic.com/v1"
	GeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	HFInferenceURL   = "https://api-inference.huggingface.co"
	HFHubURL         = "https://huggingface.co"
	AnthropicVersion = "2023-06-01"
)
