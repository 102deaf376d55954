// Package api turns canonical chat requests into backend-specific payloads
// and executes them.
//
// # Architecture
//
//   - types.go: Message, Request, Payload and ProviderError
//   - adapter.go: Adapter interface and NewAdapter factory
//   - openai.go, anthropic.go, gemini.go, hfinference.go: remote adapters
//   - local.go: llama.cpp and transformers adapters, plus embedded helper scripts
//   - engine.go: Engine, which checks credentials, applies the request
//     timeout and executes payloads over HTTP or as a process
//   - media.go: image generation, speech synthesis and transcription
//   - stream.go: Server-Sent Events processor for streaming responses
//   - retry.go: exponential backoff for network-class failures
//
// Adapters are pure: BuildRequest and ParseResponse never touch the network,
// so they can be tested against fixtures.
//
// # Usage
//
//	engine := api.NewEngine(settings, creds)
//	req := api.NewRequest(model, system, "hello", "", 1024, 0.7)
//	reply, err := engine.Complete(ctx, engine.Kind(), req)
package api
