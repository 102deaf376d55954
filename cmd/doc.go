// Package cmd implements the verbs of the ai command line.
//
// # Layout
//
//   - root.go: App struct, root command, persistent flags and state loading
//   - prompt.go: single-shot text verbs (ask, think, pipe, summarize, translate, code, review, explain)
//   - chat.go: the chat verb and its go-prompt REPL
//   - media.go: imagine, tts and transcribe
//   - models.go: model selection, local model listing, download and convert
//   - state.go: keys, sessions, personas, history and config
//   - admin.go: bench, serve, status and install-deps
//
// # App
//
// One App is created per process. Its PersistentPreRunE loads config.yaml,
// the credentials file, the history log and the session and persona stores,
// then layers the persistent flags over the stored settings. Every verb
// builds an api.Engine from those effective settings, so a one-shot --model
// never touches the stored config.
//
// Errors returned from a verb are printed once by Execute, with the remedy
// carried by apperr, and the process exits with status 1.
//
// # Usage
//
//	func main() {
//	    cmd.Execute()
//	}
package cmd
