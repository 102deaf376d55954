// Package history keeps an append-only log of every prompt and reply, one
// JSON object per line.
package history

// Recorder defines the interface for the interaction log.
// This interface enables dependency injection and easier testing.
type Recorder interface {
	// Record appends an entry, assigning its ID and time when unset
	Record(e Entry) error

	// Query returns matching entries, oldest first
	Query(f Filter) ([]Entry, error)

	// Clear removes the entries of one session, or all entries when session is empty
	Clear(session string) (int, error)
}

// Ensure concrete type implements the interface
var _ Recorder = (*Log)(nil)
