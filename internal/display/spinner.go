package display

import (
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// Spinner shows progress on stderr while a request is in flight. It is a
// no-op when stderr is not a terminal.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner creates a spinner with the given message.
func NewSpinner(msg string) *Spinner {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + msg
	return &Spinner{s: s}
}

// Start begins animating.
func (sp *Spinner) Start() {
	if sp.s != nil {
		sp.s.Start()
	}
}

// Stop halts the animation and clears the line.
func (sp *Spinner) Stop() {
	if sp.s != nil {
		sp.s.Stop()
	}
}

// UpdateMessage replaces the spinner text.
func (sp *Spinner) UpdateMessage(msg string) {
	if sp.s != nil {
		sp.s.Lock()
		sp.s.Suffix = " " + msg
		sp.s.Unlock()
	}
}
