package conversation

import (
	"fmt"
	"strings"
)

// Delimiters the backend is asked to emit in chain-of-thought mode.
const (
	ThinkOpen   = "<think>"
	ThinkClose  = "</think>"
	AnswerOpen  = "<answer>"
	AnswerClose = "</answer>"
)

const thinkTemplate = `Work through the following step by step before answering.
Put all of your reasoning between ` + ThinkOpen + ` and ` + ThinkClose + `.
Then give only the final answer between ` + AnswerOpen + ` and ` + AnswerClose + `.

Question: %s`

// Wrap applies the chain-of-thought template to prompt.
func Wrap(prompt string) string {
	return fmt.Sprintf(thinkTemplate, strings.TrimSpace(prompt))
}

// Thought is a reply split into its reasoning and answer segments. When the
// reply lacks the delimiters, Structured is false and Answer holds the raw
// reply unchanged.
type Thought struct {
	Reasoning  string
	Answer     string
	Structured bool
}

// Split extracts the reasoning and answer segments of reply. Both segments
// must be present, reasoning first.
func Split(reply string) Thought {
	reasoning, rest, ok := between(reply, ThinkOpen, ThinkClose)
	if !ok {
		return Thought{Answer: reply}
	}
	answer, _, ok := between(rest, AnswerOpen, AnswerClose)
	if !ok {
		return Thought{Answer: reply}
	}
	return Thought{
		Reasoning:  strings.TrimSpace(reasoning),
		Answer:     strings.TrimSpace(answer),
		Structured: true,
	}
}

// between returns the text between the first open and the following close,
// and whatever follows close.
func between(s, open, close string) (inner, rest string, ok bool) {
	_, after, found := strings.Cut(s, open)
	if !found {
		return "", "", false
	}
	inner, rest, found = strings.Cut(after, close)
	if !found {
		return "", "", false
	}
	return inner, rest, true
}
