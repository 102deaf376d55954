package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  Thought
	}{
		{
			name:  "structured",
			reply: "<think>A</think><answer>B</answer>",
			want:  Thought{Reasoning: "A", Answer: "B", Structured: true},
		},
		{
			name:  "whitespace and surrounding text",
			reply: "Sure.\n<think>\n  step one\n  step two\n</think>\n\n<answer> 42 </answer>\n",
			want:  Thought{Reasoning: "step one\n  step two", Answer: "42", Structured: true},
		},
		{
			name:  "no delimiters",
			reply: "just an answer\n",
			want:  Thought{Answer: "just an answer\n"},
		},
		{
			name:  "think without answer",
			reply: "<think>A</think> B",
			want:  Thought{Answer: "<think>A</think> B"},
		},
		{
			name:  "answer before think",
			reply: "<answer>B</answer><think>A</think>",
			want:  Thought{Answer: "<answer>B</answer><think>A</think>"},
		},
		{
			name:  "unclosed think",
			reply: "<think>A <answer>B</answer>",
			want:  Thought{Answer: "<think>A <answer>B</answer>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.reply))
		})
	}
}

func TestWrap(t *testing.T) {
	got := Wrap("  why is the sky blue?  ")
	for _, want := range []string{ThinkOpen, ThinkClose, AnswerOpen, AnswerClose} {
		assert.Contains(t, got, want)
	}
	assert.True(t, strings.HasSuffix(got, "Question: why is the sky blue?"), got)
}
