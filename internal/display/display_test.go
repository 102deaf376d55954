package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr := Stdout, Stderr
	Stdout, Stderr = &out, &errOut
	t.Cleanup(func() { Stdout, Stderr = oldOut, oldErr })
	return &out, &errOut
}

func TestShowErrIncludesRemedy(t *testing.T) {
	_, errOut := capture(t)
	ShowErr(apperr.NewMissingCredential("openai", "openai"))
	assert.Contains(t, errOut.String(), "no API key stored for openai")
	assert.Contains(t, errOut.String(), "ai download openai <key>")

	errOut.Reset()
	ShowErr(errors.New("plain failure"))
	assert.Contains(t, errOut.String(), "plain failure")
	assert.NotContains(t, errOut.String(), "try:")
}

func TestShowThought(t *testing.T) {
	out, _ := capture(t)
	ShowThought("  first I add  ", "42", false)
	s := out.String()
	assert.Contains(t, s, "Reasoning")
	assert.Contains(t, s, "first I add")
	assert.Contains(t, s, "Answer")
	assert.Contains(t, s, "42")
	assert.Less(t, strings.Index(s, "first I add"), strings.Index(s, "42"))
}

func TestShowTableAligns(t *testing.T) {
	out, _ := capture(t)
	ShowTable([]string{"NAME", "N"}, [][]string{{"default", "4"}, {"x", "12"}})
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "default  4", lines[1])
	assert.Equal(t, "x        12", lines[2])
}

func TestAskCommandConfirmation(t *testing.T) {
	capture(t)
	tests := []struct {
		in   string
		want Approval
	}{
		{"y\n", ApprovalOnce},
		{"YES\n", ApprovalOnce},
		{"n\n", ApprovalDenied},
		{"\n", ApprovalDenied},
		{"", ApprovalDenied},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AskCommandConfirmation(strings.NewReader(tt.in), "rm -rf build", "deletes files"), "input %q", tt.in)
	}
}

func TestShowContent(t *testing.T) {
	out, _ := capture(t)
	ShowContent("hello\n\n")
	assert.Equal(t, "hello\n", out.String())
}
