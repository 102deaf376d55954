package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/api"
)

const transcriptHeader = "# Session: "

var (
	markerRe = regexp.MustCompile(`(?m)^<!-- ai-cli:(user|assistant|system) -->\n`)
	imageRe  = regexp.MustCompile(`^!\[image\]\(([^)\n]*)\)\n`)
	// reservedRe matches content lines that would read as a marker or an
	// image line, with any escapes already in front of them.
	reservedRe = regexp.MustCompile(`(?m)^(\\*)(<!-- ai-cli:|!\[image\]\()`)
	escapedRe  = regexp.MustCompile(`(?m)^\\(\\*)(<!-- ai-cli:|!\[image\]\()`)
)

// escapeContent prefixes reserved lines with a backslash.
func escapeContent(s string) string { return reservedRe.ReplaceAllString(s, `\$1$2`) }

// unescapeContent removes the backslash escapeContent added.
func unescapeContent(s string) string { return escapedRe.ReplaceAllString(s, `$1$2`) }

func roleTitle(role string) string {
	switch role {
	case api.RoleAssistant:
		return "Assistant"
	case api.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

// Export renders a session as a markdown transcript that ParseTranscript can
// read back losslessly. Content lines starting like a marker or an image line
// are escaped with a leading backslash.
func Export(sess *Session) string {
	var b strings.Builder
	b.WriteString(transcriptHeader + sess.Name + "\n\n")
	for _, m := range sess.Messages {
		fmt.Fprintf(&b, "<!-- ai-cli:%s -->\n### %s\n", m.Role, roleTitle(m.Role))
		if m.Image != "" {
			fmt.Fprintf(&b, "![image](%s)\n", m.Image)
		}
		b.WriteString(escapeContent(m.Content))
		b.WriteString("\n\n")
	}
	return b.String()
}

// ParseTranscript is the inverse of Export.
func ParseTranscript(text string) (*Session, error) {
	first, _, _ := strings.Cut(text, "\n")
	name, ok := strings.CutPrefix(first, transcriptHeader)
	if !ok {
		return nil, fmt.Errorf("not a session transcript: missing %q header", strings.TrimSpace(transcriptHeader))
	}

	sess := &Session{Name: strings.TrimSpace(name), Messages: []api.Message{}}
	marks := markerRe.FindAllStringSubmatchIndex(text, -1)
	for i, mk := range marks {
		role := text[mk[2]:mk[3]]
		end := len(text)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		block := text[mk[1]:end]

		header := "### " + roleTitle(role) + "\n"
		body, ok := strings.CutPrefix(block, header)
		if !ok {
			return nil, fmt.Errorf("message %d: expected %q", i+1, strings.TrimSpace(header))
		}
		msg := api.Message{Role: role}
		if m := imageRe.FindStringSubmatch(body); m != nil {
			msg.Image = m[1]
			body = body[len(m[0]):]
		}
		msg.Content = unescapeContent(strings.TrimSuffix(body, "\n\n"))
		sess.Messages = append(sess.Messages, msg)
	}
	return sess, nil
}
