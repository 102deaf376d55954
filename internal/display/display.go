// Package display renders output for the terminal: plain or markdown
// content, errors with remedies, spinners, tables and the two-region
// chain-of-thought view.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
)

// Output destinations; replaced in tests.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)

	reasoningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9e9e9e")).
			Italic(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color("#4db6ac")).
			PaddingLeft(1)
	answerStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color("#8BC34A")).
			PaddingLeft(1)
)

var (
	rendererMu sync.Mutex
	renderer   *glamour.TermRenderer
)

// InitRenderer prepares the markdown renderer. It is safe to call more than once.
func InitRenderer() error {
	rendererMu.Lock()
	defer rendererMu.Unlock()
	if renderer != nil {
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth()),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize markdown renderer: %w", err)
	}
	renderer = r
	return nil
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w - 4
	}
	return 80
}

// StdinIsTerminal reports whether stdin is an interactive terminal.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// StdoutIsTerminal reports whether stdout is an interactive terminal.
func StdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShowContent prints content as-is.
func ShowContent(content string) {
	fmt.Fprintln(Stdout, strings.TrimRight(content, "\n"))
}

// ShowContentRendered renders markdown, falling back to plain output.
func ShowContentRendered(content string) {
	fmt.Fprint(Stdout, RenderMarkdown(content))
}

// RenderMarkdown returns content rendered for the terminal, or content
// unchanged when no renderer is available.
func RenderMarkdown(content string) string {
	if err := InitRenderer(); err != nil {
		return strings.TrimRight(content, "\n") + "\n"
	}
	rendererMu.Lock()
	out, err := renderer.Render(content)
	rendererMu.Unlock()
	if err != nil {
		return strings.TrimRight(content, "\n") + "\n"
	}
	return out
}

// Show prints content, rendered when render is set.
func Show(content string, render bool) {
	if render {
		ShowContentRendered(content)
		return
	}
	ShowContent(content)
}

// ShowError prints an error message.
func ShowError(msg string) {
	fmt.Fprintln(Stderr, errorStyle.Render("Error:")+" "+msg)
}

// ShowErr prints err followed by its remedy, if it carries one.
func ShowErr(err error) {
	ShowError(err.Error())
	if remedy := apperr.RemedyOf(err); remedy != "" {
		fmt.Fprintln(Stderr, mutedStyle.Render("  try: ")+remedy)
	}
}

// ShowWarning prints a warning.
func ShowWarning(msg string) {
	fmt.Fprintln(Stderr, warnStyle.Render("Warning: "+msg))
}

// ShowInfo prints a status line.
func ShowInfo(msg string) {
	fmt.Fprintln(Stderr, infoStyle.Render(msg))
}

// ShowSuccess prints a confirmation line.
func ShowSuccess(msg string) {
	fmt.Fprintln(Stdout, successStyle.Render(msg))
}

// ShowThought renders a structured chain-of-thought reply as two visually
// distinct regions.
func ShowThought(reasoning, answer string, render bool) {
	fmt.Fprintln(Stdout, headerStyle.Render("Reasoning"))
	fmt.Fprintln(Stdout, reasoningStyle.Render(strings.TrimSpace(reasoning)))
	fmt.Fprintln(Stdout)
	fmt.Fprintln(Stdout, headerStyle.Render("Answer"))
	body := strings.TrimSpace(answer)
	if render {
		body = strings.TrimRight(RenderMarkdown(body), "\n")
	}
	fmt.Fprintln(Stdout, answerStyle.Render(body))
}

// ShowTable prints rows under bold headers with aligned columns.
func ShowTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}
	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			cell += strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil {
				cell = style.Render(cell)
			}
			parts[i] = cell
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}
	bold := lipgloss.NewStyle().Bold(true)
	fmt.Fprintln(Stdout, line(headers, &bold))
	for _, row := range rows {
		fmt.Fprintln(Stdout, line(row, nil))
	}
}
