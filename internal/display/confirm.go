package display

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Approval is the user's answer to a confirmation prompt.
type Approval int

const (
	ApprovalDenied Approval = iota
	ApprovalOnce
)

// AskCommandConfirmation shows a command and its risk, then reads y/N from in.
func AskCommandConfirmation(in io.Reader, command, reason string) Approval {
	fmt.Fprintln(Stderr, warnStyle.Render("About to run:"))
	fmt.Fprintln(Stderr, "  "+command)
	if reason != "" {
		fmt.Fprintln(Stderr, mutedStyle.Render("  "+reason))
	}
	fmt.Fprint(Stderr, "Proceed? [y/N] ")

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return ApprovalDenied
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return ApprovalOnce
	}
	return ApprovalDenied
}

// ShowCommandExecuting announces a command.
func ShowCommandExecuting(command string) {
	fmt.Fprintln(Stderr, infoStyle.Render("$ "+command))
}

// ShowCommandOutput prints captured command output.
func ShowCommandOutput(output string) {
	if output = strings.TrimRight(output, "\n"); output != "" {
		fmt.Fprintln(Stdout, output)
	}
}

// ShowCommandError reports a failed command.
func ShowCommandError(command string, err error) {
	ShowError(fmt.Sprintf("%s: %v", command, err))
}

// ShowCommandBlocked reports a command refused by policy.
func ShowCommandBlocked(command, reason string) {
	fmt.Fprintln(Stderr, errorStyle.Render("Blocked:")+" "+command)
	if reason != "" {
		fmt.Fprintln(Stderr, mutedStyle.Render("  "+reason))
	}
}
