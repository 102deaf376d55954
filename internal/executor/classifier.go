package executor

import (
	"regexp"
	"slices"
	"strings"
)

// RiskLevel grades generated code before it is run.
type RiskLevel int

const (
	// Safe code only reads and may run without asking.
	Safe RiskLevel = iota
	// NeedsConfirm code may change state; the user is asked first.
	NeedsConfirm
	// Dangerous code is never run.
	Dangerous
)

func (r RiskLevel) String() string {
	switch r {
	case Safe:
		return "safe"
	case NeedsConfirm:
		return "needs-confirm"
	case Dangerous:
		return "dangerous"
	}
	return "unknown"
}

// Assessment is a risk level and the rule that produced it.
type Assessment struct {
	Risk RiskLevel
	Why  string
}

type rule struct {
	re  *regexp.Regexp
	why string
}

func rules(pairs ...string) []rule {
	out := make([]rule, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, rule{regexp.MustCompile(pairs[i]), pairs[i+1]})
	}
	return out
}

// destructive rules apply to every language, shell-outs included.
var destructive = rules(
	`rm\s+(-[rf]*\s+)?/`, "recursive delete of a root path",
	`rm\s+-rf\s+[~$]`, "recursive delete of home or a variable path",
	`\bsudo\b`, "privilege escalation",
	`dd\s+if=`, "raw disk copy",
	`mkfs`, "filesystem format",
	`:\(\)\s*\{`, "fork bomb",
	`(curl|wget).*\|\s*(sh|bash|zsh)`, "download piped to a shell",
	`>\s*/dev/sd`, "write to a disk device",
	`chmod.*777\s+/`, "world-writable system path",
	`shutil\.rmtree\(\s*['"](/|~)`, "recursive delete of root or home",
	`os\.RemoveAll\(\s*"(/|~)`, "recursive delete of root or home",
	`fs\.(rmSync|rmdirSync)\(\s*['"]/`, "recursive delete of a root path",
)

// evasive rules are shell constructs that hide what actually runs.
var evasive = rules(
	`\bsu\b`, "user switch",
	`chown.*-R\s+`, "recursive ownership change",
	`\beval\b`, "eval of dynamic input",
	`\bsource\b`, "sourcing another file",
	`\bexec\b`, "process replacement",
	`>\s*/etc/`, "write under /etc",
	`>\s*/dev/null\s*2>&1\s*&`, "hidden background job",
	`\|.*base64.*-d`, "base64 decoded in a pipeline",
)

// readOnly lists commands that never write.
var readOnly = []string{
	"ls", "cat", "pwd", "echo", "printf", "head", "tail", "grep", "find",
	"which", "whoami", "date", "wc", "sort", "uniq", "diff", "seq",
	"df", "du", "ps", "tree", "uname", "hostname", "uptime",
	"file", "stat", "basename", "dirname", "realpath", "true", "expr",
}

var readOnlyTools = rules(
	`^git\s+(status|log|diff|branch|show|remote)\b`, "read-only git",
	`^pip3?\s+(list|show|freeze)\b`, "package listing",
	`^python3?\s+--version$`, "version check",
	`^nvidia-smi\b`, "GPU status",
)

var chaining = regexp.MustCompile(`[;&|]{1,2}`)

func firstMatch(rs []rule, s string) (string, bool) {
	for _, r := range rs {
		if r.re.MatchString(s) {
			return r.why, true
		}
	}
	return "", false
}

// AssessCommand grades one shell command line. curl and wget are not
// read-only: they can exfiltrate or fetch payloads.
func AssessCommand(cmd string) Assessment {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return Assessment{Dangerous, "empty command"}
	}
	if why, ok := firstMatch(destructive, cmd); ok {
		return Assessment{Dangerous, why}
	}
	if why, ok := firstMatch(evasive, cmd); ok {
		return Assessment{Dangerous, why}
	}
	switch {
	case chaining.MatchString(cmd):
		return Assessment{NeedsConfirm, "chained commands"}
	case strings.Contains(cmd, ">"):
		return Assessment{NeedsConfirm, "output redirection"}
	}
	if name := strings.Fields(cmd)[0]; slices.Contains(readOnly, name) {
		return Assessment{Safe, "read-only " + name}
	}
	if why, ok := firstMatch(readOnlyTools, cmd); ok {
		return Assessment{Safe, why}
	}
	return Assessment{NeedsConfirm, "may modify system state"}
}

// Assess grades a program in lang. Shell scripts take the grade of their
// riskiest line; other languages always need confirmation unless a
// destructive rule matches.
func Assess(lang Language, code string) Assessment {
	if strings.TrimSpace(code) == "" {
		return Assessment{Dangerous, "empty program"}
	}
	if why, ok := firstMatch(destructive, code); ok {
		return Assessment{Dangerous, why}
	}
	if !lang.Shell {
		return Assessment{NeedsConfirm, lang.Name + " program may modify system state"}
	}

	worst := Assessment{Safe, "read-only script"}
	for line := range strings.Lines(code) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if a := AssessCommand(line); a.Risk > worst.Risk {
			worst = a
		}
	}
	return worst
}

// ClassifyCommand is AssessCommand without the reason.
func ClassifyCommand(cmd string) RiskLevel { return AssessCommand(cmd).Risk }

// ClassifyCode is Assess without the reason.
func ClassifyCode(lang Language, code string) RiskLevel { return Assess(lang, code).Risk }
