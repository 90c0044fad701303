// Package exec provides shell command safety classification and the
// permission-key helpers for the shell tool.
package exec

import (
	"regexp"
	"strings"
)

// High-risk command patterns. A command matching any of these is denied
// without consulting allow-lists; prior grants never apply.
var highRiskPatterns = []*regexp.Regexp{
	// Recursive force removal of root-ish or home-ish targets.
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*\s+)*-[a-z]*[rf][a-z]*\s+(-[a-z]*\s+)*(/|~|\$HOME|\*)`),
	regexp.MustCompile(`(?i)\brm\s+--recursive\b`),

	// Privilege escalation.
	regexp.MustCompile(`(?i)(^|[;&|]\s*)sudo\b`),
	regexp.MustCompile(`(?i)(^|[;&|]\s*)doas\b`),

	// Filesystem and disk destruction.
	regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`(?i)\bdd\s+[^|;]*of=/dev/`),
	regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`),

	// Fork bomb.
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`),

	// Permission/ownership blasts from the root.
	regexp.MustCompile(`(?i)\bch(mod|own)\s+(-[a-z]*\s+)*-R\s+[^;|&]*\s/(\s|$)`),

	// Piping a remote script straight into a shell.
	regexp.MustCompile(`(?i)\b(curl|wget)\b[^|;]*\|\s*(ba|z|da|k)?sh\b`),

	// Overwriting the system password database.
	regexp.MustCompile(`(?i)>\s*/etc/(passwd|shadow|sudoers)`),
}

// ControlChars matches control characters like newlines and carriage returns.
var ControlChars = regexp.MustCompile(`[\r\n]`)

// IsHighRisk reports whether a shell command is classified as destructive
// enough to require explicit confirmation every time.
func IsHighRisk(command string) bool {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false
	}
	for _, re := range highRiskPatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// StripCWDPrefix removes a leading "cd <cwd> && " from a command so that the
// permission key is stable regardless of the working directory the shell tool
// prepends. Only an exact match on the given cwd is stripped.
func StripCWDPrefix(command, cwd string) string {
	trimmed := strings.TrimSpace(command)
	if cwd == "" {
		return trimmed
	}
	for _, quoted := range []string{cwd, "'" + cwd + "'", `"` + cwd + `"`} {
		prefix := "cd " + quoted + " && "
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
	}
	return trimmed
}

// CommandPrefix extracts the leading program token of a command for
// prefix-wildcard permission keys. Returns "" when the command starts with
// env assignments, substitutions, or anything else that defeats a stable
// prefix.
func CommandPrefix(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ""
	}
	fields := strings.Fields(trimmed)
	head := fields[0]
	if strings.ContainsAny(head, "$`\"'\\=") {
		return ""
	}
	if ControlChars.MatchString(head) {
		return ""
	}
	// git-style subcommands keep two tokens so "git push" and "git log" get
	// distinct prefixes.
	if len(fields) > 1 && isSubcommandStyle(head) {
		sub := fields[1]
		if !strings.HasPrefix(sub, "-") && !strings.ContainsAny(sub, "$`\"'\\=") {
			return head + " " + sub
		}
	}
	return head
}

var subcommandStyle = map[string]bool{
	"git":    true,
	"go":     true,
	"npm":    true,
	"pnpm":   true,
	"yarn":   true,
	"cargo":  true,
	"docker": true,
	"kubectl": true,
}

func isSubcommandStyle(program string) bool {
	return subcommandStyle[program]
}
