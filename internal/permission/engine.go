package permission

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/magpie-ai/magpie/internal/config"
	"github.com/magpie-ai/magpie/internal/observability"
	"github.com/magpie-ai/magpie/internal/tools"
)

// Engine resolves permission decisions per (tool, input) pair.
type Engine struct {
	// Project is the persistent allow-list store. Required.
	Project *Allowlist

	// Session is the in-memory grant set. Required.
	Session *SessionGrants

	// Requests escalates ungranted calls to the interactive confirmer.
	// Nil means non-interactive: ungranted calls are denied.
	Requests chan<- ConfirmRequest

	// Describe returns the cached tool description for prompts. Optional.
	Describe func(tool string) string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Check runs the decision algorithm. The only non-nil error is ErrAborted;
// every other outcome is a Decision.
func (e *Engine) Check(ctx context.Context, tool tools.Tool, input map[string]any, tctx *tools.Context) (Decision, error) {
	decision, err := e.check(ctx, tool, input, tctx)
	e.observe(tool.Name(), decision, err)
	return decision, err
}

func (e *Engine) check(ctx context.Context, tool tools.Tool, input map[string]any, tctx *tools.Context) (Decision, error) {
	// 1. Abort short-circuits everything.
	if ctx.Err() != nil {
		return Decision{}, ErrAborted
	}

	// 2. Normalise the mode; unknown values fall back to default.
	mode := config.NormalizeMode(string(tctx.PermissionMode))
	policy := policyFor(mode)

	// 3. Mode allow-list.
	if !policy.allows(tool.Name()) {
		return denied(fmt.Sprintf("tool not available in %s mode", mode)), nil
	}

	// 4. Tools that need no permission for this input run silently.
	if !tool.NeedsPermissions(input) {
		return granted(), nil
	}

	// 5. High-risk shell commands are always denied; prior grants never apply.
	shell, isShell := tool.(tools.ShellCapable)
	if isShell && shell.IsHighRisk(input, tctx) {
		return denied(highRiskDenial), nil
	}

	// 6-7. Mode restriction flags.
	if policy.bypassValidation {
		return granted(), nil
	}
	if !policy.requireConfirmation {
		return granted(), nil
	}

	// 8. Permissive default: outside safe mode the default mode grants.
	if mode == config.ModeDefault && !tctx.SafeMode {
		return granted(), nil
	}

	// 9. Effective allow-list: project persistent union session in-memory.
	key := e.permissionKey(tool, shell, isShell, input, tctx)
	if e.grantedByAllowlist(key, tool, shell, isShell, input, tctx) {
		return granted(), nil
	}

	// 10. File editors re-check after any directory-scope grant.
	if _, isEditor := tool.(tools.FileEditor); isEditor {
		if !tool.NeedsPermissions(input) {
			return granted(), nil
		}
	}

	// Escalate to the interactive confirmer before the final denial.
	if e.Requests != nil {
		return e.escalate(ctx, tool, shell, isShell, input, tctx, key)
	}

	// 11. Canonical denial.
	return denied(canonicalDenial(tool.Name())), nil
}

// permissionKey builds the allow-list lookup key. The shell tool embeds its
// rendered command; other tools use the bare name.
func (e *Engine) permissionKey(tool tools.Tool, shell tools.ShellCapable, isShell bool, input map[string]any, tctx *tools.Context) string {
	if isShell {
		return fmt.Sprintf("%s(%s)", tool.Name(), shell.PermissionCommand(input, tctx))
	}
	return tool.Name()
}

func (e *Engine) grantedByAllowlist(key string, tool tools.Tool, shell tools.ShellCapable, isShell bool, input map[string]any, tctx *tools.Context) bool {
	if e.Project.Contains(key) || e.Session.Contains(key) {
		return true
	}
	if !isShell {
		return false
	}
	// Remembered prefixes: a key of the form Bash(<prefix>:*) grants every
	// command under that prefix.
	command := shell.PermissionCommand(input, tctx)
	prefixKeyOf := func(prefix string) string {
		return fmt.Sprintf("%s(%s:*)", tool.Name(), prefix)
	}
	for prefix := command; prefix != ""; prefix = parentPrefix(prefix) {
		pk := prefixKeyOf(prefix)
		if e.Project.Contains(pk) || e.Session.Contains(pk) {
			return true
		}
	}
	return false
}

// parentPrefix drops the last token of a candidate prefix, so
// "git push origin" is checked as "git push" and then "git".
func parentPrefix(prefix string) string {
	idx := strings.LastIndex(prefix, " ")
	if idx < 0 {
		return ""
	}
	return prefix[:idx]
}

func (e *Engine) escalate(ctx context.Context, tool tools.Tool, shell tools.ShellCapable, isShell bool, input map[string]any, tctx *tools.Context, key string) (Decision, error) {
	description := ""
	if e.Describe != nil {
		description = e.Describe(tool.Name())
	}
	answer, err := confirm(ctx, e.Requests, ConfirmRequest{
		Tool:        tool.Name(),
		Rendered:    tool.RenderToolUseMessage(input, tctx.Verbose),
		Description: description,
	})
	if err != nil {
		return Decision{}, err
	}
	switch answer {
	case AnswerAllowOnce:
		return granted(), nil
	case AnswerAllowSession:
		e.SaveSessionPermission(tool, shell, isShell, input, tctx)
		return granted(), nil
	case AnswerAllowProject:
		if err := e.SavePermission(tool, input, tctx, ""); err != nil {
			e.logWarn(ctx, "persisting grant failed", err)
		}
		return granted(), nil
	case AnswerAbort:
		return Decision{}, ErrAborted
	default:
		return denied(canonicalDenial(tool.Name())), nil
	}
}

// SavePermission persists a project grant. For file-editing tools the grant
// is a process-wide directory scope instead of a stored key. A non-empty
// prefix stores a Bash(<prefix>:*) wildcard key.
func (e *Engine) SavePermission(tool tools.Tool, input map[string]any, tctx *tools.Context, prefix string) error {
	if editor, ok := tool.(tools.FileEditor); ok {
		if path := editor.AffectedPath(input); path != "" {
			tools.GrantWriteDir(filepath.Dir(path))
		}
		return nil
	}
	if prefix != "" {
		return e.Project.Add(fmt.Sprintf("%s(%s:*)", tool.Name(), prefix))
	}
	shell, isShell := tool.(tools.ShellCapable)
	return e.Project.Add(e.permissionKey(tool, shell, isShell, input, tctx))
}

// SaveSessionPermission records an in-memory grant for the rest of the
// process lifetime.
func (e *Engine) SaveSessionPermission(tool tools.Tool, shell tools.ShellCapable, isShell bool, input map[string]any, tctx *tools.Context) {
	if editor, ok := tool.(tools.FileEditor); ok {
		if path := editor.AffectedPath(input); path != "" {
			tools.GrantWriteDir(filepath.Dir(path))
		}
		return
	}
	e.Session.Add(e.permissionKey(tool, shell, isShell, input, tctx))
}

func (e *Engine) observe(tool string, decision Decision, err error) {
	if e.Metrics == nil {
		return
	}
	outcome := "granted"
	if err != nil {
		outcome = "aborted"
	} else if !decision.Granted {
		outcome = "denied"
	}
	e.Metrics.PermissionDecisionCounter.WithLabelValues(tool, outcome).Inc()
}

func (e *Engine) logWarn(ctx context.Context, msg string, err error) {
	if e.Logger != nil {
		e.Logger.Warn(ctx, msg, "error", err)
	}
}
