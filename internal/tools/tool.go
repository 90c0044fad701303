// Package tools defines the capability contract every tool implements, the
// registry that holds them, and the shared tool-use context.
package tools

import (
	"context"
	"sync"
	"time"

	"github.com/magpie-ai/magpie/internal/config"
)

// Progress is an intermediate snapshot yielded during a tool invocation.
// Progress never reaches the model; the query loop filters it from history.
type Progress struct {
	Text string
	Data map[string]any
}

// Result is the terminal element of a tool invocation.
type Result struct {
	// TextForModel is what the model sees in the tool_result block.
	TextForModel string
	// Data is an optional structured side-channel for the caller.
	Data any
}

// InvokeElem is one element of a tool's lazy output sequence. Exactly one
// field is set; a Result ends the sequence.
type InvokeElem struct {
	Progress *Progress
	Result   *Result
}

// Context is the tool-use context: constructed once per user request and
// shared by reference across all tools in that request.
type Context struct {
	// PermissionMode is the resolved permission mode for this request.
	PermissionMode config.PermissionMode

	// SafeMode mirrors the session safe-mode flag.
	SafeMode bool

	// Tools is the enabled tool-name list. Empty means all registered.
	Tools []string

	// Verbose widens tool-use renderings.
	Verbose bool

	// MessageLogName keys the transcript store for this request.
	MessageLogName string

	// CWD is the working directory shell commands run in.
	CWD string

	mu             sync.Mutex
	readTimestamps map[string]time.Time
}

// NoteFileRead records when a file was last read, for stale-write detection
// by file-editing tools.
func (c *Context) NoteFileRead(path string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readTimestamps == nil {
		c.readTimestamps = make(map[string]time.Time)
	}
	c.readTimestamps[path] = at
}

// FileReadAt returns when path was last read through the Read tool.
func (c *Context) FileReadAt(path string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.readTimestamps[path]
	return at, ok
}

// Tool is the capability contract. Invoke returns a lazy sequence; the
// dispatcher consumes it and observes cancellation between elements.
type Tool interface {
	Name() string

	// Description may be slow (remote lookup); the registry caches it at
	// registration so permission prompts can read it synchronously.
	Description(ctx context.Context) (string, error)

	// Prompt returns the snippet appended to the system prompt when the tool
	// is enabled. Empty means no snippet.
	Prompt() string

	// Schema is the JSON-Schema for the tool's input.
	Schema() map[string]any

	IsReadOnly() bool
	IsConcurrencySafe() bool

	// NeedsPermissions reports whether this input requires a permission
	// decision before execution.
	NeedsPermissions(input map[string]any) bool

	// ValidateInput runs the tool's semantic check. A non-nil error is the
	// denial reason.
	ValidateInput(input map[string]any, tctx *Context) error

	// RenderToolUseMessage renders the input for permission keys and prompts.
	RenderToolUseMessage(input map[string]any, verbose bool) string

	// Invoke starts the tool and returns its element sequence. The channel is
	// closed after the Result element.
	Invoke(ctx context.Context, input map[string]any, tctx *Context) (<-chan InvokeElem, error)
}

// ShellCapable marks a tool whose permission keys embed a rendered command
// and whose commands are screened by the high-risk classifier.
type ShellCapable interface {
	// PermissionCommand returns the command with any cwd prefix stripped.
	PermissionCommand(input map[string]any, tctx *Context) string

	// IsHighRisk reports whether the command is classified destructive.
	IsHighRisk(input map[string]any, tctx *Context) bool
}

// FileEditor marks a tool that writes files; project grants for it are
// directory-scoped rather than persisted keys.
type FileEditor interface {
	// AffectedPath returns the file the input would modify.
	AffectedPath(input map[string]any) string
}
