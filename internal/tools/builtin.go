package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	oexec "os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/magpie-ai/magpie/internal/exec"
)

// single wraps one result into a closed element channel.
func single(res Result) <-chan InvokeElem {
	ch := make(chan InvokeElem, 1)
	ch <- InvokeElem{Result: &res}
	close(ch)
	return ch
}

func inputString(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

// LSTool lists a directory. Read-only and concurrency-safe.
type LSTool struct{}

type lsInput struct {
	Path string `json:"path" jsonschema:"required,description=Directory to list"`
}

func (LSTool) Name() string { return "LS" }

func (LSTool) Description(context.Context) (string, error) {
	return "Lists the entries of a directory.", nil
}

func (LSTool) Prompt() string { return "" }

func (LSTool) Schema() map[string]any { return StructSchema(&lsInput{}) }

func (LSTool) IsReadOnly() bool        { return true }
func (LSTool) IsConcurrencySafe() bool { return true }

func (LSTool) NeedsPermissions(map[string]any) bool { return false }

func (LSTool) ValidateInput(input map[string]any, _ *Context) error {
	if inputString(input, "path") == "" {
		return errors.New("path must not be empty")
	}
	return nil
}

func (LSTool) RenderToolUseMessage(input map[string]any, _ bool) string {
	return inputString(input, "path")
}

func (LSTool) Invoke(_ context.Context, input map[string]any, _ *Context) (<-chan InvokeElem, error) {
	entries, err := os.ReadDir(inputString(input, "path"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return single(Result{TextForModel: strings.Join(names, "\n") + "\n", Data: names}), nil
}

// ReadTool reads a file. Read-only and concurrency-safe; records a read
// timestamp in the tool-use context for stale-write detection.
type ReadTool struct{}

type readInput struct {
	Path   string `json:"path" jsonschema:"required,description=File to read"`
	Offset int    `json:"offset,omitempty" jsonschema:"minimum=0,description=First line to return"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=0,description=Maximum number of lines"`
}

func (ReadTool) Name() string { return "Read" }

func (ReadTool) Description(context.Context) (string, error) {
	return "Reads a file from the local filesystem.", nil
}

func (ReadTool) Prompt() string { return "" }

func (ReadTool) Schema() map[string]any { return StructSchema(&readInput{}) }

func (ReadTool) IsReadOnly() bool        { return true }
func (ReadTool) IsConcurrencySafe() bool { return true }

func (ReadTool) NeedsPermissions(map[string]any) bool { return false }

func (ReadTool) ValidateInput(input map[string]any, _ *Context) error {
	if inputString(input, "path") == "" {
		return errors.New("path must not be empty; pass the file to read")
	}
	return nil
}

func (ReadTool) RenderToolUseMessage(input map[string]any, _ bool) string {
	return inputString(input, "path")
}

func (ReadTool) Invoke(_ context.Context, input map[string]any, tctx *Context) (<-chan InvokeElem, error) {
	path := inputString(input, "path")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if tctx != nil {
		tctx.NoteFileRead(path, time.Now())
	}
	text := string(data)
	if offset, ok := asInt(input["offset"]); ok && offset > 0 {
		lines := strings.Split(text, "\n")
		if offset < len(lines) {
			lines = lines[offset:]
		} else {
			lines = nil
		}
		text = strings.Join(lines, "\n")
	}
	if limit, ok := asInt(input["limit"]); ok && limit > 0 {
		lines := strings.Split(text, "\n")
		if limit < len(lines) {
			lines = lines[:limit]
		}
		text = strings.Join(lines, "\n")
	}
	return single(Result{TextForModel: text}), nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// WriteTool writes a file. Concurrency-unsafe; permission grants for it are
// directory-scoped.
type WriteTool struct{}

type writeInput struct {
	Path    string `json:"path" jsonschema:"required,description=File to write"`
	Content string `json:"content" jsonschema:"required,description=Full file content"`
}

func (WriteTool) Name() string { return "Write" }

func (WriteTool) Description(context.Context) (string, error) {
	return "Writes a file to the local filesystem, replacing it if it exists.", nil
}

func (WriteTool) Prompt() string { return "" }

func (WriteTool) Schema() map[string]any { return StructSchema(&writeInput{}) }

func (WriteTool) IsReadOnly() bool        { return false }
func (WriteTool) IsConcurrencySafe() bool { return false }

func (WriteTool) NeedsPermissions(input map[string]any) bool {
	path := inputString(input, "path")
	return path == "" || !WriteGranted(path)
}

func (WriteTool) ValidateInput(input map[string]any, _ *Context) error {
	if inputString(input, "path") == "" {
		return errors.New("path must not be empty")
	}
	return nil
}

func (WriteTool) RenderToolUseMessage(input map[string]any, verbose bool) string {
	path := inputString(input, "path")
	if verbose {
		return fmt.Sprintf("%s (%d bytes)", path, len(inputString(input, "content")))
	}
	return path
}

// AffectedPath implements FileEditor.
func (WriteTool) AffectedPath(input map[string]any) string {
	return inputString(input, "path")
}

func (WriteTool) Invoke(_ context.Context, input map[string]any, _ *Context) (<-chan InvokeElem, error) {
	path := inputString(input, "path")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	content := inputString(input, "content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return single(Result{
		TextForModel: fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
	}), nil
}

// BashTool runs a shell command. Concurrency-unsafe; its permission keys
// embed the rendered command and its commands are screened by the high-risk
// classifier.
type BashTool struct{}

type bashInput struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to execute"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"minimum=0,description=Timeout in seconds"`
}

func (BashTool) Name() string { return "Bash" }

func (BashTool) Description(context.Context) (string, error) {
	return "Executes a shell command and returns its output.", nil
}

func (BashTool) Prompt() string {
	return "Use the Bash tool for shell commands. Quote paths containing spaces."
}

func (BashTool) Schema() map[string]any { return StructSchema(&bashInput{}) }

func (BashTool) IsReadOnly() bool        { return false }
func (BashTool) IsConcurrencySafe() bool { return false }

func (BashTool) NeedsPermissions(map[string]any) bool { return true }

func (BashTool) ValidateInput(input map[string]any, _ *Context) error {
	if strings.TrimSpace(inputString(input, "command")) == "" {
		return errors.New("command must not be empty")
	}
	return nil
}

func (b BashTool) RenderToolUseMessage(input map[string]any, verbose bool) string {
	command := strings.TrimSpace(inputString(input, "command"))
	if !verbose && len(command) > 120 {
		return command[:120] + "..."
	}
	return command
}

// PermissionCommand implements ShellCapable.
func (BashTool) PermissionCommand(input map[string]any, tctx *Context) string {
	cwd := ""
	if tctx != nil {
		cwd = tctx.CWD
	}
	return exec.StripCWDPrefix(inputString(input, "command"), cwd)
}

// IsHighRisk implements ShellCapable.
func (b BashTool) IsHighRisk(input map[string]any, tctx *Context) bool {
	return exec.IsHighRisk(b.PermissionCommand(input, tctx))
}

func (b BashTool) Invoke(ctx context.Context, input map[string]any, tctx *Context) (<-chan InvokeElem, error) {
	command := inputString(input, "command")
	if timeout, ok := asInt(input["timeout"]); ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}
	cmd := oexec.CommandContext(ctx, "bash", "-c", command)
	if tctx != nil && tctx.CWD != "" {
		cmd.Dir = tctx.CWD
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w\n%s", err, out)
	}
	return single(Result{TextForModel: string(out)}), nil
}
