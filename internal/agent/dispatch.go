package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/magpie-ai/magpie/internal/observability"
	"github.com/magpie-ai/magpie/internal/permission"
	"github.com/magpie-ai/magpie/internal/tools"
)

// maxResultChars bounds the text of crash and output payloads sent back to
// the model.
const maxResultChars = 10000

const truncationMarker = "\n... [output truncated]"

// toolInterruptText is the tool_result body for an invocation cut short by
// cancellation.
const toolInterruptText = "Tool execution cancelled by user."

// PermissionChecker is the slice of the permission engine the dispatcher
// needs. *permission.Engine satisfies it.
type PermissionChecker interface {
	Check(ctx context.Context, tool tools.Tool, input map[string]any, tctx *tools.Context) (permission.Decision, error)
}

// Dispatcher runs one tool_use block through the full lifecycle: lookup,
// schema validation, input normalisation, semantic validation, permission
// check, and lazy-sequence consumption.
type Dispatcher struct {
	Registry    *tools.Registry
	Permissions PermissionChecker
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	// SkipPermissionCheck bypasses the engine entirely; used by trusted
	// internal callers, never by model-proposed calls.
	SkipPermissionCheck bool

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// Dispatch executes one tool_use and emits progress and tool_result messages
// through emit. It always emits exactly one tool_result; emit is called from
// the dispatching goroutine only.
func (d *Dispatcher) Dispatch(ctx context.Context, use ToolUse, siblingIDs []string, tctx *tools.Context, emit func(Message)) {
	start := time.Now()
	ctx = observability.AddTool(ctx, use.Name)

	fail := func(text, status string) {
		d.observe(use.Name, status, start)
		emit(errorResult(use, text))
	}

	if ctx.Err() != nil {
		fail(toolInterruptText, "cancelled")
		return
	}

	tool, ok := d.Registry.Get(use.Name)
	if !ok {
		fail(fmt.Sprintf("Error: No such tool available: %s", use.Name), "error")
		return
	}

	if err := d.validateSchema(tool, use.Input); err != nil {
		fail(err.Error(), "error")
		return
	}

	input := normalizeInput(tool, use.Input, tctx)

	if err := tool.ValidateInput(input, tctx); err != nil {
		fail(err.Error(), "error")
		return
	}

	if !d.SkipPermissionCheck && d.Permissions != nil {
		decision, err := d.Permissions.Check(ctx, tool, input, tctx)
		if err != nil {
			fail(toolInterruptText, "cancelled")
			return
		}
		if !decision.Granted {
			fail(decision.Reason, "denied")
			return
		}
	}

	elems, err := tool.Invoke(ctx, input, tctx)
	if err != nil {
		d.logCrash(ctx, use.Name, err)
		fail(truncate(fmt.Sprintf("Tool execution failed: %s", err)), "error")
		return
	}

	var lastProgress *tools.Progress
	for {
		select {
		case <-ctx.Done():
			// Re-surface the last progress so the caller's UI shows what was
			// underway when the interrupt landed.
			if lastProgress != nil {
				emit(&ProgressMessage{ToolUseID: use.ID, SiblingIDs: siblingIDs, Progress: *lastProgress})
			}
			fail(toolInterruptText, "cancelled")
			return
		case elem, open := <-elems:
			if !open {
				d.logCrash(ctx, use.Name, fmt.Errorf("sequence ended without a result"))
				fail("Tool execution failed: sequence ended without a result", "error")
				return
			}
			switch {
			case elem.Progress != nil:
				lastProgress = elem.Progress
				emit(&ProgressMessage{ToolUseID: use.ID, SiblingIDs: siblingIDs, Progress: *elem.Progress})
			case elem.Result != nil:
				d.observe(use.Name, "success", start)
				emit(&UserMessage{Blocks: []Block{ToolResultBlock(ToolResult{
					ToolUseID:  use.ID,
					Name:       use.Name,
					Content:    truncate(elem.Result.TextForModel),
					Data:       elem.Result.Data,
					SkillTools: skillTools(elem.Result.Data),
				})}})
				return
			}
		}
	}
}

// validateSchema checks the input against the tool's declared schema,
// compiling it once per tool.
func (d *Dispatcher) validateSchema(tool tools.Tool, input map[string]any) error {
	d.schemaMu.Lock()
	compiled, ok := d.schemas[tool.Name()]
	d.schemaMu.Unlock()

	if !ok {
		raw, err := json.Marshal(tool.Schema())
		if err != nil {
			return fmt.Errorf("invalid schema for tool %s: %v", tool.Name(), err)
		}
		compiled, err = jsonschema.CompileString(tool.Name()+".schema.json", string(raw))
		if err != nil {
			return fmt.Errorf("invalid schema for tool %s: %v", tool.Name(), err)
		}
		d.schemaMu.Lock()
		if d.schemas == nil {
			d.schemas = make(map[string]*jsonschema.Schema)
		}
		d.schemas[tool.Name()] = compiled
		d.schemaMu.Unlock()
	}

	var doc any = input
	if input == nil {
		doc = map[string]any{}
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("invalid input for tool %s: %v", tool.Name(), err)
	}
	return nil
}

// normalizeInput applies tool-specific input fixups before validation and
// permission checks. The shell command has its cwd prefix stripped so the
// permission key and the executed command agree.
func normalizeInput(tool tools.Tool, input map[string]any, tctx *tools.Context) map[string]any {
	shell, ok := tool.(tools.ShellCapable)
	if !ok {
		return input
	}
	command := shell.PermissionCommand(input, tctx)
	raw, _ := input["command"].(string)
	if command == raw {
		return input
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	out["command"] = command
	return out
}

// skillTools extracts a skill tool allow-list from a result's data
// side-channel, when the tool published one.
func skillTools(data any) []string {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["allowed_tools"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

func errorResult(use ToolUse, text string) *UserMessage {
	return &UserMessage{Blocks: []Block{ToolResultBlock(ToolResult{
		ToolUseID: use.ID,
		Name:      use.Name,
		Content:   text,
		IsError:   true,
	})}}
}

func truncate(s string) string {
	if len(s) <= maxResultChars {
		return s
	}
	cut := maxResultChars
	for cut > 0 && !utf8StartByte(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

func utf8StartByte(b byte) bool { return b&0xC0 != 0x80 }

func (d *Dispatcher) observe(tool, status string, start time.Time) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	d.Metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) logCrash(ctx context.Context, tool string, err error) {
	if d.Logger == nil {
		return
	}
	d.Logger.Error(ctx, "tool execution failed", "tool", tool, "error", err.Error())
}
