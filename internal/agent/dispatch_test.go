package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/magpie-ai/magpie/internal/permission"
	"github.com/magpie-ai/magpie/internal/tools"
)

type fakePerms struct {
	decision permission.Decision
	err      error
	calls    int
}

func (f *fakePerms) Check(context.Context, tools.Tool, map[string]any, *tools.Context) (permission.Decision, error) {
	f.calls++
	return f.decision, f.err
}

func newDispatcher(t *testing.T, toolList ...tools.Tool) *Dispatcher {
	t.Helper()
	reg := tools.NewRegistry()
	if err := reg.Register(context.Background(), toolList...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &Dispatcher{Registry: reg}
}

func collectDispatch(d *Dispatcher, ctx context.Context, use ToolUse) []Message {
	var msgs []Message
	d.Dispatch(ctx, use, []string{use.ID}, &tools.Context{}, func(m Message) {
		msgs = append(msgs, m)
	})
	return msgs
}

func lastResult(t *testing.T, msgs []Message) *ToolResult {
	t.Helper()
	results := toolResults(msgs)
	if len(results) == 0 {
		t.Fatal("no tool_result emitted")
	}
	return results[len(results)-1]
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newDispatcher(t)
	msgs := collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Nope"})

	res := lastResult(t, msgs)
	if !res.IsError || res.Content != "Error: No such tool available: Nope" {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchSchemaValidation(t *testing.T) {
	tool := &fakeTool{
		name: "Read",
		safe: true,
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}
	d := newDispatcher(t, tool)

	msgs := collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Read", Input: map[string]any{}})
	res := lastResult(t, msgs)
	if !res.IsError || !strings.Contains(res.Content, "invalid input for tool Read") {
		t.Errorf("result = %+v", res)
	}

	msgs = collectDispatch(d, context.Background(), ToolUse{ID: "t2", Name: "Read", Input: map[string]any{"path": "/a"}})
	if res := lastResult(t, msgs); res.IsError {
		t.Errorf("valid input rejected: %+v", res)
	}
}

func TestDispatchSemanticValidation(t *testing.T) {
	tool := &fakeTool{
		name: "Edit",
		validate: func(map[string]any, *tools.Context) error {
			return errors.New("file has not been read yet")
		},
	}
	d := newDispatcher(t, tool)

	res := lastResult(t, collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Edit"}))
	if !res.IsError || res.Content != "file has not been read yet" {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchPermissionDenied(t *testing.T) {
	tool := &fakeTool{name: "Bash", needsPerms: true}
	d := newDispatcher(t, tool)
	perms := &fakePerms{decision: permission.Decision{Reason: "not granted"}}
	d.Permissions = perms

	res := lastResult(t, collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Bash"}))
	if !res.IsError || res.Content != "not granted" {
		t.Errorf("result = %+v", res)
	}
	if perms.calls != 1 {
		t.Errorf("permission checks = %d", perms.calls)
	}
}

func TestDispatchSkipPermissionCheck(t *testing.T) {
	tool := &fakeTool{name: "Bash", needsPerms: true}
	d := newDispatcher(t, tool)
	perms := &fakePerms{decision: permission.Decision{Reason: "not granted"}}
	d.Permissions = perms
	d.SkipPermissionCheck = true

	res := lastResult(t, collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Bash"}))
	if res.IsError {
		t.Errorf("result = %+v", res)
	}
	if perms.calls != 0 {
		t.Errorf("permission engine consulted despite skip flag")
	}
}

func TestDispatchProgressThenResult(t *testing.T) {
	tool := &fakeTool{
		name: "Fetch",
		invoke: func(context.Context, map[string]any, *tools.Context) (<-chan tools.InvokeElem, error) {
			return resultSeq("done", "step 1", "step 2"), nil
		},
	}
	d := newDispatcher(t, tool)

	msgs := collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Fetch"})
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 2 progress + 1 result", len(msgs))
	}
	prog, ok := msgs[0].(*ProgressMessage)
	if !ok || prog.Progress.Text != "step 1" || prog.ToolUseID != "t1" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if len(prog.SiblingIDs) != 1 || prog.SiblingIDs[0] != "t1" {
		t.Errorf("sibling ids = %v", prog.SiblingIDs)
	}
	res := lastResult(t, msgs)
	if res.IsError || res.Content != "done" {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchInvokeError(t *testing.T) {
	tool := &fakeTool{
		name: "Boom",
		invoke: func(context.Context, map[string]any, *tools.Context) (<-chan tools.InvokeElem, error) {
			return nil, errors.New("exploded")
		},
	}
	d := newDispatcher(t, tool)

	res := lastResult(t, collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Boom"}))
	if !res.IsError || res.Content != "Tool execution failed: exploded" {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchSequenceEndsWithoutResult(t *testing.T) {
	tool := &fakeTool{
		name: "Flaky",
		invoke: func(context.Context, map[string]any, *tools.Context) (<-chan tools.InvokeElem, error) {
			ch := make(chan tools.InvokeElem)
			close(ch)
			return ch, nil
		},
	}
	d := newDispatcher(t, tool)

	res := lastResult(t, collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Flaky"}))
	if !res.IsError || !strings.Contains(res.Content, "sequence ended without a result") {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchAbortBeforeStart(t *testing.T) {
	tool := &fakeTool{name: "LS", safe: true}
	d := newDispatcher(t, tool)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := lastResult(t, collectDispatch(d, ctx, ToolUse{ID: "t1", Name: "LS"}))
	if !res.IsError || res.Content != toolInterruptText {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchAbortMidStreamReEmitsProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := &fakeTool{
		name: "Slow",
		invoke: func(ctx context.Context, _ map[string]any, _ *tools.Context) (<-chan tools.InvokeElem, error) {
			ch := make(chan tools.InvokeElem)
			go func() {
				ch <- tools.InvokeElem{Progress: &tools.Progress{Text: "working"}}
				<-ctx.Done()
				close(ch)
			}()
			return ch, nil
		},
	}
	d := newDispatcher(t, tool)

	var msgs []Message
	d.Dispatch(ctx, ToolUse{ID: "t1", Name: "Slow"}, nil, &tools.Context{}, func(m Message) {
		msgs = append(msgs, m)
		if _, ok := m.(*ProgressMessage); ok && len(msgs) == 1 {
			cancel()
		}
	})

	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want progress, re-emitted progress, result", len(msgs))
	}
	second, ok := msgs[1].(*ProgressMessage)
	if !ok || second.Progress.Text != "working" {
		t.Errorf("second message = %+v", msgs[1])
	}
	res := lastResult(t, msgs)
	if !res.IsError || res.Content != toolInterruptText {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", maxResultChars+500)
	tool := &fakeTool{
		name: "Cat",
		invoke: func(context.Context, map[string]any, *tools.Context) (<-chan tools.InvokeElem, error) {
			return resultSeq(long), nil
		},
	}
	d := newDispatcher(t, tool)

	res := lastResult(t, collectDispatch(d, context.Background(), ToolUse{ID: "t1", Name: "Cat"}))
	if len(res.Content) > maxResultChars+len(truncationMarker) {
		t.Errorf("content length = %d", len(res.Content))
	}
	if !strings.HasSuffix(res.Content, truncationMarker) {
		t.Error("missing truncation marker")
	}
}
