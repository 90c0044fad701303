package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/magpie-ai/magpie/internal/tools"
	"github.com/magpie-ai/magpie/internal/transport"
)

// fakeTool is a scriptable tools.Tool for dispatcher and loop tests.
type fakeTool struct {
	name       string
	safe       bool
	readOnly   bool
	needsPerms bool
	prompt     string
	schema     map[string]any
	validate   func(input map[string]any, tctx *tools.Context) error
	invoke     func(ctx context.Context, input map[string]any, tctx *tools.Context) (<-chan tools.InvokeElem, error)
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Description(context.Context) (string, error) {
	return "fake tool " + f.name, nil
}

func (f *fakeTool) Prompt() string { return f.prompt }

func (f *fakeTool) Schema() map[string]any {
	if f.schema != nil {
		return f.schema
	}
	return map[string]any{"type": "object"}
}

func (f *fakeTool) IsReadOnly() bool        { return f.readOnly }
func (f *fakeTool) IsConcurrencySafe() bool { return f.safe }

func (f *fakeTool) NeedsPermissions(map[string]any) bool { return f.needsPerms }

func (f *fakeTool) ValidateInput(input map[string]any, tctx *tools.Context) error {
	if f.validate != nil {
		return f.validate(input, tctx)
	}
	return nil
}

func (f *fakeTool) RenderToolUseMessage(input map[string]any, verbose bool) string {
	return fmt.Sprintf("%v", input)
}

func (f *fakeTool) Invoke(ctx context.Context, input map[string]any, tctx *tools.Context) (<-chan tools.InvokeElem, error) {
	if f.invoke != nil {
		return f.invoke(ctx, input, tctx)
	}
	return resultSeq("ok"), nil
}

// resultSeq yields optional progress snapshots then one result and closes.
func resultSeq(text string, progress ...string) <-chan tools.InvokeElem {
	ch := make(chan tools.InvokeElem, len(progress)+1)
	for _, p := range progress {
		ch <- tools.InvokeElem{Progress: &tools.Progress{Text: p}}
	}
	ch <- tools.InvokeElem{Result: &tools.Result{TextForModel: text}}
	close(ch)
	return ch
}

// scriptedTurn is one model call: either a chunk sequence, a mid-stream
// error, or a failure to open the stream at all.
type scriptedTurn struct {
	chunks   []*transport.Chunk
	err      error
	startErr error
}

// fakeClient replays scripted turns and records the requests it saw. Calls
// past the script return an empty stream.
type fakeClient struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	calls    int
	requests []*transport.Request
}

func (c *fakeClient) Stream(ctx context.Context, req *transport.Request) (<-chan transport.StreamEvent, error) {
	c.mu.Lock()
	turn := scriptedTurn{}
	if c.calls < len(c.turns) {
		turn = c.turns[c.calls]
	}
	c.calls++
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if turn.startErr != nil {
		return nil, turn.startErr
	}
	events := make(chan transport.StreamEvent, len(turn.chunks)+1)
	for _, chunk := range turn.chunks {
		events <- transport.StreamEvent{Chunk: chunk}
	}
	if turn.err != nil {
		events <- transport.StreamEvent{Err: turn.err}
	}
	close(events)
	return events, nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func textChunk(text string) *transport.Chunk {
	return &transport.Chunk{Candidates: []transport.Candidate{{
		Content: transport.Content{Role: "model", Parts: []transport.Part{{Text: text}}},
	}}}
}

func thoughtChunk(text string) *transport.Chunk {
	return &transport.Chunk{Candidates: []transport.Candidate{{
		Content: transport.Content{Role: "model", Parts: []transport.Part{{Text: text, Thought: true}}},
	}}}
}

func callChunk(id, name string, args map[string]any) *transport.Chunk {
	return &transport.Chunk{Candidates: []transport.Candidate{{
		Content: transport.Content{Role: "model", Parts: []transport.Part{{
			FunctionCall: &transport.FunctionCall{ID: id, Name: name, Args: args},
		}}},
	}}}
}

// drain collects every message from a query channel.
func drain(ch <-chan Message) []Message {
	var msgs []Message
	for msg := range ch {
		msgs = append(msgs, msg)
	}
	return msgs
}

// assistantMessages filters the assistant messages out of a transcript.
func assistantMessages(msgs []Message) []*AssistantMessage {
	var out []*AssistantMessage
	for _, m := range msgs {
		if am, ok := m.(*AssistantMessage); ok {
			out = append(out, am)
		}
	}
	return out
}

// toolResults collects tool_result blocks in arrival order.
func toolResults(msgs []Message) []*ToolResult {
	var out []*ToolResult
	for _, m := range msgs {
		um, ok := m.(*UserMessage)
		if !ok {
			continue
		}
		for _, b := range um.Blocks {
			if b.Type == BlockToolResult {
				out = append(out, b.ToolResult)
			}
		}
	}
	return out
}
