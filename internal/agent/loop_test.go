package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/magpie-ai/magpie/internal/config"
	"github.com/magpie-ai/magpie/internal/tools"
	"github.com/magpie-ai/magpie/internal/transport"
)

type fakeTranscript struct {
	mu      sync.Mutex
	records []Message
}

func (f *fakeTranscript) Record(_ context.Context, _ string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, msg)
	return nil
}

func newQueryConfig(t *testing.T, client *fakeClient, toolList ...tools.Tool) QueryConfig {
	t.Helper()
	reg := tools.NewRegistry()
	if err := reg.Register(context.Background(), toolList...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return QueryConfig{
		Client:    client,
		Model:     "gemini-2.5-pro",
		Registry:  reg,
		Compactor: NopCompactor{},
		Settings: config.Settings{
			Concurrency:      2,
			MaxAttempts:      3,
			BackoffBase:      time.Millisecond,
			BackoffJitterCap: time.Millisecond,
		},
	}
}

func runQuery(t *testing.T, cfg QueryConfig, history ...Message) []Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return drain(Query(ctx, cfg, history, &tools.Context{}))
}

func TestSingleToolTurn(t *testing.T) {
	ls := &fakeTool{
		name: "LS",
		safe: true,
		invoke: func(context.Context, map[string]any, *tools.Context) (<-chan tools.InvokeElem, error) {
			return resultSeq("a\nb\n"), nil
		},
	}
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{callChunk("t1", "LS", map[string]any{"path": "."})}},
		{chunks: []*transport.Chunk{textChunk("Two entries: a and b.")}},
	}}
	cfg := newQueryConfig(t, client, ls)

	msgs := runQuery(t, cfg, UserText("list files in ."))

	assistants := assistantMessages(msgs)
	if len(assistants) != 2 {
		t.Fatalf("assistant messages = %d, want 2", len(assistants))
	}
	uses := assistants[0].ToolUses()
	if len(uses) != 1 || uses[0].ID != "t1" || uses[0].Name != "LS" {
		t.Errorf("first turn uses = %+v", uses)
	}
	results := toolResults(msgs)
	if len(results) != 1 || results[0].ToolUseID != "t1" || results[0].Content != "a\nb\n" {
		t.Errorf("results = %+v", results)
	}
	if got := assistants[1].Text(); got != "Two entries: a and b." {
		t.Errorf("final text = %q", got)
	}
	if client.callCount() != 2 {
		t.Errorf("model calls = %d", client.callCount())
	}
}

func TestParallelReadsRespectCapAndOrder(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var releaseOnce sync.Once
	firstDone := make(chan struct{})

	read := &fakeTool{
		name: "Read",
		safe: true,
		invoke: func(_ context.Context, input map[string]any, _ *tools.Context) (<-chan tools.InvokeElem, error) {
			cur := inFlight.Add(1)
			for {
				seen := maxInFlight.Load()
				if cur <= seen || maxInFlight.CompareAndSwap(seen, cur) {
					break
				}
			}
			defer inFlight.Add(-1)

			path, _ := input["path"].(string)
			if path == "file1" {
				// Finish last so arrival order differs from proposal order.
				<-firstDone
			} else {
				defer releaseOnce.Do(func() { close(firstDone) })
			}
			return resultSeq("contents of " + path), nil
		},
	}
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{
			callChunk("t1", "Read", map[string]any{"path": "file1"}),
			callChunk("t2", "Read", map[string]any{"path": "file2"}),
			callChunk("t3", "Read", map[string]any{"path": "file3"}),
		}},
		{chunks: []*transport.Chunk{textChunk("done")}},
	}}
	cfg := newQueryConfig(t, client, read)

	msgs := runQuery(t, cfg, UserText("read all three"))

	if got := maxInFlight.Load(); got > 2 {
		t.Errorf("max in-flight = %d, want <= 2", got)
	}
	if results := toolResults(msgs); len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	// The history sent on the second call carries the results reordered to
	// match the proposal order, regardless of completion order.
	second := client.requests[1]
	var order []string
	for _, content := range second.Contents {
		for _, part := range content.Parts {
			if part.FunctionResponse != nil {
				order = append(order, part.FunctionResponse.ID)
			}
		}
	}
	want := []string{"t1", "t2", "t3"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("history result order = %v, want %v", order, want)
	}
}

func TestSerialGateDropsSecondShell(t *testing.T) {
	var executed sync.Map
	mkInvoke := func() func(context.Context, map[string]any, *tools.Context) (<-chan tools.InvokeElem, error) {
		return func(_ context.Context, input map[string]any, _ *tools.Context) (<-chan tools.InvokeElem, error) {
			executed.Store(input["command"], true)
			return resultSeq("ok"), nil
		}
	}
	bash := &fakeTool{name: "Bash", invoke: mkInvoke()}
	read := &fakeTool{name: "Read", safe: true, invoke: func(_ context.Context, input map[string]any, _ *tools.Context) (<-chan tools.InvokeElem, error) {
		executed.Store(input["path"], true)
		return resultSeq("ok"), nil
	}}
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{
			callChunk("t1", "Bash", map[string]any{"command": "ls"}),
			callChunk("t2", "Read", map[string]any{"path": "foo"}),
			callChunk("t3", "Bash", map[string]any{"command": "rm -rf /"}),
		}},
		{chunks: []*transport.Chunk{textChunk("done")}},
	}}
	cfg := newQueryConfig(t, client, bash, read)

	msgs := runQuery(t, cfg, UserText("go"))

	assistants := assistantMessages(msgs)
	if uses := assistants[0].ToolUses(); len(uses) != 2 {
		t.Fatalf("surviving uses = %+v", uses)
	}
	if _, ok := executed.Load("rm -rf /"); ok {
		t.Error("dropped shell call was executed")
	}
	if _, ok := executed.Load("ls"); !ok {
		t.Error("first shell call not executed")
	}
	if _, ok := executed.Load("foo"); !ok {
		t.Error("read not executed")
	}
}

func TestEmptyContentRetryWithHint(t *testing.T) {
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{thoughtChunk("**Pondering** quietly")}},
		{chunks: []*transport.Chunk{textChunk("here you go")}},
	}}
	cfg := newQueryConfig(t, client)

	msgs := runQuery(t, cfg, UserText("hello"))

	assistants := assistantMessages(msgs)
	if len(assistants) != 1 || assistants[0].Text() != "here you go" {
		t.Fatalf("assistants = %+v", assistants)
	}
	if client.callCount() != 2 {
		t.Fatalf("model calls = %d, want 2", client.callCount())
	}
	retry := client.requests[1]
	last := retry.Contents[len(retry.Contents)-1]
	if last.Role != "user" || !strings.Contains(last.Parts[0].Text, "no visible content") {
		t.Errorf("retry hint missing: %+v", last)
	}
}

func TestEmptyContentGivesUpAfterTwoRetries(t *testing.T) {
	client := &fakeClient{turns: []scriptedTurn{{}, {}, {}}}
	cfg := newQueryConfig(t, client)

	msgs := runQuery(t, cfg, UserText("hello"))

	if client.callCount() != 3 {
		t.Errorf("model calls = %d, want 3", client.callCount())
	}
	assistants := assistantMessages(msgs)
	if len(assistants) != 1 || assistants[0].Text() != NoContentSentinel {
		t.Errorf("assistants = %+v", assistants)
	}
}

func TestTransportRetryThenSuccess(t *testing.T) {
	client := &fakeClient{turns: []scriptedTurn{
		{startErr: &transport.HTTPStatusError{Code: 500}},
		{chunks: []*transport.Chunk{textChunk("recovered")}},
	}}
	cfg := newQueryConfig(t, client)

	msgs := runQuery(t, cfg, UserText("hello"))

	if client.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", client.callCount())
	}
	assistants := assistantMessages(msgs)
	if len(assistants) != 1 || assistants[0].Text() != "recovered" {
		t.Errorf("assistants = %+v", assistants)
	}
}

func TestTransportRetriesExhausted(t *testing.T) {
	client := &fakeClient{turns: []scriptedTurn{
		{startErr: &transport.HTTPStatusError{Code: 503}},
		{startErr: &transport.HTTPStatusError{Code: 503}},
		{startErr: &transport.HTTPStatusError{Code: 503}},
	}}
	cfg := newQueryConfig(t, client)

	msgs := runQuery(t, cfg, UserText("hello"))

	if client.callCount() != 3 {
		t.Errorf("model calls = %d, want 3", client.callCount())
	}
	assistants := assistantMessages(msgs)
	if len(assistants) != 1 || !strings.HasPrefix(assistants[0].Text(), "Request failed:") {
		t.Errorf("assistants = %+v", assistants)
	}
}

func TestNonRetryableErrorFailsFast(t *testing.T) {
	client := &fakeClient{turns: []scriptedTurn{
		{startErr: &transport.HTTPStatusError{Code: 400}},
	}}
	cfg := newQueryConfig(t, client)

	runQuery(t, cfg, UserText("hello"))

	if client.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", client.callCount())
	}
}

func TestInterruptMidToolYieldsInterruptMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := &fakeTool{
		name: "Slow",
		invoke: func(ctx context.Context, _ map[string]any, _ *tools.Context) (<-chan tools.InvokeElem, error) {
			ch := make(chan tools.InvokeElem)
			go func() {
				<-ctx.Done()
				close(ch)
			}()
			return ch, nil
		},
	}
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{callChunk("t1", "Slow", nil)}},
	}}
	cfg := newQueryConfig(t, client, slow)

	out := Query(ctx, cfg, []Message{UserText("go")}, &tools.Context{})

	var msgs []Message
	for msg := range out {
		msgs = append(msgs, msg)
		if len(msgs) == 1 {
			// The tool_use assistant message arrived; interrupt the request.
			cancel()
		}
	}

	last, ok := msgs[len(msgs)-1].(*AssistantMessage)
	if !ok || last.Text() != InterruptText {
		t.Fatalf("last message = %+v, want interrupt", msgs[len(msgs)-1])
	}
	results := toolResults(msgs)
	if len(results) != 1 || !results[0].IsError {
		t.Errorf("results = %+v, want one cancellation result", results)
	}
}

func TestProgressFilteredFromHistoryAndTranscript(t *testing.T) {
	noisy := &fakeTool{
		name: "Noisy",
		safe: true,
		invoke: func(context.Context, map[string]any, *tools.Context) (<-chan tools.InvokeElem, error) {
			return resultSeq("done", "p1", "p2"), nil
		},
	}
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{callChunk("t1", "Noisy", nil)}},
		{chunks: []*transport.Chunk{textChunk("ok")}},
	}}
	cfg := newQueryConfig(t, client, noisy)
	transcript := &fakeTranscript{}
	cfg.Transcript = transcript

	msgs := drain(Query(context.Background(), cfg,
		[]Message{UserText("go")}, &tools.Context{MessageLogName: "session-1"}))

	var progressSeen int
	for _, m := range msgs {
		if _, ok := m.(*ProgressMessage); ok {
			progressSeen++
		}
	}
	if progressSeen != 2 {
		t.Errorf("progress messages to caller = %d, want 2", progressSeen)
	}

	// History on the wire carries user, model, and function response contents
	// only; progress never appears.
	second := client.requests[1]
	if len(second.Contents) != 3 {
		t.Errorf("wire contents = %d, want 3", len(second.Contents))
	}

	transcript.mu.Lock()
	defer transcript.mu.Unlock()
	for _, rec := range transcript.records {
		if _, ok := rec.(*ProgressMessage); ok {
			t.Error("progress message written to transcript")
		}
	}
}

func TestSkillConstraintRestrictsDeclarations(t *testing.T) {
	ls := &fakeTool{name: "LS", safe: true}
	bash := &fakeTool{name: "Bash"}
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{textChunk("done")}},
	}}
	cfg := newQueryConfig(t, client, ls, bash)

	history := []Message{
		UserText("use the skill"),
		&UserMessage{Blocks: []Block{ToolResultBlock(ToolResult{
			ToolUseID:  "s1",
			Name:       "Skill",
			Content:    "loaded",
			SkillTools: []string{"LS"},
		})}},
	}
	runQuery(t, cfg, history...)

	req := client.requests[0]
	if len(req.Tools) != 1 || len(req.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools = %+v", req.Tools)
	}
	if req.Tools[0].FunctionDeclarations[0].Name != "LS" {
		t.Errorf("declared = %q, want LS", req.Tools[0].FunctionDeclarations[0].Name)
	}
	if req.SystemInstruction == nil ||
		!strings.Contains(req.SystemInstruction.Parts[0].Text, "restricts you to these tools: LS") {
		t.Error("skill banner missing from system instruction")
	}
}

func TestSkillConstraintWildcardUnrestricted(t *testing.T) {
	ls := &fakeTool{name: "LS", safe: true}
	bash := &fakeTool{name: "Bash"}
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{textChunk("done")}},
	}}
	cfg := newQueryConfig(t, client, ls, bash)

	history := []Message{
		UserText("use the skill"),
		&UserMessage{Blocks: []Block{ToolResultBlock(ToolResult{
			ToolUseID:  "s1",
			Name:       "Skill",
			Content:    "loaded",
			SkillTools: []string{"*"},
		})}},
	}
	runQuery(t, cfg, history...)

	req := client.requests[0]
	if len(req.Tools) != 1 || len(req.Tools[0].FunctionDeclarations) != 2 {
		t.Fatalf("tools = %+v", req.Tools)
	}
}

func TestRemindersInjectedIntoLatestTextMessage(t *testing.T) {
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{textChunk("done")}},
	}}
	cfg := newQueryConfig(t, client)
	cfg.Reminders = []string{"stay on task"}

	history := []Message{UserText("hello")}
	runQuery(t, cfg, history...)

	req := client.requests[0]
	if len(req.Contents) != 1 {
		t.Fatalf("contents = %d", len(req.Contents))
	}
	parts := req.Contents[0].Parts
	if len(parts) != 2 || parts[1].Text != "stay on task" {
		t.Errorf("parts = %+v, want reminder appended", parts)
	}
	// The durable history must be untouched.
	if um := history[0].(*UserMessage); len(um.Blocks) != 1 {
		t.Errorf("history mutated: %+v", um.Blocks)
	}
}

func TestRemindersSkipToolResultLeadingMessage(t *testing.T) {
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{textChunk("done")}},
	}}
	cfg := newQueryConfig(t, client)
	cfg.Reminders = []string{"stay on task"}

	history := []Message{
		UserText("hello"),
		&UserMessage{Blocks: []Block{
			ToolResultBlock(ToolResult{ToolUseID: "t1", Name: "LS", Content: "a"}),
		}},
	}
	runQuery(t, cfg, history...)

	req := client.requests[0]
	if got := len(req.Contents[1].Parts); got != 1 {
		t.Errorf("tool_result message parts = %d, reminder must not be injected there", got)
	}
	if got := len(req.Contents[0].Parts); got != 2 {
		t.Errorf("text message parts = %d, want reminder appended to it", got)
	}
}

func TestAnonymousToolUseGetsGeneratedID(t *testing.T) {
	ls := &fakeTool{name: "LS", safe: true}
	client := &fakeClient{turns: []scriptedTurn{
		{chunks: []*transport.Chunk{callChunk("", "LS", map[string]any{"path": "."})}},
		{chunks: []*transport.Chunk{textChunk("done")}},
	}}
	cfg := newQueryConfig(t, client, ls)

	msgs := runQuery(t, cfg, UserText("go"))

	uses := assistantMessages(msgs)[0].ToolUses()
	if len(uses) != 1 || uses[0].ID == "" {
		t.Fatalf("uses = %+v, want generated id", uses)
	}
	results := toolResults(msgs)
	if len(results) != 1 || results[0].ToolUseID != uses[0].ID {
		t.Errorf("result id = %+v, want %q", results, uses[0].ID)
	}
}
