package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/magpie-ai/magpie/internal/backoff"
	"github.com/magpie-ai/magpie/internal/transport"
)

type fakeGenerator struct {
	replies  []string
	errs     []error
	requests []*transport.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req *transport.Request) (*transport.Chunk, error) {
	g.requests = append(g.requests, req)
	call := len(g.requests) - 1
	if call < len(g.errs) && g.errs[call] != nil {
		return nil, g.errs[call]
	}
	reply := "summary"
	if call < len(g.replies) {
		reply = g.replies[call]
	}
	return &transport.Chunk{Candidates: []transport.Candidate{{
		Content:      transport.Content{Role: "model", Parts: []transport.Part{{Text: reply}}},
		FinishReason: "STOP",
	}}}, nil
}

func longHistory(n int) []Message {
	history := make([]Message, 0, n)
	for len(history) < n {
		history = append(history,
			UserText("question"),
			&AssistantMessage{Blocks: []Block{TextBlock("answer")}},
		)
	}
	return history[:n]
}

func TestSummaryCompactorBelowThresholdUntouched(t *testing.T) {
	gen := &fakeGenerator{}
	c := &SummaryCompactor{Client: gen, Model: "m", Threshold: 10}

	history := longHistory(10)
	got, err := c.Compact(context.Background(), history)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(got) != len(history) {
		t.Errorf("history length = %d, want %d", len(got), len(history))
	}
	if len(gen.requests) != 0 {
		t.Errorf("unexpected model call")
	}
}

func TestSummaryCompactorReplacesHeadKeepsTail(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"the gist"}}
	c := &SummaryCompactor{Client: gen, Model: "m", Threshold: 10, KeepRecent: 4}

	history := longHistory(20)
	got, err := c.Compact(context.Background(), history)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	// 1 summary message + 4 kept messages.
	if len(got) != 5 {
		t.Fatalf("compacted length = %d, want 5", len(got))
	}
	first, ok := got[0].(*UserMessage)
	if !ok || !strings.Contains(first.Blocks[0].Text, "the gist") {
		t.Errorf("first message = %+v, want summary text", got[0])
	}
	if len(gen.requests) != 1 {
		t.Fatalf("model calls = %d, want 1", len(gen.requests))
	}
	// The summarization request carries the head plus the instruction.
	req := gen.requests[0]
	last := req.Contents[len(req.Contents)-1]
	if last.Role != "user" || !strings.Contains(last.Parts[0].Text, "Summarize") {
		t.Errorf("last content = %+v, want summarizer instruction", last)
	}
}

func TestSummaryCompactorNeverSplitsToolResults(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"s"}}
	c := &SummaryCompactor{Client: gen, Model: "m", Threshold: 4, KeepRecent: 2}

	// The keep-recent boundary lands on a tool_result message; the cut must
	// slide forward to the next plain user message.
	history := []Message{
		UserText("start"),
		&AssistantMessage{Blocks: []Block{TextBlock("ok")}},
		UserText("do it"),
		&AssistantMessage{Blocks: []Block{
			ToolUseBlock(ToolUse{ID: "t1", Name: "Read"}),
		}},
		&UserMessage{Blocks: []Block{
			ToolResultBlock(ToolResult{ToolUseID: "t1", Content: "data"}),
		}},
		&AssistantMessage{Blocks: []Block{TextBlock("done")}},
		UserText("next question"),
		&AssistantMessage{Blocks: []Block{TextBlock("sure")}},
	}
	got, err := c.Compact(context.Background(), history)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	tail, ok := got[1].(*UserMessage)
	if !ok || tail.leadsWithToolResult() {
		t.Fatalf("tail opens with %+v, want a plain user message", got[1])
	}
	if tail.Blocks[0].Text != "next question" {
		t.Errorf("tail text = %q, want %q", tail.Blocks[0].Text, "next question")
	}
}

func TestSummaryCompactorRetriesThenSucceeds(t *testing.T) {
	gen := &fakeGenerator{
		errs:    []error{&transport.HTTPStatusError{Code: 503}, nil},
		replies: []string{"", "recovered"},
	}
	c := &SummaryCompactor{
		Client: gen, Model: "m", Threshold: 4, KeepRecent: 2,
		MaxAttempts: 3,
		Policy:      backoff.Policy{Base: time.Millisecond},
	}

	got, err := c.Compact(context.Background(), longHistory(8))
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(gen.requests) != 2 {
		t.Errorf("model calls = %d, want 2", len(gen.requests))
	}
	first := got[0].(*UserMessage)
	if !strings.Contains(first.Blocks[0].Text, "recovered") {
		t.Errorf("summary = %q", first.Blocks[0].Text)
	}
}

func TestSummaryCompactorFailureKeepsHistory(t *testing.T) {
	gen := &fakeGenerator{errs: []error{&transport.HTTPStatusError{Code: 400}}}
	c := &SummaryCompactor{
		Client: gen, Model: "m", Threshold: 4, KeepRecent: 2,
		MaxAttempts: 2,
		Policy:      backoff.Policy{Base: time.Millisecond},
	}

	history := longHistory(8)
	got, err := c.Compact(context.Background(), history)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(got) != len(history) {
		t.Errorf("history length = %d, want %d unchanged", len(got), len(history))
	}
}
