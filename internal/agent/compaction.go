package agent

import (
	"context"
	"strings"

	"github.com/magpie-ai/magpie/internal/backoff"
	"github.com/magpie-ai/magpie/internal/observability"
	"github.com/magpie-ai/magpie/internal/transport"
)

// Compactor can replace the history with a compressed variant before a turn.
// The query loop calls it once per turn and uses whatever it returns.
type Compactor interface {
	Compact(ctx context.Context, history []Message) ([]Message, error)
}

// NopCompactor leaves the history untouched.
type NopCompactor struct{}

func (NopCompactor) Compact(_ context.Context, history []Message) ([]Message, error) {
	return history, nil
}

// Generator is the non-streaming transport slice the summary compactor needs.
// *transport.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req *transport.Request) (*transport.Chunk, error)
}

const summarizerPrompt = `Summarize the conversation so far for your own later
use. Preserve: the user's goals, decisions made, files read or modified with
their key contents, command results, and any unresolved questions. Be dense
and factual; omit pleasantries.`

const summaryPreamble = "Summary of the conversation so far:\n\n"

// SummaryCompactor compresses long histories through a non-streaming model
// call: everything before a cut point is replaced by a single summary message,
// the recent tail survives verbatim. The cut never lands between a tool_use
// and its results.
type SummaryCompactor struct {
	Client Generator
	Model  string

	// Threshold is the message count above which compaction triggers.
	// Zero means 40.
	Threshold int

	// KeepRecent is how many trailing messages survive verbatim. Zero means 8.
	KeepRecent int

	// MaxAttempts and Policy govern transport retries. Zero values fall back
	// to 3 attempts and the default policy.
	MaxAttempts int
	Policy      backoff.Policy

	Logger *observability.Logger
}

func (c *SummaryCompactor) Compact(ctx context.Context, history []Message) ([]Message, error) {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = 40
	}
	if len(history) <= threshold {
		return history, nil
	}

	cut := c.cutIndex(history)
	if cut <= 0 {
		return history, nil
	}

	summary, err := c.summarize(ctx, history[:cut])
	if err != nil {
		return history, err
	}
	if summary == "" {
		return history, nil
	}

	compacted := make([]Message, 0, 1+len(history)-cut)
	compacted = append(compacted, UserText(summaryPreamble+summary))
	compacted = append(compacted, history[cut:]...)
	if c.Logger != nil {
		c.Logger.Info(ctx, "history compacted",
			"before", len(history), "after", len(compacted))
	}
	return compacted, nil
}

// cutIndex finds the oldest viable split at or after the keep-recent boundary:
// a user message that does not lead with a tool_result, so the tail opens a
// complete turn.
func (c *SummaryCompactor) cutIndex(history []Message) int {
	keep := c.KeepRecent
	if keep <= 0 {
		keep = 8
	}
	earliest := len(history) - keep
	if earliest < 1 {
		return 0
	}
	for i := earliest; i < len(history); i++ {
		if um, ok := history[i].(*UserMessage); ok && !um.leadsWithToolResult() {
			return i
		}
	}
	return 0
}

func (c *SummaryCompactor) summarize(ctx context.Context, head []Message) (string, error) {
	contents := append(toContents(head), transport.Content{
		Role:  "user",
		Parts: []transport.Part{{Text: summarizerPrompt}},
	})
	req := &transport.Request{Model: c.Model, Contents: contents}

	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	policy := c.Policy
	if policy.Base <= 0 {
		policy = backoff.DefaultPolicy()
	}

	chunk, err := backoff.Retry(ctx, policy, maxAttempts, transport.IsRetryable,
		func() (*transport.Chunk, error) {
			return c.Client.Generate(ctx, req)
		})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, part := range chunk.Parts() {
		if !part.Thought && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
